package runtimeexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/refresh-go/internal/domain"
)

const defaultChunkSize = 32 * 1024

// ProcessExecutor runs the job as a local child process.
type ProcessExecutor struct {
	logger    *slog.Logger
	chunkSize int
	now       func() time.Time
}

func NewProcessExecutor(logger *slog.Logger) *ProcessExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessExecutor{
		logger:    logger,
		chunkSize: defaultChunkSize,
		now:       time.Now,
	}
}

func (e *ProcessExecutor) Kind() string {
	return "process"
}

// Start checks that spec.Path exists, spawns the process and returns. Output
// is streamed to sink as it is read. If the spawn itself fails, sink.Done is
// called with the error before Start returns an error wrapping
// domain.ErrLaunchFailed.
//
// The child is not tied to ctx: a finished HTTP request must not kill it.
func (e *ProcessExecutor) Start(ctx context.Context, spec JobSpec, sink Sink) (Handle, error) {
	if sink == nil {
		return Handle{}, errors.New("sink is required")
	}
	path := strings.TrimSpace(spec.Path)
	if path == "" {
		return Handle{}, fmt.Errorf("%w: empty path", domain.ErrExecutableNotFound)
	}
	if !isRegularFile(path) {
		return Handle{}, fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, path)
	}

	name, args := commandLine(spec.Interpreter, path, spec.Args)
	cmd := exec.Command(name, args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	configureCommandProcess(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return e.spawnFailed(spec, sink, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return e.spawnFailed(spec, sink, err)
	}

	if err := cmd.Start(); err != nil {
		return e.spawnFailed(spec, sink, err)
	}

	handle := Handle{PID: cmd.Process.Pid, StartedAt: e.now()}
	e.logger.Info("sync job started",
		"run_id", spec.RunID,
		"seq", spec.Seq,
		"pid", handle.PID,
		"command", name,
		"path", path,
	)

	go e.supervise(spec, cmd, stdout, stderr, sink)
	return handle, nil
}

func (e *ProcessExecutor) spawnFailed(spec JobSpec, sink Sink, err error) (Handle, error) {
	e.logger.Error("sync job spawn failed", "run_id", spec.RunID, "seq", spec.Seq, "error", err)
	sink.Done(Outcome{ExitCode: -1, Err: err, FinishedAt: e.now()})
	return Handle{}, fmt.Errorf("%w: %v", domain.ErrLaunchFailed, err)
}

// supervise pumps both pipes to EOF, then reaps the process. cmd.Wait must
// not run before the pipes are drained.
func (e *ProcessExecutor) supervise(spec JobSpec, cmd *exec.Cmd, stdout, stderr io.Reader, sink Sink) {
	var g errgroup.Group
	g.Go(func() error { return e.pump(stdout, StreamStdout, sink) })
	g.Go(func() error { return e.pump(stderr, StreamStderr, sink) })
	if err := g.Wait(); err != nil {
		e.logger.Warn("sync job output read failed", "run_id", spec.RunID, "seq", spec.Seq, "error", err)
	}

	outcome := outcomeFromWait(cmd.Wait())
	outcome.FinishedAt = e.now()
	e.logger.Info("sync job finished",
		"run_id", spec.RunID,
		"seq", spec.Seq,
		"exit_code", outcome.ExitCode,
		"signal", outcome.Signal,
	)
	sink.Done(outcome)
}

func (e *ProcessExecutor) pump(r io.Reader, stream Stream, sink Sink) error {
	buf := make([]byte, e.chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sink.Output(stream, buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("%s: %w", stream, err)
		}
	}
}

func outcomeFromWait(err error) Outcome {
	if err == nil {
		return Outcome{ExitCode: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if sig := signalName(exitErr.ProcessState); sig != "" {
			return Outcome{ExitCode: -1, Signal: sig}
		}
		return Outcome{ExitCode: exitErr.ExitCode()}
	}
	return Outcome{ExitCode: -1, Err: err}
}

func commandLine(interpreter, path string, args []string) (string, []string) {
	interpreter = strings.TrimSpace(interpreter)
	if interpreter == "" {
		return path, append([]string(nil), args...)
	}
	fields := strings.Fields(interpreter)
	out := make([]string, 0, len(fields)+len(args))
	out = append(out, fields[1:]...)
	out = append(out, path)
	out = append(out, args...)
	return fields[0], out
}

// mergeEnv appends extra in key order; exec keeps the last value of a
// duplicated key, so extra overrides base.
func mergeEnv(base []string, extra map[string]string) []string {
	out := append([]string(nil), base...)
	if len(extra) == 0 {
		return out
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if k == "" || strings.ContainsAny(k, "= \t") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
