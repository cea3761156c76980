package runtimeexec

import (
	"context"
	"fmt"
	"time"
)

// Executor starts sync jobs. Start returns as soon as the job is running; the
// sink receives its output and exactly one Done call.
type Executor interface {
	Kind() string
	Start(ctx context.Context, spec JobSpec, sink Sink) (Handle, error)
}

// JobSpec describes one launch of the sync job.
type JobSpec struct {
	RunID       string
	Seq         uint64
	Interpreter string
	Path        string
	Args        []string
	Env         map[string]string
	Dir         string
}

// Clone returns a copy that shares no slices or maps with s.
func (s JobSpec) Clone() JobSpec {
	out := s
	out.Args = append([]string(nil), s.Args...)
	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	return out
}

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Sink receives the output and the terminal outcome of one job.
// Output may be called from two goroutines at once (one per stream).
type Sink interface {
	Output(stream Stream, chunk []byte)
	Done(outcome Outcome)
}

type Handle struct {
	PID       int
	StartedAt time.Time
}

// Outcome is how a job ended. Err is set when the process never ran or
// could not be waited on; otherwise ExitCode (and Signal, if killed) apply.
type Outcome struct {
	ExitCode   int
	Signal     string
	Err        error
	FinishedAt time.Time
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Signal == "" && o.ExitCode == 0
}

// Marker is the terminal line appended to the run log.
func (o Outcome) Marker() string {
	switch {
	case o.Err != nil:
		return fmt.Sprintf("\nSpawn Failed: %s\n", o.Err.Error())
	case o.Signal != "":
		return fmt.Sprintf("\nProcess terminated by signal %s\n", o.Signal)
	default:
		return fmt.Sprintf("\nProcess exited with code %d\n", o.ExitCode)
	}
}
