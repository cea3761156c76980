// Package refresh owns the single-flight state of the sync job: it decides
// whether a trigger is accepted, starts the job and applies its completion.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/refresh-go/internal/domain"
	"github.com/animus-labs/refresh-go/internal/runtimeexec"
	"github.com/animus-labs/refresh-go/internal/storage/logstore"
)

const recordTimeout = 5 * time.Second

// ScriptResolver finds the job script on disk.
type ScriptResolver interface {
	Resolve() (string, error)
}

// Snapshotter copies the log somewhere durable. Touch may skip work; Snapshot
// always writes.
type Snapshotter interface {
	Touch(runID string)
	Snapshot(ctx context.Context, runID string) error
}

type Config struct {
	Executor runtimeexec.Executor
	Resolver ScriptResolver
	Store    logstore.Store
	Job      runtimeexec.JobSpec

	// Optional.
	Recorder    Recorder
	Snapshotter Snapshotter
	Logger      *slog.Logger
	Now         func() time.Time
}

// Status is a point-in-time view of the coordinator and the current log.
type Status struct {
	Running   bool
	RunID     string
	Seq       uint64
	StartedAt *time.Time
	Forced    bool
	Logs      string
}

// Accepted describes a run the coordinator started.
type Accepted struct {
	RunID     string
	Seq       uint64
	StartedAt time.Time
	Forced    bool
	Script    string
	PID       int
}

type Coordinator struct {
	executor    runtimeexec.Executor
	resolver    ScriptResolver
	store       logstore.Store
	recorder    Recorder
	snapshotter Snapshotter
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	job     runtimeexec.JobSpec
	state   domain.RunState
	current *run
	runs    map[uint64]*run
	lastSeq uint64

	// inflight counts runs that have not reported completion yet.
	inflight int
	idle     []chan struct{}
}

type run struct {
	id        string
	seq       uint64
	startedAt time.Time
	forced    bool
	script    string
	app       *logstore.Appender
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("log store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		executor:    cfg.Executor,
		resolver:    cfg.Resolver,
		store:       cfg.Store,
		recorder:    cfg.Recorder,
		snapshotter: cfg.Snapshotter,
		logger:      cfg.Logger,
		now:         cfg.Now,
		job:         cfg.Job.Clone(),
		runs:        make(map[uint64]*run),
	}, nil
}

// UpdateJob replaces the launch template used by later runs.
func (c *Coordinator) UpdateJob(spec runtimeexec.JobSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.job = spec.Clone()
}

// RequestRun starts the job unless a run is active and req.Force is false.
//
// A forced run does not stop the previous process. The previous run's log
// writer is detached first so nothing it prints after this point, including
// its exit line, reaches the new log.
func (c *Coordinator) RequestRun(ctx context.Context, req domain.RunRequest) (Accepted, error) {
	c.mu.Lock()
	if c.state.Active && !req.Force {
		seq := c.state.Seq
		c.mu.Unlock()
		c.logger.Info("sync rejected, run in progress", "seq", seq)
		return Accepted{}, domain.ErrAlreadyRunning
	}

	script, err := c.resolver.Resolve()
	if err != nil {
		c.mu.Unlock()
		c.logger.Error("sync script not found", "error", err)
		return Accepted{}, err
	}

	var superseded *run
	if c.state.Active && c.current != nil {
		superseded = c.current
		superseded.app.Detach()
	}

	if err := c.store.Reset(ctx); err != nil {
		c.mu.Unlock()
		c.logger.Error("sync log reset failed", "error", err)
		return Accepted{}, fmt.Errorf("%w: reset log: %v", domain.ErrStorage, err)
	}

	c.lastSeq++
	now := c.now().UTC()
	r := &run{
		id:        uuid.NewString(),
		seq:       c.lastSeq,
		startedAt: now,
		forced:    superseded != nil,
		script:    script,
	}
	r.app = logstore.NewAppender(c.store, logstore.WithLogger(c.logger), logstore.WithOnAppend(c.touch(r.id)))

	startedAt := now
	c.state = domain.RunState{
		Active:    true,
		RunID:     r.id,
		Seq:       r.seq,
		StartedAt: &startedAt,
		Forced:    r.forced,
	}
	c.current = r
	c.runs[r.seq] = r
	c.inflight++

	spec := c.job.Clone()
	c.mu.Unlock()

	if superseded != nil {
		c.logger.Warn("sync forced over active run",
			"run_id", r.id,
			"seq", r.seq,
			"superseded_run_id", superseded.id,
			"superseded_seq", superseded.seq,
		)
	}
	c.recordStarted(ctx, req, r, superseded)

	spec.RunID = r.id
	spec.Seq = r.seq
	spec.Path = script

	handle, err := c.executor.Start(ctx, spec, &runSink{c: c, r: r})
	if err != nil {
		// Start reports spawn failures through the sink itself; anything
		// else is reported here. A second report for the same seq is a no-op.
		c.ReportCompletion(r.seq, runtimeexec.Outcome{ExitCode: -1, Err: err, FinishedAt: c.now()})
		if errors.Is(err, domain.ErrExecutableNotFound) || errors.Is(err, domain.ErrLaunchFailed) {
			return Accepted{}, err
		}
		return Accepted{}, fmt.Errorf("%w: %v", domain.ErrLaunchFailed, err)
	}

	return Accepted{
		RunID:     r.id,
		Seq:       r.seq,
		StartedAt: r.startedAt,
		Forced:    r.forced,
		Script:    script,
		PID:       handle.PID,
	}, nil
}

// ReportCompletion applies the end of run seq. It appends the exit line,
// flushes the run's log writer and, if seq is still the current run, marks
// the coordinator idle. It reports whether the coordinator state changed;
// completions of superseded runs and repeated reports return false.
func (c *Coordinator) ReportCompletion(seq uint64, outcome runtimeexec.Outcome) bool {
	c.mu.Lock()
	r, ok := c.runs[seq]
	if ok {
		delete(c.runs, seq)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("sync completion for unknown run ignored", "seq", seq)
		return false
	}
	defer c.finished()

	if outcome.FinishedAt.IsZero() {
		outcome.FinishedAt = c.now()
	}

	// A detached writer drops the marker along with everything else.
	_, _ = r.app.Write([]byte(outcome.Marker()))
	if failures := r.app.Close(); failures > 0 {
		c.logger.Error("sync log lost output", "run_id", r.id, "seq", r.seq, "failed_appends", failures)
	}

	c.mu.Lock()
	applied := c.current == r && c.state.Active
	if applied {
		c.state.Active = false
	}
	c.mu.Unlock()

	if applied {
		c.logger.Info("sync finished",
			"run_id", r.id,
			"seq", r.seq,
			"exit_code", outcome.ExitCode,
			"signal", outcome.Signal,
			"duration", outcome.FinishedAt.Sub(r.startedAt).String(),
		)
		c.snapshot(r.id)
	} else {
		c.logger.Info("stale sync completion ignored", "run_id", r.id, "seq", r.seq, "exit_code", outcome.ExitCode)
	}
	c.recordFinished(r, outcome, !applied)
	return applied
}

// CurrentStatus never waits on the running job.
func (c *Coordinator) CurrentStatus(ctx context.Context) (Status, error) {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	logs, err := c.store.Read(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("%w: read log: %v", domain.ErrStorage, err)
	}
	out := Status{
		Running: st.Active,
		RunID:   st.RunID,
		Seq:     st.Seq,
		Forced:  st.Forced,
		Logs:    string(logs),
	}
	if st.StartedAt != nil {
		t := *st.StartedAt
		out.StartedAt = &t
	}
	return out, nil
}

// State returns the single-flight state without reading the log.
func (c *Coordinator) State() domain.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	if st.StartedAt != nil {
		t := *st.StartedAt
		st.StartedAt = &t
	}
	return st
}

// Wait blocks until every started run has reported completion or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	if c.inflight == 0 {
		c.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	c.idle = append(c.idle, done)
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) finished() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	if c.inflight > 0 {
		return
	}
	for _, ch := range c.idle {
		close(ch)
	}
	c.idle = nil
}

func (c *Coordinator) touch(runID string) func() {
	if c.snapshotter == nil {
		return nil
	}
	return func() { c.snapshotter.Touch(runID) }
}

func (c *Coordinator) snapshot(runID string) {
	if c.snapshotter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.snapshotter.Snapshot(ctx, runID); err != nil {
		c.logger.Warn("sync log snapshot failed", "run_id", runID, "error", err)
	}
}

func (c *Coordinator) recordStarted(ctx context.Context, req domain.RunRequest, r, superseded *run) {
	if c.recorder == nil {
		return
	}
	rec := RunRecord{
		RunID:     r.id,
		Seq:       r.seq,
		Script:    r.script,
		Forced:    r.forced,
		Outcome:   domain.RunOutcomeRunning,
		StartedAt: r.startedAt,
		Actor:     req.Actor,
		RequestID: req.RequestID,
	}
	if superseded != nil {
		rec.SupersedesRunID = superseded.id
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := c.recorder.RunStarted(ctx, rec); err != nil {
		c.logger.Warn("sync history write failed", "run_id", r.id, "seq", r.seq, "error", err)
	}
}

func (c *Coordinator) recordFinished(r *run, outcome runtimeexec.Outcome, stale bool) {
	if c.recorder == nil {
		return
	}
	finishedAt := outcome.FinishedAt.UTC()
	exitCode := outcome.ExitCode
	rec := RunRecord{
		RunID:      r.id,
		Seq:        r.seq,
		Script:     r.script,
		Forced:     r.forced,
		Outcome:    outcomeOf(outcome),
		StartedAt:  r.startedAt,
		FinishedAt: &finishedAt,
		ExitCode:   &exitCode,
		Signal:     outcome.Signal,
		Stale:      stale,
	}
	if outcome.Err != nil {
		rec.Error = outcome.Err.Error()
		rec.ExitCode = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.recorder.RunFinished(ctx, rec); err != nil {
		c.logger.Warn("sync history write failed", "run_id", r.id, "seq", r.seq, "error", err)
	}
}

func outcomeOf(o runtimeexec.Outcome) domain.RunOutcome {
	switch {
	case o.Err != nil:
		return domain.RunOutcomeLaunchFailed
	case o.Succeeded():
		return domain.RunOutcomeSucceeded
	default:
		return domain.RunOutcomeFailed
	}
}

// runSink routes one run's output into its appender and its exit into
// ReportCompletion.
type runSink struct {
	c *Coordinator
	r *run
}

func (s *runSink) Output(stream runtimeexec.Stream, chunk []byte) {
	s.c.logger.Debug("sync output", "run_id", s.r.id, "seq", s.r.seq, "stream", string(stream), "bytes", len(chunk))
	_, _ = s.r.app.Write(chunk)
}

func (s *runSink) Done(outcome runtimeexec.Outcome) {
	s.c.ReportCompletion(s.r.seq, outcome)
}
