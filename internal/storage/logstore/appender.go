package logstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrAppenderClosed = errors.New("appender closed")

const defaultQueueSize = 256

// Appender is the single writer of one run. Chunks written from any goroutine
// are queued and applied to the store in the order Write was called.
type Appender struct {
	store    Store
	logger   *slog.Logger
	onAppend func()

	queue chan []byte
	done  chan struct{}

	sendMu sync.RWMutex
	closed bool

	// mu is held across every store write; Detach takes it so that no
	// write is in flight once Detach returns.
	mu       sync.Mutex
	detached bool
	failures int
}

type AppenderOption func(*Appender)

// WithOnAppend registers a callback run after each successful store write.
func WithOnAppend(fn func()) AppenderOption {
	return func(a *Appender) { a.onAppend = fn }
}

func WithLogger(logger *slog.Logger) AppenderOption {
	return func(a *Appender) { a.logger = logger }
}

func NewAppender(store Store, opts ...AppenderOption) *Appender {
	a := &Appender{
		store:  store,
		logger: slog.Default(),
		queue:  make(chan []byte, defaultQueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.drain()
	return a
}

// Write queues a copy of p. It blocks only while the queue is full.
func (a *Appender) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	if a.closed {
		return 0, ErrAppenderClosed
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	a.queue <- chunk
	return len(p), nil
}

// Detach stops all further store writes from this appender. Queued and future
// chunks are discarded.
func (a *Appender) Detach() {
	a.mu.Lock()
	a.detached = true
	a.mu.Unlock()
}

func (a *Appender) Detached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detached
}

// Close flushes queued chunks and stops the writer goroutine. It returns the
// number of chunks the store rejected.
func (a *Appender) Close() int {
	a.sendMu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.sendMu.Unlock()
	<-a.done

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures
}

func (a *Appender) drain() {
	defer close(a.done)
	for chunk := range a.queue {
		if a.apply(chunk) && a.onAppend != nil {
			a.onAppend()
		}
	}
}

func (a *Appender) apply(chunk []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detached {
		return false
	}
	if err := a.store.Append(context.Background(), chunk); err != nil {
		a.failures++
		a.logger.Error("log append failed", "error", err, "bytes", len(chunk))
		return false
	}
	return true
}
