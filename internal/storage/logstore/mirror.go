package logstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/animus-labs/refresh-go/internal/platform/objectstore"
	"golang.org/x/time/rate"
)

// ObjectStore is the subset of object storage the mirror needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type MirrorConfig struct {
	Prefix string
	// Interval is the minimum spacing of in-run snapshots.
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Mirror copies the log to object storage: runs/<run_id>.log and latest.log
// under Prefix.
type Mirror struct {
	store   Store
	objects ObjectStore
	prefix  string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewMirror(store Store, objects ObjectStore, cfg MirrorConfig) (*Mirror, error) {
	if store == nil {
		return nil, errors.New("log store is required")
	}
	if objects == nil {
		return nil, errors.New("object store is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Mirror{
		store:   store,
		objects: objects,
		prefix:  cfg.Prefix,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		logger:  cfg.Logger,
	}, nil
}

func (m *Mirror) RunKey(runID string) string {
	return path.Join(m.prefix, "runs", runID+".log")
}

func (m *Mirror) LatestKey() string {
	return path.Join(m.prefix, "latest.log")
}

// Touch takes a snapshot if the throttle allows one. Failures are logged.
func (m *Mirror) Touch(runID string) {
	if !m.limiter.Allow() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.Snapshot(ctx, runID); err != nil {
		m.logger.Warn("log snapshot failed", "run_id", runID, "error", err)
	}
}

// Snapshot uploads the current log unconditionally.
func (m *Mirror) Snapshot(ctx context.Context, runID string) error {
	data, err := m.store.Read(ctx)
	if err != nil {
		return err
	}
	keys := []string{m.LatestKey()}
	if runID != "" {
		keys = append(keys, m.RunKey(runID))
	}
	for _, key := range keys {
		if err := m.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "text/plain; charset=utf-8"); err != nil {
			return fmt.Errorf("snapshot %s: %w", key, err)
		}
	}
	return nil
}

// Restore fills an empty local log from latest.log. It reports whether any
// content was restored.
func (m *Mirror) Restore(ctx context.Context) (bool, error) {
	current, err := m.store.Read(ctx)
	if err != nil {
		return false, err
	}
	if len(current) > 0 {
		return false, nil
	}
	data, err := m.objects.Get(ctx, m.LatestKey())
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := m.store.Append(ctx, data); err != nil {
		return false, err
	}
	return true, nil
}
