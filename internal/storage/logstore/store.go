// Package logstore keeps the combined output of the most recent sync run.
//
// The FileStore is the durable copy read by the status API. Writers go
// through an Appender, which serializes one run's chunks into the store and
// can be detached when a forced run takes the log over. A Mirror optionally
// copies snapshots to object storage.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the log file created inside the configured directory.
const FileName = "sync.log"

// Store is an append-only, truncatable text buffer.
type Store interface {
	Reset(ctx context.Context) error
	Append(ctx context.Context, p []byte) error
	Read(ctx context.Context) ([]byte, error)
}

// FileStore persists the buffer in a single file. Every operation holds the
// store mutex, so a read never observes half of an append or a truncation in
// progress.
type FileStore struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open creates dir if needed and opens (or creates empty) dir/sync.log.
// Existing content is kept so the previous run's log survives a restart.
func Open(dir string) (*FileStore, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileStore{path: path, f: f}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errStoreClosed
	}
	if err := s.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate log: %w", err)
	}
	return nil
}

func (s *FileStore) Append(ctx context.Context, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errStoreClosed
	}
	if _, err := s.f.Write(p); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (s *FileStore) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, errStoreClosed
	}
	info, err := s.f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log: %w", err)
	}
	data, err := io.ReadAll(io.NewSectionReader(s.f, 0, info.Size()))
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return data, nil
}

// Size returns the current log length in bytes.
func (s *FileStore) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, errStoreClosed
	}
	info, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat log: %w", err)
	}
	return info.Size(), nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

var errStoreClosed = errors.New("log store closed")
