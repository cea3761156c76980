package logstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFileStore_CreatesEmptyLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	got, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() err=%v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Read()=%q, want empty", got)
	}
}

func TestFileStore_AppendOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for _, chunk := range []string{"a", "b", "c"} {
		if err := s.Append(ctx, []byte(chunk)); err != nil {
			t.Fatalf("Append(%q) err=%v", chunk, err)
		}
	}
	got, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read() err=%v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("Read()=%q, want abc", got)
	}
}

func TestFileStore_ResetThenRead(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.Append(ctx, []byte("previous run\n")); err != nil {
		t.Fatalf("Append() err=%v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset() err=%v", err)
	}
	got, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read() err=%v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Read()=%q, want empty after Reset", got)
	}

	if err := s.Append(ctx, []byte("next")); err != nil {
		t.Fatalf("Append() err=%v", err)
	}
	got, _ = s.Read(ctx)
	if string(got) != "next" {
		t.Fatalf("Read()=%q, want next", got)
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	if err := s.Append(ctx, []byte("Process exited with code 0\n")); err != nil {
		t.Fatalf("Append() err=%v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer reopened.Close()
	got, err := reopened.Read(ctx)
	if err != nil {
		t.Fatalf("Read() err=%v", err)
	}
	if string(got) != "Process exited with code 0\n" {
		t.Fatalf("Read()=%q after reopen", got)
	}
	if size, err := reopened.Size(); err != nil || size != int64(len(got)) {
		t.Fatalf("Size()=%d err=%v, want %d", size, err, len(got))
	}
}

func TestFileStore_ConcurrentReadersSeeWholeAppends(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	chunk := strings.Repeat("x", 1024) + "\n"

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.Append(ctx, []byte(chunk))
		}
	}()
	for i := 0; i < 200; i++ {
		got, err := s.Read(ctx)
		if err != nil {
			t.Fatalf("Read() err=%v", err)
		}
		if len(got)%len(chunk) != 0 {
			t.Fatalf("Read() returned partial append: len=%d", len(got))
		}
	}
	wg.Wait()
}

func TestFileStore_Closed(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	_ = s.Close()
	if _, err := s.Read(context.Background()); err == nil {
		t.Fatalf("Read() expected error after Close")
	}
	if err := s.Append(context.Background(), []byte("x")); err == nil {
		t.Fatalf("Append() expected error after Close")
	}
}

// failingStore rejects every write.
type failingStore struct{ Store }

func (failingStore) Append(context.Context, []byte) error { return fmt.Errorf("disk full") }

func TestAppender_PreservesOrder(t *testing.T) {
	s := openTestStore(t)
	var appends int
	var mu sync.Mutex
	a := NewAppender(s, WithOnAppend(func() {
		mu.Lock()
		appends++
		mu.Unlock()
	}))

	var want strings.Builder
	for i := 0; i < 500; i++ {
		line := fmt.Sprintf("line %d\n", i)
		want.WriteString(line)
		if _, err := a.Write([]byte(line)); err != nil {
			t.Fatalf("Write() err=%v", err)
		}
	}
	if failures := a.Close(); failures != 0 {
		t.Fatalf("Close() failures=%d, want 0", failures)
	}

	got, _ := s.Read(context.Background())
	if string(got) != want.String() {
		t.Fatalf("appender reordered or dropped output")
	}
	if appends != 500 {
		t.Fatalf("onAppend called %d times, want 500", appends)
	}
	if _, err := a.Write([]byte("late")); err != ErrAppenderClosed {
		t.Fatalf("Write() after Close err=%v, want ErrAppenderClosed", err)
	}
}

func TestAppender_WriteCopiesBuffer(t *testing.T) {
	s := openTestStore(t)
	a := NewAppender(s)
	buf := []byte("abc")
	_, _ = a.Write(buf)
	copy(buf, "zzz")
	a.Close()

	got, _ := s.Read(context.Background())
	if string(got) != "abc" {
		t.Fatalf("Read()=%q, want abc", got)
	}
}

func TestAppender_DetachStopsWrites(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	a := NewAppender(s)
	_, _ = a.Write([]byte("old run\n"))

	a.Detach()
	if !a.Detached() {
		t.Fatalf("Detached()=false after Detach")
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset() err=%v", err)
	}
	_, _ = a.Write([]byte("late output from old run\n"))
	a.Close()

	got, _ := s.Read(ctx)
	if strings.Contains(string(got), "late output") {
		t.Fatalf("detached appender wrote after reset: %q", got)
	}
}

func TestAppender_CountsStoreFailures(t *testing.T) {
	a := NewAppender(failingStore{})
	_, _ = a.Write([]byte("a"))
	_, _ = a.Write([]byte("b"))
	if failures := a.Close(); failures != 2 {
		t.Fatalf("Close() failures=%d, want 2", failures)
	}
}
