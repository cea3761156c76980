package runtimeexec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/animus-labs/refresh-go/internal/domain"
)

// Resolver picks the first existing file from an ordered candidate list.
// The list is evaluated once at construction and the hit is cached; a miss is
// re-evaluated on the next Resolve so a script installed later is found
// without a restart.
type Resolver struct {
	mu         sync.RWMutex
	candidates []string
	resolved   string
}

func NewResolver(candidates []string) *Resolver {
	r := &Resolver{}
	r.Reload(candidates)
	return r
}

// Reload replaces the candidate list and re-resolves it.
func (r *Resolver) Reload(candidates []string) string {
	abs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if p, err := filepath.Abs(c); err == nil {
			c = p
		}
		abs = append(abs, c)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = abs
	r.resolved = firstExisting(abs)
	return r.resolved
}

func (r *Resolver) Candidates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.candidates...)
}

// Resolved returns the cached path without touching the filesystem.
func (r *Resolver) Resolved() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolved
}

// Resolve returns the executable path or an error wrapping
// domain.ErrExecutableNotFound.
func (r *Resolver) Resolve() (string, error) {
	r.mu.RLock()
	cached := r.resolved
	r.mu.RUnlock()
	if cached != "" && isRegularFile(cached) {
		return cached, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = firstExisting(r.candidates)
	if r.resolved == "" {
		if len(r.candidates) == 0 {
			return "", fmt.Errorf("%w: no candidate paths configured", domain.ErrExecutableNotFound)
		}
		return "", fmt.Errorf("%w: checked %s", domain.ErrExecutableNotFound, strings.Join(r.candidates, ", "))
	}
	return r.resolved, nil
}

func firstExisting(candidates []string) string {
	for _, c := range candidates {
		if isRegularFile(c) {
			return c
		}
	}
	return ""
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
