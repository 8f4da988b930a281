// Package lock ensures at most one sync cycle runs per key at a time.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrEntityBusy is returned when the key is already held.
var ErrEntityBusy = errors.New("entity busy")

// Release frees a held lock.
type Release func(ctx context.Context) error

// Locker acquires named locks without waiting.
type Locker interface {
	// Acquire returns ErrEntityBusy if key is held elsewhere.
	Acquire(ctx context.Context, key string) (Release, error)
}

// EntityKey names the lock guarding one entity.
func EntityKey(source, entityID string) string {
	return "entity:" + source + ":" + entityID
}

// SourceKey names the lock guarding a source's scheduled cursors.
func SourceKey(source string) string {
	return "source:" + source
}

// Local is an in-process Locker for single-instance deployments.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates a Local locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire implements Locker.
func (l *Local) Acquire(_ context.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrEntityBusy
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
