// Package lock serializes work on a single key, such as one user's points ledger.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when the context ends before the lock is obtained.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker hands out exclusive locks per key. The returned release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

type memEntry struct {
	ch   chan struct{}
	refs int
}

// Memory is an in-process Locker. Keys with no holders or waiters are forgotten.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*memEntry
}

func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*memEntry)}
}

func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &memEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				m.forget(key, e)
			})
		}, nil
	case <-ctx.Done():
		m.forget(key, e)
		return nil, ErrNotAcquired
	}
}

func (m *Memory) forget(key string, e *memEntry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}
