// Package lock provides the per-handler resource mutex and its scoped guard.
package lock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Mutex is a non-reentrant exclusive lock that can also be acquired under a context.
// The zero value is not usable; use New.
type Mutex struct {
	sem *semaphore.Weighted
}

func New() *Mutex {
	return &Mutex{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the mutex is held.
func (m *Mutex) Lock() {
	// Acquire with a background context only fails if the weight exceeds the size.
	_ = m.sem.Acquire(context.Background(), 1)
}

// LockContext blocks until the mutex is held or ctx is done.
// On error the mutex is not held.
func (m *Mutex) LockContext(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

// TryLock acquires the mutex only if it is free.
func (m *Mutex) TryLock() bool {
	return m.sem.TryAcquire(1)
}

// Unlock releases the mutex. It must pair 1:1 with a successful lock.
func (m *Mutex) Unlock() {
	m.sem.Release(1)
}

// Guard acquires the mutex and returns its release function.
// The release is idempotent, so
//
//	defer m.Guard()()
//
// is safe even if the body already released it.
func (m *Mutex) Guard() func() {
	m.Lock()
	return m.release()
}

// GuardContext is Guard bounded by ctx.
func (m *Mutex) GuardContext(ctx context.Context) (func(), error) {
	if err := m.LockContext(ctx); err != nil {
		return nil, err
	}
	return m.release(), nil
}

func (m *Mutex) release() func() {
	var once sync.Once
	return func() { once.Do(m.Unlock) }
}

// With runs fn while holding the mutex. The mutex is released on every
// exit path of fn, including a panic.
func (m *Mutex) With(fn func() error) error {
	defer m.Guard()()
	return fn()
}
