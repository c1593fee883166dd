// Package lock provides the bounded-wait mutex shared by every subsystem.
//
// Runtime paths acquire with a timeout and fall back to a safe default when
// the lock is not obtained; only initialization, which runs before any worker
// exists, may wait without a bound.
package lock

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Lock timeouts used across the module
const (
	DisplayTimeout = 10 * time.Millisecond
	DefaultTimeout = 100 * time.Millisecond
	ControlTimeout = 1000 * time.Millisecond
)

// Timed is a mutex whose acquisition can give up after a deadline
type Timed struct {
	sem *semaphore.Weighted
}

// New creates an unlocked Timed mutex
func New() *Timed {
	return &Timed{sem: semaphore.NewWeighted(1)}
}

// TryLock acquires the lock, waiting at most timeout. It reports whether the
// lock is now held by the caller.
func (l *Timed) TryLock(timeout time.Duration) bool {
	if l.sem.TryAcquire(1) {
		return true
	}
	if timeout <= 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return l.sem.Acquire(ctx, 1) == nil
}

// Lock waits without a bound. Reserved for initialization.
func (l *Timed) Lock() {
	_ = l.sem.Acquire(context.Background(), 1)
}

// Unlock releases the lock
func (l *Timed) Unlock() {
	l.sem.Release(1)
}

// Guard acquires the lock and returns the function releasing it. The
// returned function is a no-op when ok is false.
//
//	release, ok := mu.Guard(lock.ControlTimeout)
//	if !ok {
//		return types.ErrTimeout
//	}
//	defer release()
func (l *Timed) Guard(timeout time.Duration) (release func(), ok bool) {
	if !l.TryLock(timeout) {
		return func() {}, false
	}
	return l.Unlock, true
}
