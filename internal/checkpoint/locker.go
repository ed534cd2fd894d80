package checkpoint

import (
	"context"
	"sync"
	"time"
)

// Locker serializes turns per thread. Distinct threads proceed in parallel;
// a second turn on the same thread waits for the first to finish or times
// out with ErrLockTimeout.
type Locker struct {
	mu      sync.Mutex
	locks   map[string]*threadLock
	timeout time.Duration
}

type threadLock struct {
	sem  chan struct{}
	refs int
}

// NewLocker creates a locker with the given acquisition timeout.
// A non-positive timeout defaults to 30s.
func NewLocker(timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Locker{
		locks:   make(map[string]*threadLock),
		timeout: timeout,
	}
}

// Lock acquires the thread's lock, waiting up to the configured timeout.
// Context cancellation releases the waiter immediately.
func (l *Locker) Lock(ctx context.Context, threadID string) error {
	l.mu.Lock()
	tl, ok := l.locks[threadID]
	if !ok {
		tl = &threadLock{sem: make(chan struct{}, 1)}
		l.locks[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case tl.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(threadID)
		return ctx.Err()
	case <-timer.C:
		l.release(threadID)
		return ErrLockTimeout
	}
}

// Unlock releases the thread's lock.
func (l *Locker) Unlock(threadID string) {
	l.mu.Lock()
	tl, ok := l.locks[threadID]
	l.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-tl.sem:
	default:
		// Unlock without a matching Lock; nothing held.
	}
	l.release(threadID)
}

// release drops one reference and frees the entry when no goroutine holds
// or waits on it, so idle threads cost nothing.
func (l *Locker) release(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tl, ok := l.locks[threadID]
	if !ok {
		return
	}
	tl.refs--
	if tl.refs <= 0 {
		delete(l.locks, threadID)
	}
}
