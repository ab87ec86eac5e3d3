// Package notify is a uniform wake-up surface so ring readers
// (internal/shm) block instead of spinning when they're caught up, and
// the ring writer can rouse them the instant it publishes. On Linux it
// rides the futex syscall; everywhere else it degrades to a bounded
// polling sleep.
package notify

import "time"

// Notifier wakes every waiter blocked on addr. Called by the ring
// writer after every published update.
type Notifier interface {
	Wake(addr *uint32)
	Close() error
}

// Waiter blocks until the u32 at addr differs from expected, or until
// its own polling/backend timeout elapses — it must always return
// within a bounded time so callers can re-check shutdown.
type Waiter interface {
	Wait(addr *uint32, expected uint32)
	Close() error
}

// pollInterval bounds how long a polling Waiter sleeps between checks,
// and doubles as the wake-up deadline when a waker backend has no
// explicit unblock.
const pollInterval = 200 * time.Millisecond

// New returns the best available Notifier/Waiter pair for the current
// platform: a futex-backed pair on Linux, a polling pair everywhere
// else. Never fails — polling is always available as the degraded
// mode.
func New() (Notifier, Waiter) {
	if n, w, ok := newFutex(); ok {
		return n, w
	}
	return newPoll(), newPoll()
}

// pollBackend is the degrade-to-sleep fallback: Wake is a no-op (the
// waiter will notice the value changed on its next tick regardless),
// Wait sleeps for pollInterval.
type pollBackend struct{}

func newPoll() pollBackend { return pollBackend{} }

func (pollBackend) Wake(addr *uint32) {}

func (pollBackend) Wait(addr *uint32, expected uint32) {
	time.Sleep(pollInterval)
}

func (pollBackend) Close() error { return nil }
