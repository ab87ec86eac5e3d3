//go:build linux

package notify

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	futexWait = 0
	futexWake = 1

	// wakeAll is passed as FUTEX_WAKE's count so a single writer wakes
	// every blocked reader; waking more than necessary is fine, they
	// all re-check and re-park.
	wakeAll = 1 << 30
)

// futexBackend implements both Notifier and Waiter on top of the raw
// futex(2) syscall. No FUTEX_PRIVATE_FLAG: the address lives in a
// shared mapping backed by a file under /dev/shm, so waiters in other
// processes must be reachable.
type futexBackend struct{}

func newFutex() (Notifier, Waiter, bool) {
	return futexBackend{}, futexBackend{}, true
}

func (futexBackend) Close() error { return nil }

// Wake wakes every waiter blocked on addr.
func (futexBackend) Wake(addr *uint32) {
	unix.Syscall(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWake, wakeAll)
}

// Wait blocks until the value at addr differs from expected, bounded
// by pollInterval as a backstop in case a wake is ever missed (a
// correctly paired futex wait/wake never needs it, but the bound costs
// nothing and guards against the rare lost-wakeup).
func (futexBackend) Wait(addr *uint32, expected uint32) {
	ts := unix.NsecToTimespec(pollInterval.Nanoseconds())
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWait,
		uintptr(expected),
		uintptr(unsafe.Pointer(&ts)),
		0, 0,
	)
}
