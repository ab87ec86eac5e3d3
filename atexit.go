// Package buildtop holds the process-lifecycle plumbing shared by the
// daemon and debug-probe binaries: cleanups registered during startup
// (shared-memory unlinks, socket paths, the instance-discovery file)
// that must run once, in reverse registration order, when the process
// winds down.
package buildtop

import (
	"sync"
	"sync/atomic"
)

var atExit struct {
	sync.Mutex
	fns    []func() error
	closed uint32
}

// RegisterAtExit schedules fn to run during RunAtExit. Registration
// after RunAtExit has started is a bug.
func RegisterAtExit(fn func() error) {
	if atomic.LoadUint32(&atExit.closed) != 0 {
		panic("BUG: RegisterAtExit must not be called from an atExit func")
	}
	atExit.Lock()
	defer atExit.Unlock()
	atExit.fns = append(atExit.fns, fn)
}

// RunAtExit runs every registered cleanup in reverse registration
// order (resources acquired last are released first), continuing past
// failures so one failing cleanup cannot leak the rest. The first
// error encountered is returned.
func RunAtExit() error {
	atomic.StoreUint32(&atExit.closed, 1)
	var first error
	for i := len(atExit.fns) - 1; i >= 0; i-- {
		if err := atExit.fns[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
