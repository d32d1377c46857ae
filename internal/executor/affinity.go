package executor

import (
	"runtime"
	"sync/atomic"
)

// Affinity records which goroutine is currently running a task on an
// executor, so that a call made from inside that task can be detected and
// run inline instead of being queued behind itself.
type Affinity struct {
	gid atomic.Uint64
}

// Enter marks the calling goroutine as the owner and returns a function
// that restores the previous owner.
func (a *Affinity) Enter() (exit func()) {
	prev := a.gid.Swap(GoroutineID())
	return func() { a.gid.Store(prev) }
}

// IsOwner reports whether the calling goroutine is inside a task.
func (a *Affinity) IsOwner() bool {
	id := a.gid.Load()
	if id == 0 {
		return false
	}
	return GoroutineID() == id
}

// GoroutineID returns the current goroutine's ID, parsed from the
// "goroutine N [...]" header of runtime.Stack.
func GoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
