// Package registry holds the per-host sets of outstanding asynchronous
// operations. A host is idle exactly when every set is empty.
package registry

import "sync/atomic"

// Kind names one category of tracked operation.
type Kind string

const (
	KindTimer   Kind = "timer"
	KindRequest Kind = "request"
	KindFile    Kind = "file"
	KindSocket  Kind = "socket"
)

// Kinds lists every tracked kind in reporting order.
var Kinds = []Kind{KindTimer, KindRequest, KindFile, KindSocket}

// Registry groups the four independent handle sets of one host. Hosts never
// share a Registry, so timer ids and counts stay isolated per engine.
type Registry struct {
	Timers   *HandleSet[int]
	Requests *HandleSet[string]
	Files    *HandleSet[string]
	Sockets  *HandleSet[string]

	nextTimerID atomic.Int64
}

// New returns a Registry with empty sets.
func New() *Registry {
	return &Registry{
		Timers:   NewHandleSet[int](),
		Requests: NewHandleSet[string](),
		Files:    NewHandleSet[string](),
		Sockets:  NewHandleSet[string](),
	}
}

// NextTimerID allocates the next timer id. Ids start at 1 and strictly
// increase for the lifetime of the Registry.
func (r *Registry) NextTimerID() int {
	return int(r.nextTimerID.Add(1))
}

// Counts is a point-in-time view of the set sizes.
type Counts struct {
	Timers   int
	Requests int
	Files    int
	Sockets  int
}

// Total returns the sum of all counts.
func (c Counts) Total() int {
	return c.Timers + c.Requests + c.Files + c.Sockets
}

// Of returns the count for kind k.
func (c Counts) Of(k Kind) int {
	switch k {
	case KindTimer:
		return c.Timers
	case KindRequest:
		return c.Requests
	case KindFile:
		return c.Files
	case KindSocket:
		return c.Sockets
	default:
		return 0
	}
}

// Counts returns the current size of every set.
func (r *Registry) Counts() Counts {
	return Counts{
		Timers:   r.Timers.Count(),
		Requests: r.Requests.Count(),
		Files:    r.Files.Count(),
		Sockets:  r.Sockets.Count(),
	}
}

// HasActiveOperations reports whether any set is non-empty. Process entry
// points poll this to decide whether the host may idle-exit.
func (r *Registry) HasActiveOperations() bool {
	return !r.Timers.IsEmpty() || !r.Requests.IsEmpty() ||
		!r.Files.IsEmpty() || !r.Sockets.IsEmpty()
}
