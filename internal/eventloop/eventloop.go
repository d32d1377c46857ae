// Package eventloop implements the host's timer subsystem: id allocation,
// scheduling and cancellation of one-shot and repeating timers whose
// callbacks always run on the runtime's owning goroutine.
package eventloop

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cryguy/jshost/internal/core"
	"github.com/cryguy/jshost/internal/registry"
)

// DispatchFunc runs work on the owning goroutine and blocks until it is done.
type DispatchFunc func(work func(rt core.JSRuntime) error) error

// timerEntry represents a pending timer. The callback never runs on the
// Go timer's goroutine; it is handed to the dispatcher instead.
type timerEntry struct {
	id        int
	interval  time.Duration
	repeating bool
	native    *time.Timer
	callback  func(rt core.JSRuntime) error
}

// Timers manages Go-backed timers for one host. Ids come from the host's
// Registry and every active id is mirrored in Registry.Timers.
type Timers struct {
	mu      sync.Mutex
	entries map[int]*timerEntry
	stopped bool

	reg         *registry.Registry
	dispatch    DispatchFunc
	log         core.Logger
	minInterval time.Duration
}

// New creates the timer subsystem. minInterval is the floor applied to
// repeating timers.
func New(reg *registry.Registry, dispatch DispatchFunc, log core.Logger, minInterval time.Duration) *Timers {
	if log == nil {
		log = core.NopLogger()
	}
	if minInterval <= 0 {
		minInterval = time.Millisecond
	}
	return &Timers{
		entries:     make(map[int]*timerEntry),
		reg:         reg,
		dispatch:    dispatch,
		log:         log,
		minInterval: minInterval,
	}
}

// Schedule arms a timer and returns its id. Ids are unique and strictly
// increasing. After CancelAll, Schedule returns 0 and arms nothing.
func (t *Timers) Schedule(cb func(rt core.JSRuntime) error, delay time.Duration, repeating bool) int {
	if delay < 0 {
		delay = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return 0
	}

	e := &timerEntry{
		id:        t.reg.NextTimerID(),
		repeating: repeating,
		callback:  cb,
	}
	if repeating {
		if delay < t.minInterval {
			delay = t.minInterval
		}
		e.interval = delay
	}
	t.entries[e.id] = e
	t.reg.Timers.Add(e.id)
	e.native = time.AfterFunc(delay, func() { t.fire(e) })
	return e.id
}

// Cancel disarms a timer and reports whether it was active. Unknown, fired
// or already cancelled ids are ignored.
func (t *Timers) Cancel(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	delete(t.entries, id)
	t.reg.Timers.Remove(id)
	e.native.Stop()
	return true
}

// CancelAll disarms every timer and refuses further scheduling. It returns
// the number of timers cancelled.
func (t *Timers) CancelAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	n := len(t.entries)
	for id, e := range t.entries {
		e.native.Stop()
		t.reg.Timers.Remove(id)
	}
	t.entries = make(map[int]*timerEntry)
	return n
}

// Count returns the number of active timers.
func (t *Timers) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// fire runs on the Go timer goroutine.
func (t *Timers) fire(e *timerEntry) {
	t.mu.Lock()
	if cur, ok := t.entries[e.id]; !ok || cur != e {
		t.mu.Unlock()
		return
	}
	if !e.repeating {
		// Retire the id before the callback runs so a callback that
		// schedules a new timer never sees its own id still registered.
		delete(t.entries, e.id)
		t.reg.Timers.Remove(e.id)
	}
	t.mu.Unlock()

	t.invoke(e)

	if !e.repeating {
		return
	}
	t.mu.Lock()
	if cur, ok := t.entries[e.id]; ok && cur == e && !t.stopped {
		e.native.Reset(e.interval)
	}
	t.mu.Unlock()
}

func (t *Timers) invoke(e *timerEntry) {
	err := t.dispatch(e.callback)
	if err == nil || errors.Is(err, core.ErrClosed) {
		return
	}
	t.log.Log(zapcore.WarnLevel, "timers", "timer callback failed",
		zap.Int("id", e.id),
		zap.Bool("repeating", e.repeating),
		zap.Error(err))
}
