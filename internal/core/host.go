package core

import (
	"time"

	"github.com/cryguy/jshost/internal/registry"
)

// Host is the view of the engine host that native bridges are given. All
// methods are safe to call from any goroutine.
type Host interface {
	// Dispatch runs work on the owning goroutine and blocks until it
	// finishes. Calls made from the owning goroutine run inline.
	Dispatch(work func(rt JSRuntime) error) error

	// DispatchAsync queues task for the owning goroutine without blocking.
	// Tasks submitted after close are dropped; task failures are logged.
	DispatchAsync(task func(rt JSRuntime) error)

	// DispatchCompletion is DispatchAsync for the completion of tracked
	// native work: release runs exactly once, after task on the owning
	// goroutine or, if the task is dropped, wherever the drop is detected.
	// Bridges use release to remove the operation from the Registry.
	DispatchCompletion(task func(rt JSRuntime) error, release func())

	// ScheduleTimer arms a timer whose callback runs on the owning goroutine.
	ScheduleTimer(cb func(rt JSRuntime) error, delay time.Duration, repeating bool) int

	// CancelTimer disarms a timer. Unknown ids are ignored.
	CancelTimer(id int)

	// Registry returns the per-host in-flight operation sets.
	Registry() *registry.Registry

	// Logger returns the host's logging sink.
	Logger() Logger

	// Config returns the host configuration.
	Config() EngineConfig

	// Closed reports whether the host has begun shutting down.
	Closed() bool
}
