// Package executor provides the serial execution context that owns a
// script runtime. Exactly one task runs at a time, in submission order.
package executor

import (
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrShutdown is returned by Execute once the executor stops accepting work.
var ErrShutdown = errors.New("executor: shut down")

// Executor runs submitted tasks serially. Implementations must never run
// two tasks concurrently; they may run them on different goroutines.
type Executor interface {
	Execute(task func()) error
}

// Current is implemented by executors that can tell whether the calling
// goroutine is the one running their tasks. Hosts sharing an executor rely
// on it to run a nested call inline when it comes from another host's task
// or from a task the caller queued directly.
type Current interface {
	IsCurrent() bool
}

// Serial is an Executor backed by a single goroutine locked to its OS
// thread. The zero value is not usable; call New.
type Serial struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	gid atomic.Uint64 // goroutine running loop

	wake chan struct{}
	done chan struct{}

	onPanic func(v any, stack []byte)
}

// Option configures a Serial at construction time.
type Option func(*Serial)

// WithPanicHandler sets the function called when a task panics. The
// executor keeps running regardless.
func WithPanicHandler(fn func(v any, stack []byte)) Option {
	return func(s *Serial) {
		s.onPanic = fn
	}
}

// New starts a Serial executor.
func New(opts ...Option) *Serial {
	s := &Serial{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.loop()
	return s
}

// Execute queues task. It never blocks on the task itself.
func (s *Serial) Execute(task func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	s.queue = append(s.queue, task)
	s.mu.Unlock()
	s.signal()
	return nil
}

// Shutdown stops accepting new tasks. Tasks already queued still run, then
// the goroutine exits. Shutdown does not wait, so it is safe to call from a
// running task. It is idempotent.
func (s *Serial) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

// IsShutdown reports whether Shutdown has been called.
func (s *Serial) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed once the executor goroutine has exited.
func (s *Serial) Done() <-chan struct{} {
	return s.done
}

func (s *Serial) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// IsCurrent reports whether the caller is running inside one of s's tasks.
func (s *Serial) IsCurrent() bool {
	id := s.gid.Load()
	return id != 0 && id == GoroutineID()
}

func (s *Serial) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.done)
	s.gid.Store(GoroutineID())
	defer s.gid.Store(0)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.wake
			s.mu.Lock()
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(task)
	}
}

// run executes one task, containing any panic so the thread survives.
func (s *Serial) run(task func()) {
	defer func() {
		if r := recover(); r != nil && s.onPanic != nil {
			s.onPanic(r, debug.Stack())
		}
	}()
	task()
}
