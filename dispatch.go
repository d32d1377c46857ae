package jshost

import (
	"runtime"
	"runtime/debug"

	"github.com/cryguy/jshost/internal/core"
	"github.com/cryguy/jshost/internal/executor"
)

// Dispatch runs work on the owning goroutine and returns its result. A
// call made from the owning goroutine (from inside other dispatched work,
// a timer callback or a bridge) runs inline instead of queueing behind
// itself. A panic in work is returned as a *PanicError.
func Dispatch[T any](h *Host, work func(rt Runtime) (T, error)) (T, error) {
	defer runtime.KeepAlive(h)
	return dispatch(h.core, work)
}

// Dispatch is the non-generic form of the package-level Dispatch.
func (h *Host) Dispatch(work func(rt Runtime) error) error {
	defer runtime.KeepAlive(h)
	return h.core.Dispatch(work)
}

// Eval evaluates src on the owning goroutine.
func (h *Host) Eval(src string) error {
	return h.Dispatch(func(rt Runtime) error {
		return rt.Eval(src)
	})
}

// EvalString evaluates src on the owning goroutine and returns the result
// as a string.
func (h *Host) EvalString(src string) (string, error) {
	return Dispatch(h, func(rt Runtime) (string, error) {
		return rt.EvalString(src)
	})
}

func (c *hostCore) Dispatch(work func(rt core.JSRuntime) error) error {
	_, err := dispatch(c, func(rt core.JSRuntime) (struct{}, error) {
		return struct{}{}, work(rt)
	})
	return err
}

// accepting reports why the host cannot queue work right now, if it can't.
// Work submitted while Initialize is running queues behind it.
func (c *hostCore) accepting() error {
	switch State(c.state.Load()) {
	case StateUninitialized:
		if c.closed.Load() {
			return ErrClosed
		}
		if !c.ready.Load() {
			return ErrNotInitialized
		}
		return nil
	case StateFailed:
		return c.initErr
	case StateClosed:
		return ErrClosed
	}
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// runnable is checked on the owning goroutine right before queued work
// runs, since Close or a failed Initialize may have happened meanwhile.
func (c *hostCore) runnable() error {
	if c.closed.Load() || c.rt == nil {
		if State(c.state.Load()) == StateFailed {
			return c.initErr
		}
		return ErrClosed
	}
	return nil
}

// isOwner reports whether the caller is on the owning goroutine: inside a
// task this host queued, or inside any task of an executor that can tell.
func (c *hostCore) isOwner() bool {
	if c.affinity.IsOwner() {
		return true
	}
	if !c.ready.Load() {
		return false
	}
	if cur, ok := c.exec.(executor.Current); ok {
		return cur.IsCurrent()
	}
	return false
}

func dispatch[T any](c *hostCore, work func(rt core.JSRuntime) (T, error)) (T, error) {
	var zero T
	if err := c.accepting(); err != nil {
		return zero, err
	}

	if c.isOwner() {
		if err := c.runnable(); err != nil {
			return zero, err
		}
		return callWork(c.rt, work)
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	err := c.exec.Execute(func() {
		exit := c.affinity.Enter()
		defer exit()
		if err := c.runnable(); err != nil {
			done <- result{err: err}
			return
		}
		rt := c.rt
		v, err := callWork(rt, work)
		c.pumpMicrotasks(rt)
		done <- result{v: v, err: err}
	})
	if err != nil {
		return zero, ErrClosed
	}
	r := <-done
	return r.v, r.err
}

func callWork[T any](rt core.JSRuntime, work func(rt core.JSRuntime) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return work(rt)
}
