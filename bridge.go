package jshost

import (
	"errors"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cryguy/jshost/internal/core"
)

// DispatchAsync queues task for the owning goroutine and returns at once.
// Tasks submitted before Initialize or after Close are dropped. A task
// that fails or panics is logged; nothing is reported to the caller.
func (h *Host) DispatchAsync(task func(rt Runtime) error) {
	h.core.DispatchAsync(task)
}

func (c *hostCore) DispatchAsync(task func(rt core.JSRuntime) error) {
	c.submit(task, nil)
}

func (c *hostCore) DispatchCompletion(task func(rt core.JSRuntime) error, release func()) {
	c.submit(task, release)
}

// submit checks the closed flag before queueing and again when the task
// is about to run, since Close can happen in between. release, if set,
// runs exactly once whether or not the task does.
func (c *hostCore) submit(task func(rt core.JSRuntime) error, release func()) {
	var once sync.Once
	done := func() {
		if release != nil {
			once.Do(release)
		}
	}

	if c.accepting() != nil {
		done()
		return
	}
	err := c.exec.Execute(func() {
		defer done()
		exit := c.affinity.Enter()
		defer exit()
		if c.runnable() != nil {
			return
		}
		c.runTask(c.rt, task)
	})
	if err != nil {
		done()
	}
}

// runTask runs one async task and drains the microtasks it queued.
func (c *hostCore) runTask(rt core.JSRuntime, task func(rt core.JSRuntime) error) {
	_, err := callWork(rt, func(rt core.JSRuntime) (struct{}, error) {
		return struct{}{}, task(rt)
	})
	var pe *PanicError
	switch {
	case errors.As(err, &pe):
		c.log.Log(zapcore.ErrorLevel, "bridge", "async task panicked",
			zap.Any("panic", pe.Value), zap.ByteString("stack", pe.Stack))
	case err != nil:
		c.log.Log(zapcore.WarnLevel, "bridge", "async task failed", zap.Error(err))
	}
	c.pumpMicrotasks(rt)
}

func (c *hostCore) pumpMicrotasks(rt core.JSRuntime) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Log(zapcore.ErrorLevel, "bridge", "microtask pump panicked", zap.Any("panic", r))
		}
	}()
	rt.RunMicrotasks()
}
