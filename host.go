// Package jshost embeds a single-threaded JavaScript runtime in a Go
// program. The runtime is only ever touched by one owning goroutine;
// native subsystems running elsewhere reach it through Dispatch and
// DispatchAsync. The host tracks outstanding asynchronous work so callers
// can decide when a script has gone idle, and tears everything down in a
// fixed order on Close.
package jshost

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cryguy/jshost/internal/core"
	"github.com/cryguy/jshost/internal/eventloop"
	"github.com/cryguy/jshost/internal/executor"
	"github.com/cryguy/jshost/internal/registry"
)

// idlePollInterval is how often WaitIdle re-checks the registry.
const idlePollInterval = 10 * time.Millisecond

// Host owns one script runtime. Create it with New or Open; the zero value
// is not usable.
//
// A Host that becomes unreachable without Close is closed by a cleanup
// registered in New. Everything the cleanup touches lives in hostCore,
// which never points back at the Host.
type Host struct {
	core *hostCore
}

// hostCore is the state shared by the Host wrapper, the executor tasks,
// the timers and the bridges.
type hostCore struct {
	cfg        Config
	log        core.Logger
	zlog       *zap.Logger
	factory    core.RuntimeFactory
	httpClient *http.Client

	exec     Executor
	ownExec  *executor.Serial // non-nil when the host created exec
	affinity executor.Affinity

	state       atomic.Int32
	closed      atomic.Bool
	initStarted atomic.Bool
	ready       atomic.Bool // exec is set and accepts work

	reg    *registry.Registry
	timers *eventloop.Timers

	// Owned by the owning goroutine.
	rt         core.JSRuntime
	subsystems []subsystem
	installed  []string
	initErr    error
}

// New creates an uninitialized Host. No goroutine is started until
// Initialize.
func New(cfg Config, opts ...Option) *Host {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg = withDefaults(cfg)

	zl := o.logger
	if zl == nil {
		zl = newLogger(cfg.LogLevel)
	}
	factory := o.factory
	if factory == nil {
		factory = defaultRuntimeFactory()
	}

	c := &hostCore{
		cfg:        cfg,
		log:        core.NewZapLogger(zl),
		zlog:       zl,
		factory:    factory,
		httpClient: o.client,
		exec:       o.exec,
		reg:        registry.New(),
	}
	c.timers = eventloop.New(c.reg, c.Dispatch, c.log,
		time.Duration(cfg.MinTimerIntervalMs)*time.Millisecond)

	h := &Host{core: c}
	runtime.AddCleanup(h, finalize, c)
	return h
}

// Open creates a Host and initializes it.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Host, error) {
	h := New(cfg, opts...)
	if err := h.Initialize(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Initialize builds the runtime and installs the bridges on the owning
// goroutine. ctx is checked between installation stages. On failure the
// partially built state is released, the host enters StateFailed and the
// returned error is an *InitError.
func (h *Host) Initialize(ctx context.Context) error {
	defer runtime.KeepAlive(h)
	return h.core.initialize(ctx)
}

func (c *hostCore) initialize(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.initStarted.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}

	if c.exec == nil {
		c.ownExec = executor.New(executor.WithPanicHandler(func(v any, stack []byte) {
			c.log.Log(zapcore.ErrorLevel, "executor", "task panicked",
				zap.Any("panic", v), zap.ByteString("stack", stack))
		}))
		c.exec = c.ownExec
	}
	c.ready.Store(true)

	done := make(chan error, 1)
	err := c.exec.Execute(func() {
		exit := c.affinity.Enter()
		defer exit()
		done <- c.install(ctx)
	})
	if err != nil {
		c.fail(&InitError{Stage: "executor", Err: err})
		return c.initErr
	}
	return <-done
}

// install runs every stage on the owning goroutine.
func (c *hostCore) install(ctx context.Context) (err error) {
	stage := "runtime"
	defer func() {
		if r := recover(); r != nil {
			err = &InitError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			c.fail(err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return &InitError{Stage: stage, Err: err}
	}
	rt, err := c.factory(c.cfg)
	if err != nil {
		return &InitError{Stage: stage, Err: err}
	}
	c.rt = rt

	for _, step := range installSteps {
		stage = step.name
		if err := ctx.Err(); err != nil {
			return &InitError{Stage: stage, Err: err}
		}
		if err := step.fn(c, rt); err != nil {
			return &InitError{Stage: stage, Err: err}
		}
		c.installed = append(c.installed, step.name)
	}

	// Close may have run while we were installing.
	if !c.state.CompareAndSwap(int32(StateUninitialized), int32(StateRunning)) {
		return &InitError{Stage: "start", Err: ErrClosed}
	}
	c.log.Log(zapcore.DebugLevel, "init", "host initialized", zap.Strings("bridges", c.installed))
	return nil
}

// fail releases whatever install built and moves the host to StateFailed,
// unless Close got there first. Close on a failed host is a no-op.
func (c *hostCore) fail(err error) {
	c.initErr = err
	c.closed.Store(true)
	c.state.CompareAndSwap(int32(StateUninitialized), int32(StateFailed))
	c.log.Log(zapcore.ErrorLevel, "init", "initialization failed", zap.Error(err))

	c.timers.CancelAll()
	for _, s := range c.subsystems {
		if cerr := s.Close(); cerr != nil {
			c.log.Log(zapcore.WarnLevel, "init", "closing subsystem after failed init",
				zap.String("subsystem", s.name), zap.Error(cerr))
		}
	}
	if c.rt != nil {
		if cerr := c.rt.Close(); cerr != nil {
			c.log.Log(zapcore.WarnLevel, "init", "releasing runtime after failed init", zap.Error(cerr))
		}
		c.rt = nil
	}
	if c.ownExec != nil {
		c.ownExec.Shutdown()
	}
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	return State(h.core.state.Load())
}

// Close tears the host down. Only the first call does any work; later and
// concurrent calls return nil at once. Each step runs even if an earlier
// one failed, and the step errors are combined in the return value.
//
// Called from the owning goroutine, Close queues the runtime release
// behind the current task and returns without waiting for it.
func (h *Host) Close() error {
	return h.core.close()
}

func (c *hostCore) close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	prev := State(c.state.Swap(int32(StateClosed)))
	if prev != StateRunning {
		return nil
	}
	c.log.Log(zapcore.DebugLevel, "close", "closing host")

	var errs error
	step := func(name string, fn func() error) {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("%s: panic: %v", name, r)
				c.log.Log(zapcore.ErrorLevel, "close", "close step panicked", zap.String("step", name), zap.Any("panic", r))
				errs = multierr.Append(errs, err)
			}
		}()
		if err := fn(); err != nil {
			c.log.Log(zapcore.WarnLevel, "close", "close step failed", zap.String("step", name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("timers", func() error {
		c.timers.CancelAll()
		return nil
	})
	for _, s := range c.subsystems {
		step(s.name, s.Close)
	}
	step("runtime", c.releaseRuntime)
	if c.ownExec != nil {
		c.ownExec.Shutdown()
	}
	_ = c.zlog.Sync()
	return errs
}

// releaseRuntime frees the runtime on the owning goroutine. Off the owner
// it waits up to ShutdownTimeoutMs.
func (c *hostCore) releaseRuntime() error {
	release := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		if c.rt == nil {
			return nil
		}
		rt := c.rt
		c.rt = nil
		rt.RunGC()
		return rt.Close()
	}

	if c.isOwner() {
		err := c.exec.Execute(func() {
			exit := c.affinity.Enter()
			defer exit()
			if err := release(); err != nil {
				c.log.Log(zapcore.WarnLevel, "close", "releasing runtime", zap.Error(err))
			}
		})
		if err != nil {
			c.log.Log(zapcore.WarnLevel, "close", "executor rejected runtime release", zap.Error(err))
		}
		return nil
	}

	done := make(chan error, 1)
	if err := c.exec.Execute(func() {
		exit := c.affinity.Enter()
		defer exit()
		done <- release()
	}); err != nil {
		c.log.Log(zapcore.WarnLevel, "close", "executor rejected runtime release", zap.Error(err))
		return nil
	}

	timeout := time.Duration(c.cfg.ShutdownTimeoutMs) * time.Millisecond
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("runtime release timed out after %s", timeout)
	}
}

// HasActiveOperations reports whether any timer, request, file or socket
// is outstanding.
func (h *Host) HasActiveOperations() bool { return h.core.reg.HasActiveOperations() }

// ActiveTimerCount returns the number of armed timers.
func (h *Host) ActiveTimerCount() int { return h.core.reg.Timers.Count() }

// ActiveRequestCount returns the number of in-flight network requests.
func (h *Host) ActiveRequestCount() int { return h.core.reg.Requests.Count() }

// HasActiveNetworkRequests reports whether any network request is in flight.
func (h *Host) HasActiveNetworkRequests() bool { return !h.core.reg.Requests.IsEmpty() }

// ActiveFileCount returns the number of open files and pending file operations.
func (h *Host) ActiveFileCount() int { return h.core.reg.Files.Count() }

// ActiveSocketCount returns the number of open sockets.
func (h *Host) ActiveSocketCount() int { return h.core.reg.Sockets.Count() }

// RegisterRequest marks a caller-managed request as in flight.
func (h *Host) RegisterRequest(id string) bool { return h.core.reg.Requests.Add(id) }

// UnregisterRequest removes a request added with RegisterRequest.
func (h *Host) UnregisterRequest(id string) bool { return h.core.reg.Requests.Remove(id) }

// RegisterFile marks a caller-managed file operation as in flight.
func (h *Host) RegisterFile(id string) bool { return h.core.reg.Files.Add(id) }

// UnregisterFile removes a file added with RegisterFile.
func (h *Host) UnregisterFile(id string) bool { return h.core.reg.Files.Remove(id) }

// RegisterSocket marks a caller-managed socket as open.
func (h *Host) RegisterSocket(id string) bool { return h.core.reg.Sockets.Add(id) }

// UnregisterSocket removes a socket added with RegisterSocket.
func (h *Host) UnregisterSocket(id string) bool { return h.core.reg.Sockets.Remove(id) }

// Registry exposes the host's in-flight operation sets.
func (h *Host) Registry() *registry.Registry { return h.core.reg }

// ScheduleTimer arms a timer whose callback runs on the owning goroutine.
// It returns 0 once the host is closing.
func (h *Host) ScheduleTimer(cb func(rt Runtime) error, delay time.Duration, repeating bool) int {
	return h.core.ScheduleTimer(cb, delay, repeating)
}

// CancelTimer disarms a timer. Unknown or fired ids are ignored.
func (h *Host) CancelTimer(id int) { h.core.CancelTimer(id) }

// WaitIdle blocks until no operation is outstanding, ctx is done or the
// host closes. It returns ErrWaitOnOwner when called from the owning
// goroutine, which has to be free to run the completions being waited for.
func (h *Host) WaitIdle(ctx context.Context) error {
	defer runtime.KeepAlive(h)
	c := h.core
	if c.isOwner() {
		return ErrWaitOnOwner
	}
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if c.closed.Load() {
			return ErrClosed
		}
		if !c.reg.HasActiveOperations() {
			// Let completions that are already queued run, then look again.
			if err := c.Dispatch(func(core.JSRuntime) error { return nil }); err != nil {
				return err
			}
			if !c.reg.HasActiveOperations() {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// core.Host implementation used by the bridges.

func (c *hostCore) ScheduleTimer(cb func(rt core.JSRuntime) error, delay time.Duration, repeating bool) int {
	return c.timers.Schedule(cb, delay, repeating)
}

func (c *hostCore) CancelTimer(id int) { c.timers.Cancel(id) }

func (c *hostCore) Registry() *registry.Registry { return c.reg }

func (c *hostCore) Logger() core.Logger { return c.log }

func (c *hostCore) Config() core.EngineConfig { return c.cfg }

func (c *hostCore) Closed() bool { return c.closed.Load() }

var _ core.Host = (*hostCore)(nil)
