package jshost

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/cryguy/jshost/internal/core"
	"github.com/cryguy/jshost/internal/executor"
)

// Runtime is the script runtime handed to dispatched work. It may only be
// used inside that work.
type Runtime = core.JSRuntime

// RuntimeFactory builds the runtime during Initialize.
type RuntimeFactory = core.RuntimeFactory

// Executor runs tasks one at a time. A caller-supplied executor must be
// serial; the host never shuts it down. If it runs tasks the host did not
// queue (its own work, or another host's), it must also implement
// IsCurrent() bool, otherwise a Dispatch from such a task queues behind
// itself and never returns. SerialExecutor does.
type Executor = executor.Executor

// SerialExecutor is the executor a host creates for itself: one goroutine
// locked to its OS thread.
type SerialExecutor = executor.Serial

// NewSerialExecutor starts a SerialExecutor, for callers that want several
// hosts or other work to share one owning thread.
func NewSerialExecutor() *SerialExecutor {
	return executor.New()
}

// Option configures a Host.
type Option func(*options)

type options struct {
	exec    Executor
	logger  *zap.Logger
	factory RuntimeFactory
	client  *http.Client
}

// WithExecutor runs the host on e instead of a host-owned executor.
func WithExecutor(e Executor) Option {
	return func(o *options) { o.exec = e }
}

// WithLogger sets the logger. The default is a zap production logger at
// Config.LogLevel.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRuntimeFactory replaces the default script backend.
func WithRuntimeFactory(f RuntimeFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithHTTPClient sets the client used by fetch.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}
