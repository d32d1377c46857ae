package jshost

import (
	"errors"
	"fmt"

	"github.com/cryguy/jshost/internal/core"
)

var (
	// ErrClosed is returned by operations on a host that has been closed.
	ErrClosed = core.ErrClosed

	// ErrNotInitialized is returned by Dispatch before Initialize succeeds.
	ErrNotInitialized = errors.New("jshost: engine is not initialized")

	// ErrInitFailed matches every *InitError via errors.Is.
	ErrInitFailed = errors.New("jshost: initialization failed")

	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("jshost: engine already initialized")

	// ErrWaitOnOwner is returned by WaitIdle called from the owning goroutine.
	ErrWaitOnOwner = errors.New("jshost: WaitIdle called from the owning goroutine")
)

// InitError reports the installation stage that failed during Initialize.
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("jshost: initialization failed at %s: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func (e *InitError) Is(target error) bool { return target == ErrInitFailed }

// PanicError carries a panic raised by work passed to Dispatch.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("jshost: panic in dispatched work: %v", e.Value)
}
