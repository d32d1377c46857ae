package core

import "errors"

// ErrClosed is returned by a blocking dispatch once the host has closed.
var ErrClosed = errors.New("jshost: engine is closed")
