package jshost

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// finalize runs when a Host is collected. It closes the host on a fresh
// goroutine so a slow runtime release never stalls other cleanups.
func finalize(c *hostCore) {
	if c.closed.Load() {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Log(zapcore.ErrorLevel, "finalizer", "close from finalizer panicked", zap.Any("panic", r))
			}
		}()
		c.log.Log(zapcore.WarnLevel, "finalizer", "host collected without Close")
		if err := c.close(); err != nil {
			c.log.Log(zapcore.WarnLevel, "finalizer", "close from finalizer failed", zap.Error(err))
		}
	}()
}
