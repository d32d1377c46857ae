package webapi

import (
	"fmt"
	"time"

	"github.com/cryguy/jshost/internal/core"
)

const performanceJS = `
(function() {
	var origin = %d;
	globalThis.performance = {
		timeOrigin: origin,
		now: function() { return __perfNow(); },
		toJSON: function() { return { timeOrigin: origin }; }
	};
})();
`

// SetupPerformance installs performance.now() measured from setup time on
// Go's monotonic clock.
func SetupPerformance(rt core.JSRuntime, _ core.Host) error {
	origin := time.Now()
	if err := rt.RegisterFunc("__perfNow", func() float64 {
		return float64(time.Since(origin).Microseconds()) / 1000
	}); err != nil {
		return fmt.Errorf("registering __perfNow: %w", err)
	}
	return rt.Eval(fmt.Sprintf(performanceJS, origin.UnixMilli()))
}
