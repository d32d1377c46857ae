package webapi

import (
	"fmt"
	"time"

	"github.com/cryguy/jshost/internal/core"
)

// timersJS is the JavaScript polyfill for setTimeout/setInterval/clearTimeout/clearInterval.
// Callbacks live in globalThis.__timerCallbacks; Go only tracks scheduling.
const timersJS = `
(function() {
	globalThis.__timerCallbacks = {};
	function register(fn, delay, args, repeat) {
		var ms = Math.max(0, Math.floor(Number(delay) || 0));
		var id = __timerRegister(ms, repeat);
		if (id === 0) return 0;
		globalThis.__timerCallbacks[id] = { fn: fn, args: args, interval: repeat };
		return id;
	}
	globalThis.setTimeout = function(fn, delay) {
		if (arguments.length === 0 || typeof fn !== 'function') {
			return 0;
		}
		return register(fn, delay, Array.prototype.slice.call(arguments, 2), false);
	};
	globalThis.setInterval = function(fn, interval) {
		if (arguments.length === 0 || typeof fn !== 'function') {
			return 0;
		}
		return register(fn, interval, Array.prototype.slice.call(arguments, 2), true);
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		if (arguments.length === 0 || typeof id !== 'number') {
			return;
		}
		__timerClear(id);
		delete globalThis.__timerCallbacks[id];
	};
})();
`

// timerFireJS invokes a timer callback. One-shot entries are deleted first
// so a callback that calls setTimeout again starts clean.
const timerFireJS = `(function() {
	var entry = globalThis.__timerCallbacks[%d];
	if (!entry) return;
	if (!entry.interval) delete globalThis.__timerCallbacks[%d];
	entry.fn.apply(null, entry.args || []);
})()`

// SetupTimers registers Go-backed setTimeout/setInterval/clearTimeout/clearInterval.
func SetupTimers(rt core.JSRuntime, h core.Host) error {
	if err := rt.RegisterFunc("__timerRegister", func(delayMs int, repeat bool) int {
		// __timerRegister runs on the owning goroutine, so the callback
		// cannot be dispatched before id is assigned.
		var id int
		id = h.ScheduleTimer(func(rt core.JSRuntime) error {
			return rt.Eval(fmt.Sprintf(timerFireJS, id, id))
		}, time.Duration(delayMs)*time.Millisecond, repeat)
		return id
	}); err != nil {
		return fmt.Errorf("registering __timerRegister: %w", err)
	}

	if err := rt.RegisterFunc("__timerClear", func(id int) {
		h.CancelTimer(id)
	}); err != nil {
		return fmt.Errorf("registering __timerClear: %w", err)
	}

	return rt.Eval(timersJS)
}
