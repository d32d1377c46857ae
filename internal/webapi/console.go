package webapi

import (
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/cryguy/jshost/internal/core"
)

// consoleLevels maps console methods to log levels.
var consoleLevels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"log":   zapcore.InfoLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

const consoleJS = `
(function() {
	var levels = ['log', 'info', 'warn', 'error', 'debug'];
	var con = {};
	function fmt(v) {
		if (typeof v === 'string') return v;
		if (v instanceof Error) return v.stack ? v.message + '\n' + v.stack : String(v);
		if (typeof v === 'object' && v !== null) {
			try { return JSON.stringify(v); } catch (e) { return '[object Object]'; }
		}
		return String(v);
	}
	for (var i = 0; i < levels.length; i++) {
		(function(lvl) {
			con[lvl] = function() {
				var parts = [];
				for (var j = 0; j < arguments.length; j++) parts.push(fmt(arguments[j]));
				__console(lvl, parts.join(' '));
			};
		})(levels[i]);
	}
	con.trace = con.debug;
	globalThis.console = con;
})();
`

// SetupConsole routes console.* to the host's logging sink under the
// "console" tag.
func SetupConsole(rt core.JSRuntime, h core.Host) error {
	log := h.Logger()
	if err := rt.RegisterFunc("__console", func(level, message string) {
		lvl, ok := consoleLevels[level]
		if !ok {
			lvl = zapcore.InfoLevel
		}
		log.Log(lvl, "console", message)
	}); err != nil {
		return fmt.Errorf("registering __console: %w", err)
	}
	return rt.Eval(consoleJS)
}
