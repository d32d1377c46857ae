package webapi

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/cryguy/jshost/internal/core"
)

// platformJS exposes host facts and the hex helpers every other bridge
// uses to move bytes across the Go/JS boundary.
const platformJS = `
(function() {
	var info = JSON.parse(%s);
	globalThis.__platform = info;
	globalThis.navigator = {
		userAgent: 'jshost (' + info.os + '; ' + info.arch + ')',
		platform: info.os,
		hardwareConcurrency: info.numCPU
	};
	globalThis.__bytesToHex = function(u8) {
		var out = '';
		for (var i = 0; i < u8.length; i++) {
			var h = u8[i].toString(16);
			out += h.length === 1 ? '0' + h : h;
		}
		return out;
	};
	globalThis.__hexToBytes = function(h) {
		var out = new Uint8Array(h.length / 2);
		for (var i = 0; i < out.length; i++) {
			out[i] = parseInt(h.substr(i * 2, 2), 16);
		}
		return out;
	};
	globalThis.__toBytes = function(data) {
		if (data == null) return new Uint8Array(0);
		if (data instanceof Uint8Array) return data;
		if (data instanceof ArrayBuffer) return new Uint8Array(data);
		if (ArrayBuffer.isView(data)) return new Uint8Array(data.buffer, data.byteOffset, data.byteLength);
		return __hexToBytes(__utf8ToHex(String(data)));
	};
})();
`

// SetupPlatform installs navigator, __platform and the byte helpers.
func SetupPlatform(rt core.JSRuntime, _ core.Host) error {
	info, err := json.Marshal(map[string]any{
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
		"numCPU":    runtime.NumCPU(),
		"goVersion": runtime.Version(),
	})
	if err != nil {
		return err
	}

	// UTF-8 conversions go through Go since QuickJS has no TextEncoder.
	if err := rt.RegisterFunc("__utf8ToHex", func(s string) string {
		return hex.EncodeToString([]byte(s))
	}); err != nil {
		return fmt.Errorf("registering __utf8ToHex: %w", err)
	}
	if err := rt.RegisterFunc("__hexToUTF8", func(h string) (string, error) {
		b, err := hex.DecodeString(h)
		if err != nil {
			return "", fmt.Errorf("invalid hex: %w", err)
		}
		return string(b), nil
	}); err != nil {
		return fmt.Errorf("registering __hexToUTF8: %w", err)
	}

	quoted, _ := json.Marshal(string(info))
	return rt.Eval(fmt.Sprintf(platformJS, quoted))
}
