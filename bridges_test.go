package jshost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// openBridgeHost opens a host on the default backend and fails the test if
// any async bridge task logged an error. A throw inside a script callback
// only shows up there.
func openBridgeHost(t *testing.T, cfg Config, opts ...Option) *Host {
	t.Helper()
	zl, logs := observedLogger()
	h := openHost(t, cfg, append(opts, WithLogger(zl))...)
	t.Cleanup(func() {
		for _, e := range logs.FilterField(zap.String("tag", "bridge")).All() {
			t.Errorf("bridge %s: %s %v", e.Level, e.Message, e.ContextMap())
		}
	})
	return h
}

func waitIdle(t *testing.T, h *Host) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func evalString(t *testing.T, h *Host, src string) string {
	t.Helper()
	s, err := h.EvalString(src)
	if err != nil {
		t.Fatalf("EvalString(%s): %v", src, err)
	}
	return s
}

func TestFetchCountedWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"greeting":"hello","method":"` + r.Method + `"}`))
	}))
	defer srv.Close()

	h := openBridgeHost(t, testConfig(), WithHTTPClient(srv.Client()))
	err := h.Eval(`
		globalThis.out = null;
		fetch(` + jsString(srv.URL) + `, { method: 'POST', body: 'payload' })
			.then(function(r) { globalThis.status = r.status; return r.json(); })
			.then(function(j) { globalThis.out = j.greeting + ':' + j.method; });
	`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if h.ActiveRequestCount() != 1 || !h.HasActiveNetworkRequests() {
		t.Fatalf("ActiveRequestCount = %d while request is blocked", h.ActiveRequestCount())
	}

	close(release)
	waitIdle(t, h)
	if got := evalString(t, h, "String(out) + ' ' + status"); got != "hello:POST 200" {
		t.Errorf("fetch result = %q", got)
	}
}

func TestFetchRejectsOnNetworkError(t *testing.T) {
	h := openBridgeHost(t, testConfig())
	err := h.Eval(`
		globalThis.failed = '';
		fetch('http://127.0.0.1:1/').catch(function(e) { globalThis.failed = e.message; });
	`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	waitIdle(t, h)
	if got := evalString(t, h, "failed"); !strings.HasPrefix(got, "fetch failed") {
		t.Errorf("rejection = %q", got)
	}
}

func TestCloseCancelsInFlightFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	h := openBridgeHost(t, testConfig(), WithHTTPClient(srv.Client()))
	if err := h.Eval("fetch(" + jsString(srv.URL) + ")"); err != nil {
		t.Fatal(err)
	}
	if h.ActiveRequestCount() != 1 {
		t.Fatalf("ActiveRequestCount = %d", h.ActiveRequestCount())
	}

	done := make(chan error, 1)
	go func() { done <- h.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Close blocked on in-flight fetch")
	}
	if h.ActiveRequestCount() != 0 {
		t.Errorf("ActiveRequestCount = %d after Close", h.ActiveRequestCount())
	}
}

func TestWebSocketEcho(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			typ, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	h := openBridgeHost(t, testConfig())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	err := h.Eval(`
		globalThis.events = [];
		var ws = new WebSocket(` + jsString(wsURL) + `);
		ws.onopen = function() { events.push('open'); ws.send('ping'); };
		ws.onmessage = function(e) {
			events.push('message:' + e.data);
			if (e.data === 'ping') {
				ws.send(new Uint8Array([1, 2, 3]));
			} else {
				events.push('bytes:' + new Uint8Array(e.data).length);
				ws.close(1000, 'bye');
			}
		};
		ws.addEventListener('close', function(e) { events.push('close:' + e.code); });
	`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if h.ActiveSocketCount() != 1 {
		t.Fatalf("ActiveSocketCount = %d after connect", h.ActiveSocketCount())
	}

	waitIdle(t, h)
	got := evalString(t, h, "events.join(',')")
	want := "open,message:ping,message:[object ArrayBuffer],bytes:3,close:1000"
	if got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	h := openBridgeHost(t, testConfig())
	err := h.Eval(`
		globalThis.wsEvents = [];
		var bad = new WebSocket('ws://127.0.0.1:1/');
		bad.onerror = function() { wsEvents.push('error'); };
		bad.onclose = function(e) { wsEvents.push('close:' + e.wasClean); };
	`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	waitIdle(t, h)
	if got := evalString(t, h, "wsEvents.join(',')"); got != "error,close:false" {
		t.Errorf("events = %s", got)
	}
}

func TestFileSystemBridge(t *testing.T) {
	cfg := testConfig()
	cfg.FSRoot = t.TempDir()
	h := openBridgeHost(t, cfg)

	err := h.Eval(`
		globalThis.fsOut = null;
		fs.writeFile('note.txt', 'written from script')
			.then(function() { return fs.readFile('note.txt', 'utf8'); })
			.then(function(s) { globalThis.fsOut = s; });
	`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	waitIdle(t, h)
	if got := evalString(t, h, "fsOut"); got != "written from script" {
		t.Errorf("readFile = %q", got)
	}
	data, err := os.ReadFile(filepath.Join(cfg.FSRoot, "note.txt"))
	if err != nil || string(data) != "written from script" {
		t.Errorf("file on disk = %q, %v", data, err)
	}

	if err := h.Eval("globalThis.fd = fs.open('note.txt', 'r')"); err != nil {
		t.Fatalf("fs.open: %v", err)
	}
	if h.ActiveFileCount() != 1 {
		t.Errorf("ActiveFileCount = %d with one open file", h.ActiveFileCount())
	}
	if got := evalString(t, h, "String(fs.read(fd, 7).length)"); got != "7" {
		t.Errorf("fs.read length = %s", got)
	}
	if err := h.Eval("fs.close(fd)"); err != nil {
		t.Fatalf("fs.close: %v", err)
	}
	if h.ActiveFileCount() != 0 {
		t.Errorf("ActiveFileCount = %d after close", h.ActiveFileCount())
	}

	if err := h.Eval("fs.open('../outside.txt', 'w')"); err == nil {
		t.Error("fs.open escaped the root")
	}
}

func TestFileSystemDisabledWithoutRoot(t *testing.T) {
	h := openBridgeHost(t, testConfig())
	if got := evalString(t, h, "typeof fs"); got != "undefined" {
		t.Errorf("typeof fs = %s", got)
	}
}

func TestLocalStorage(t *testing.T) {
	cfg := testConfig()
	cfg.StoragePath = filepath.Join(t.TempDir(), "storage.db")
	h := openBridgeHost(t, cfg)

	if err := h.Eval("localStorage.setItem('a', 1); localStorage.setItem('b', 'two')"); err != nil {
		t.Fatalf("setItem: %v", err)
	}
	tests := []struct {
		src  string
		want string
	}{
		{"localStorage.getItem('a')", "1"},
		{"String(localStorage.getItem('missing'))", "null"},
		{"String(localStorage.length)", "2"},
		{"localStorage.key(1)", "b"},
		{"String(localStorage.key(9))", "null"},
	}
	for _, tt := range tests {
		if got := evalString(t, h, tt.src); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.src, got, tt.want)
		}
	}
	if err := h.Eval("localStorage.removeItem('a'); localStorage.clear()"); err != nil {
		t.Fatal(err)
	}
	if got := evalString(t, h, "String(localStorage.length)"); got != "0" {
		t.Errorf("length after clear = %s", got)
	}
}

func TestCryptoAndCompressionBridges(t *testing.T) {
	h := openBridgeHost(t, testConfig())

	if got := evalString(t, h, "String(crypto.getRandomValues(new Uint8Array(16)).length)"); got != "16" {
		t.Errorf("getRandomValues length = %s", got)
	}
	uuid := evalString(t, h, "crypto.randomUUID()")
	if len(uuid) != 36 || uuid[14] != '4' {
		t.Errorf("randomUUID = %q", uuid)
	}

	err := h.Eval(`
		globalThis.digest = '';
		crypto.subtle.digest('SHA-256', 'abc').then(function(buf) {
			globalThis.digest = __bytesToHex(new Uint8Array(buf));
		});
	`)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := evalString(t, h, "digest"); got != want {
		t.Errorf("SHA-256 = %s", got)
	}

	for _, format := range []string{"gzip", "deflate", "deflate-raw", "br"} {
		src := `(function() {
			var packed = compression.compress('` + format + `', 'squeeze me squeeze me');
			return __hexToUTF8(__bytesToHex(compression.decompress('` + format + `', packed)));
		})()`
		if got := evalString(t, h, src); got != "squeeze me squeeze me" {
			t.Errorf("%s round trip = %q", format, got)
		}
	}
}

func TestPlatformAndPerformance(t *testing.T) {
	h := openBridgeHost(t, testConfig())
	if got := evalString(t, h, "typeof navigator.hardwareConcurrency"); got != "number" {
		t.Errorf("navigator.hardwareConcurrency type = %s", got)
	}
	if got := evalString(t, h, "String(performance.now() >= 0 && performance.timeOrigin > 0)"); got != "true" {
		t.Errorf("performance = %s", got)
	}
}

// jsString quotes s as a JS string literal.
func jsString(s string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", `\'`) + "'"
}
