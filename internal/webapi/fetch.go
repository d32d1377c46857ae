package webapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/net/publicsuffix"

	"github.com/cryguy/jshost/internal/core"
)

// fetchJS defines the global fetch() function and resolve/reject handlers.
const fetchJS = `
(function() {
globalThis.__fetchPromises = {};

function Response(status, statusText, headers, bodyHex, url, redirected) {
	this.status = status;
	this.statusText = statusText;
	this.ok = status >= 200 && status < 300;
	this.headers = headers;
	this.url = url;
	this.redirected = redirected;
	this._bodyHex = bodyHex;
	this.bodyUsed = false;
}
Response.prototype._consume = function() {
	if (this.bodyUsed) return Promise.reject(new TypeError('body already used'));
	this.bodyUsed = true;
	return Promise.resolve(this._bodyHex);
};
Response.prototype.text = function() { return this._consume().then(__hexToUTF8); };
Response.prototype.json = function() { return this.text().then(JSON.parse); };
Response.prototype.arrayBuffer = function() {
	return this._consume().then(function(h) { return __hexToBytes(h).buffer; });
};

globalThis.fetch = function(input, init) {
	init = init || {};
	var url = typeof input === 'string' ? input : String(input && input.url || input);
	var method = String(init.method || 'GET').toUpperCase();
	var headers = {};
	if (init.headers) {
		for (var k in init.headers) {
			if (Object.prototype.hasOwnProperty.call(init.headers, k)) headers[k] = String(init.headers[k]);
		}
	}
	var bodyHex = init.body == null ? '' : __bytesToHex(__toBytes(init.body));
	return new Promise(function(resolve, reject) {
		var id;
		try {
			id = __fetchStart(method, url, JSON.stringify(headers), bodyHex);
		} catch (e) {
			reject(e);
			return;
		}
		globalThis.__fetchPromises[id] = { resolve: resolve, reject: reject };
	});
};

globalThis.__fetchResolve = function(id, status, statusText, headersJSON, bodyHex, url, redirected) {
	var p = globalThis.__fetchPromises[id];
	if (!p) return;
	delete globalThis.__fetchPromises[id];
	p.resolve(new Response(status, statusText, JSON.parse(headersJSON), bodyHex, url, redirected));
};

globalThis.__fetchReject = function(id, message) {
	var p = globalThis.__fetchPromises[id];
	if (!p) return;
	delete globalThis.__fetchPromises[id];
	p.reject(new TypeError('fetch failed: ' + message));
};
})();
`

// fetchResult holds the outcome of an in-flight HTTP fetch, serialized on
// the fetch goroutine so the owning goroutine only passes strings to JS.
type fetchResult struct {
	Status      int
	StatusText  string
	HeadersJSON string
	BodyHex     string
	FinalURL    string
	Redirected  bool
	Err         error
}

// Fetch is the network bridge. Each request gets a ULID that stays in
// Registry.Requests until its completion has been delivered (or dropped).
type Fetch struct {
	host             core.Host
	client           *http.Client
	timeout          time.Duration
	maxResponseBytes int
	maxInflight      int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewFetch creates the fetch subsystem. A nil client gets a default client
// with a public-suffix aware cookie jar.
func NewFetch(h core.Host, client *http.Client) (*Fetch, error) {
	cfg := h.Config()
	if client == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		client = &http.Client{Jar: jar}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Fetch{
		host:             h,
		client:           client,
		timeout:          time.Duration(cfg.FetchTimeoutSec) * time.Second,
		maxResponseBytes: cfg.MaxResponseBytes,
		maxInflight:      cfg.MaxFetchRequests,
		ctx:              ctx,
		cancel:           cancel,
	}, nil
}

// Setup registers the fetch bridge.
func (f *Fetch) Setup(rt core.JSRuntime) error {
	if err := rt.RegisterFunc("__fetchStart", f.start); err != nil {
		return fmt.Errorf("registering __fetchStart: %w", err)
	}
	return rt.Eval(fetchJS)
}

func (f *Fetch) start(method, url, headersJSON, bodyHex string) (string, error) {
	var headers map[string]string
	if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
		return "", fmt.Errorf("fetch: invalid headers")
	}
	body, err := hex.DecodeString(bodyHex)
	if err != nil {
		return "", fmt.Errorf("fetch: invalid body")
	}

	ctx := f.ctx
	var cancel context.CancelFunc = func() {}
	if f.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
	}
	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		cancel()
		return "", fmt.Errorf("fetch: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	reqs := f.host.Registry().Requests
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		cancel()
		return "", errSubsystemClosed
	}
	if f.maxInflight > 0 && reqs.Count() >= f.maxInflight {
		f.mu.Unlock()
		cancel()
		return "", fmt.Errorf("fetch: too many in-flight requests (max %d)", f.maxInflight)
	}
	id := ulid.Make().String()
	reqs.Add(id)
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		defer cancel()
		res := f.do(req)
		f.host.DispatchCompletion(func(rt core.JSRuntime) error {
			if res.Err != nil {
				return rt.Eval(jsCall("__fetchReject", id, res.Err.Error()))
			}
			return rt.Eval(jsCall("__fetchResolve", id, res.Status, res.StatusText,
				res.HeadersJSON, res.BodyHex, res.FinalURL, res.Redirected))
		}, func() {
			reqs.Remove(id)
		})
	}()
	return id, nil
}

// do performs the request on the fetch goroutine.
func (f *Fetch) do(req *http.Request) fetchResult {
	resp, err := f.client.Do(req)
	if err != nil {
		return fetchResult{Err: err}
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if f.maxResponseBytes > 0 {
		r = io.LimitReader(resp.Body, int64(f.maxResponseBytes)+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return fetchResult{Err: err}
	}
	if f.maxResponseBytes > 0 && len(body) > f.maxResponseBytes {
		return fetchResult{Err: fmt.Errorf("response body exceeds %d bytes", f.maxResponseBytes)}
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	headersJSON, _ := json.Marshal(headers)

	finalURL := req.URL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return fetchResult{
		Status:      resp.StatusCode,
		StatusText:  http.StatusText(resp.StatusCode),
		HeadersJSON: string(headersJSON),
		BodyHex:     hex.EncodeToString(body),
		FinalURL:    finalURL,
		Redirected:  finalURL != req.URL.String(),
	}
}

// Close cancels every in-flight request and waits for their goroutines to
// hand off their completions. It is idempotent.
func (f *Fetch) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.cancel()
	f.wg.Wait()
	return nil
}
