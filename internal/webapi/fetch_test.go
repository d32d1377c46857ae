package webapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetchDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/redirect" {
			http.Redirect(w, r, "/final", http.StatusFound)
			return
		}
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, err := NewFetch(newStubHost(), nil)
	if err != nil {
		t.Fatalf("NewFetch: %v", err)
	}
	defer f.Close()

	req, _ := http.NewRequest("GET", srv.URL+"/redirect", nil)
	res := f.do(req)
	if res.Err != nil {
		t.Fatalf("do: %v", res.Err)
	}
	if res.Status != http.StatusTeapot || res.StatusText != "I'm a teapot" {
		t.Errorf("status = %d %q", res.Status, res.StatusText)
	}
	if res.BodyHex != "6f6b" {
		t.Errorf("body hex = %q", res.BodyHex)
	}
	if !strings.Contains(res.HeadersJSON, `"x-test":"yes"`) {
		t.Errorf("headers = %s", res.HeadersJSON)
	}
	if !res.Redirected || !strings.HasSuffix(res.FinalURL, "/final") {
		t.Errorf("redirect = %v %s", res.Redirected, res.FinalURL)
	}
}

func TestFetchResponseLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	h := newStubHost()
	h.cfg.MaxResponseBytes = 10
	f, err := NewFetch(h, srv.Client())
	if err != nil {
		t.Fatalf("NewFetch: %v", err)
	}
	defer f.Close()

	req, _ := http.NewRequest("GET", srv.URL, nil)
	if res := f.do(req); res.Err == nil {
		t.Error("expected response size error")
	}
}

func TestFetchTrackedUntilClose(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-r.Context().Done()
	}))
	defer srv.Close()

	h := newStubHost()
	f, err := NewFetch(h, srv.Client())
	if err != nil {
		t.Fatalf("NewFetch: %v", err)
	}

	id, err := f.start("GET", srv.URL, "{}", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !h.reg.Requests.Has(id) {
		t.Fatalf("request %s not tracked", id)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the server")
	}
	if _, err := f.start("GET", srv.URL, "{}", ""); err == nil {
		t.Error("expected in-flight limit error")
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.reg.Requests.Count() != 0 {
		t.Errorf("Requests count = %d after Close", h.reg.Requests.Count())
	}
	if h.completions() != 1 {
		t.Errorf("completions = %d, want 1", h.completions())
	}
	if _, err := f.start("GET", srv.URL, "{}", ""); !errors.Is(err, errSubsystemClosed) {
		t.Errorf("start after close = %v", err)
	}
}

func TestFetchBadInput(t *testing.T) {
	f, err := NewFetch(newStubHost(), nil)
	if err != nil {
		t.Fatalf("NewFetch: %v", err)
	}
	defer f.Close()
	if _, err := f.start("GET", "http://x", "not json", ""); err == nil {
		t.Error("expected header error")
	}
	if _, err := f.start("GET", "http://x", "{}", "zz"); err == nil {
		t.Error("expected body error")
	}
	if _, err := f.start("BAD METHOD", "http://x", "{}", ""); err == nil {
		t.Error("expected request error")
	}
}
