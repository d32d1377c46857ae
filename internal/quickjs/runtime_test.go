//go:build !v8

package quickjs

import (
	"errors"
	"strings"
	"testing"

	"github.com/cryguy/jshost/internal/core"
)

func newTestRuntime(t *testing.T) core.JSRuntime {
	t.Helper()
	rt, err := New(core.EngineConfig{MemoryLimitMB: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestRuntime_EvalTypes(t *testing.T) {
	rt := newTestRuntime(t)

	s, err := rt.EvalString(`"a" + "b"`)
	if err != nil || s != "ab" {
		t.Errorf("EvalString = %q, %v; want ab", s, err)
	}
	b, err := rt.EvalBool(`1 < 2`)
	if err != nil || !b {
		t.Errorf("EvalBool = %v, %v; want true", b, err)
	}
	n, err := rt.EvalInt(`40 + 2`)
	if err != nil || n != 42 {
		t.Errorf("EvalInt = %d, %v; want 42", n, err)
	}
}

func TestRuntime_EvalErrorPropagates(t *testing.T) {
	rt := newTestRuntime(t)
	err := rt.Eval(`throw new Error("kaboom")`)
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("Eval error = %v, want kaboom", err)
	}
}

func TestRuntime_RegisterFunc(t *testing.T) {
	rt := newTestRuntime(t)

	if err := rt.RegisterFunc("add", func(a, b int) int { return a + b }); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}
	if err := rt.RegisterFunc("fail", func(s string) (string, error) {
		return "", errors.New("nope " + s)
	}); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}

	n, err := rt.EvalInt(`add(2, 3)`)
	if err != nil || n != 5 {
		t.Errorf("add = %d, %v; want 5", n, err)
	}
	msg, err := rt.EvalString(`(function(){ try { fail("x"); return "no throw"; } catch (e) { return e.message; } })()`)
	if err != nil {
		t.Fatalf("EvalString: %v", err)
	}
	if !strings.Contains(msg, "nope x") {
		t.Errorf("thrown message = %q, want it to contain %q", msg, "nope x")
	}
}

// Bridge functions report side effects as counts; every one of them must
// come back to the script without throwing.
func TestRuntime_RegisterFuncCountResult(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.RegisterFunc("touch", func(s string) (int, error) { return len(s), nil }); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}
	got, err := rt.EvalString(`(function(){ try { return String(touch("abc")); } catch (e) { return "threw: " + e.message; } })()`)
	if err != nil || got != "3" {
		t.Errorf("touch = %q, %v; want 3", got, err)
	}
}

func TestRuntime_SetGlobal(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.SetGlobal("answer", 42); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}
	n, err := rt.EvalInt(`answer`)
	if err != nil || n != 42 {
		t.Errorf("answer = %d, %v; want 42", n, err)
	}
}

func TestRuntime_RunMicrotasks(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.Eval(`globalThis.done = false; Promise.resolve().then(function(){ globalThis.done = true; });`); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	rt.RunMicrotasks()
	done, err := rt.EvalBool(`globalThis.done`)
	if err != nil || !done {
		t.Errorf("promise callback did not run: %v, %v", done, err)
	}
}

func TestRuntime_GCAndDoubleClose(t *testing.T) {
	rt, err := New(core.EngineConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := rt.Eval(`var a = {}; var b = {a: a}; a.b = b; a = b = null;`); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	rt.RunGC()
	if err := rt.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
