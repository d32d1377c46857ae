package registry

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandleSet_AddRemove(t *testing.T) {
	s := NewHandleSet[string]()
	if !s.IsEmpty() {
		t.Fatal("new set should be empty")
	}
	if !s.Add("a") {
		t.Error("first Add should report true")
	}
	if s.Add("a") {
		t.Error("duplicate Add should report false")
	}
	if !s.Has("a") || s.Count() != 1 {
		t.Errorf("Has/Count = %v/%d, want true/1", s.Has("a"), s.Count())
	}
	if !s.Remove("a") {
		t.Error("Remove of present id should report true")
	}
	if s.Remove("a") {
		t.Error("second Remove should report false")
	}
	if !s.IsEmpty() {
		t.Error("set should be empty after remove")
	}
}

func TestHandleSet_ConcurrentRemoveWinsOnce(t *testing.T) {
	s := NewHandleSet[int]()
	s.Add(7)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Remove(7) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestHandleSet_ClearAndSnapshot(t *testing.T) {
	s := NewHandleSet[string]()
	for i := 0; i < 5; i++ {
		s.Add(fmt.Sprintf("id-%d", i))
	}
	if got := len(s.Snapshot()); got != 5 {
		t.Errorf("snapshot len = %d, want 5", got)
	}
	if n := s.Clear(); n != 5 {
		t.Errorf("Clear = %d, want 5", n)
	}
	if !s.IsEmpty() {
		t.Error("set should be empty after Clear")
	}
}

func TestRegistry_RegisterUnregisterRequests(t *testing.T) {
	r := New()
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			r.Requests.Add(id)
			r.Requests.Remove(id)
		}(i)
	}
	wg.Wait()

	if r.Requests.Count() != 0 {
		t.Errorf("request count = %d, want 0", r.Requests.Count())
	}
	if r.HasActiveOperations() {
		t.Error("registry should be idle")
	}
}

func TestRegistry_HasActiveOperationsPerKind(t *testing.T) {
	tests := []struct {
		name string
		add  func(r *Registry)
	}{
		{"timer", func(r *Registry) { r.Timers.Add(1) }},
		{"request", func(r *Registry) { r.Requests.Add("x") }},
		{"file", func(r *Registry) { r.Files.Add("x") }},
		{"socket", func(r *Registry) { r.Sockets.Add("x") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			tt.add(r)
			if !r.HasActiveOperations() {
				t.Error("expected active operations")
			}
			if r.Counts().Total() != 1 {
				t.Errorf("total = %d, want 1", r.Counts().Total())
			}
		})
	}
}

func TestRegistry_NextTimerIDMonotonic(t *testing.T) {
	r := New()
	const n = 1000
	ids := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.NextTimerID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool, n)
	for id := range ids {
		if id < 1 || id > n {
			t.Fatalf("id %d out of range", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if next := r.NextTimerID(); next != n+1 {
		t.Errorf("next id = %d, want %d", next, n+1)
	}
}

func TestRegistry_IsolatedInstances(t *testing.T) {
	a, b := New(), New()
	a.NextTimerID()
	a.NextTimerID()
	if id := b.NextTimerID(); id != 1 {
		t.Errorf("second registry first id = %d, want 1", id)
	}
}

func TestCollector(t *testing.T) {
	r := New()
	r.Requests.Add("a")
	r.Requests.Add("b")
	r.Sockets.Add("s")

	closed := false
	c := NewCollector(r, func() bool { return closed }, nil)

	expected := `
# HELP jshost_closed 1 once the host has been closed.
# TYPE jshost_closed gauge
jshost_closed 0
# HELP jshost_inflight_operations Outstanding asynchronous operations by kind.
# TYPE jshost_inflight_operations gauge
jshost_inflight_operations{kind="file"} 0
jshost_inflight_operations{kind="request"} 2
jshost_inflight_operations{kind="socket"} 1
jshost_inflight_operations{kind="timer"} 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected)); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}

	closed = true
	if n := testutil.CollectAndCount(c, "jshost_closed"); n != 1 {
		t.Errorf("closed metric count = %d, want 1", n)
	}
}
