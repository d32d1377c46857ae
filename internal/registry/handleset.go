package registry

import "sync"

// HandleSet tracks the identifiers of one kind of in-flight operation.
// An identifier is added when the operation starts and removed when it
// terminates, whatever the outcome. HandleSet is safe for concurrent use.
type HandleSet[K comparable] struct {
	mu    sync.Mutex
	items map[K]struct{}
}

// NewHandleSet returns an empty set.
func NewHandleSet[K comparable]() *HandleSet[K] {
	return &HandleSet[K]{items: make(map[K]struct{})}
}

// Add inserts id and reports whether it was not already present.
func (s *HandleSet[K]) Add(id K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return false
	}
	s.items[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether it was present. Exactly one of
// several concurrent Remove calls for the same id returns true.
func (s *HandleSet[K]) Remove(id K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

// Has reports whether id is present.
func (s *HandleSet[K]) Has(id K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	return ok
}

// Count returns the number of tracked identifiers.
func (s *HandleSet[K]) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// IsEmpty reports whether nothing is tracked.
func (s *HandleSet[K]) IsEmpty() bool {
	return s.Count() == 0
}

// Snapshot returns the tracked identifiers in no particular order.
func (s *HandleSet[K]) Snapshot() []K {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]K, 0, len(s.items))
	for id := range s.items {
		out = append(out, id)
	}
	return out
}

// Clear removes every identifier and returns how many were dropped.
func (s *HandleSet[K]) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	s.items = make(map[K]struct{})
	return n
}
