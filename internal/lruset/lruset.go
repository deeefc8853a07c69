// Package lruset provides a bounded, eviction-ordered set of string keys,
// used for the worker's processed_set/in_flight_set and the auditor's
// evaluated-task set: fixed capacity, oldest-first eviction, no TTL beyond
// capacity. Built on hashicorp/golang-lru rather than a hand-rolled ring
// buffer.
package lruset

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Set is a concurrency-safe, fixed-capacity set of string keys with
// least-recently-used eviction.
type Set struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// New creates a Set with the given capacity. Panics if capacity <= 0, same
// as the underlying lru.Cache constructor.
func New(capacity int) *Set {
	c, err := lru.New(capacity)
	if err != nil {
		panic(err)
	}
	return &Set{cache: c}
}

// Contains reports whether key is present.
func (s *Set) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Contains(key)
}

// Add inserts key, evicting the least-recently-used entry if at capacity.
func (s *Set) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(key, struct{}{})
}

// Remove deletes key if present.
func (s *Set) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
}

// CheckAndAdd is the atomic check-and-insert primitive the worker's dedup
// sets rely on: it reports whether key was already present, and if not,
// adds it.
func (s *Set) CheckAndAdd(key string) (alreadyPresent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache.Contains(key) {
		return true
	}
	s.cache.Add(key, struct{}{})
	return false
}

// Len returns the current number of entries.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
