// Package keyed provides per-key mutual exclusion.
//
// All operations against one key execute one at a time while distinct keys
// run fully in parallel. Entries are reference counted so idle keys do not
// accumulate in memory.
package keyed

import "sync"

// Mutex serializes callers per key.
type Mutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewMutex creates an empty keyed mutex.
func NewMutex() *Mutex {
	return &Mutex{locks: make(map[string]*entry)}
}

// Lock acquires the lock for key and returns the matching unlock function.
func (m *Mutex) Lock(key string) func() {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}
