package cache

import (
	"sync"
	"time"
)

// Fresh holds one value together with the time it was stored.
// Reads and writes are guarded by a mutex, so a Fresh may be shared
// between a background loop and request handlers.
type Fresh[T any] struct {
	mu       sync.RWMutex
	v        T
	storedAt time.Time
	ok       bool
}

// Get returns the stored value if it is younger than maxAge at now.
func (f *Fresh[T]) Get(now time.Time, maxAge time.Duration) (T, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.ok || now.Sub(f.storedAt) >= maxAge {
		var z T
		return z, false
	}
	return f.v, true
}

// Peek returns the stored value regardless of age.
func (f *Fresh[T]) Peek() (T, time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.v, f.storedAt, f.ok
}

// Store swaps in the new value.
func (f *Fresh[T]) Store(v T, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.v, f.storedAt, f.ok = v, at, true
}

// Update mutates the stored value in place under the write lock.
// It reports false when nothing is stored yet.
func (f *Fresh[T]) Update(fn func(v *T)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ok {
		return false
	}
	fn(&f.v)
	return true
}

// Invalidate keeps the value readable through Peek but makes Get miss.
func (f *Fresh[T]) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storedAt = time.Time{}
}
