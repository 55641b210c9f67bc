package cache

import (
	"sync"
	"time"
)

// memoryEntry represents a cached entry in memory
type memoryEntry struct {
	value     any
	expiresAt time.Time
}

// isExpired checks if the entry has expired
func (e *memoryEntry) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// MemoryStore is a TTL-indexed in-process map. It is owned by exactly one
// component and passed by handle, so it can be swapped for a shared store in
// multi-instance deployments. Used for transient passkey ceremony state,
// which is single-writer-per-key in practice since a ceremony is sequential
// per user.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a TTL store with a background janitor
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	store := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		done:    make(chan struct{}),
	}

	go store.janitor(cleanupInterval)

	return store
}

// Set stores a value until the TTL elapses
func (m *MemoryStore) Set(key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Get returns the value for key, or false when absent or expired
func (m *MemoryStore) Get(key string) (any, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || entry.isExpired() {
		return nil, false
	}
	return entry.value, true
}

// Take returns and removes the value for key in one step. Ceremony state is
// single-use, so callers consume rather than read.
func (m *MemoryStore) Take(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	delete(m.entries, key)

	if entry.isExpired() {
		return nil, false
	}
	return entry.value, true
}

// Delete removes a key
func (m *MemoryStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Len reports the number of live entries, expired ones included until the
// janitor sweeps them
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the janitor goroutine
func (m *MemoryStore) Close() {
	m.once.Do(func() {
		close(m.done)
	})
}

func (m *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) sweep() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}
