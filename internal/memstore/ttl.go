package memstore

import (
	"sync"
	"time"
)

type ttlEntry struct {
	value     string
	expiresAt time.Time
}

// ttlMap is a string map whose entries expire. Expired entries are dropped
// lazily on access and by Sweep.
type ttlMap struct {
	mu      sync.Mutex
	entries map[string]ttlEntry
	now     func() time.Time
}

func newTTLMap(now func() time.Time) *ttlMap {
	if now == nil {
		now = time.Now
	}
	return &ttlMap{entries: make(map[string]ttlEntry), now: now}
}

// get must be called with mu held.
func (m *ttlMap) get(key string) (string, bool) {
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

func (m *ttlMap) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(key)
}

func (m *ttlMap) Set(key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = ttlEntry{value: value, expiresAt: m.now().Add(ttl)}
}

// SetNX stores value only when key is absent or expired.
func (m *ttlMap) SetNX(key, value string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.get(key); ok {
		return false
	}
	m.entries[key] = ttlEntry{value: value, expiresAt: m.now().Add(ttl)}
	return true
}

func (m *ttlMap) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Sweep drops every expired entry and returns how many were removed.
func (m *ttlMap) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

func (m *ttlMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
