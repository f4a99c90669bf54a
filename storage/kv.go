package storage

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when a key is not present in the store.
var ErrNotFound = errors.New("key not found")

// ErrUnavailable is returned by every operation of a store that has no
// backing medium (for example a process with no writable state directory).
var ErrUnavailable = errors.New("persistent storage unavailable")

// ErrClosed is returned when operations are performed on a closed store.
var ErrClosed = errors.New("store is closed")

// KV is a synchronous key-value store. Writes must be durable by the time
// Set returns.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Available reports whether the store can persist anything at all.
	Available() bool

	// Close releases the store.
	Close() error
}

// Unavailable is a KV with no backing medium.
type Unavailable struct{}

func (Unavailable) Get(string) ([]byte, error) { return nil, ErrUnavailable }
func (Unavailable) Set(string, []byte) error   { return ErrUnavailable }
func (Unavailable) Delete(string) error        { return ErrUnavailable }
func (Unavailable) Available() bool            { return false }
func (Unavailable) Close() error               { return nil }

// MemoryStore keeps values in process memory. It does not survive a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get retrieves a value from memory.
func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of value.
func (m *MemoryStore) Set(key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Available always returns true.
func (m *MemoryStore) Available() bool { return true }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
