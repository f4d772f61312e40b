package identity

import "sync"

// MemoryStore keeps profiles in memory. Data is lost when the process exits.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	closed   bool
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

// Load implements Store.
func (m *MemoryStore) Load(projectID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Profile{}, ErrStoreClosed
	}
	p, ok := m.profiles[projectID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p.Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(projectID string, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.profiles[projectID] = p.Clone()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.profiles, projectID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.profiles = nil
	return nil
}
