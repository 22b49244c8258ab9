package finance

import (
	"context"
	"sync"
)

// ProfileStore persists per-user profiles. Get returns nil with no error
// when the user has not set a profile up yet; tool execution and prompt
// construction degrade gracefully on nil.
type ProfileStore interface {
	Get(ctx context.Context, userEmail string) (*Profile, error)
	Upsert(ctx context.Context, userEmail string, profile Profile) error
	Delete(ctx context.Context, userEmail string) (bool, error)
}

// MemoryProfileStore is an in-process ProfileStore for local runs and
// tests. Profiles are gone on restart.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemoryProfileStore creates an empty in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: map[string]Profile{}}
}

func (m *MemoryProfileStore) Get(ctx context.Context, userEmail string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.profiles[userEmail]
	if !ok {
		return nil, nil
	}
	return cloneProfile(profile), nil
}

func (m *MemoryProfileStore) Upsert(ctx context.Context, userEmail string, profile Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userEmail] = *cloneProfile(profile)
	return nil
}

func (m *MemoryProfileStore) Delete(ctx context.Context, userEmail string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[userEmail]; !ok {
		return false, nil
	}
	delete(m.profiles, userEmail)
	return true, nil
}

func cloneProfile(p Profile) *Profile {
	clone := p
	clone.Goals = make([]Goal, len(p.Goals))
	copy(clone.Goals, p.Goals)
	return &clone
}
