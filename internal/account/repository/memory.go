package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"hotspot-control-plane/backend/internal/account/domain"
)

// MemoryRepository keeps accounts in process memory. Used when DATABASE_URL is empty and in tests.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.Account
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]*domain.Account{}}
}

func clone(a *domain.Account) *domain.Account {
	cp := *a
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return clone(a), nil
}

func (m *MemoryRepository) GetByIdentity(_ context.Context, identity string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Identity == identity {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) Create(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Identity == a.Identity {
			return domain.ErrIdentityTaken
		}
	}
	m.byID[a.ID] = clone(a)
	return nil
}

func (m *MemoryRepository) Save(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[a.ID]; !ok {
		return domain.ErrAccountNotFound
	}
	m.byID[a.ID] = clone(a)
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *MemoryRepository) ListPastDue(_ context.Context, now time.Time) ([]*domain.Account, error) {
	return m.filter(func(a *domain.Account) bool { return a.PastDue(now) }), nil
}

func (m *MemoryRepository) ListDeviceSyncPending(_ context.Context, limit int) ([]*domain.Account, error) {
	pending := m.filter(func(a *domain.Account) bool { return a.DeviceSyncPending })
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].UpdatedAt.Before(pending[j].UpdatedAt) })
	if limit > 0 && limit < len(pending) {
		pending = pending[:limit]
	}
	return pending, nil
}

func (m *MemoryRepository) List(_ context.Context, limit, offset int32) ([]*domain.Account, error) {
	all := m.filter(func(*domain.Account) bool { return true })
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if int(offset) >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && int(limit) < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryRepository) filter(keep func(*domain.Account) bool) []*domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Account
	for _, a := range m.byID {
		if keep(a) {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
