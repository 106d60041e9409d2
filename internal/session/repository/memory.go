package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"hotspot-control-plane/backend/internal/session/domain"
)

// MemoryRepository keeps sessions in process memory. Used when DATABASE_URL is empty and in tests.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.Session
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]*domain.Session{}}
}

func clone(s *domain.Session) *domain.Session {
	cp := *s
	if s.DisconnectedAt != nil {
		t := *s.DisconnectedAt
		cp.DisconnectedAt = &t
	}
	return &cp
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[id]; ok {
		return clone(s), nil
	}
	return nil, nil
}

func (m *MemoryRepository) FindActiveByExternalID(_ context.Context, externalID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.Active && s.ExternalID == externalID {
			return clone(s), nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) Save(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Active && s.ExternalID != "" {
		for id, other := range m.byID {
			if id != s.ID && other.Active && other.ExternalID == s.ExternalID {
				return domain.ErrActiveConflict
			}
		}
	}
	m.byID[s.ID] = clone(s)
	return nil
}

func (m *MemoryRepository) CloseActiveNotIn(_ context.Context, liveIDs []string, at time.Time) (int, error) {
	live := make(map[string]struct{}, len(liveIDs))
	for _, id := range liveIDs {
		live[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	closed := 0
	for _, s := range m.byID {
		if !s.Active {
			continue
		}
		if _, ok := live[s.ExternalID]; ok && s.ExternalID != "" {
			continue
		}
		t := at
		s.Active = false
		s.DisconnectedAt = &t
		s.UpdatedAt = at
		closed++
	}
	return closed, nil
}

func (m *MemoryRepository) ListActive(context.Context) ([]*domain.Session, error) {
	out := m.filter(func(s *domain.Session) bool { return s.Active })
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out, nil
}

func (m *MemoryRepository) ListByAccount(_ context.Context, accountID string, limit int) ([]*domain.Session, error) {
	out := m.filter(func(s *domain.Session) bool { return s.AccountID == accountID })
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.After(out[j].ConnectedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) filter(keep func(*domain.Session) bool) []*domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, s := range m.byID {
		if keep(s) {
			out = append(out, clone(s))
		}
	}
	return out
}
