package repository

import (
	"context"
	"sort"
	"sync"

	"hotspot-control-plane/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process memory. Used when DATABASE_URL is empty and in tests.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*domain.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.entries {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) ListByResource(_ context.Context, resource, resourceID string, limit, offset int) ([]*domain.AuditLog, error) {
	m.mu.Lock()
	var matched []*domain.AuditLog
	for _, a := range m.entries {
		if a.Resource == resource && a.ResourceID == resourceID {
			cp := *a
			matched = append(matched, &cp)
		}
	}
	m.mu.Unlock()
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryRepository) Create(_ context.Context, a *domain.AuditLog) error {
	cp := *a
	m.mu.Lock()
	m.entries = append(m.entries, &cp)
	m.mu.Unlock()
	return nil
}
