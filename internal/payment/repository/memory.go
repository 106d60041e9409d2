package repository

import (
	"context"
	"sort"
	"sync"

	"hotspot-control-plane/backend/internal/payment/domain"
)

// MemoryRepository keeps payments in process memory. Used when DATABASE_URL is empty and in tests.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.Payment
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]*domain.Payment{}}
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryRepository) GetByTransactionID(_ context.Context, transactionID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.TransactionID != "" && p.TransactionID == transactionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) Save(_ context.Context, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.TransactionID != "" {
		for id, other := range m.byID {
			if id != p.ID && other.TransactionID == p.TransactionID {
				return domain.ErrTransactionTaken
			}
		}
	}
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *MemoryRepository) ListRetryable(_ context.Context, limit int) ([]*domain.Payment, error) {
	m.mu.Lock()
	var out []*domain.Payment
	for _, p := range m.byID {
		if p.NeedsManualProvisioning && !p.ManualOnly {
			cp := *p
			out = append(out, &cp)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
