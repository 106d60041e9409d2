package repository

import (
	"context"

	"hotspot-control-plane/backend/internal/payment/domain"
)

// Repository defines persistence for payments.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	// GetByTransactionID returns nil, nil when no payment carries the transaction id.
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	// Save inserts or updates the payment by ID. Returns domain.ErrTransactionTaken on a
	// duplicate transaction id.
	Save(ctx context.Context, p *domain.Payment) error
	// ListRetryable returns flagged payments not marked manual-only, least recently attempted
	// first. A limit <= 0 returns all of them.
	ListRetryable(ctx context.Context, limit int) ([]*domain.Payment, error)
}
