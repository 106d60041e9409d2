package repository

import (
	"context"

	"hotspot-control-plane/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.AuditLog, error)
	// ListByResource returns entries for one resource, newest first.
	ListByResource(ctx context.Context, resource, resourceID string, limit, offset int) ([]*domain.AuditLog, error)
	Create(ctx context.Context, a *domain.AuditLog) error
}
