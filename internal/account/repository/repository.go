package repository

import (
	"context"
	"time"

	"hotspot-control-plane/backend/internal/account/domain"
)

// Repository defines persistence for accounts.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByIdentity(ctx context.Context, identity string) (*domain.Account, error)
	// Create inserts a new account; domain.ErrIdentityTaken when the identity is in use.
	Create(ctx context.Context, a *domain.Account) error
	// Save updates an existing account.
	Save(ctx context.Context, a *domain.Account) error
	Delete(ctx context.Context, id string) error
	// ListPastDue returns active, unexpired accounts whose expiry is before now. Unlimited accounts never match.
	ListPastDue(ctx context.Context, now time.Time) ([]*domain.Account, error)
	// ListDeviceSyncPending returns accounts whose router disable is unconfirmed, oldest first.
	// A limit <= 0 returns all of them.
	ListDeviceSyncPending(ctx context.Context, limit int) ([]*domain.Account, error)
	List(ctx context.Context, limit, offset int32) ([]*domain.Account, error)
}
