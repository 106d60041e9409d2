package repository

import (
	"context"
	"time"

	"hotspot-control-plane/backend/internal/session/domain"
)

// Repository defines persistence for imported sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// FindActiveByExternalID returns the active session with the router id, or nil if none.
	FindActiveByExternalID(ctx context.Context, externalID string) (*domain.Session, error)
	// Save inserts or updates the session by ID. Returns domain.ErrActiveConflict when another
	// active row holds the same external id.
	Save(ctx context.Context, s *domain.Session) error
	// CloseActiveNotIn marks every active session whose external id is not in liveIDs as
	// disconnected at at, in one statement. Returns the number of sessions closed.
	CloseActiveNotIn(ctx context.Context, liveIDs []string, at time.Time) (int, error)
	ListActive(ctx context.Context) ([]*domain.Session, error)
	// ListByAccount returns the account's sessions, newest first. A limit <= 0 means no limit.
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.Session, error)
}
