package repository

import (
	"context"
	"database/sql"
	"errors"

	"hotspot-control-plane/backend/internal/audit/domain"
	"hotspot-control-plane/backend/internal/db"
)

const auditColumns = `id, actor_id, action, resource, resource_id, metadata, created_at`

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the audit log for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	a, err := scanAuditLog(r.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *PostgresRepository) ListByResource(ctx context.Context, resource, resourceID string, limit, offset int) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_logs
		WHERE resource = $1 AND resource_id = $2
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`, resource, resourceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO audit_logs (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		a.ID, a.ActorID, a.Action, a.Resource, a.ResourceID, db.NullString(a.Metadata), a.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditLog(row rowScanner) (*domain.AuditLog, error) {
	var (
		a    domain.AuditLog
		meta sql.NullString
	)
	if err := row.Scan(&a.ID, &a.ActorID, &a.Action, &a.Resource, &a.ResourceID, &meta, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Metadata = meta.String
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}
