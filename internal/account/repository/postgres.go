package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"hotspot-control-plane/backend/internal/account/domain"
	"hotspot-control-plane/backend/internal/db"
)

const accountColumns = `id, identity, secret, duration, bandwidth, max_devices, expires_at, active, expired,
	external_ref, comment, created_by, created_at, updated_at, suspended, device_sync_pending`

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanOne(row)
}

// GetByIdentity returns the account with the given identity, or nil if not found.
func (r *PostgresRepository) GetByIdentity(ctx context.Context, identity string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE identity = $1`, identity)
	return scanOne(row)
}

// Create persists a new account. The account must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.Identity, a.Secret, string(a.Duration), string(a.Bandwidth), a.MaxDevices,
		db.NullTime(a.ExpiresAt), a.Active, a.Expired, db.NullString(a.ExternalRef),
		a.Comment, a.CreatedBy, a.CreatedAt, a.UpdatedAt, a.Suspended, a.DeviceSyncPending)
	if db.IsUniqueViolation(err, "accounts_identity_key") {
		return domain.ErrIdentityTaken
	}
	return err
}

// Save updates the mutable fields of an existing account. Identity, secret and creation data never change.
func (r *PostgresRepository) Save(ctx context.Context, a *domain.Account) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET
		duration = $2, bandwidth = $3, max_devices = $4, expires_at = $5, active = $6, expired = $7,
		external_ref = $8, comment = $9, updated_at = $10, suspended = $11, device_sync_pending = $12
		WHERE id = $1`,
		a.ID, string(a.Duration), string(a.Bandwidth), a.MaxDevices, db.NullTime(a.ExpiresAt),
		a.Active, a.Expired, db.NullString(a.ExternalRef), a.Comment, a.UpdatedAt,
		a.Suspended, a.DeviceSyncPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// Delete removes the account. Deleting a missing id is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return err
}

// ListPastDue returns accounts an expiration sweep at now must demote.
func (r *PostgresRepository) ListPastDue(ctx context.Context, now time.Time) ([]*domain.Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE active AND NOT expired AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at`, now)
}

// ListDeviceSyncPending returns expired accounts whose router disable is unconfirmed, oldest attempt first.
func (r *PostgresRepository) ListDeviceSyncPending(ctx context.Context, limit int) ([]*domain.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE device_sync_pending ORDER BY updated_at`
	if limit > 0 {
		return r.query(ctx, q+` LIMIT $1`, limit)
	}
	return r.query(ctx, q)
}

// List returns accounts newest first, paginated by limit and offset.
func (r *PostgresRepository) List(ctx context.Context, limit, offset int32) ([]*domain.Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
}

func (r *PostgresRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*domain.Account, error) {
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func scanAccount(s scanner) (*domain.Account, error) {
	var (
		a         domain.Account
		duration  string
		bandwidth string
		expiresAt sql.NullTime
		extRef    sql.NullString
	)
	if err := s.Scan(&a.ID, &a.Identity, &a.Secret, &duration, &bandwidth, &a.MaxDevices, &expiresAt,
		&a.Active, &a.Expired, &extRef, &a.Comment, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
		&a.Suspended, &a.DeviceSyncPending); err != nil {
		return nil, err
	}
	a.Duration = domain.DurationClass(duration)
	a.Bandwidth = domain.BandwidthProfile(bandwidth)
	a.ExpiresAt = db.TimePtr(expiresAt)
	a.ExternalRef = extRef.String
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}
