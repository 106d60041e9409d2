package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"hotspot-control-plane/backend/internal/db"
	"hotspot-control-plane/backend/internal/session/domain"
)

const sessionColumns = `id, account_id, external_id, address, mac_address, bytes_in, bytes_out,
	bytes_in_offset, bytes_out_offset, connected_at, disconnected_at, active, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return scanOne(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

func (r *PostgresRepository) FindActiveByExternalID(ctx context.Context, externalID string) (*domain.Session, error) {
	return scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE external_id = $1 AND active`, externalID))
}

func (r *PostgresRepository) Save(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			address = EXCLUDED.address,
			mac_address = EXCLUDED.mac_address,
			bytes_in = EXCLUDED.bytes_in,
			bytes_out = EXCLUDED.bytes_out,
			bytes_in_offset = EXCLUDED.bytes_in_offset,
			bytes_out_offset = EXCLUDED.bytes_out_offset,
			disconnected_at = EXCLUDED.disconnected_at,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		s.ID, s.AccountID, db.NullString(s.ExternalID), s.Address, s.MACAddress, s.BytesIn, s.BytesOut,
		s.BytesInOffset, s.BytesOutOffset, s.ConnectedAt, db.NullTime(s.DisconnectedAt), s.Active,
		s.CreatedAt, s.UpdatedAt)
	if db.IsUniqueViolation(err, "sessions_active_external_id_idx") {
		return domain.ErrActiveConflict
	}
	return err
}

func (r *PostgresRepository) CloseActiveNotIn(ctx context.Context, liveIDs []string, at time.Time) (int, error) {
	if liveIDs == nil {
		liveIDs = []string{}
	}
	res, err := r.db.ExecContext(ctx, `UPDATE sessions
		SET active = FALSE, disconnected_at = $1, updated_at = $1
		WHERE active AND (external_id IS NULL OR NOT (external_id = ANY($2)))`, at, liveIDs)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresRepository) ListActive(ctx context.Context) ([]*domain.Session, error) {
	return r.list(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE active ORDER BY connected_at`)
}

// ListByAccount returns the account's sessions newest first. A limit <= 0 returns all of them.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE account_id = $1 ORDER BY connected_at DESC`
	if limit > 0 {
		return r.list(ctx, q+` LIMIT $2`, accountID, limit)
	}
	return r.list(ctx, q, accountID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*domain.Session, error) {
	s, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func scan(row rowScanner) (*domain.Session, error) {
	var (
		s            domain.Session
		externalID   sql.NullString
		disconnected sql.NullTime
	)
	err := row.Scan(&s.ID, &s.AccountID, &externalID, &s.Address, &s.MACAddress, &s.BytesIn, &s.BytesOut,
		&s.BytesInOffset, &s.BytesOutOffset, &s.ConnectedAt, &disconnected, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.ExternalID = externalID.String
	s.DisconnectedAt = db.TimePtr(disconnected)
	s.ConnectedAt = s.ConnectedAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}
