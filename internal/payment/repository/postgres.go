package repository

import (
	"context"
	"database/sql"
	"errors"

	"hotspot-control-plane/backend/internal/db"
	"hotspot-control-plane/backend/internal/payment/domain"
)

const paymentColumns = `id, amount, status, method, transaction_id, payer_ref, account_id,
	needs_manual_provisioning, notes, created_by, created_at, updated_at, manual_only`

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a payment repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the payment for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return scanOne(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *PostgresRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID))
}

func (r *PostgresRepository) Save(ctx context.Context, p *domain.Payment) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			method = EXCLUDED.method,
			transaction_id = EXCLUDED.transaction_id,
			payer_ref = EXCLUDED.payer_ref,
			account_id = EXCLUDED.account_id,
			needs_manual_provisioning = EXCLUDED.needs_manual_provisioning,
			notes = EXCLUDED.notes,
			manual_only = EXCLUDED.manual_only,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Amount, string(p.Status), string(p.Method), db.NullString(p.TransactionID), p.PayerRef,
		db.NullString(p.AccountID), p.NeedsManualProvisioning, p.Notes, p.CreatedBy, p.CreatedAt, p.UpdatedAt,
		p.ManualOnly)
	if db.IsUniqueViolation(err, "payments_transaction_id_idx") {
		return domain.ErrTransactionTaken
	}
	return err
}

// ListRetryable returns flagged payments an automatic retry may still fix, least recently attempted first.
func (r *PostgresRepository) ListRetryable(ctx context.Context, limit int) ([]*domain.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments
		WHERE needs_manual_provisioning AND NOT manual_only ORDER BY updated_at, id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Payment
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*domain.Payment, error) {
	p, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func scan(row rowScanner) (*domain.Payment, error) {
	var (
		p                      domain.Payment
		status, method         string
		transactionID, account sql.NullString
	)
	err := row.Scan(&p.ID, &p.Amount, &status, &method, &transactionID, &p.PayerRef, &account,
		&p.NeedsManualProvisioning, &p.Notes, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &p.ManualOnly)
	if err != nil {
		return nil, err
	}
	p.Status = domain.Status(status)
	p.Method = domain.Method(method)
	p.TransactionID = transactionID.String
	p.AccountID = account.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
