package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"printshop-checkout/internal/domain"
)

type ConfirmationRepo interface {
	// Insert stores c unless its dedup key was seen before; inserted reports which.
	Insert(ctx context.Context, tx *sql.Tx, c *domain.Confirmation) (inserted bool, err error)
	SetOutcome(ctx context.Context, tx *sql.Tx, id uuid.UUID, outcome domain.ConfirmationOutcome) error
	FindByDedupKey(ctx context.Context, key string) (*domain.Confirmation, error)
	ListForReview(ctx context.Context, limit int) ([]domain.Confirmation, error)
}

type confirmationRepo struct {
	db *sql.DB
}

func NewConfirmationRepo(db *sql.DB) ConfirmationRepo {
	return &confirmationRepo{db: db}
}

const confirmationColumns = `id, dedup_key, order_id, amount, entity, reference, raw_method, paid_at, outcome, received_at`

func scanConfirmation(row scanner) (*domain.Confirmation, error) {
	var c domain.Confirmation
	err := row.Scan(
		&c.ID,
		&c.DedupKey,
		&c.OrderID,
		&c.Amount,
		&c.Entity,
		&c.Reference,
		&c.RawMethod,
		&c.PaidAt,
		&c.Outcome,
		&c.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *confirmationRepo) Insert(ctx context.Context, tx *sql.Tx, c *domain.Confirmation) (bool, error) {
	res, err := on(r.db, tx).ExecContext(ctx,
		`INSERT INTO confirmations (`+confirmationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (dedup_key) DO NOTHING`,
		c.ID, c.DedupKey, c.OrderID, c.Amount, c.Entity, c.Reference, c.RawMethod, c.PaidAt, c.Outcome, c.ReceivedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *confirmationRepo) SetOutcome(ctx context.Context, tx *sql.Tx, id uuid.UUID, outcome domain.ConfirmationOutcome) error {
	_, err := on(r.db, tx).ExecContext(ctx, "UPDATE confirmations SET outcome = $1 WHERE id = $2", outcome, id)
	return err
}

func (r *confirmationRepo) FindByDedupKey(ctx context.Context, key string) (*domain.Confirmation, error) {
	c, err := scanConfirmation(r.db.QueryRowContext(ctx, "SELECT "+confirmationColumns+" FROM confirmations WHERE dedup_key = $1", key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *confirmationRepo) ListForReview(ctx context.Context, limit int) ([]domain.Confirmation, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+confirmationColumns+" FROM confirmations WHERE outcome IN ($1, $2, $3) ORDER BY received_at DESC LIMIT $4",
		domain.OutcomeOrderNotFound, domain.OutcomeAmountMismatch, domain.OutcomeConflict, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Confirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
