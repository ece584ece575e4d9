package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"printshop-checkout/internal/domain"
)

type PaymentRepo interface {
	// tx *sql.Tx may be nil outside a unit of work
	CreatePayment(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error
	// FindLatest returns the newest attempt for an order and method.
	FindLatest(ctx context.Context, orderId string, method domain.Method) (*domain.Payment, error)
	FindByReference(ctx context.Context, reference string) (*domain.Payment, error)
	FindByOrder(ctx context.Context, orderId string) ([]domain.Payment, error)
	UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error
	FindSubmittedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error)
}

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, order_id, method, amount, status, entity, reference, request_id, payment_url, valid_until, error, created_at, updated_at`

func scanPayment(row scanner) (*domain.Payment, error) {
	var (
		p      domain.Payment
		method string
	)
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&method,
		&p.Amount,
		&p.Status,
		&p.Entity,
		&p.Reference,
		&p.RequestID,
		&p.PaymentURL,
		&p.ValidUntil,
		&p.Error,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Method = domain.Method(method)
	return &p, nil
}

func (r *paymentRepo) findOne(ctx context.Context, query string, args ...any) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *paymentRepo) findMany(ctx context.Context, query string, args ...any) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (r *paymentRepo) CreatePayment(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error {
	query := `INSERT INTO payments (id, order_id, method, amount, status, entity, reference, request_id, payment_url, valid_until, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := on(r.db, tx).ExecContext(
		ctx, query, payment.ID, payment.OrderID, string(payment.Method), payment.Amount, payment.Status,
		payment.Entity, payment.Reference, payment.RequestID, payment.PaymentURL, payment.ValidUntil,
		payment.Error, payment.CreatedAt, payment.UpdatedAt,
	)
	return err
}

func (r *paymentRepo) FindLatest(ctx context.Context, orderId string, method domain.Method) (*domain.Payment, error) {
	return r.findOne(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 AND method = $2 ORDER BY created_at DESC LIMIT 1",
		orderId, string(method))
}

func (r *paymentRepo) FindByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	return r.findOne(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE reference = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1",
		reference, domain.PaymentInstructionsReturned)
}

func (r *paymentRepo) FindByOrder(ctx context.Context, orderId string) ([]domain.Payment, error) {
	return r.findMany(ctx, "SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY created_at", orderId)
}

func (r *paymentRepo) UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error {
	query := `
		UPDATE payments
		SET status = $2,
		    entity = $3,
		    reference = $4,
		    request_id = $5,
		    payment_url = $6,
		    valid_until = $7,
		    error = $8,
		    updated_at = $9
		WHERE id = $1
	`
	_, err := on(r.db, tx).ExecContext(
		ctx,
		query,
		payment.ID,
		payment.Status,
		payment.Entity,
		payment.Reference,
		payment.RequestID,
		payment.PaymentURL,
		payment.ValidUntil,
		payment.Error,
		payment.UpdatedAt,
	)
	return err
}

func (r *paymentRepo) FindSubmittedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	return r.findMany(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE status IN ($1, $2) AND updated_at < $3 ORDER BY updated_at LIMIT $4",
		domain.PaymentCreated, domain.PaymentSubmitted, before, limit)
}
