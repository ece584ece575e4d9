package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"printshop-checkout/internal/domain"
)

type OrderRepo interface {
	FindById(ctx context.Context, id string) (*domain.Order, error)
	// LockById reads the order and holds its row lock until tx ends.
	LockById(ctx context.Context, tx *sql.Tx, id string) (*domain.Order, error)
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	// UpdateOrderStatus writes order only if its stored status is still from.
	UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *domain.Order, from domain.OrderStatus) (bool, error)
	FindStuckOrders(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, amount, status, method, customer_email, customer_phone, items, created_at, updated_at, paid_at`

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		order  domain.Order
		method string
	)
	err := row.Scan(
		&order.ID,
		&order.Amount,
		&order.Status,
		&method,
		&order.CustomerEmail,
		&order.CustomerPhone,
		&order.Items,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	order.Method = domain.Method(method)
	return &order, nil
}

func (r *orderRepo) FindById(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err // system error
	}
	return order, nil
}

func (r *orderRepo) LockById(ctx context.Context, tx *sql.Tx, id string) (*domain.Order, error) {
	order, err := scanOrder(on(r.db, tx).QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	items := order.Items
	if len(items) == 0 {
		items = []byte("[]")
	}
	_, err := on(r.db, tx).ExecContext(ctx,
		`INSERT INTO orders (id, amount, status, method, customer_email, customer_phone, items, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.Amount, order.Status, string(order.Method), order.CustomerEmail, order.CustomerPhone,
		items, order.CreatedAt, order.UpdatedAt,
	)
	return err
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *domain.Order, from domain.OrderStatus) (bool, error) {
	res, err := on(r.db, tx).ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, method = $2, paid_at = $3, updated_at = $4
		 WHERE id = $5 AND status = $6`,
		order.Status, string(order.Method), order.PaidAt, order.UpdatedAt, order.ID, from,
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

func (r *orderRepo) FindStuckOrders(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3",
		domain.OrderPending, time.Now().Add(-olderThan), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}
