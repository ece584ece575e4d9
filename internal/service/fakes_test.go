package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"printshop-checkout/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// serialTx runs units of work one at a time, which is what row locks give us in Postgres.
type serialTx struct {
	mu sync.Mutex
}

func (t *serialTx) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(nil)
}

type memOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemOrders(orders ...domain.Order) *memOrders {
	m := &memOrders{orders: map[string]domain.Order{}}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrders) get(id string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *memOrders) FindById(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *memOrders) LockById(ctx context.Context, tx *sql.Tx, id string) (*domain.Order, error) {
	return m.FindById(ctx, id)
}

func (m *memOrders) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = *order
	return nil
}

func (m *memOrders) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *domain.Order, from domain.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[order.ID]
	if !ok || cur.Status != from {
		return false, nil
	}
	m.orders[order.ID] = *order
	return true, nil
}

func (m *memOrders) FindStuckOrders(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	return nil, nil
}

type memPayments struct {
	mu       sync.Mutex
	payments []domain.Payment
}

func (m *memPayments) all() []domain.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Payment(nil), m.payments...)
}

func (m *memPayments) CreatePayment(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, *p)
	return nil
}

func (m *memPayments) FindLatest(ctx context.Context, orderId string, method domain.Method) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.payments) - 1; i >= 0; i-- {
		p := m.payments[i]
		if p.OrderID == orderId && p.Method == method {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memPayments) FindByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.Reference == reference && p.Status == domain.PaymentInstructionsReturned {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memPayments) FindByOrder(ctx context.Context, orderId string) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Payment
	for _, p := range m.payments {
		if p.OrderID == orderId {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPayments) UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.payments {
		if m.payments[i].ID == p.ID {
			m.payments[i] = *p
		}
	}
	return nil
}

func (m *memPayments) FindSubmittedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	return nil, nil
}

type memConfirmations struct {
	mu        sync.Mutex
	byKey     map[string]*domain.Confirmation
	insertErr error
}

func newMemConfirmations() *memConfirmations {
	return &memConfirmations{byKey: map[string]*domain.Confirmation{}}
}

func (m *memConfirmations) Insert(ctx context.Context, tx *sql.Tx, c *domain.Confirmation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if _, ok := m.byKey[c.DedupKey]; ok {
		return false, nil
	}
	cp := *c
	m.byKey[c.DedupKey] = &cp
	return true, nil
}

func (m *memConfirmations) SetOutcome(ctx context.Context, tx *sql.Tx, id uuid.UUID, outcome domain.ConfirmationOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byKey {
		if c.ID == id {
			c.Outcome = outcome
		}
	}
	return nil
}

func (m *memConfirmations) FindByDedupKey(ctx context.Context, key string) (*domain.Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byKey[key]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memConfirmations) ListForReview(ctx context.Context, limit int) ([]domain.Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Confirmation
	for _, c := range m.byKey {
		if c.Outcome.NeedsReview() {
			out = append(out, *c)
		}
	}
	return out, nil
}

type countingNotifier struct {
	mu     sync.Mutex
	orders []domain.Order
}

func (n *countingNotifier) PaymentConfirmed(order domain.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, order)
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.orders)
}

type fakeGateway struct {
	mu        sync.Mutex
	calls     []domain.PaymentRequest
	createFn  func(req domain.PaymentRequest) (*domain.PaymentInstructions, error)
	available map[domain.Method]bool
}

func (g *fakeGateway) CreatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentInstructions, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	return g.createFn(req)
}

func (g *fakeGateway) Available(method domain.Method) bool {
	if g.available == nil {
		return true
	}
	return g.available[method]
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
