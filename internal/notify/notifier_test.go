package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printshop-checkout/internal/domain"
)

type fakeMailer struct {
	mu    sync.Mutex
	sent  []string
	err   error
	block chan struct{}
}

func (m *fakeMailer) SendPaymentConfirmation(ctx context.Context, order domain.Order) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, order.ID)
	return m.err
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *fakePublisher) PublishOrderPaid(ctx context.Context, order domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, order.ID)
	return p.err
}

func paidOrder() domain.Order {
	paidAt := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:            "ORD1",
		Amount:        decimal.RequireFromString("45.00"),
		Status:        domain.OrderPaid,
		CustomerEmail: "ana@example.pt",
		PaidAt:        &paidAt,
	}
}

func TestDispatcher_SendsBoth(t *testing.T) {
	mailer := &fakeMailer{}
	publisher := &fakePublisher{}
	d := NewDispatcher(mailer, publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))

	d.PaymentConfirmed(paidOrder())
	d.Wait()

	assert.Equal(t, []string{"ORD1"}, mailer.sent)
	assert.Equal(t, []string{"ORD1"}, publisher.published)
}

func TestDispatcher_DoesNotBlockCaller(t *testing.T) {
	mailer := &fakeMailer{block: make(chan struct{})}
	d := NewDispatcher(mailer, &fakePublisher{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	returned := make(chan struct{})
	go func() {
		d.PaymentConfirmed(paidOrder())
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("PaymentConfirmed blocked on the mailer")
	}
	close(mailer.block)
	d.Wait()
}

func TestDispatcher_FailuresAreIndependent(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("smtp down")}
	publisher := &fakePublisher{}
	d := NewDispatcher(mailer, publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))

	d.PaymentConfirmed(paidOrder())
	d.Wait()

	assert.Equal(t, []string{"ORD1"}, publisher.published)
}

func TestConfirmationBody(t *testing.T) {
	body := confirmationBody(paidOrder())

	assert.Contains(t, body, "45.00 EUR")
	assert.Contains(t, body, "ORD1")
	assert.Contains(t, body, "2025-01-15 10:00")
}

func TestSMTPMailer_SkipsOrdersWithoutEmail(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: 1})
	order := paidOrder()
	order.CustomerEmail = ""

	require.NoError(t, m.SendPaymentConfirmation(context.Background(), order))
}

func TestNATSPublisher_ClosedConnection(t *testing.T) {
	err := NewNATSPublisher(nil).PublishOrderPaid(context.Background(), paidOrder())

	assert.Error(t, err)
}
