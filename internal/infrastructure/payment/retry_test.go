package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printshop-checkout/internal/domain"
)

type fakeGateway struct {
	createFn func(call int) (*domain.PaymentInstructions, error)
	calls    int
}

func (f *fakeGateway) CreatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentInstructions, error) {
	f.calls++
	return f.createFn(f.calls)
}

func (f *fakeGateway) Available(domain.Method) bool { return true }

var fastPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	MaxElapsed:      time.Second,
}

func TestRetryingGateway_RetriesTransientUntilSuccess(t *testing.T) {
	next := &fakeGateway{createFn: func(call int) (*domain.PaymentInstructions, error) {
		if call < 3 {
			return nil, &Error{Kind: KindTransient, Err: errors.New("connection reset")}
		}
		return &domain.PaymentInstructions{OrderID: "ORD1", Amount: decimal.NewFromInt(10)}, nil
	}}
	g := NewRetryingGateway(next, fastPolicy, testLogger)

	in, err := g.CreatePayment(context.Background(), domain.PaymentRequest{OrderID: "ORD1"})

	require.NoError(t, err)
	assert.Equal(t, "ORD1", in.OrderID)
	assert.Equal(t, 3, next.calls)
}

func TestRetryingGateway_GivesUpAfterMaxRetries(t *testing.T) {
	next := &fakeGateway{createFn: func(int) (*domain.PaymentInstructions, error) {
		return nil, &Error{Kind: KindTransient, Err: errors.New("timeout")}
	}}
	g := NewRetryingGateway(next, fastPolicy, testLogger)

	_, err := g.CreatePayment(context.Background(), domain.PaymentRequest{OrderID: "ORD1"})

	assert.True(t, IsTransient(err))
	assert.Equal(t, 4, next.calls)
}

func TestRetryingGateway_DoesNotRetryPermanentErrors(t *testing.T) {
	for _, kind := range []Kind{KindConfiguration, KindRejected, KindMalformed, KindInvalidRequest} {
		t.Run(string(kind), func(t *testing.T) {
			next := &fakeGateway{createFn: func(int) (*domain.PaymentInstructions, error) {
				return nil, &Error{Kind: kind}
			}}
			g := NewRetryingGateway(next, fastPolicy, testLogger)

			_, err := g.CreatePayment(context.Background(), domain.PaymentRequest{OrderID: "ORD1"})

			assert.Equal(t, kind, KindOf(err))
			assert.Equal(t, 1, next.calls)
		})
	}
}

func TestRetryingGateway_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	next := &fakeGateway{createFn: func(int) (*domain.PaymentInstructions, error) {
		cancel()
		return nil, &Error{Kind: KindTransient, Err: errors.New("timeout")}
	}}
	g := NewRetryingGateway(next, fastPolicy, testLogger)

	_, err := g.CreatePayment(ctx, domain.PaymentRequest{OrderID: "ORD1"})

	assert.True(t, IsTransient(err))
	assert.Equal(t, 1, next.calls)
}
