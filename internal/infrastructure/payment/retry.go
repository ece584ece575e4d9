package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"printshop-checkout/internal/domain"
)

type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     4 * time.Second,
	MaxElapsed:      45 * time.Second,
}

// RetryingGateway retries transient failures with exponential backoff.
// Every other error is returned on the first attempt.
type RetryingGateway struct {
	next   PaymentGateway
	policy RetryPolicy
	logger *slog.Logger
}

func NewRetryingGateway(next PaymentGateway, policy RetryPolicy, logger *slog.Logger) *RetryingGateway {
	return &RetryingGateway{next: next, policy: policy, logger: logger}
}

func (g *RetryingGateway) Available(method domain.Method) bool {
	return g.next.Available(method)
}

func (g *RetryingGateway) CreatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentInstructions, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.policy.InitialInterval
	b.MaxInterval = g.policy.MaxInterval
	b.MaxElapsedTime = g.policy.MaxElapsed

	var instructions *domain.PaymentInstructions
	attempt := 0
	op := func() error {
		attempt++
		in, err := g.next.CreatePayment(ctx, req)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		instructions = in
		return nil
	}
	notify := func(err error, wait time.Duration) {
		g.logger.Warn("Transient gateway failure, retrying",
			"order_id", req.OrderID, "method", req.Method, "attempt", attempt, "wait", wait, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, g.policy.MaxRetries), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if KindOf(err) == "" {
			err = &Error{Kind: KindTransient, Method: req.Method, Err: err}
		}
		return nil, err
	}
	return instructions, nil
}
