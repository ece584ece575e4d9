package worker

import (
	"context"
	"log/slog"
	"time"

	"printshop-checkout/internal/domain"
	"printshop-checkout/internal/repo"
)

// OrderCloser is implemented by the reconciler; the worker never writes order status itself.
type OrderCloser interface {
	ExpireOrder(ctx context.Context, orderId string) (bool, error)
	FailOrder(ctx context.Context, orderId string) (bool, error)
}

type Config struct {
	Interval time.Duration
	// OrderTTL is how long an order may stay pending.
	OrderTTL time.Duration
	// AttemptTimeout is how long a payment attempt may wait for a gateway reply.
	AttemptTimeout time.Duration
	BatchSize      int
}

type ReconciliationWorker struct {
	orderRepo   repo.OrderRepo
	paymentRepo repo.PaymentRepo
	closer      OrderCloser
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
}

func NewReconciliationWorker(
	orderRepo repo.OrderRepo,
	paymentRepo repo.PaymentRepo,
	closer OrderCloser,
	cfg Config,
	logger *slog.Logger,
) *ReconciliationWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &ReconciliationWorker{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		closer:      closer,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.cfg.Interval)
	defer ticker.Stop()

	rw.logger.Info("Reconciliation worker started", "interval", rw.cfg.Interval, "order_ttl", rw.cfg.OrderTTL)

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("Reconciliation worker stopped")
			return
		case <-ticker.C:
			if err := rw.process(ctx); err != nil {
				rw.logger.Error("Reconciliation failed", "error", err)
			}
		}
	}
}

func (rw *ReconciliationWorker) process(ctx context.Context) error {
	if err := rw.failAbandonedAttempts(ctx); err != nil {
		return err
	}
	return rw.closeStuckOrders(ctx)
}

// failAbandonedAttempts closes attempts that never got an answer, e.g. after a crash mid-call.
func (rw *ReconciliationWorker) failAbandonedAttempts(ctx context.Context) error {
	attempts, err := rw.paymentRepo.FindSubmittedBefore(ctx, rw.now().Add(-rw.cfg.AttemptTimeout), rw.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, p := range attempts {
		p.Status = domain.PaymentFailed
		p.Error = "no reply from gateway"
		p.UpdatedAt = rw.now()
		if err := rw.paymentRepo.UpdatePaymentStatus(ctx, nil, &p); err != nil {
			rw.logger.Error("Failed to close payment attempt", "payment_id", p.ID, "order_id", p.OrderID, "error", err)
			continue
		}
		rw.logger.Warn("Payment attempt abandoned", "payment_id", p.ID, "order_id", p.OrderID, "method", p.Method)
	}
	return nil
}

func (rw *ReconciliationWorker) closeStuckOrders(ctx context.Context) error {
	stuckOrders, err := rw.orderRepo.FindStuckOrders(ctx, rw.cfg.OrderTTL, rw.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(stuckOrders) == 0 {
		return nil
	}

	rw.logger.Info("Found stale pending orders", "count", len(stuckOrders))

	for _, order := range stuckOrders {
		attempts, err := rw.paymentRepo.FindByOrder(ctx, order.ID)
		if err != nil {
			rw.logger.Error("Failed to load payment attempts", "order_id", order.ID, "error", err)
			continue
		}

		var closed bool
		switch rw.verdict(attempts) {
		case domain.OrderFailed:
			closed, err = rw.closer.FailOrder(ctx, order.ID)
		case domain.OrderExpired:
			closed, err = rw.closer.ExpireOrder(ctx, order.ID)
		default:
			continue
		}
		if err != nil {
			rw.logger.Error("Failed to close order", "order_id", order.ID, "error", err)
			continue
		}
		if !closed {
			rw.logger.Info("Order settled meanwhile, left untouched", "order_id", order.ID)
		}
	}
	return nil
}

// verdict is failed when every attempt was refused, pending while some
// instructions are still payable, and expired otherwise.
func (rw *ReconciliationWorker) verdict(attempts []domain.Payment) domain.OrderStatus {
	now := rw.now()
	refused := len(attempts) > 0
	for _, p := range attempts {
		if p.Status == domain.PaymentInstructionsReturned && p.ValidUntil != nil && p.ValidUntil.After(now) {
			return domain.OrderPending
		}
		if p.Status != domain.PaymentRejected && p.Status != domain.PaymentFailed {
			refused = false
		}
	}
	if refused {
		return domain.OrderFailed
	}
	return domain.OrderExpired
}
