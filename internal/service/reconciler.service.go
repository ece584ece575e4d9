package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"printshop-checkout/internal/database"
	"printshop-checkout/internal/domain"
	"printshop-checkout/internal/notify"
	"printshop-checkout/internal/repo"
)

// Result.Outcome is the reason when Applied is false. For a duplicate,
// FirstOutcome is what the first delivery of the same key ended as.
type Result struct {
	Applied      bool
	OrderID      string
	Outcome      domain.ConfirmationOutcome
	FirstOutcome domain.ConfirmationOutcome
}

// Reconciler is the only writer of order status.
type Reconciler struct {
	tx            database.Transactor
	orders        repo.OrderRepo
	payments      repo.PaymentRepo
	confirmations repo.ConfirmationRepo
	notifier      notify.Notifier
	logger        *slog.Logger
	now           func() time.Time
}

func NewReconciler(
	tx database.Transactor,
	orders repo.OrderRepo,
	payments repo.PaymentRepo,
	confirmations repo.ConfirmationRepo,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		tx:            tx,
		orders:        orders,
		payments:      payments,
		confirmations: confirmations,
		notifier:      notifier,
		logger:        logger,
		now:           time.Now,
	}
}

// ApplyConfirmation marks the order paid at most once per dedup key.
// Anomalies are stored for review and reported through Result, not as errors;
// an error means the confirmation could not be recorded at all.
func (r *Reconciler) ApplyConfirmation(ctx context.Context, event domain.ConfirmationEvent) (Result, error) {
	orderID, err := r.resolveOrderID(ctx, event)
	if err != nil {
		return Result{}, err
	}
	event.OrderID = orderID

	confirmation := domain.NewConfirmation(event, r.now())
	result := Result{OrderID: orderID}
	var paid domain.Order

	err = r.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		inserted, err := r.confirmations.Insert(ctx, tx, confirmation)
		if err != nil {
			return fmt.Errorf("failed to record confirmation: %w", err)
		}
		if !inserted {
			result.Outcome = domain.OutcomeDuplicate
			return nil
		}

		outcome, order, err := r.transition(ctx, tx, event)
		if err != nil {
			return err
		}
		result.Outcome = outcome
		if outcome != domain.OutcomeApplied {
			return r.confirmations.SetOutcome(ctx, tx, confirmation.ID, outcome)
		}
		paid = *order
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	logArgs := []any{
		"order_id", orderID, "amount", event.Amount.StringFixed(2), "reference", event.Reference,
		"dedup_key", confirmation.DedupKey, "outcome", result.Outcome,
	}
	switch {
	case result.Outcome == domain.OutcomeApplied:
		result.Applied = true
		r.logger.Info("Order marked as paid", logArgs...)
		r.notifier.PaymentConfirmed(paid)
	case result.Outcome == domain.OutcomeDuplicate:
		first, err := r.confirmations.FindByDedupKey(ctx, confirmation.DedupKey)
		if err != nil {
			r.logger.Warn("Failed to load first delivery", "dedup_key", confirmation.DedupKey, "error", err)
		} else if first != nil {
			result.FirstOutcome = first.Outcome
			logArgs = append(logArgs, "first_outcome", first.Outcome, "first_received_at", first.ReceivedAt)
		}
		r.logger.Info("Duplicate confirmation ignored", logArgs...)
	case result.Outcome.NeedsReview():
		r.logger.Error("Reconciliation anomaly, flagged for review", logArgs...)
	}
	return result, nil
}

func (r *Reconciler) resolveOrderID(ctx context.Context, event domain.ConfirmationEvent) (string, error) {
	if !event.OrderIDDerived || event.Reference == "" {
		return event.OrderID, nil
	}
	p, err := r.payments.FindByReference(ctx, event.Reference)
	if err != nil {
		return "", fmt.Errorf("failed to look up reference: %w", err)
	}
	if p == nil {
		return event.OrderID, nil
	}
	return p.OrderID, nil
}

func (r *Reconciler) transition(ctx context.Context, tx *sql.Tx, event domain.ConfirmationEvent) (domain.ConfirmationOutcome, *domain.Order, error) {
	order, err := r.orders.LockById(ctx, tx, event.OrderID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order == nil {
		return domain.OutcomeOrderNotFound, nil, nil
	}
	if !order.Amount.Equal(event.Amount) {
		return domain.OutcomeAmountMismatch, order, nil
	}
	if order.Status != domain.OrderPending {
		return domain.OutcomeConflict, order, nil
	}

	paidAt := event.PaidAt
	order.Status = domain.OrderPaid
	order.PaidAt = &paidAt
	order.UpdatedAt = r.now()
	if m := domain.Method(event.RawMethod); m.Valid() {
		order.Method = m
	} else if event.Entity != "" {
		order.Method = domain.MethodOfflineReference
	}

	ok, err := r.orders.UpdateOrderStatus(ctx, tx, order, domain.OrderPending)
	if err != nil {
		return "", nil, fmt.Errorf("failed to update order: %w", err)
	}
	if !ok {
		return domain.OutcomeConflict, order, nil
	}
	return domain.OutcomeApplied, order, nil
}

// Close moves a pending order to a terminal non-paid status.
// It reports false when the order was no longer pending.
func (r *Reconciler) Close(ctx context.Context, orderId string, to domain.OrderStatus) (bool, error) {
	if to != domain.OrderExpired && to != domain.OrderFailed {
		return false, fmt.Errorf("cannot close order as %s", to)
	}
	var closed bool
	err := r.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		order, err := r.orders.LockById(ctx, tx, orderId)
		if err != nil {
			return err
		}
		if order == nil || order.Status != domain.OrderPending {
			return nil
		}
		order.Status = to
		order.UpdatedAt = r.now()
		closed, err = r.orders.UpdateOrderStatus(ctx, tx, order, domain.OrderPending)
		return err
	})
	if err != nil {
		return false, err
	}
	if closed {
		r.logger.Info("Order closed", "order_id", orderId, "status", to)
	}
	return closed, nil
}

func (r *Reconciler) ExpireOrder(ctx context.Context, orderId string) (bool, error) {
	return r.Close(ctx, orderId, domain.OrderExpired)
}

func (r *Reconciler) FailOrder(ctx context.Context, orderId string) (bool, error) {
	return r.Close(ctx, orderId, domain.OrderFailed)
}

// ListForReview returns confirmations that could not be applied automatically.
func (r *Reconciler) ListForReview(ctx context.Context, limit int) ([]domain.Confirmation, error) {
	return r.confirmations.ListForReview(ctx, limit)
}
