// Package notify tells the customer and the print floor that an order was paid.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"printshop-checkout/internal/domain"
)

// Notifier must not block the caller.
type Notifier interface {
	PaymentConfirmed(order domain.Order)
}

type Dispatcher struct {
	mailer    Mailer
	publisher FulfillmentPublisher
	logger    *slog.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewDispatcher(mailer Mailer, publisher FulfillmentPublisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		mailer:    mailer,
		publisher: publisher,
		logger:    logger,
		timeout:   30 * time.Second,
	}
}

// PaymentConfirmed sends the email and the fulfillment trigger in the background.
// Failures are logged only.
func (d *Dispatcher) PaymentConfirmed(order domain.Order) {
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.mailer.SendPaymentConfirmation(ctx, order); err != nil {
			d.logger.Error("Failed to send confirmation email", "order_id", order.ID, "error", err)
			return
		}
		d.logger.Info("Confirmation email sent", "order_id", order.ID)
	}()
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.publisher.PublishOrderPaid(ctx, order); err != nil {
			d.logger.Error("Failed to publish fulfillment trigger", "order_id", order.ID, "error", err)
			return
		}
		d.logger.Info("Fulfillment triggered", "order_id", order.ID, "subject", SubjectOrderPaid)
	}()
}

// Wait blocks until in-flight notifications finish; used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
