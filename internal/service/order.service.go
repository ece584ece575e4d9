package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"printshop-checkout/internal/database"
	"printshop-checkout/internal/domain"
	"printshop-checkout/internal/infrastructure/payment"
	"printshop-checkout/internal/pricing"
	"printshop-checkout/internal/repo"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order is not in pending state")
	ErrUnknownMethod   = errors.New("unknown payment method")
)

// CartError is returned when a cart cannot be turned into an order.
type CartError struct {
	Quote pricing.Quote
}

func (e *CartError) Error() string {
	return "cart is not ready for checkout"
}

type OrderService interface {
	Quote(cart pricing.Cart) pricing.Quote
	CreateOrder(ctx context.Context, cart pricing.Cart, contact domain.CustomerContact) (*domain.Order, error)
	GetOrder(ctx context.Context, orderId string) (*domain.Order, error)
	Checkout(ctx context.Context, orderId string, method domain.Method, contact *domain.CustomerContact) (*domain.PaymentInstructions, error)
	AvailableMethods() []domain.Method
}

type orderService struct {
	tx          database.Transactor
	orderRepo   repo.OrderRepo
	paymentRepo repo.PaymentRepo
	paymentGtw  payment.PaymentGateway
	calculator  *pricing.Calculator
	logger      *slog.Logger
	now         func() time.Time
}

func NewOrderService(
	tx database.Transactor,
	orderRepo repo.OrderRepo,
	paymentRepo repo.PaymentRepo,
	paymentGtw payment.PaymentGateway,
	calculator *pricing.Calculator,
	logger *slog.Logger,
) OrderService {
	return &orderService{
		tx:          tx,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		paymentGtw:  paymentGtw,
		calculator:  calculator,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *orderService) Quote(cart pricing.Cart) pricing.Quote {
	return s.calculator.Quote(cart)
}

func (s *orderService) AvailableMethods() []domain.Method {
	var methods []domain.Method
	for _, m := range domain.Methods {
		if s.paymentGtw.Available(m) {
			methods = append(methods, m)
		}
	}
	return methods
}

func newOrderID() string {
	return "ORD" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// CreateOrder prices the cart on the server and stores a pending order for its total.
func (s *orderService) CreateOrder(ctx context.Context, cart pricing.Cart, contact domain.CustomerContact) (*domain.Order, error) {
	quote := s.calculator.Quote(cart)
	if !quote.Checkoutable() {
		return nil, &CartError{Quote: quote}
	}
	items, err := json.Marshal(quote.Lines)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cart: %w", err)
	}

	now := s.now()
	order := &domain.Order{
		ID:            newOrderID(),
		Amount:        quote.Total,
		Status:        domain.OrderPending,
		CustomerEmail: contact.Email,
		CustomerPhone: contact.Phone,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		return s.orderRepo.CreateOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.Info("Order created", "order_id", order.ID, "amount", order.Amount.StringFixed(2), "lines", len(quote.Lines))
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderId string) (*domain.Order, error) {
	order, err := s.orderRepo.FindById(ctx, orderId)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// Checkout asks the gateway for payment instructions and records the attempt.
// An attempt that already returned instructions is reused while they are still
// valid, except for push-to-phone where a fresh prompt is the point.
func (s *orderService) Checkout(ctx context.Context, orderId string, method domain.Method, contact *domain.CustomerContact) (*domain.PaymentInstructions, error) {
	if !method.Valid() {
		return nil, ErrUnknownMethod
	}

	order, err := s.GetOrder(ctx, orderId)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderPending {
		return nil, ErrOrderNotPending
	}

	if !s.paymentGtw.Available(method) {
		return nil, &payment.Error{Kind: payment.KindConfiguration, Method: method, Message: "method unavailable"}
	}

	if method != domain.MethodPushToPhone {
		prev, err := s.paymentRepo.FindLatest(ctx, order.ID, method)
		if err != nil {
			return nil, err
		}
		if reusable(prev, s.now()) {
			s.logger.Info("Reusing payment instructions", "order_id", order.ID, "method", method, "payment_id", prev.ID)
			return prev.Instructions(), nil
		}
	}

	req := domain.PaymentRequest{
		OrderID: order.ID,
		Amount:  order.Amount,
		Method:  method,
		Contact: mergeContact(order, contact),
	}

	now := s.now()
	attempt := &domain.Payment{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Method:    method,
		Amount:    order.Amount,
		Status:    domain.PaymentCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.paymentRepo.CreatePayment(ctx, nil, attempt); err != nil {
		return nil, fmt.Errorf("failed to record payment attempt: %w", err)
	}

	attempt.Status = domain.PaymentSubmitted
	attempt.UpdatedAt = s.now()
	if err := s.paymentRepo.UpdatePaymentStatus(ctx, nil, attempt); err != nil {
		return nil, fmt.Errorf("failed to record payment attempt: %w", err)
	}

	instructions, gwErr := s.paymentGtw.CreatePayment(ctx, req)

	attempt.UpdatedAt = s.now()
	if gwErr != nil {
		attempt.Status = domain.PaymentFailed
		if k := payment.KindOf(gwErr); k == payment.KindRejected || k == payment.KindInvalidRequest {
			attempt.Status = domain.PaymentRejected
		}
		attempt.Error = gwErr.Error()
	} else {
		attempt.Status = domain.PaymentInstructionsReturned
		attempt.Entity = instructions.Entity
		attempt.Reference = instructions.Reference
		attempt.RequestID = instructions.RequestID
		attempt.PaymentURL = instructions.PaymentURL
		attempt.ValidUntil = instructions.ValidUntil
	}

	// The gateway outcome already happened; keep recording it even if the caller went away.
	if err := s.paymentRepo.UpdatePaymentStatus(context.WithoutCancel(ctx), nil, attempt); err != nil {
		s.logger.Error("Failed to record payment outcome", "order_id", order.ID, "payment_id", attempt.ID, "status", attempt.Status, "error", err)
		if gwErr == nil {
			return nil, fmt.Errorf("failed to record payment attempt: %w", err)
		}
	}

	if gwErr != nil {
		s.logger.Warn("Payment creation failed", "order_id", order.ID, "method", method, "kind", payment.KindOf(gwErr), "error", gwErr)
		return nil, gwErr
	}
	return instructions, nil
}

func reusable(p *domain.Payment, now time.Time) bool {
	if p == nil || p.Status != domain.PaymentInstructionsReturned {
		return false
	}
	return p.ValidUntil == nil || p.ValidUntil.After(now)
}

func mergeContact(order *domain.Order, override *domain.CustomerContact) *domain.CustomerContact {
	c := &domain.CustomerContact{Email: order.CustomerEmail, Phone: order.CustomerPhone}
	if override != nil {
		if override.Email != "" {
			c.Email = override.Email
		}
		if override.Phone != "" {
			c.Phone = override.Phone
		}
	}
	return c
}
