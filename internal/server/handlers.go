package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"printshop-checkout/internal/callback"
	"printshop-checkout/internal/domain"
	"printshop-checkout/internal/infrastructure/payment"
	"printshop-checkout/internal/pricing"
	"printshop-checkout/internal/service"
)

const maxBodySize = 1 << 20

type createOrderRequest struct {
	Items   []pricing.LineItem     `json:"items" binding:"required"`
	Contact domain.CustomerContact `json:"contact"`
}

type createPaymentRequest struct {
	Method domain.Method `json:"method" binding:"required"`
	Phone  string        `json:"phone"`
	Email  string        `json:"email"`
}

type orderView struct {
	ID        string             `json:"id"`
	Amount    decimal.Decimal    `json:"amount"`
	Status    domain.OrderStatus `json:"status"`
	Method    domain.Method      `json:"method,omitempty"`
	Items     json.RawMessage    `json:"items"`
	CreatedAt time.Time          `json:"createdAt"`
	PaidAt    *time.Time         `json:"paidAt,omitempty"`
}

func newOrderView(o *domain.Order) orderView {
	items := json.RawMessage(o.Items)
	if len(items) == 0 {
		items = json.RawMessage("[]")
	}
	return orderView{
		ID:        o.ID,
		Amount:    o.Amount,
		Status:    o.Status,
		Method:    o.Method,
		Items:     items,
		CreatedAt: o.CreatedAt,
		PaidAt:    o.PaidAt,
	}
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

func bindJSON(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.deps.DB.Health()
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}

func (s *Server) handleQuote(c *gin.Context) {
	var cart pricing.Cart
	if !bindJSON(c, &cart) {
		return
	}
	quote := s.deps.Orders.Quote(cart)
	c.JSON(http.StatusOK, gin.H{"quote": quote, "checkoutable": quote.Checkoutable()})
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := s.deps.Orders.CreateOrder(c.Request.Context(), pricing.Cart{Items: req.Items}, req.Contact)
	var cartErr *service.CartError
	switch {
	case errors.As(err, &cartErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": cartErr.Error(), "quote": cartErr.Quote})
		return
	case err != nil:
		s.logger.Error("Failed to create order", "error", err)
		fail(c, http.StatusInternalServerError, "could not create order")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "order": newOrderView(order)})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.deps.Orders.GetOrder(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		fail(c, http.StatusNotFound, "order not found")
		return
	case err != nil:
		s.logger.Error("Failed to load order", "order_id", c.Param("id"), "error", err)
		fail(c, http.StatusInternalServerError, "could not load order")
		return
	}
	c.JSON(http.StatusOK, newOrderView(order))
}

func (s *Server) handleMethods(c *gin.Context) {
	methods := s.deps.Orders.AvailableMethods()
	if methods == nil {
		methods = []domain.Method{}
	}
	c.JSON(http.StatusOK, gin.H{"methods": methods})
}

func (s *Server) handleCreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	var contact *domain.CustomerContact
	if req.Phone != "" || req.Email != "" {
		contact = &domain.CustomerContact{Phone: req.Phone, Email: req.Email}
	}

	instructions, err := s.deps.Orders.Checkout(c.Request.Context(), c.Param("id"), req.Method, contact)
	if err != nil {
		status, message := paymentFailure(err)
		if status >= http.StatusInternalServerError {
			c.Error(err)
		}
		fail(c, status, message)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "instructions": instructions})
}

// paymentFailure maps a checkout error to the status and message shown to the payer.
func paymentFailure(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, service.ErrOrderNotPending):
		return http.StatusConflict, "order is no longer awaiting payment"
	case errors.Is(err, service.ErrUnknownMethod):
		return http.StatusBadRequest, "unknown payment method"
	}

	var pe *payment.Error
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError, "could not start payment"
	}
	switch pe.Kind {
	case payment.KindConfiguration:
		return http.StatusServiceUnavailable, "payment method unavailable"
	case payment.KindInvalidRequest:
		return http.StatusBadRequest, pe.Message
	case payment.KindTransient:
		return http.StatusBadGateway, "payment provider unreachable, please try again"
	case payment.KindRejected:
		msg := pe.Message
		if msg == "" {
			msg = "payment was declined"
		}
		return http.StatusPaymentRequired, msg
	default:
		return http.StatusBadGateway, "unexpected reply from payment provider"
	}
}

// handleCallback answers the gateway with 200 or 403 only; any other status makes it redeliver forever.
func (s *Server) handleCallback(c *gin.Context) {
	event, err := s.deps.Verifier.Verify(c.Request.URL.Query())

	var integrationErr *callback.IntegrationError
	switch {
	case errors.Is(err, callback.ErrSecretNotConfigured):
		s.logger.Error("Payment callback refused, no callback secret configured", "client_ip", c.ClientIP())
		c.String(http.StatusForbidden, "Forbidden")
		return
	case errors.Is(err, callback.ErrUnauthenticated):
		s.logger.Warn("Payment callback with wrong secret, possible spoofing", "client_ip", c.ClientIP())
		c.String(http.StatusForbidden, "Forbidden")
		return
	case errors.As(err, &integrationErr):
		s.logger.Error("Unusable payment callback", "field", integrationErr.Field, "client_ip", c.ClientIP())
		c.String(http.StatusOK, "OK")
		return
	case err != nil:
		s.logger.Error("Payment callback could not be read", "error", err)
		c.String(http.StatusOK, "OK")
		return
	}

	s.logger.Info("Payment confirmation received",
		"order_id", event.OrderID,
		"amount", event.Amount.StringFixed(2),
		"entity", event.Entity,
		"reference", event.Reference,
		"paid_at", event.PaidAt,
		"method", event.RawMethod,
	)

	if _, err := s.deps.Reconciler.ApplyConfirmation(c.Request.Context(), *event); err != nil {
		s.logger.Error("Payment confirmation not recorded, replay manually",
			"order_id", event.OrderID,
			"amount", event.Amount.StringFixed(2),
			"reference", event.Reference,
			"paid_at", event.PaidAt,
			"error", err,
		)
	}
	c.String(http.StatusOK, "OK")
}
