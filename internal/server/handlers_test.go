package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printshop-checkout/internal/callback"
	"printshop-checkout/internal/domain"
	"printshop-checkout/internal/infrastructure/payment"
	"printshop-checkout/internal/pricing"
	"printshop-checkout/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockOrderService struct {
	QuoteFunc       func(cart pricing.Cart) pricing.Quote
	CreateOrderFunc func(ctx context.Context, cart pricing.Cart, contact domain.CustomerContact) (*domain.Order, error)
	GetOrderFunc    func(ctx context.Context, id string) (*domain.Order, error)
	CheckoutFunc    func(ctx context.Context, id string, method domain.Method, contact *domain.CustomerContact) (*domain.PaymentInstructions, error)
	MethodsFunc     func() []domain.Method
}

func (m *MockOrderService) Quote(cart pricing.Cart) pricing.Quote {
	if m.QuoteFunc != nil {
		return m.QuoteFunc(cart)
	}
	return pricing.NewCalculator(pricing.DefaultRules).Quote(cart)
}

func (m *MockOrderService) CreateOrder(ctx context.Context, cart pricing.Cart, contact domain.CustomerContact) (*domain.Order, error) {
	return m.CreateOrderFunc(ctx, cart, contact)
}

func (m *MockOrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return m.GetOrderFunc(ctx, id)
}

func (m *MockOrderService) Checkout(ctx context.Context, id string, method domain.Method, contact *domain.CustomerContact) (*domain.PaymentInstructions, error) {
	return m.CheckoutFunc(ctx, id, method, contact)
}

func (m *MockOrderService) AvailableMethods() []domain.Method {
	if m.MethodsFunc != nil {
		return m.MethodsFunc()
	}
	return nil
}

type recordingApplier struct {
	mu     sync.Mutex
	events []domain.ConfirmationEvent
	err    error
}

func (r *recordingApplier) ApplyConfirmation(ctx context.Context, event domain.ConfirmationEvent) (service.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return service.Result{Applied: r.err == nil, OrderID: event.OrderID}, r.err
}

type fakeDB struct {
	stats map[string]string
}

func (f fakeDB) Health() map[string]string { return f.stats }
func (f fakeDB) Close() error              { return nil }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(orders *MockOrderService, secret string) (*Server, *recordingApplier) {
	applier := &recordingApplier{}
	s := NewServer(Deps{
		Orders:     orders,
		Verifier:   callback.NewVerifier(secret, time.UTC, discard()),
		Reconciler: applier,
		DB:         fakeDB{stats: map[string]string{"status": "up"}},
	}, discard())
	return s, applier
}

func do(s *Server, method, target string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCallback_ConfirmationAliasesAccepted(t *testing.T) {
	s, applier := newTestServer(&MockOrderService{}, "SECRET")

	w := do(s, http.MethodGet, "/api/payments/callback?chave=SECRET&entidade=12345&referencia=987654321&valor=45.00&datahorapag=2025-01-15T10:00:00", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	require.Len(t, applier.events, 1)
	ev := applier.events[0]
	assert.Equal(t, "Ref-987654321", ev.OrderID)
	assert.True(t, ev.OrderIDDerived)
	assert.True(t, ev.Amount.Equal(decimal.RequireFromString("45.00")))
}

func TestCallback_WrongSecretIsForbidden(t *testing.T) {
	s, applier := newTestServer(&MockOrderService{}, "SECRET")

	for _, q := range []string{
		"chave=WRONG&orderId=ORD1&valor=45.00",
		"key=WRONG&orderId=ORD1&amount=45.00",
		"orderId=ORD1&amount=45.00",
	} {
		w := do(s, http.MethodGet, "/api/payments/callback?"+q, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, q)
	}
	assert.Empty(t, applier.events)
}

func TestCallback_UnconfiguredSecretFailsClosed(t *testing.T) {
	s, applier := newTestServer(&MockOrderService{}, "")

	w := do(s, http.MethodGet, "/api/payments/callback?chave=&orderId=ORD1&valor=45.00", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, applier.events)
}

func TestCallback_IncompleteEventStillAnswersOK(t *testing.T) {
	s, applier := newTestServer(&MockOrderService{}, "SECRET")

	w := do(s, http.MethodGet, "/api/payments/callback?chave=SECRET&orderId=ORD1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, applier.events)
}

func TestCallback_ReconcilerFailureStillAnswersOK(t *testing.T) {
	s, applier := newTestServer(&MockOrderService{}, "SECRET")
	applier.err = errors.New("db down")

	w := do(s, http.MethodGet, "/api/payments/callback?key=SECRET&orderId=ORD1&amount=45.00&reference=1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Len(t, applier.events, 1)
}

func TestCreatePayment_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"not found", service.ErrOrderNotFound, http.StatusNotFound, "order not found"},
		{"not pending", service.ErrOrderNotPending, http.StatusConflict, ""},
		{"configuration", &payment.Error{Kind: payment.KindConfiguration}, http.StatusServiceUnavailable, "payment method unavailable"},
		{"transient", &payment.Error{Kind: payment.KindTransient}, http.StatusBadGateway, ""},
		{"rejected", &payment.Error{Kind: payment.KindRejected, Code: "999", Message: "Payment declined"}, http.StatusPaymentRequired, "Payment declined"},
		{"malformed", &payment.Error{Kind: payment.KindMalformed}, http.StatusBadGateway, ""},
		{"invalid", &payment.Error{Kind: payment.KindInvalidRequest, Message: "mobile number required"}, http.StatusBadRequest, "mobile number required"},
		{"other", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(&MockOrderService{
				CheckoutFunc: func(context.Context, string, domain.Method, *domain.CustomerContact) (*domain.PaymentInstructions, error) {
					return nil, tt.err
				},
			}, "SECRET")

			w := do(s, http.MethodPost, "/api/orders/ORD1/payments", gin.H{"method": "offline-reference"})

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			if tt.msg != "" {
				assert.Equal(t, tt.msg, body["message"])
			}
		})
	}
}

func TestCreatePayment_ReturnsInstructions(t *testing.T) {
	var gotContact *domain.CustomerContact
	s, _ := newTestServer(&MockOrderService{
		CheckoutFunc: func(ctx context.Context, id string, method domain.Method, contact *domain.CustomerContact) (*domain.PaymentInstructions, error) {
			gotContact = contact
			return &domain.PaymentInstructions{
				Method:     method,
				OrderID:    id,
				Amount:     decimal.RequireFromString("45.00"),
				RequestID:  "REQ1",
				PushStatus: domain.PushPending,
			}, nil
		},
	}, "SECRET")

	w := do(s, http.MethodPost, "/api/orders/ORD1/payments", gin.H{"method": "push-to-phone", "phone": "912345678"})

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	ins := body["instructions"].(map[string]any)
	assert.Equal(t, "ORD1", ins["orderId"])
	assert.Equal(t, "45", ins["amount"])
	assert.Equal(t, "pending", ins["status"])
	require.NotNil(t, gotContact)
	assert.Equal(t, "912345678", gotContact.Phone)
}

func TestCreatePayment_BadBody(t *testing.T) {
	s, _ := newTestServer(&MockOrderService{}, "SECRET")

	w := do(s, http.MethodPost, "/api/orders/ORD1/payments", gin.H{"phone": "912345678"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuote_FlagsUndersizedLines(t *testing.T) {
	s, _ := newTestServer(&MockOrderService{}, "SECRET")

	w := do(s, http.MethodPost, "/api/cart/quote", gin.H{"items": []gin.H{
		{"productId": "banner", "pricePerArea": "15", "widthCm": "200", "heightCm": "150", "quantity": 1},
		{"productId": "banner", "pricePerArea": "15", "widthCm": "90", "heightCm": "150", "quantity": 1},
	}})

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["checkoutable"])
	quote := body["quote"].(map[string]any)
	assert.Equal(t, "45", quote["total"])
	lines := quote["lines"].([]any)
	assert.Equal(t, false, lines[1].(map[string]any)["valid"])
}

func TestCreateOrder(t *testing.T) {
	created := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	s, _ := newTestServer(&MockOrderService{
		CreateOrderFunc: func(ctx context.Context, cart pricing.Cart, contact domain.CustomerContact) (*domain.Order, error) {
			if len(cart.Items) != 1 {
				return nil, &service.CartError{}
			}
			return &domain.Order{
				ID:            "ORD1",
				Amount:        decimal.RequireFromString("45.00"),
				Status:        domain.OrderPending,
				CustomerEmail: contact.Email,
				Items:         []byte(`[{"lineTotal":"45"}]`),
				CreatedAt:     created,
			}, nil
		},
	}, "SECRET")

	w := do(s, http.MethodPost, "/api/orders", gin.H{
		"items":   []gin.H{{"productId": "banner", "pricePerArea": "15", "widthCm": "200", "heightCm": "150", "quantity": 1}},
		"contact": gin.H{"email": "ana@example.pt"},
	})

	require.Equal(t, http.StatusCreated, w.Code)
	order := decode(t, w)["order"].(map[string]any)
	assert.Equal(t, "ORD1", order["id"])
	assert.Equal(t, "pending", order["status"])
	assert.NotContains(t, w.Body.String(), "ana@example.pt")
	assert.Len(t, order["items"], 1)

	w = do(s, http.MethodPost, "/api/orders", gin.H{"items": []gin.H{}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetOrder(t *testing.T) {
	s, _ := newTestServer(&MockOrderService{
		GetOrderFunc: func(ctx context.Context, id string) (*domain.Order, error) {
			if id != "ORD1" {
				return nil, service.ErrOrderNotFound
			}
			return &domain.Order{ID: "ORD1", Amount: decimal.RequireFromString("45.00"), Status: domain.OrderPaid}, nil
		},
	}, "SECRET")

	w := do(s, http.MethodGet, "/api/orders/ORD1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paid", decode(t, w)["status"])

	w = do(s, http.MethodGet, "/api/orders/ORD2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMethods(t *testing.T) {
	s, _ := newTestServer(&MockOrderService{
		MethodsFunc: func() []domain.Method { return []domain.Method{domain.MethodOfflineReference} },
	}, "SECRET")

	w := do(s, http.MethodGet, "/api/payments/methods", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"methods":["offline-reference"]}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(&MockOrderService{}, "SECRET")
	w := do(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s.deps.DB = fakeDB{stats: map[string]string{"status": "down"}}
	w = do(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
