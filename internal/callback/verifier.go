// Package callback authenticates settlement notices sent by the payment
// gateway and turns them into confirmation events.
package callback

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"printshop-checkout/internal/domain"
)

var (
	ErrUnauthenticated     = errors.New("callback secret mismatch")
	ErrSecretNotConfigured = errors.New("callback secret not configured")
)

// IntegrationError means an authenticated callback lacks data we need.
type IntegrationError struct {
	Field string
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("callback is missing %s", e.Field)
}

type field string

const (
	fieldSecret    field = "secret"
	fieldOrderID   field = "orderId"
	fieldAmount    field = "amount"
	fieldEntity    field = "entity"
	fieldReference field = "reference"
	fieldPaidAt    field = "paidAt"
	fieldMethod    field = "method"
	fieldRequestID field = "requestId"
)

// aliases lists, per field, the query keys the gateway may use, in order of preference.
var aliases = map[field][]string{
	fieldSecret:    {"key", "chave"},
	fieldOrderID:   {"orderId", "order_id", "id"},
	fieldAmount:    {"amount", "valor"},
	fieldEntity:    {"entity", "entidade"},
	fieldReference: {"reference", "referencia"},
	fieldPaidAt:    {"payment_datetime", "datahorapag"},
	fieldMethod:    {"payment_method", "metodo"},
	fieldRequestID: {"requestId", "idpedido"},
}

var paidAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
}

type Verifier struct {
	secret   string
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

func NewVerifier(secret string, location *time.Location, logger *slog.Logger) *Verifier {
	if location == nil {
		location = time.UTC
	}
	if secret == "" {
		logger.Error("Callback secret is not configured, every callback will be refused")
	}
	return &Verifier{secret: secret, location: location, logger: logger, now: time.Now}
}

// resolve picks the first alias of f that carries a value.
func resolve(q url.Values, f field) (string, bool) {
	for _, key := range aliases[f] {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v, true
		}
	}
	return "", false
}

func (v *Verifier) Verify(q url.Values) (*domain.ConfirmationEvent, error) {
	if v.secret == "" {
		return nil, ErrSecretNotConfigured
	}
	sent, _ := resolve(q, fieldSecret)
	if subtle.ConstantTimeCompare([]byte(sent), []byte(v.secret)) != 1 {
		return nil, ErrUnauthenticated
	}

	event := &domain.ConfirmationEvent{}
	event.Entity, _ = resolve(q, fieldEntity)
	event.Reference, _ = resolve(q, fieldReference)
	event.RequestID, _ = resolve(q, fieldRequestID)

	orderID, ok := resolve(q, fieldOrderID)
	switch {
	case ok:
		event.OrderID = orderID
	case event.Reference != "":
		event.OrderID = domain.DerivedOrderPrefix + event.Reference
		event.OrderIDDerived = true
	default:
		return nil, &IntegrationError{Field: string(fieldOrderID)}
	}

	rawAmount, ok := resolve(q, fieldAmount)
	if !ok {
		return nil, &IntegrationError{Field: string(fieldAmount)}
	}
	// Some gateway channels send a decimal comma.
	amount, err := decimal.NewFromString(strings.Replace(rawAmount, ",", ".", 1))
	if err != nil {
		return nil, &IntegrationError{Field: string(fieldAmount)}
	}
	event.Amount = amount

	event.PaidAt = v.now().UTC()
	event.PaidAtEstimated = true
	if raw, ok := resolve(q, fieldPaidAt); ok {
		paidAt, err := v.parsePaidAt(raw)
		if err != nil {
			v.logger.Warn("Unreadable payment timestamp, using receipt time", "order_id", event.OrderID, "value", raw)
		} else {
			event.PaidAt = paidAt
			event.PaidAtEstimated = false
		}
	} else {
		v.logger.Warn("Callback has no payment timestamp, using receipt time", "order_id", event.OrderID)
	}

	event.RawMethod, _ = resolve(q, fieldMethod)
	if event.RawMethod == "" && event.Entity != "" {
		event.RawMethod = string(domain.MethodOfflineReference)
	}
	return event, nil
}

func (v *Verifier) parsePaidAt(raw string) (time.Time, error) {
	for _, layout := range paidAtLayouts {
		if t, err := time.ParseInLocation(layout, raw, v.location); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}
