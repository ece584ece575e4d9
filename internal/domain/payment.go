package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodOfflineReference Method = "offline-reference"
	MethodPushToPhone      Method = "push-to-phone"
	MethodCashVoucher      Method = "cash-voucher"
	MethodHostedCard       Method = "hosted-card"
	MethodHostedLink       Method = "hosted-link"
)

// Methods lists every method in display order.
var Methods = []Method{
	MethodOfflineReference,
	MethodPushToPhone,
	MethodCashVoucher,
	MethodHostedCard,
	MethodHostedLink,
}

func (m Method) Valid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

type CustomerContact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// PaymentRequest is one checkout attempt sent to the gateway.
type PaymentRequest struct {
	OrderID string
	Amount  decimal.Decimal
	Method  Method
	Contact *CustomerContact
}

type PushStatus string

const (
	PushPending  PushStatus = "pending"
	PushAccepted PushStatus = "accepted"
	PushDeclined PushStatus = "declined"
	PushExpired  PushStatus = "expired"
)

// PaymentInstructions is what the payer needs to complete a payment.
// Only the fields relevant to Method are set.
type PaymentInstructions struct {
	Method     Method          `json:"method"`
	OrderID    string          `json:"orderId"`
	Amount     decimal.Decimal `json:"amount"`
	Entity     string          `json:"entity,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	PushStatus PushStatus      `json:"status,omitempty"`
	PaymentURL string          `json:"paymentUrl,omitempty"`
	ValidUntil *time.Time      `json:"validUntil,omitempty"`
}

type PaymentStatus string

const (
	PaymentCreated              PaymentStatus = "created"
	PaymentSubmitted            PaymentStatus = "submitted"
	PaymentInstructionsReturned PaymentStatus = "instructions_returned"
	PaymentRejected             PaymentStatus = "rejected"
	PaymentFailed               PaymentStatus = "failed"
)

// Payment is a single attempt to collect an order through one method.
type Payment struct {
	ID         uuid.UUID
	OrderID    string
	Method     Method
	Amount     decimal.Decimal
	Status     PaymentStatus
	Entity     string
	Reference  string
	RequestID  string
	PaymentURL string
	ValidUntil *time.Time
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Instructions rebuilds the payer-facing view of a returned attempt.
func (p *Payment) Instructions() *PaymentInstructions {
	in := &PaymentInstructions{
		Method:     p.Method,
		OrderID:    p.OrderID,
		Amount:     p.Amount,
		Entity:     p.Entity,
		Reference:  p.Reference,
		RequestID:  p.RequestID,
		PaymentURL: p.PaymentURL,
		ValidUntil: p.ValidUntil,
	}
	if p.Method == MethodPushToPhone {
		in.PushStatus = PushPending
	}
	return in
}
