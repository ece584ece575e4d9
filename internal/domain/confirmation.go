package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DerivedOrderPrefix marks order ids synthesized from a bank reference.
const DerivedOrderPrefix = "Ref-"

// ConfirmationEvent is a gateway settlement notice that passed authentication.
type ConfirmationEvent struct {
	OrderID        string
	OrderIDDerived bool
	Amount         decimal.Decimal
	Entity         string
	Reference      string
	RequestID      string
	PaidAt         time.Time
	RawMethod      string

	// PaidAtEstimated is set when the gateway sent no usable timestamp and
	// PaidAt is the receipt time.
	PaidAtEstimated bool
}

// DedupKey identifies a payment so gateway retries can be absorbed. It is
// built only from values the gateway repeats on every delivery.
func (e ConfirmationEvent) DedupKey() string {
	switch {
	case e.Reference != "":
		return e.OrderID + "|" + e.Reference
	case e.RequestID != "":
		return e.OrderID + "|req:" + e.RequestID
	case !e.PaidAtEstimated:
		return e.OrderID + "|" + e.PaidAt.UTC().Format(time.RFC3339)
	default:
		return e.OrderID + "|amount:" + e.Amount.StringFixed(2)
	}
}

type ConfirmationOutcome string

const (
	OutcomeApplied        ConfirmationOutcome = "applied"
	OutcomeDuplicate      ConfirmationOutcome = "duplicate"
	OutcomeOrderNotFound  ConfirmationOutcome = "order_not_found"
	OutcomeAmountMismatch ConfirmationOutcome = "amount_mismatch"
	OutcomeConflict       ConfirmationOutcome = "conflict"
)

// NeedsReview reports outcomes an operator has to look at.
func (o ConfirmationOutcome) NeedsReview() bool {
	return o == OutcomeOrderNotFound || o == OutcomeAmountMismatch || o == OutcomeConflict
}

// Confirmation is the stored record of a verified event.
type Confirmation struct {
	ID         uuid.UUID
	DedupKey   string
	OrderID    string
	Amount     decimal.Decimal
	Entity     string
	Reference  string
	RawMethod  string
	PaidAt     time.Time
	Outcome    ConfirmationOutcome
	ReceivedAt time.Time
}

func NewConfirmation(e ConfirmationEvent, now time.Time) *Confirmation {
	return &Confirmation{
		ID:         uuid.New(),
		DedupKey:   e.DedupKey(),
		OrderID:    e.OrderID,
		Amount:     e.Amount,
		Entity:     e.Entity,
		Reference:  e.Reference,
		RawMethod:  e.RawMethod,
		PaidAt:     e.PaidAt,
		Outcome:    OutcomeApplied,
		ReceivedAt: now,
	}
}
