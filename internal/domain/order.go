package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
	OrderFailed  OrderStatus = "failed"
	OrderExpired OrderStatus = "expired"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderFailed || s == OrderExpired
}

type Order struct {
	ID            string
	Amount        decimal.Decimal
	Status        OrderStatus
	Method        Method
	CustomerEmail string
	CustomerPhone string
	// Items is the priced cart snapshot as JSON, kept for fulfillment.
	Items     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}
