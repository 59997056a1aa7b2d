package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus is terminal at creation time: orders are filled or rejected
// synchronously within one execution, never left pending.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
)

// Order records one execution against the quoted price.
type Order struct {
	ID           string
	AccountID    string
	InstrumentID string
	Side         OrderSide
	Quantity     decimal.Decimal
	FillPrice    decimal.Decimal
	GrossAmount  decimal.Decimal // quantity * fillPrice
	Fee          decimal.Decimal
	// NetAmount is the signed cash flow applied to the account: negative
	// for buys (gross + fee), positive for sells (gross - fee).
	NetAmount   decimal.Decimal
	RealizedPnL decimal.Decimal // sells only
	Status      OrderStatus
	Reason      string // rejection reason, empty when filled
	CreatedAt   time.Time
}
