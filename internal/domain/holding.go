package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HoldingStatus tracks the lifecycle of a position. The stopped states are
// informational gates for reporting; they do not force liquidation.
type HoldingStatus string

const (
	HoldingStatusActive        HoldingStatus = "active"
	HoldingStatusClosed        HoldingStatus = "closed"
	HoldingStatusStoppedProfit HoldingStatus = "stopped_profit"
	HoldingStatusStoppedLoss   HoldingStatus = "stopped_loss"
)

// Holding is a per-account per-instrument position. Created on first fill,
// closed when quantity reaches zero. Only order execution and the dividend
// distributor mutate it.
type Holding struct {
	ID              string
	AccountID       string
	InstrumentID    string
	Quantity        decimal.Decimal
	WeightedAvgCost decimal.Decimal
	LastMarkPrice   decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	Status          HoldingStatus
	CreatedAt       time.Time
	ClosedAt        *time.Time
}

// MarkedPnL returns the unrealized P&L of the holding at the given mark
// price: quantity * (mark - weightedAvgCost).
func (h Holding) MarkedPnL(mark decimal.Decimal) decimal.Decimal {
	return RoundMoney(h.Quantity.Mul(mark.Sub(h.WeightedAvgCost)))
}

// Open reports whether the holding still carries quantity.
func (h Holding) Open() bool {
	return h.Status != HoldingStatusClosed && h.Quantity.IsPositive()
}
