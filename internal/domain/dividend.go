package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DividendRecord proves a holding was paid for one elapsed interval. The
// (HoldingID, PeriodIndex) pair is unique in the datastore; the record is
// written in the same transaction as the balance credit, so its existence is
// the idempotency guard against double payment.
type DividendRecord struct {
	ID           string
	HoldingID    string
	AccountID    string
	InstrumentID string
	Amount       decimal.Decimal
	HoldingDays  int
	// PeriodIndex counts full dividend intervals since the holding was
	// created: floor(holdingDays / intervalDays) at payout time.
	PeriodIndex int
	PaidAt      time.Time
}

// DividendPeriod computes the holding age in days and the interval index it
// falls in. A zero index means the first interval has not elapsed yet.
func DividendPeriod(createdAt, now time.Time, intervalDays int) (holdingDays, periodIndex int) {
	if intervalDays <= 0 {
		return 0, 0
	}
	holdingDays = int(now.Sub(createdAt).Hours() / 24)
	if holdingDays < 0 {
		holdingDays = 0
	}
	return holdingDays, holdingDays / intervalDays
}
