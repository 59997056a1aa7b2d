package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commission tier constants: tier 1 is the buyer's direct referrer, tier 2
// the referrer's referrer.
const (
	CommissionTierDirect   = 1
	CommissionTierIndirect = 2
)

// CommissionRecord accrues referral commission per buy order, bucketed by
// day. A daily settlement pass sweeps unsettled records into the
// beneficiary's commission balance.
type CommissionRecord struct {
	ID            string
	BeneficiaryID string
	SourceID      string // account whose buy generated the commission
	OrderID       string
	Tier          int
	Amount        decimal.Decimal
	DayBucket     time.Time // date truncated to UTC midnight
	Settled       bool
	CreatedAt     time.Time
	SettledAt     *time.Time
}

// DayBucketOf truncates a timestamp to its UTC date.
func DayBucketOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
