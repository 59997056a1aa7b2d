package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role controls which operations an authenticated identity may perform. The
// identity itself is issued upstream; the engine only consumes it.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// AccountStatus gates trading and funding operations.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusDisabled AccountStatus = "disabled"
)

// Account holds the three balance buckets and the referral link used by the
// commission cascade. AvailableBalance and FrozenBalance never go negative;
// the only flows between them are withdrawal freeze and withdrawal
// resolution.
type Account struct {
	ID                string
	Role              Role
	Status            AccountStatus
	AvailableBalance  decimal.Decimal
	FrozenBalance     decimal.Decimal
	CommissionBalance decimal.Decimal
	ReferredBy        *string
	// PositionLimits caps the post-fill holding quantity per instrument.
	// A missing key means unlimited.
	PositionLimits map[string]decimal.Decimal
	CreatedAt      time.Time
}

// Disabled reports whether the account is blocked from trading and funding.
func (a Account) Disabled() bool {
	return a.Status == AccountStatusDisabled
}

// PositionLimit returns the per-instrument cap and whether one is set.
func (a Account) PositionLimit(instrumentID string) (decimal.Decimal, bool) {
	if a.PositionLimits == nil {
		return Zero, false
	}
	lim, ok := a.PositionLimits[instrumentID]
	return lim, ok
}
