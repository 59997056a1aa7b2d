package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerKind types every balance-affecting event.
type LedgerKind string

const (
	LedgerKindDeposit    LedgerKind = "deposit"
	LedgerKindWithdraw   LedgerKind = "withdraw"
	LedgerKindTrade      LedgerKind = "trade"
	LedgerKindCommission LedgerKind = "commission"
	LedgerKindDividend   LedgerKind = "dividend"
	LedgerKindAdjustment LedgerKind = "adjustment"
)

// LedgerEntry is the immutable audit record balances are derived from. Every
// balance mutation writes its entry in the same transaction, so the sum of
// signed amounts for an account always equals available + frozen.
type LedgerEntry struct {
	ID        string
	AccountID string
	Kind      LedgerKind
	// Amount is the signed delta applied across the account's available and
	// frozen buckets combined. Internal freeze/unfreeze moves are zero-sum
	// and write no entry.
	Amount decimal.Decimal
	// BalanceAfter snapshots available + frozen after the delta.
	BalanceAfter decimal.Decimal
	Description  string
	RefID        *string
	RefKind      string // order | deposit | withdrawal | dividend | commission
	CreatedAt    time.Time
}
