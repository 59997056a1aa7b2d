package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AccountStore persists accounts and applies guarded balance mutations.
type AccountStore interface {
	Create(ctx context.Context, a Account) error
	GetByID(ctx context.Context, id string) (Account, error)
	// AdjustBalances atomically applies the three signed deltas and returns
	// the updated account. It fails with ErrInsufficientBalance when the
	// resulting available or frozen balance would go negative, without
	// applying anything.
	AdjustBalances(ctx context.Context, id string, availableDelta, frozenDelta, commissionDelta decimal.Decimal) (Account, error)
	SetStatus(ctx context.Context, id string, status AccountStatus) error
}

// InstrumentStore persists instruments and their bars.
type InstrumentStore interface {
	Create(ctx context.Context, inst Instrument) error
	GetByID(ctx context.Context, id string) (Instrument, error)
	ListActive(ctx context.Context) ([]Instrument, error)
	// UpdateMarketState writes the tick- and trade-mutable fields (quote,
	// momentum, day aggregates, sold supply) guarded by the version the
	// caller read. A stale version fails with ErrConflict and writes
	// nothing.
	UpdateMarketState(ctx context.Context, inst Instrument) error
	// UpdateStrategy writes administrator-configured fields; not version
	// guarded since only admins touch them.
	UpdateStrategy(ctx context.Context, inst Instrument) error
	UpsertBar(ctx context.Context, bar Bar) error
	ListBars(ctx context.Context, instrumentID string, period BarPeriod, opts ListOpts) ([]Bar, error)
}

// HoldingStore persists positions.
type HoldingStore interface {
	Create(ctx context.Context, h Holding) error
	Update(ctx context.Context, h Holding) error
	GetByID(ctx context.Context, id string) (Holding, error)
	// GetOpen returns the active holding for an account/instrument pair, or
	// ErrNotFound.
	GetOpen(ctx context.Context, accountID, instrumentID string) (Holding, error)
	ListOpenByAccount(ctx context.Context, accountID string) ([]Holding, error)
	ListOpenByInstrument(ctx context.Context, instrumentID string) ([]Holding, error)
	// MarkToMarket refreshes lastMarkPrice and unrealizedPnL of every open
	// holding of the instrument in one statement, returning rows touched.
	MarkToMarket(ctx context.Context, instrumentID string, mark decimal.Decimal) (int64, error)
}

// OrderStore persists executed orders.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]Order, error)
	ListBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// LedgerStore is the append-only audit trail.
type LedgerStore interface {
	Append(ctx context.Context, e LedgerEntry) error
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]LedgerEntry, error)
	// SumByAccount returns the sum of signed amounts for the account; used
	// by reconciliation checks against available + frozen.
	SumByAccount(ctx context.Context, accountID string) (decimal.Decimal, error)
	ListBefore(ctx context.Context, before time.Time) ([]LedgerEntry, error)
}

// DepositStore persists deposit requests.
type DepositStore interface {
	Create(ctx context.Context, d DepositRequest) error
	GetByID(ctx context.Context, id string) (DepositRequest, error)
	Update(ctx context.Context, d DepositRequest) error
	// ExpireOverdue flips awaiting_payment requests past their deadline to
	// expired, returning how many were swept.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]DepositRequest, error)
}

// WithdrawalStore persists withdrawal requests.
type WithdrawalStore interface {
	Create(ctx context.Context, w WithdrawalRequest) error
	GetByID(ctx context.Context, id string) (WithdrawalRequest, error)
	Update(ctx context.Context, w WithdrawalRequest) error
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]WithdrawalRequest, error)
}

// CommissionStore persists referral commission accruals.
type CommissionStore interface {
	Create(ctx context.Context, c CommissionRecord) error
	// ListUnsettled returns unsettled records with a day bucket at or before
	// the given day.
	ListUnsettled(ctx context.Context, through time.Time) ([]CommissionRecord, error)
	MarkSettled(ctx context.Context, ids []string, at time.Time) error
	ListByBeneficiary(ctx context.Context, accountID string, opts ListOpts) ([]CommissionRecord, error)
}

// DividendStore persists dividend payout records.
type DividendStore interface {
	// Create fails with ErrAlreadyExists when a record for the same holding
	// and period index exists; callers treat that as "already paid".
	Create(ctx context.Context, r DividendRecord) error
	GetLastForHolding(ctx context.Context, holdingID string) (DividendRecord, error)
}

// AuditStore persists an append-only log of administrative actions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// Stores bundles every store so services can run multi-entity writes inside
// one transaction via TxRunner.
type Stores struct {
	Accounts    AccountStore
	Instruments InstrumentStore
	Holdings    HoldingStore
	Orders      OrderStore
	Ledger      LedgerStore
	Deposits    DepositStore
	Withdrawals WithdrawalStore
	Commissions CommissionStore
	Dividends   DividendStore
	Audit       AuditStore
}

// TxRunner executes fn against transaction-bound stores. The transaction
// commits when fn returns nil and rolls back otherwise, so every write in fn
// is one atomic unit.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// QuoteCache publishes the latest quote per instrument for cheap reads by
// the API layer and websocket hub.
type QuoteCache interface {
	SetQuote(ctx context.Context, instrumentID string, price decimal.Decimal, ts time.Time) error
	GetQuote(ctx context.Context, instrumentID string) (decimal.Decimal, time.Time, error)
}

// RateLimiter bounds request rates per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Archiver moves aged rows to cold storage and reports how many it moved.
type Archiver interface {
	ArchiveLedger(ctx context.Context, before time.Time) (int64, error)
	ArchiveOrders(ctx context.Context, before time.Time) (int64, error)
}

// LockManager provides distributed locks so scheduled jobs run on one node.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
