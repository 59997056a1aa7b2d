package service

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// In-memory stores backing the service tests. They mirror the guarantees the
// real datastore provides: guarded balance updates, version-checked
// instrument writes, and the unique (holding, period) dividend constraint.

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type memAccountStore struct {
	m map[string]domain.Account
}

func (s *memAccountStore) Create(_ context.Context, a domain.Account) error {
	s.m[a.ID] = a
	return nil
}

func (s *memAccountStore) GetByID(_ context.Context, id string) (domain.Account, error) {
	a, ok := s.m[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *memAccountStore) AdjustBalances(_ context.Context, id string, availableDelta, frozenDelta, commissionDelta decimal.Decimal) (domain.Account, error) {
	a, ok := s.m[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	available := a.AvailableBalance.Add(availableDelta)
	frozen := a.FrozenBalance.Add(frozenDelta)
	if available.IsNegative() || frozen.IsNegative() {
		return domain.Account{}, domain.ErrInsufficientBalance
	}
	a.AvailableBalance = available
	a.FrozenBalance = frozen
	a.CommissionBalance = a.CommissionBalance.Add(commissionDelta)
	s.m[id] = a
	return a, nil
}

func (s *memAccountStore) SetStatus(_ context.Context, id string, status domain.AccountStatus) error {
	a, ok := s.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	s.m[id] = a
	return nil
}

type memInstrumentStore struct {
	m    map[string]domain.Instrument
	bars []domain.Bar
	// conflictsLeft injects ErrConflict into the next N market-state writes.
	conflictsLeft int
}

func (s *memInstrumentStore) Create(_ context.Context, inst domain.Instrument) error {
	s.m[inst.ID] = inst
	return nil
}

func (s *memInstrumentStore) GetByID(_ context.Context, id string) (domain.Instrument, error) {
	inst, ok := s.m[id]
	if !ok {
		return domain.Instrument{}, domain.ErrNotFound
	}
	return inst, nil
}

func (s *memInstrumentStore) ListActive(_ context.Context) ([]domain.Instrument, error) {
	var out []domain.Instrument
	for _, inst := range s.m {
		if inst.Active {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memInstrumentStore) UpdateMarketState(_ context.Context, inst domain.Instrument) error {
	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return domain.ErrConflict
	}
	stored, ok := s.m[inst.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != inst.Version {
		return domain.ErrConflict
	}
	inst.Version++
	s.m[inst.ID] = inst
	return nil
}

func (s *memInstrumentStore) UpdateStrategy(_ context.Context, inst domain.Instrument) error {
	stored, ok := s.m[inst.ID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.StrategyKind = inst.StrategyKind
	stored.StrategyTargetPercent = inst.StrategyTargetPercent
	stored.StrategyTargetMinutes = inst.StrategyTargetMinutes
	stored.LimitUpPercent = inst.LimitUpPercent
	stored.LimitDownPercent = inst.LimitDownPercent
	stored.MaxBuyQty = inst.MaxBuyQty
	stored.MaxSellQty = inst.MaxSellQty
	stored.TakeProfitPercent = inst.TakeProfitPercent
	stored.StopLossPercent = inst.StopLossPercent
	stored.DividendPerShare = inst.DividendPerShare
	stored.DividendIntervalDays = inst.DividendIntervalDays
	stored.FeePercent = inst.FeePercent
	stored.Active = inst.Active
	s.m[inst.ID] = stored
	return nil
}

func (s *memInstrumentStore) UpsertBar(_ context.Context, bar domain.Bar) error {
	for i := range s.bars {
		if s.bars[i].InstrumentID == bar.InstrumentID && s.bars[i].Period == bar.Period && s.bars[i].OpenedAt.Equal(bar.OpenedAt) {
			s.bars[i] = bar
			return nil
		}
	}
	s.bars = append(s.bars, bar)
	return nil
}

func (s *memInstrumentStore) ListBars(_ context.Context, instrumentID string, period domain.BarPeriod, _ domain.ListOpts) ([]domain.Bar, error) {
	var out []domain.Bar
	for _, bar := range s.bars {
		if bar.InstrumentID == instrumentID && bar.Period == period {
			out = append(out, bar)
		}
	}
	return out, nil
}

type memHoldingStore struct {
	m map[string]domain.Holding
}

func (s *memHoldingStore) Create(_ context.Context, h domain.Holding) error {
	s.m[h.ID] = h
	return nil
}

func (s *memHoldingStore) Update(_ context.Context, h domain.Holding) error {
	if _, ok := s.m[h.ID]; !ok {
		return domain.ErrNotFound
	}
	s.m[h.ID] = h
	return nil
}

func (s *memHoldingStore) GetByID(_ context.Context, id string) (domain.Holding, error) {
	h, ok := s.m[id]
	if !ok {
		return domain.Holding{}, domain.ErrNotFound
	}
	return h, nil
}

func (s *memHoldingStore) GetOpen(_ context.Context, accountID, instrumentID string) (domain.Holding, error) {
	for _, h := range s.m {
		if h.AccountID == accountID && h.InstrumentID == instrumentID && h.Status != domain.HoldingStatusClosed {
			return h, nil
		}
	}
	return domain.Holding{}, domain.ErrNotFound
}

func (s *memHoldingStore) ListOpenByAccount(_ context.Context, accountID string) ([]domain.Holding, error) {
	var out []domain.Holding
	for _, h := range s.m {
		if h.AccountID == accountID && h.Status != domain.HoldingStatusClosed {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memHoldingStore) ListOpenByInstrument(_ context.Context, instrumentID string) ([]domain.Holding, error) {
	var out []domain.Holding
	for _, h := range s.m {
		if h.InstrumentID == instrumentID && h.Status != domain.HoldingStatusClosed {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memHoldingStore) MarkToMarket(_ context.Context, instrumentID string, mark decimal.Decimal) (int64, error) {
	var n int64
	for id, h := range s.m {
		if h.InstrumentID == instrumentID && h.Status != domain.HoldingStatusClosed {
			h.LastMarkPrice = mark
			h.UnrealizedPnL = h.MarkedPnL(mark)
			s.m[id] = h
			n++
		}
	}
	return n, nil
}

type memOrderStore struct {
	m     map[string]domain.Order
	order []string
}

func (s *memOrderStore) Create(_ context.Context, o domain.Order) error {
	s.m[o.ID] = o
	s.order = append(s.order, o.ID)
	return nil
}

func (s *memOrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	o, ok := s.m[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOrderStore) ListByAccount(_ context.Context, accountID string, _ domain.ListOpts) ([]domain.Order, error) {
	var out []domain.Order
	for _, id := range s.order {
		if s.m[id].AccountID == accountID {
			out = append(out, s.m[id])
		}
	}
	return out, nil
}

func (s *memOrderStore) ListBefore(_ context.Context, before time.Time) ([]domain.Order, error) {
	var out []domain.Order
	for _, id := range s.order {
		if s.m[id].CreatedAt.Before(before) {
			out = append(out, s.m[id])
		}
	}
	return out, nil
}

type memLedgerStore struct {
	entries []domain.LedgerEntry
}

func (s *memLedgerStore) Append(_ context.Context, e domain.LedgerEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

func (s *memLedgerStore) ListByAccount(_ context.Context, accountID string, _ domain.ListOpts) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memLedgerStore) SumByAccount(_ context.Context, accountID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range s.entries {
		if e.AccountID == accountID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (s *memLedgerStore) ListBefore(_ context.Context, before time.Time) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memDepositStore struct {
	m map[string]domain.DepositRequest
}

func (s *memDepositStore) Create(_ context.Context, d domain.DepositRequest) error {
	s.m[d.ID] = d
	return nil
}

func (s *memDepositStore) GetByID(_ context.Context, id string) (domain.DepositRequest, error) {
	d, ok := s.m[id]
	if !ok {
		return domain.DepositRequest{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *memDepositStore) Update(_ context.Context, d domain.DepositRequest) error {
	if _, ok := s.m[d.ID]; !ok {
		return domain.ErrNotFound
	}
	s.m[d.ID] = d
	return nil
}

func (s *memDepositStore) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, d := range s.m {
		if d.Status == domain.DepositStatusAwaitingPayment && d.ExpiredBy(now) {
			d.Status = domain.DepositStatusExpired
			s.m[id] = d
			n++
		}
	}
	return n, nil
}

func (s *memDepositStore) ListByAccount(_ context.Context, accountID string, _ domain.ListOpts) ([]domain.DepositRequest, error) {
	var out []domain.DepositRequest
	for _, d := range s.m {
		if d.AccountID == accountID {
			out = append(out, d)
		}
	}
	return out, nil
}

type memWithdrawalStore struct {
	m map[string]domain.WithdrawalRequest
}

func (s *memWithdrawalStore) Create(_ context.Context, w domain.WithdrawalRequest) error {
	s.m[w.ID] = w
	return nil
}

func (s *memWithdrawalStore) GetByID(_ context.Context, id string) (domain.WithdrawalRequest, error) {
	w, ok := s.m[id]
	if !ok {
		return domain.WithdrawalRequest{}, domain.ErrNotFound
	}
	return w, nil
}

func (s *memWithdrawalStore) Update(_ context.Context, w domain.WithdrawalRequest) error {
	if _, ok := s.m[w.ID]; !ok {
		return domain.ErrNotFound
	}
	s.m[w.ID] = w
	return nil
}

func (s *memWithdrawalStore) ListByAccount(_ context.Context, accountID string, _ domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	for _, w := range s.m {
		if w.AccountID == accountID {
			out = append(out, w)
		}
	}
	return out, nil
}

type memCommissionStore struct {
	m map[string]domain.CommissionRecord
}

func (s *memCommissionStore) Create(_ context.Context, c domain.CommissionRecord) error {
	s.m[c.ID] = c
	return nil
}

func (s *memCommissionStore) ListUnsettled(_ context.Context, through time.Time) ([]domain.CommissionRecord, error) {
	var out []domain.CommissionRecord
	for _, c := range s.m {
		if !c.Settled && !c.DayBucket.After(through) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BeneficiaryID != out[j].BeneficiaryID {
			return out[i].BeneficiaryID < out[j].BeneficiaryID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memCommissionStore) MarkSettled(_ context.Context, ids []string, at time.Time) error {
	for _, id := range ids {
		c, ok := s.m[id]
		if !ok {
			return domain.ErrNotFound
		}
		c.Settled = true
		settledAt := at
		c.SettledAt = &settledAt
		s.m[id] = c
	}
	return nil
}

func (s *memCommissionStore) ListByBeneficiary(_ context.Context, accountID string, _ domain.ListOpts) ([]domain.CommissionRecord, error) {
	var out []domain.CommissionRecord
	for _, c := range s.m {
		if c.BeneficiaryID == accountID {
			out = append(out, c)
		}
	}
	return out, nil
}

type memDividendStore struct {
	records []domain.DividendRecord
}

func (s *memDividendStore) Create(_ context.Context, r domain.DividendRecord) error {
	for _, existing := range s.records {
		if existing.HoldingID == r.HoldingID && existing.PeriodIndex == r.PeriodIndex {
			return domain.ErrAlreadyExists
		}
	}
	s.records = append(s.records, r)
	return nil
}

func (s *memDividendStore) GetLastForHolding(_ context.Context, holdingID string) (domain.DividendRecord, error) {
	var last *domain.DividendRecord
	for i := range s.records {
		if s.records[i].HoldingID != holdingID {
			continue
		}
		if last == nil || s.records[i].PeriodIndex > last.PeriodIndex {
			last = &s.records[i]
		}
	}
	if last == nil {
		return domain.DividendRecord{}, domain.ErrNotFound
	}
	return *last, nil
}

type auditEvent struct {
	event  string
	detail map[string]any
}

type memAuditStore struct {
	events []auditEvent
}

func (s *memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.events = append(s.events, auditEvent{event: event, detail: detail})
	return nil
}

// memTx snapshots all stores before running the function and restores them
// when it errors, matching the rollback the real transaction runner provides.
type memTx struct {
	env *testEnv
}

func (tx memTx) InTx(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	snap := tx.env.snapshot()
	if err := fn(ctx, tx.env.stores); err != nil {
		tx.env.restore(snap)
		return err
	}
	return nil
}

// stubLimiter returns a fixed verdict.
type stubLimiter struct {
	allow bool
}

func (l stubLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, nil
}

type quoteUpdate struct {
	instrumentID string
	price        decimal.Decimal
	ts           time.Time
}

type stubQuoteCache struct {
	updates []quoteUpdate
}

func (c *stubQuoteCache) SetQuote(_ context.Context, instrumentID string, price decimal.Decimal, ts time.Time) error {
	c.updates = append(c.updates, quoteUpdate{instrumentID: instrumentID, price: price, ts: ts})
	return nil
}

func (c *stubQuoteCache) GetQuote(context.Context, string) (decimal.Decimal, time.Time, error) {
	return decimal.Zero, time.Time{}, domain.ErrNotFound
}

// testEnv bundles the in-memory stores behind the domain.Stores interface the
// services consume.
type testEnv struct {
	accounts    *memAccountStore
	instruments *memInstrumentStore
	holdings    *memHoldingStore
	orders      *memOrderStore
	ledger      *memLedgerStore
	deposits    *memDepositStore
	withdrawals *memWithdrawalStore
	commissions *memCommissionStore
	dividends   *memDividendStore
	audit       *memAuditStore

	stores domain.Stores
	tx     memTx
}

func newTestEnv() *testEnv {
	env := &testEnv{
		accounts:    &memAccountStore{m: make(map[string]domain.Account)},
		instruments: &memInstrumentStore{m: make(map[string]domain.Instrument)},
		holdings:    &memHoldingStore{m: make(map[string]domain.Holding)},
		orders:      &memOrderStore{m: make(map[string]domain.Order)},
		ledger:      &memLedgerStore{},
		deposits:    &memDepositStore{m: make(map[string]domain.DepositRequest)},
		withdrawals: &memWithdrawalStore{m: make(map[string]domain.WithdrawalRequest)},
		commissions: &memCommissionStore{m: make(map[string]domain.CommissionRecord)},
		dividends:   &memDividendStore{},
		audit:       &memAuditStore{},
	}
	env.stores = domain.Stores{
		Accounts:    env.accounts,
		Instruments: env.instruments,
		Holdings:    env.holdings,
		Orders:      env.orders,
		Ledger:      env.ledger,
		Deposits:    env.deposits,
		Withdrawals: env.withdrawals,
		Commissions: env.commissions,
		Dividends:   env.dividends,
		Audit:       env.audit,
	}
	env.tx = memTx{env: env}
	return env
}

type envSnapshot struct {
	accounts      map[string]domain.Account
	instruments   map[string]domain.Instrument
	bars          []domain.Bar
	holdings      map[string]domain.Holding
	orders        map[string]domain.Order
	orderSeq      []string
	ledger        []domain.LedgerEntry
	deposits      map[string]domain.DepositRequest
	withdrawals   map[string]domain.WithdrawalRequest
	commissions   map[string]domain.CommissionRecord
	dividends     []domain.DividendRecord
	audits        []auditEvent
}

func (env *testEnv) snapshot() envSnapshot {
	return envSnapshot{
		accounts:      maps.Clone(env.accounts.m),
		instruments:   maps.Clone(env.instruments.m),
		bars:          slices.Clone(env.instruments.bars),
		holdings:      maps.Clone(env.holdings.m),
		orders:        maps.Clone(env.orders.m),
		orderSeq:      slices.Clone(env.orders.order),
		ledger:        slices.Clone(env.ledger.entries),
		deposits:      maps.Clone(env.deposits.m),
		withdrawals:   maps.Clone(env.withdrawals.m),
		commissions:   maps.Clone(env.commissions.m),
		dividends:     slices.Clone(env.dividends.records),
		audits:        slices.Clone(env.audit.events),
	}
}

func (env *testEnv) restore(s envSnapshot) {
	env.accounts.m = s.accounts
	env.instruments.m = s.instruments
	env.instruments.bars = s.bars
	env.holdings.m = s.holdings
	env.orders.m = s.orders
	env.orders.order = s.orderSeq
	env.ledger.entries = s.ledger
	env.deposits.m = s.deposits
	env.withdrawals.m = s.withdrawals
	env.commissions.m = s.commissions
	env.dividends.records = s.dividends
	env.audit.events = s.audits
}

func (env *testEnv) addAccount(id string, available string) domain.Account {
	a := domain.Account{
		ID:               id,
		Role:             domain.RoleUser,
		Status:           domain.AccountStatusActive,
		AvailableBalance: dec(available),
		FrozenBalance:    decimal.Zero,
		CreatedAt:        time.Now().UTC(),
	}
	env.accounts.m[id] = a
	return a
}

func (env *testEnv) addInstrument(inst domain.Instrument) domain.Instrument {
	env.instruments.m[inst.ID] = inst
	return inst
}

// tradableInstrument is a plain active instrument quoted inside its band.
func tradableInstrument(id string) domain.Instrument {
	return domain.Instrument{
		ID:               id,
		Symbol:           "SYN",
		Name:             "Synthetic One",
		Active:           true,
		BasePrice:        dec("100"),
		QuotedPrice:      dec("100"),
		OpenPrice:        dec("100"),
		DayHigh:          dec("100"),
		DayLow:           dec("100"),
		DayOpenedAt:      time.Now().UTC(),
		StrategyKind:     domain.StrategyFree,
		LimitUpPercent:   dec("10"),
		LimitDownPercent: dec("10"),
		MinOrderQty:      dec("1"),
		FeePercent:       dec("1"),
	}
}
