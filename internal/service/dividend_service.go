package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mktsim/mktsim/internal/domain"
)

// DividendService pays holders of dividend-bearing instruments once per
// elapsed interval. Each payout is its own transaction so one bad holding
// never blocks the rest, and the unique (holding, period) record makes the
// pass safe to rerun at any time.
type DividendService struct {
	stores domain.Stores
	tx     domain.TxRunner
	logger *slog.Logger
}

// NewDividendService creates a DividendService.
func NewDividendService(stores domain.Stores, tx domain.TxRunner, logger *slog.Logger) *DividendService {
	return &DividendService{
		stores: stores,
		tx:     tx,
		logger: logger.With(slog.String("component", "dividend_service")),
	}
}

// RunDividendPass walks every open holding of every dividend-bearing
// instrument and credits one payout per holding whose next interval has
// elapsed. Returns how many payouts were made. Re-running the pass pays
// nothing extra: eligibility is derived from the last payout record and the
// datastore uniqueness constraint backs it up.
func (s *DividendService) RunDividendPass(ctx context.Context) (int, error) {
	instruments, err := s.stores.Instruments.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("dividend_service: list instruments: %w", err)
	}

	now := time.Now().UTC()
	paid := 0

	for _, inst := range instruments {
		if !inst.PaysDividends() {
			continue
		}

		holdings, err := s.stores.Holdings.ListOpenByInstrument(ctx, inst.ID)
		if err != nil {
			s.logger.Error("list holdings failed",
				slog.String("instrument", inst.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, h := range holdings {
			if err := ctx.Err(); err != nil {
				return paid, err
			}

			switch err := s.payHolding(ctx, inst, h.ID, now); {
			case err == nil:
				paid++
			case errors.Is(err, errNotDue):
			case errors.Is(err, domain.ErrAlreadyExists):
				// Lost a race with a concurrent pass; the other run paid.
			default:
				s.logger.Error("dividend payout failed",
					slog.String("holding", h.ID),
					slog.String("instrument", inst.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if paid > 0 {
		s.logger.Info("dividend pass complete", slog.Int("paid", paid))
	}
	return paid, nil
}

// errNotDue signals a holding whose next interval has not elapsed. Internal
// to the pass; never surfaces to callers.
var errNotDue = errors.New("dividend not due")

// payHolding credits one interval's dividend atomically: balance delta,
// ledger entry, and payout record commit or roll back together. The holding
// is reread inside the transaction so a concurrent sell cannot pay a closed
// position.
func (s *DividendService) payHolding(ctx context.Context, inst domain.Instrument, holdingID string, now time.Time) error {
	return s.tx.InTx(ctx, func(ctx context.Context, st domain.Stores) error {
		h, err := st.Holdings.GetByID(ctx, holdingID)
		if err != nil {
			return err
		}
		if !h.Open() {
			return errNotDue
		}

		holdingDays, periodIndex := domain.DividendPeriod(h.CreatedAt, now, inst.DividendIntervalDays)
		if periodIndex < 1 {
			return errNotDue
		}

		last, err := st.Dividends.GetLastForHolding(ctx, h.ID)
		switch {
		case err == nil:
			interval := time.Duration(inst.DividendIntervalDays) * 24 * time.Hour
			if periodIndex <= last.PeriodIndex || now.Sub(last.PaidAt) < interval {
				return errNotDue
			}
		case errors.Is(err, domain.ErrNotFound):
		default:
			return err
		}

		amount := domain.RoundMoney(h.Quantity.Mul(inst.DividendPerShare))
		if !amount.IsPositive() {
			return errNotDue
		}

		record := domain.DividendRecord{
			ID:           uuid.New().String(),
			HoldingID:    h.ID,
			AccountID:    h.AccountID,
			InstrumentID: inst.ID,
			Amount:       amount,
			HoldingDays:  holdingDays,
			PeriodIndex:  periodIndex,
			PaidAt:       now,
		}
		if err := st.Dividends.Create(ctx, record); err != nil {
			return err
		}

		updated, err := st.Accounts.AdjustBalances(ctx, h.AccountID, amount, domain.Zero, domain.Zero)
		if err != nil {
			return err
		}

		entry := domain.LedgerEntry{
			ID:           uuid.New().String(),
			AccountID:    h.AccountID,
			Kind:         domain.LedgerKindDividend,
			Amount:       amount,
			BalanceAfter: updated.AvailableBalance.Add(updated.FrozenBalance),
			Description:  fmt.Sprintf("dividend %s period %d", inst.Symbol, periodIndex),
			RefID:        &record.ID,
			RefKind:      "dividend",
			CreatedAt:    now,
		}
		return st.Ledger.Append(ctx, entry)
	})
}
