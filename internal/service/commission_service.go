package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
)

// CommissionService sweeps accrued referral commissions into beneficiary
// balances. Accrual happens at order time; this pass runs once a day and
// settles everything bucketed at or before the previous day.
type CommissionService struct {
	stores domain.Stores
	tx     domain.TxRunner
	logger *slog.Logger
}

// NewCommissionService creates a CommissionService.
func NewCommissionService(stores domain.Stores, tx domain.TxRunner, logger *slog.Logger) *CommissionService {
	return &CommissionService{
		stores: stores,
		tx:     tx,
		logger: logger.With(slog.String("component", "commission_service")),
	}
}

// RunSettlementPass settles all unsettled commission records with a day
// bucket strictly before today. Each beneficiary settles in its own
// transaction: the balance credit, the ledger entry, and the settled flags
// commit together, so a rerun never pays the same record twice.
func (s *CommissionService) RunSettlementPass(ctx context.Context) (int, error) {
	through := domain.DayBucketOf(time.Now().UTC()).AddDate(0, 0, -1)

	records, err := s.stores.Commissions.ListUnsettled(ctx, through)
	if err != nil {
		return 0, fmt.Errorf("commission_service: list unsettled: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	// Records arrive ordered by beneficiary; group into per-account batches.
	settled := 0
	for start := 0; start < len(records); {
		end := start + 1
		for end < len(records) && records[end].BeneficiaryID == records[start].BeneficiaryID {
			end++
		}
		batch := records[start:end]
		start = end

		if err := ctx.Err(); err != nil {
			return settled, err
		}
		if err := s.settleBatch(ctx, batch); err != nil {
			s.logger.Error("commission settlement failed",
				slog.String("beneficiary", batch[0].BeneficiaryID),
				slog.Int("records", len(batch)),
				slog.String("error", err.Error()),
			)
			continue
		}
		settled += len(batch)
	}

	if settled > 0 {
		s.logger.Info("commission settlement complete", slog.Int("settled", settled))
	}
	return settled, nil
}

// settleBatch credits one beneficiary for a batch of records. The credit
// lands in the available balance with a commission ledger entry; the
// commission balance accumulates the same amount as a lifetime-earned
// counter.
func (s *CommissionService) settleBatch(ctx context.Context, batch []domain.CommissionRecord) error {
	total := decimal.Zero
	ids := make([]string, 0, len(batch))
	for _, r := range batch {
		total = total.Add(r.Amount)
		ids = append(ids, r.ID)
	}
	total = domain.RoundMoney(total)
	beneficiaryID := batch[0].BeneficiaryID

	return s.tx.InTx(ctx, func(ctx context.Context, st domain.Stores) error {
		now := time.Now().UTC()

		updated, err := st.Accounts.AdjustBalances(ctx, beneficiaryID, total, domain.Zero, total)
		if err != nil {
			return err
		}

		entry := domain.LedgerEntry{
			ID:           uuid.New().String(),
			AccountID:    beneficiaryID,
			Kind:         domain.LedgerKindCommission,
			Amount:       total,
			BalanceAfter: updated.AvailableBalance.Add(updated.FrozenBalance),
			Description:  fmt.Sprintf("commission settlement, %d records", len(batch)),
			RefKind:      "commission",
			CreatedAt:    now,
		}
		if err := st.Ledger.Append(ctx, entry); err != nil {
			return err
		}

		return st.Commissions.MarkSettled(ctx, ids, now)
	})
}
