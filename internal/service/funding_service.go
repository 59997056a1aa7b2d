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

// FundingConfig carries deposit/withdrawal tunables.
type FundingConfig struct {
	// DepositTTL is the payment window granted to a new deposit request.
	DepositTTL time.Duration
}

// FundingService drives the deposit and withdrawal reconciliation machines.
// Money enters only through an administrator-approved deposit and leaves only
// through an administrator-paid withdrawal; everything in between is a status
// transition with no balance effect (withdrawal submission freezes funds, but
// the freeze is an internal move between buckets).
type FundingService struct {
	stores domain.Stores
	tx     domain.TxRunner
	cfg    FundingConfig
	logger *slog.Logger
}

// NewFundingService creates a FundingService.
func NewFundingService(stores domain.Stores, tx domain.TxRunner, cfg FundingConfig, logger *slog.Logger) *FundingService {
	return &FundingService{
		stores: stores,
		tx:     tx,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "funding_service")),
	}
}

// CreateDeposit opens a deposit request with a payment deadline. No balance
// effect until an administrator credits it.
func (s *FundingService) CreateDeposit(ctx context.Context, accountID string, amount decimal.Decimal, remark string) (domain.DepositRequest, error) {
	if !amount.IsPositive() {
		return domain.DepositRequest{}, fmt.Errorf("funding_service: deposit amount must be positive")
	}

	account, err := s.stores.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return domain.DepositRequest{}, err
	}
	if account.Disabled() {
		return domain.DepositRequest{}, domain.ErrAccountDisabled
	}

	now := time.Now().UTC()
	d := domain.DepositRequest{
		ID:              uuid.New().String(),
		AccountID:       accountID,
		Amount:          domain.RoundMoney(amount),
		Status:          domain.DepositStatusAwaitingPayment,
		Remark:          remark,
		CreatedAt:       now,
		PaymentDeadline: now.Add(s.cfg.DepositTTL),
	}
	if err := s.stores.Deposits.Create(ctx, d); err != nil {
		return domain.DepositRequest{}, err
	}
	return d, nil
}

// ConfirmDeposit records the user's claim that payment was sent, moving the
// request to under_review. A request past its payment deadline is expired
// here lazily: the user confirming late learns it immediately instead of
// waiting for the sweep.
func (s *FundingService) ConfirmDeposit(ctx context.Context, depositID string) (domain.DepositRequest, error) {
	var out domain.DepositRequest
	var expired bool

	err := s.tx.InTx(ctx, func(ctx context.Context, st domain.Stores) error {
		d, err := st.Deposits.GetByID(ctx, depositID)
		if err != nil {
			return err
		}
		if d.Status != domain.DepositStatusAwaitingPayment {
			return domain.ErrInvalidTransition
		}

		now := time.Now().UTC()
		if d.ExpiredBy(now) {
			// Expiry must commit even though the confirm fails, so the
			// error is surfaced after the transaction, not from inside it.
			expired = true
			d.Status = domain.DepositStatusExpired
			return st.Deposits.Update(ctx, d)
		}

		d.Status = domain.DepositStatusUnderReview
		d.ConfirmedAt = &now
		if err := st.Deposits.Update(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err == nil && expired {
		return domain.DepositRequest{}, domain.ErrDepositExpired
	}
	return out, err
}

// ReviewDeposit applies an administrator verdict to an under_review request.
// Approval credits the account and writes the ledger entry in the same
// transaction; rejection cancels with no balance effect.
func (s *FundingService) ReviewDeposit(ctx context.Context, depositID string, decision domain.ReviewDecision, remark string) (domain.DepositRequest, error) {
	var out domain.DepositRequest

	err := s.tx.InTx(ctx, func(ctx context.Context, st domain.Stores) error {
		d, err := st.Deposits.GetByID(ctx, depositID)
		if err != nil {
			return err
		}
		if d.Status != domain.DepositStatusUnderReview {
			return domain.ErrInvalidTransition
		}

		now := time.Now().UTC()
		d.ReviewedAt = &now
		if remark != "" {
			d.Remark = remark
		}

		switch decision {
		case domain.DecisionApprove:
			d.Status = domain.DepositStatusCredited
			updated, err := st.Accounts.AdjustBalances(ctx, d.AccountID, d.Amount, domain.Zero, domain.Zero)
			if err != nil {
				return err
			}
			entry := domain.LedgerEntry{
				ID:           uuid.New().String(),
				AccountID:    d.AccountID,
				Kind:         domain.LedgerKindDeposit,
				Amount:       d.Amount,
				BalanceAfter: updated.AvailableBalance.Add(updated.FrozenBalance),
				Description:  "deposit credited",
				RefID:        &d.ID,
				RefKind:      "deposit",
				CreatedAt:    now,
			}
			if err := st.Ledger.Append(ctx, entry); err != nil {
				return err
			}
		case domain.DecisionReject:
			d.Status = domain.DepositStatusCancelled
		default:
			return fmt.Errorf("funding_service: decision %q not valid for deposits: %w", decision, domain.ErrInvalidTransition)
		}

		if err := st.Deposits.Update(ctx, d); err != nil {
			return err
		}
		if err := st.Audit.Log(ctx, "deposit.reviewed", map[string]any{
			"deposit_id": d.ID,
			"account_id": d.AccountID,
			"decision":   string(decision),
			"amount":     d.Amount.String(),
		}); err != nil {
			return err
		}
		out = d
		return nil
	})

	if err == nil {
		s.logger.Info("deposit reviewed",
			slog.String("deposit", out.ID),
			slog.String("decision", string(decision)),
			slog.String("status", string(out.Status)),
		)
	}
	return out, err
}

// ExpireDeposits sweeps awaiting_payment requests past their deadline.
// Returns how many were expired; scheduled periodically alongside the lazy
// expiry in ConfirmDeposit.
func (s *FundingService) ExpireDeposits(ctx context.Context) (int64, error) {
	n, err := s.stores.Deposits.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("funding_service: expire deposits: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired overdue deposits", slog.Int64("count", n))
	}
	return n, nil
}

// SubmitWithdrawal freezes the requested amount and opens a withdrawal
// request. The freeze is an internal move (available down, frozen up) and
// writes no ledger entry; the money has not left the account yet.
func (s *FundingService) SubmitWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal, payoutDetails string) (domain.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return domain.WithdrawalRequest{}, fmt.Errorf("funding_service: withdrawal amount must be positive")
	}
	amount = domain.RoundMoney(amount)

	var out domain.WithdrawalRequest
	err := s.tx.InTx(ctx, func(ctx context.Context, st domain.Stores) error {
		account, err := st.Accounts.GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Disabled() {
			return domain.ErrAccountDisabled
		}

		if _, err := st.Accounts.AdjustBalances(ctx, accountID, amount.Neg(), amount, domain.Zero); err != nil {
			return err
		}

		out = domain.WithdrawalRequest{
			ID:            uuid.New().String(),
			AccountID:     accountID,
			Amount:        amount,
			PayoutDetails: payoutDetails,
			Status:        domain.WithdrawalStatusSubmitted,
			CreatedAt:     time.Now().UTC(),
		}
		return st.Withdrawals.Create(ctx, out)
	})
	return out, err
}

// ReviewWithdrawal applies an administrator verdict. Only submitted requests
// may be approved or rejected, and only approved requests may be paid. Reject
// unfreezes the funds back to available; pay removes the frozen amount from
// the account and writes the ledger entry.
func (s *FundingService) ReviewWithdrawal(ctx context.Context, withdrawalID string, decision domain.ReviewDecision, remark string) (domain.WithdrawalRequest, error) {
	var out domain.WithdrawalRequest

	err := s.tx.InTx(ctx, func(ctx context.Context, st domain.Stores) error {
		w, err := st.Withdrawals.GetByID(ctx, withdrawalID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if remark != "" {
			w.Remark = remark
		}

		switch decision {
		case domain.DecisionApprove:
			if w.Status != domain.WithdrawalStatusSubmitted {
				return domain.ErrInvalidTransition
			}
			w.Status = domain.WithdrawalStatusApproved
			w.ReviewedAt = &now

		case domain.DecisionReject:
			if w.Status != domain.WithdrawalStatusSubmitted {
				return domain.ErrInvalidTransition
			}
			w.Status = domain.WithdrawalStatusRejected
			w.ReviewedAt = &now
			// Unfreeze back to available; internal move, no ledger entry.
			if _, err := st.Accounts.AdjustBalances(ctx, w.AccountID, w.Amount, w.Amount.Neg(), domain.Zero); err != nil {
				return err
			}

		case domain.DecisionPay:
			if w.Status != domain.WithdrawalStatusApproved {
				return domain.ErrInvalidTransition
			}
			w.Status = domain.WithdrawalStatusPaid
			w.PaidAt = &now
			updated, err := st.Accounts.AdjustBalances(ctx, w.AccountID, domain.Zero, w.Amount.Neg(), domain.Zero)
			if err != nil {
				return err
			}
			entry := domain.LedgerEntry{
				ID:           uuid.New().String(),
				AccountID:    w.AccountID,
				Kind:         domain.LedgerKindWithdraw,
				Amount:       w.Amount.Neg(),
				BalanceAfter: updated.AvailableBalance.Add(updated.FrozenBalance),
				Description:  "withdrawal paid",
				RefID:        &w.ID,
				RefKind:      "withdrawal",
				CreatedAt:    now,
			}
			if err := st.Ledger.Append(ctx, entry); err != nil {
				return err
			}

		default:
			return fmt.Errorf("funding_service: decision %q not valid for withdrawals: %w", decision, domain.ErrInvalidTransition)
		}

		if err := st.Withdrawals.Update(ctx, w); err != nil {
			return err
		}
		if err := st.Audit.Log(ctx, "withdrawal.reviewed", map[string]any{
			"withdrawal_id": w.ID,
			"account_id":    w.AccountID,
			"decision":      string(decision),
			"amount":        w.Amount.String(),
		}); err != nil {
			return err
		}
		out = w
		return nil
	})

	if err == nil {
		s.logger.Info("withdrawal reviewed",
			slog.String("withdrawal", out.ID),
			slog.String("decision", string(decision)),
			slog.String("status", string(out.Status)),
		)
	}
	return out, err
}
