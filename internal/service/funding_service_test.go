package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mktsim/mktsim/internal/domain"
)

func newFundingService(env *testEnv, ttl time.Duration) *FundingService {
	return NewFundingService(env.stores, env.tx, FundingConfig{DepositTTL: ttl}, testLogger())
}

func TestDeposit_ApproveCreditsBalance(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acct", "0")
	svc := newFundingService(env, time.Hour)
	ctx := context.Background()

	d, err := svc.CreateDeposit(ctx, "acct", dec("500"), "wire ref 123")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.Status != domain.DepositStatusAwaitingPayment {
		t.Fatalf("status = %s, want awaiting_payment", d.Status)
	}
	// No credit before review.
	if !env.accounts.m["acct"].AvailableBalance.IsZero() {
		t.Fatal("balance credited before review")
	}

	if _, err := svc.ConfirmDeposit(ctx, d.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	reviewed, err := svc.ReviewDeposit(ctx, d.ID, domain.DecisionApprove, "")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != domain.DepositStatusCredited {
		t.Errorf("status = %s, want credited", reviewed.Status)
	}
	if got := env.accounts.m["acct"].AvailableBalance; !got.Equal(dec("500")) {
		t.Errorf("balance = %s, want 500", got)
	}
	if len(env.ledger.entries) != 1 || env.ledger.entries[0].Kind != domain.LedgerKindDeposit {
		t.Fatalf("expected one deposit ledger entry, got %v", env.ledger.entries)
	}
	if len(env.audit.events) != 1 || env.audit.events[0].event != "deposit.reviewed" {
		t.Errorf("expected deposit.reviewed audit event, got %v", env.audit.events)
	}
}

func TestDeposit_RejectCancelsWithoutCredit(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acct", "0")
	svc := newFundingService(env, time.Hour)
	ctx := context.Background()

	d, _ := svc.CreateDeposit(ctx, "acct", dec("500"), "")
	if _, err := svc.ConfirmDeposit(ctx, d.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	reviewed, err := svc.ReviewDeposit(ctx, d.ID, domain.DecisionReject, "unmatched payment")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != domain.DepositStatusCancelled {
		t.Errorf("status = %s, want cancelled", reviewed.Status)
	}
	if !env.accounts.m["acct"].AvailableBalance.IsZero() {
		t.Error("rejected deposit credited the account")
	}
	if len(env.ledger.entries) != 0 {
		t.Errorf("rejected deposit wrote %d ledger entries", len(env.ledger.entries))
	}
}

func TestDeposit_LateConfirmExpires(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acct", "0")
	svc := newFundingService(env, -time.Minute) // deadline already past
	ctx := context.Background()

	d, err := svc.CreateDeposit(ctx, "acct", dec("500"), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.ConfirmDeposit(ctx, d.ID); !errors.Is(err, domain.ErrDepositExpired) {
		t.Fatalf("err = %v, want ErrDepositExpired", err)
	}
	// The expiry itself persists even though the confirm failed.
	if got := env.deposits.m[d.ID].Status; got != domain.DepositStatusExpired {
		t.Errorf("status = %s, want expired", got)
	}
	// Review of an expired request is rejected.
	if _, err := svc.ReviewDeposit(ctx, d.ID, domain.DecisionApprove, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("review expired: err = %v, want ErrInvalidTransition", err)
	}
}

func TestDeposit_InvalidTransitions(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acct", "0")
	svc := newFundingService(env, time.Hour)
	ctx := context.Background()

	d, _ := svc.CreateDeposit(ctx, "acct", dec("500"), "")

	// Review before the user confirmed.
	if _, err := svc.ReviewDeposit(ctx, d.ID, domain.DecisionApprove, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("review unconfirmed: err = %v, want ErrInvalidTransition", err)
	}

	if _, err := svc.ConfirmDeposit(ctx, d.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// Double confirm.
	if _, err := svc.ConfirmDeposit(ctx, d.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double confirm: err = %v, want ErrInvalidTransition", err)
	}

	if _, err := svc.ReviewDeposit(ctx, d.ID, domain.DecisionApprove, ""); err != nil {
		t.Fatalf("review: %v", err)
	}
	// Double review.
	if _, err := svc.ReviewDeposit(ctx, d.ID, domain.DecisionApprove, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double review: err = %v, want ErrInvalidTransition", err)
	}
	// Pay is not a deposit decision.
	d2, _ := svc.CreateDeposit(ctx, "acct", dec("100"), "")
	if _, err := svc.ConfirmDeposit(ctx, d2.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.ReviewDeposit(ctx, d2.ID, domain.DecisionPay, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("pay decision: err = %v, want ErrInvalidTransition", err)
	}
}

func TestExpireDeposits_Sweep(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acct", "0")
	svc := newFundingService(env, -time.Minute)
	ctx := context.Background()

	if _, err := svc.CreateDeposit(ctx, "acct", dec("100"), ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateDeposit(ctx, "acct", dec("200"), ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := svc.ExpireDeposits(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expired = %d, want 2", n)
	}
	for id, d := range env.deposits.m {
		if d.Status != domain.DepositStatusExpired {
			t.Errorf("deposit %s status = %s, want expired", id, d.Status)
		}
	}
}

func TestWithdrawal_SubmitFreezesWithoutLedgerEntry(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acct", "1000")
	svc := newFundingService(env, time.Hour)

	w, err := svc.SubmitWithdrawal(context.Background(), "acct", dec("400"), "iban xx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Status != domain.WithdrawalStatusSubmitted {
		t.Errorf("status = %s, want submitted", w.Status)
	}

	account := env.accounts.m["acct"]
	if !account.AvailableBalance.Equal(dec("600")) || !account.FrozenBalance.Equal(dec("400")) {
		t.Errorf("balances = %s/%s, want 600/400", account.AvailableBalance, account.FrozenBalance)
	}
	// Freeze is an internal move: the conservation sum is untouched.
	if len(env.ledger.entries) != 0 {
		t.Errorf("freeze wrote %d ledger entries", len(env.ledger.entries))
	}
}

func TestWithdrawal_SubmitBeyondAvailableFails(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acct", "100")
	svc := newFundingService(env, time.Hour)

	_, err := svc.SubmitWithdrawal(context.Background(), "acct", dec("400"), "")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	account := env.accounts.m["acct"]
	if !account.AvailableBalance.Equal(dec("100")) || !account.FrozenBalance.IsZero() {
		t.Errorf("balances moved on failed submit: %s/%s", account.AvailableBalance, account.FrozenBalance)
	}
	if len(env.withdrawals.m) != 0 {
		t.Error("failed submit created a withdrawal request")
	}
}

func TestWithdrawal_RejectUnfreezes(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acct", "1000")
	svc := newFundingService(env, time.Hour)
	ctx := context.Background()

	w, _ := svc.SubmitWithdrawal(ctx, "acct", dec("400"), "")

	reviewed, err := svc.ReviewWithdrawal(ctx, w.ID, domain.DecisionReject, "name mismatch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reviewed.Status != domain.WithdrawalStatusRejected {
		t.Errorf("status = %s, want rejected", reviewed.Status)
	}

	account := env.accounts.m["acct"]
	if !account.AvailableBalance.Equal(dec("1000")) || !account.FrozenBalance.IsZero() {
		t.Errorf("balances = %s/%s, want 1000/0", account.AvailableBalance, account.FrozenBalance)
	}
	if len(env.ledger.entries) != 0 {
		t.Errorf("unfreeze wrote %d ledger entries", len(env.ledger.entries))
	}
}

func TestWithdrawal_ApproveThenPay(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acct", "1000")
	svc := newFundingService(env, time.Hour)
	ctx := context.Background()

	w, _ := svc.SubmitWithdrawal(ctx, "acct", dec("400"), "")

	approved, err := svc.ReviewWithdrawal(ctx, w.ID, domain.DecisionApprove, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.WithdrawalStatusApproved {
		t.Fatalf("status = %s, want approved", approved.Status)
	}
	// Approval keeps the freeze in place.
	if got := env.accounts.m["acct"].FrozenBalance; !got.Equal(dec("400")) {
		t.Errorf("frozen = %s, want 400", got)
	}

	paid, err := svc.ReviewWithdrawal(ctx, w.ID, domain.DecisionPay, "")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if paid.Status != domain.WithdrawalStatusPaid {
		t.Errorf("status = %s, want paid", paid.Status)
	}
	if paid.PaidAt == nil {
		t.Error("paid withdrawal has no PaidAt")
	}

	account := env.accounts.m["acct"]
	if !account.AvailableBalance.Equal(dec("600")) || !account.FrozenBalance.IsZero() {
		t.Errorf("balances = %s/%s, want 600/0", account.AvailableBalance, account.FrozenBalance)
	}
	if len(env.ledger.entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(env.ledger.entries))
	}
	entry := env.ledger.entries[0]
	if entry.Kind != domain.LedgerKindWithdraw || !entry.Amount.Equal(dec("-400")) {
		t.Errorf("ledger entry kind=%s amount=%s, want withdraw -400", entry.Kind, entry.Amount)
	}
	if !entry.BalanceAfter.Equal(dec("600")) {
		t.Errorf("balance after = %s, want 600", entry.BalanceAfter)
	}
}

func TestWithdrawal_RejectRequiresSubmitted(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acct", "1000")
	svc := newFundingService(env, time.Hour)
	ctx := context.Background()

	w, _ := svc.SubmitWithdrawal(ctx, "acct", dec("400"), "")
	if _, err := svc.ReviewWithdrawal(ctx, w.ID, domain.DecisionApprove, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// An approved request is past review; only pay may follow.
	if _, err := svc.ReviewWithdrawal(ctx, w.ID, domain.DecisionReject, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("reject from approved: err = %v, want ErrInvalidTransition", err)
	}
	if got := env.withdrawals.m[w.ID].Status; got != domain.WithdrawalStatusApproved {
		t.Errorf("status = %s, want approved", got)
	}
	account := env.accounts.m["acct"]
	if !account.AvailableBalance.Equal(dec("600")) || !account.FrozenBalance.Equal(dec("400")) {
		t.Errorf("balances = %s/%s, want 600/400", account.AvailableBalance, account.FrozenBalance)
	}
}

func TestWithdrawal_PayRequiresApproval(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acct", "1000")
	svc := newFundingService(env, time.Hour)
	ctx := context.Background()

	w, _ := svc.SubmitWithdrawal(ctx, "acct", dec("400"), "")

	if _, err := svc.ReviewWithdrawal(ctx, w.ID, domain.DecisionPay, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("pay from submitted: err = %v, want ErrInvalidTransition", err)
	}
	// The freeze is untouched by the failed transition.
	if got := env.accounts.m["acct"].FrozenBalance; !got.Equal(dec("400")) {
		t.Errorf("frozen = %s, want 400", got)
	}
}
