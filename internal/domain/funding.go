package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositStatus follows the deposit reconciliation machine:
// awaiting_payment -> under_review -> credited | cancelled, with
// awaiting_payment -> expired once the payment deadline passes.
type DepositStatus string

const (
	DepositStatusAwaitingPayment DepositStatus = "awaiting_payment"
	DepositStatusUnderReview     DepositStatus = "under_review"
	DepositStatusCredited        DepositStatus = "credited"
	DepositStatusCancelled       DepositStatus = "cancelled"
	DepositStatusExpired         DepositStatus = "expired"
)

// DepositRequest is a user's claim of an incoming payment, credited only
// after administrator review.
type DepositRequest struct {
	ID              string
	AccountID       string
	Amount          decimal.Decimal
	Status          DepositStatus
	Remark          string
	CreatedAt       time.Time
	PaymentDeadline time.Time
	ConfirmedAt     *time.Time
	ReviewedAt      *time.Time
}

// ExpiredBy reports whether the payment window has closed at the given time.
func (d DepositRequest) ExpiredBy(now time.Time) bool {
	return now.After(d.PaymentDeadline)
}

// WithdrawalStatus follows the withdrawal machine: submitted -> approved ->
// paid, or submitted -> rejected. Funds stay frozen from submission until
// the terminal transition.
type WithdrawalStatus string

const (
	WithdrawalStatusSubmitted WithdrawalStatus = "submitted"
	WithdrawalStatusApproved  WithdrawalStatus = "approved"
	WithdrawalStatusPaid      WithdrawalStatus = "paid"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
)

// WithdrawalRequest freezes funds on submission and releases them either
// back to the available balance (reject) or permanently out (paid).
type WithdrawalRequest struct {
	ID            string
	AccountID     string
	Amount        decimal.Decimal
	PayoutDetails string
	Status        WithdrawalStatus
	Remark        string
	CreatedAt     time.Time
	ReviewedAt    *time.Time
	PaidAt        *time.Time
}

// ReviewDecision is an administrator's verdict on a pending request.
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "approve"
	DecisionReject  ReviewDecision = "reject"
	DecisionPay     ReviewDecision = "pay" // withdrawals only, from approved
)
