package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
	"github.com/mktsim/mktsim/internal/server/middleware"
)

// FundingService defines the deposit/withdrawal operations the handler needs.
type FundingService interface {
	CreateDeposit(ctx context.Context, accountID string, amount decimal.Decimal, remark string) (domain.DepositRequest, error)
	ConfirmDeposit(ctx context.Context, depositID string) (domain.DepositRequest, error)
	ReviewDeposit(ctx context.Context, depositID string, decision domain.ReviewDecision, remark string) (domain.DepositRequest, error)
	SubmitWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal, payoutDetails string) (domain.WithdrawalRequest, error)
	ReviewWithdrawal(ctx context.Context, withdrawalID string, decision domain.ReviewDecision, remark string) (domain.WithdrawalRequest, error)
}

// FundingHandler serves deposit and withdrawal endpoints.
type FundingHandler struct {
	funding     FundingService
	deposits    domain.DepositStore
	withdrawals domain.WithdrawalStore
	logger      *slog.Logger
}

// NewFundingHandler creates a FundingHandler.
func NewFundingHandler(funding FundingService, deposits domain.DepositStore, withdrawals domain.WithdrawalStore, logger *slog.Logger) *FundingHandler {
	return &FundingHandler{
		funding:     funding,
		deposits:    deposits,
		withdrawals: withdrawals,
		logger:      logger,
	}
}

type createDepositRequest struct {
	Amount string `json:"amount"`
	Remark string `json:"remark"`
}

// CreateDeposit opens a deposit request with a payment deadline.
// POST /api/deposits
func (h *FundingHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "X-Account-ID header required")
		return
	}

	var req createDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := parsePositiveDecimal(req.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.funding.CreateDeposit(r.Context(), accountID, amount, req.Remark)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"deposit": d})
}

// ConfirmDeposit records the user's claim that payment was sent.
// POST /api/deposits/{id}/confirm
func (h *FundingHandler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	d, err := h.funding.ConfirmDeposit(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposit": d})
}

// ListDeposits returns the caller's deposit requests, newest first.
// GET /api/deposits
func (h *FundingHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "X-Account-ID header required")
		return
	}

	deposits, err := h.deposits.ListByAccount(r.Context(), accountID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if deposits == nil {
		deposits = []domain.DepositRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": deposits})
}

type reviewRequest struct {
	Decision string `json:"decision"`
	Remark   string `json:"remark"`
}

// ReviewDeposit applies an administrator verdict to an under-review deposit.
// POST /api/admin/deposits/{id}/review
func (h *FundingHandler) ReviewDeposit(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	decision := domain.ReviewDecision(req.Decision)
	if decision != domain.DecisionApprove && decision != domain.DecisionReject {
		writeError(w, http.StatusBadRequest, "decision must be approve or reject")
		return
	}

	d, err := h.funding.ReviewDeposit(r.Context(), pathParam(r, "id"), decision, req.Remark)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposit": d})
}

type submitWithdrawalRequest struct {
	Amount        string `json:"amount"`
	PayoutDetails string `json:"payout_details"`
}

// SubmitWithdrawal freezes the amount and opens a withdrawal request.
// POST /api/withdrawals
func (h *FundingHandler) SubmitWithdrawal(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "X-Account-ID header required")
		return
	}

	var req submitWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := parsePositiveDecimal(req.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wr, err := h.funding.SubmitWithdrawal(r.Context(), accountID, amount, req.PayoutDetails)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"withdrawal": wr})
}

// ListWithdrawals returns the caller's withdrawal requests, newest first.
// GET /api/withdrawals
func (h *FundingHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "X-Account-ID header required")
		return
	}

	withdrawals, err := h.withdrawals.ListByAccount(r.Context(), accountID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if withdrawals == nil {
		withdrawals = []domain.WithdrawalRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": withdrawals})
}

// ReviewWithdrawal applies an administrator verdict: approve, reject, or pay.
// POST /api/admin/withdrawals/{id}/review
func (h *FundingHandler) ReviewWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	decision := domain.ReviewDecision(req.Decision)
	switch decision {
	case domain.DecisionApprove, domain.DecisionReject, domain.DecisionPay:
	default:
		writeError(w, http.StatusBadRequest, "decision must be approve, reject, or pay")
		return
	}

	wr, err := h.funding.ReviewWithdrawal(r.Context(), pathParam(r, "id"), decision, req.Remark)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawal": wr})
}
