package handler

import (
	"log/slog"
	"net/http"

	"github.com/mktsim/mktsim/internal/domain"
	"github.com/mktsim/mktsim/internal/server/middleware"
)

// AccountHandler serves balance, holding, and ledger reads for the caller.
type AccountHandler struct {
	accounts domain.AccountStore
	holdings domain.HoldingStore
	ledger   domain.LedgerStore
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts domain.AccountStore, holdings domain.HoldingStore, ledger domain.LedgerStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		holdings: holdings,
		ledger:   ledger,
		logger:   logger,
	}
}

// GetAccount returns the caller's balances alongside the ledger sum so
// clients can verify conservation.
// GET /api/account
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "X-Account-ID header required")
		return
	}

	account, err := h.accounts.GetByID(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	sum, err := h.ledger.SumByAccount(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account":    account,
		"ledger_sum": sum,
	})
}

// ListHoldings returns the caller's open positions.
// GET /api/account/holdings
func (h *AccountHandler) ListHoldings(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "X-Account-ID header required")
		return
	}

	holdings, err := h.holdings.ListOpenByAccount(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if holdings == nil {
		holdings = []domain.Holding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"holdings": holdings})
}

// ListLedger returns the caller's ledger entries, newest first.
// GET /api/account/ledger?limit=50&offset=0
func (h *AccountHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "X-Account-ID header required")
		return
	}

	entries, err := h.ledger.ListByAccount(r.Context(), accountID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
