package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mktsim/mktsim/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriteDomainError_StatusMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrAccountDisabled, http.StatusForbidden},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{domain.ErrInsufficientHolding, http.StatusUnprocessableEntity},
		{domain.ErrSupplyExhausted, http.StatusUnprocessableEntity},
		{domain.ErrPositionLimit, http.StatusUnprocessableEntity},
		{domain.ErrQuantityTooSmall, http.StatusUnprocessableEntity},
		{domain.ErrQuantityTooLarge, http.StatusUnprocessableEntity},
		{domain.ErrPriceLimited, http.StatusUnprocessableEntity},
		{domain.ErrInstrumentInactive, http.StatusUnprocessableEntity},
		{domain.ErrDepositExpired, http.StatusUnprocessableEntity},
		{errors.New("database on fire"), http.StatusInternalServerError},
		// Wrapped errors still map through errors.Is.
		{fmt.Errorf("service: %w", domain.ErrInsufficientBalance), http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
		writeDomainError(rec, req, testLogger(), tt.err)
		if rec.Code != tt.wantStatus {
			t.Errorf("writeDomainError(%v) = %d, want %d", tt.err, rec.Code, tt.wantStatus)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
			t.Errorf("content type = %q", ct)
		}
	}
}

func TestParseListOpts(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 50, 0},
		{"limit=10", 10, 0},
		{"limit=10&offset=30", 10, 30},
		{"limit=9999", 500, 0},
		{"limit=-5", 50, 0},
		{"limit=abc&offset=xyz", 50, 0},
		{"offset=-1", 50, 0},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/orders?"+tt.query, nil)
		opts := parseListOpts(req)
		if opts.Limit != tt.wantLimit || opts.Offset != tt.wantOffset {
			t.Errorf("parseListOpts(%q) = (%d, %d), want (%d, %d)", tt.query, opts.Limit, opts.Offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestParsePositiveDecimal(t *testing.T) {
	if _, err := parsePositiveDecimal("12.5", "amount"); err != nil {
		t.Errorf("valid decimal rejected: %v", err)
	}
	if _, err := parsePositiveDecimal("0", "amount"); err == nil {
		t.Error("zero accepted")
	}
	if _, err := parsePositiveDecimal("-3", "amount"); err == nil {
		t.Error("negative accepted")
	}
	if _, err := parsePositiveDecimal("ten", "amount"); err == nil {
		t.Error("non-numeric accepted")
	}
	if _, err := parsePositiveDecimal("", "amount"); err == nil {
		t.Error("empty accepted")
	}
}
