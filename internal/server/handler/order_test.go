package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
	"github.com/mktsim/mktsim/internal/server/middleware"
)

type stubOrderService struct {
	order domain.Order
	err   error

	gotAccountID string
	gotSide      domain.OrderSide
	gotQuantity  decimal.Decimal
}

func (s *stubOrderService) PlaceOrder(_ context.Context, accountID, instrumentID string, side domain.OrderSide, quantity decimal.Decimal) (domain.Order, error) {
	s.gotAccountID = accountID
	s.gotSide = side
	s.gotQuantity = quantity
	if s.err != nil {
		return domain.Order{}, s.err
	}
	return s.order, nil
}

type stubOrderReader struct {
	orders []domain.Order
}

func (s *stubOrderReader) ListByAccount(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return s.orders, nil
}

// doOrderRequest routes the request through the identity middleware the way
// the real server does.
func doOrderRequest(h http.HandlerFunc, method, target, accountID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if accountID != "" {
		req.Header.Set("X-Account-ID", accountID)
	}
	rec := httptest.NewRecorder()
	middleware.Identity()(h).ServeHTTP(rec, req)
	return rec
}

func TestPlaceOrderHandler(t *testing.T) {
	svc := &stubOrderService{
		order: domain.Order{
			ID:        "ord-1",
			AccountID: "acct-1",
			Status:    domain.OrderStatusFilled,
		},
	}
	h := NewOrderHandler(svc, &stubOrderReader{}, testLogger())

	rec := doOrderRequest(h.PlaceOrder, http.MethodPost, "/api/orders", "acct-1",
		`{"instrument_id":"inst-1","side":"buy","quantity":"2.5"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	if svc.gotAccountID != "acct-1" {
		t.Errorf("account = %s, want acct-1", svc.gotAccountID)
	}
	if svc.gotSide != domain.OrderSideBuy {
		t.Errorf("side = %s, want buy", svc.gotSide)
	}
	if !svc.gotQuantity.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("quantity = %s, want 2.5", svc.gotQuantity)
	}

	var resp struct {
		Order domain.Order `json:"order"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.ID != "ord-1" {
		t.Errorf("order id = %s, want ord-1", resp.Order.ID)
	}
}

func TestPlaceOrderHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name      string
		accountID string
		body      string
		want      int
	}{
		{"missing identity", "", `{"instrument_id":"i","side":"buy","quantity":"1"}`, http.StatusUnauthorized},
		{"malformed json", "acct-1", `{`, http.StatusBadRequest},
		{"missing instrument", "acct-1", `{"side":"buy","quantity":"1"}`, http.StatusBadRequest},
		{"bad side", "acct-1", `{"instrument_id":"i","side":"short","quantity":"1"}`, http.StatusBadRequest},
		{"zero quantity", "acct-1", `{"instrument_id":"i","side":"buy","quantity":"0"}`, http.StatusBadRequest},
		{"negative quantity", "acct-1", `{"instrument_id":"i","side":"sell","quantity":"-2"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewOrderHandler(&stubOrderService{}, &stubOrderReader{}, testLogger())
			rec := doOrderRequest(h.PlaceOrder, http.MethodPost, "/api/orders", tt.accountID, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestPlaceOrderHandler_ServiceErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{domain.ErrPriceLimited, http.StatusUnprocessableEntity},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrConflict, http.StatusConflict},
	}
	for _, tt := range tests {
		h := NewOrderHandler(&stubOrderService{err: tt.err}, &stubOrderReader{}, testLogger())
		rec := doOrderRequest(h.PlaceOrder, http.MethodPost, "/api/orders", "acct-1",
			`{"instrument_id":"inst-1","side":"buy","quantity":"1"}`)
		if rec.Code != tt.want {
			t.Errorf("error %v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestListOrdersHandler(t *testing.T) {
	h := NewOrderHandler(&stubOrderService{}, &stubOrderReader{orders: nil}, testLogger())

	rec := doOrderRequest(h.ListOrders, http.MethodGet, "/api/orders", "acct-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// Empty result serializes as [], not null.
	if !strings.Contains(rec.Body.String(), `"orders":[]`) {
		t.Errorf("body = %s, want empty orders array", rec.Body)
	}

	rec = doOrderRequest(h.ListOrders, http.MethodGet, "/api/orders", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without identity = %d, want 401", rec.Code)
	}
}
