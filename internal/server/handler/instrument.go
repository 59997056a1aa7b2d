package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
	"github.com/mktsim/mktsim/internal/service"
)

// InstrumentReader defines the read methods the instrument handler requires.
type InstrumentReader interface {
	GetByID(ctx context.Context, id string) (domain.Instrument, error)
	ListActive(ctx context.Context) ([]domain.Instrument, error)
	ListBars(ctx context.Context, instrumentID string, period domain.BarPeriod, opts domain.ListOpts) ([]domain.Bar, error)
}

// InstrumentAdmin defines the administrative operations.
type InstrumentAdmin interface {
	AdjustInstrumentPrice(ctx context.Context, instrumentID string, price decimal.Decimal, bar *service.BarOverride, actor string) (domain.Instrument, error)
	SetInstrumentStrategy(ctx context.Context, instrumentID string, upd service.StrategyUpdate, actor string) (domain.Instrument, error)
}

// InstrumentHandler serves instrument endpoints, public reads and admin
// controls.
type InstrumentHandler struct {
	reader InstrumentReader
	admin  InstrumentAdmin
	quotes domain.QuoteCache
	logger *slog.Logger
}

// NewInstrumentHandler creates an InstrumentHandler. quotes may be nil; reads
// then fall back to the persisted quote.
func NewInstrumentHandler(reader InstrumentReader, admin InstrumentAdmin, quotes domain.QuoteCache, logger *slog.Logger) *InstrumentHandler {
	return &InstrumentHandler{
		reader: reader,
		admin:  admin,
		quotes: quotes,
		logger: logger,
	}
}

type instrumentResponse struct {
	Instrument domain.Instrument `json:"instrument"`
	Quote      decimal.Decimal   `json:"quote"`
	QuotedAt   time.Time         `json:"quoted_at"`
}

// ListInstruments returns all active instruments.
// GET /api/instruments
func (h *InstrumentHandler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := h.reader.ListActive(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if instruments == nil {
		instruments = []domain.Instrument{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": instruments})
}

// GetInstrument returns one instrument with its freshest quote. The cached
// quote wins when present since the persisted row may lag a tick.
// GET /api/instruments/{id}
func (h *InstrumentHandler) GetInstrument(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	inst, err := h.reader.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	resp := instrumentResponse{
		Instrument: inst,
		Quote:      inst.QuotedPrice,
		QuotedAt:   inst.UpdatedAt,
	}
	if h.quotes != nil {
		if price, ts, err := h.quotes.GetQuote(r.Context(), id); err == nil {
			resp.Quote = price
			resp.QuotedAt = ts
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListBars returns OHLC bars for charting.
// GET /api/instruments/{id}/bars?period=minute&limit=200
func (h *InstrumentHandler) ListBars(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	period := domain.BarPeriod(r.URL.Query().Get("period"))
	switch period {
	case domain.BarPeriodMinute, domain.BarPeriodDay:
	case "":
		period = domain.BarPeriodMinute
	default:
		writeError(w, http.StatusBadRequest, "period must be minute or day")
		return
	}

	bars, err := h.reader.ListBars(r.Context(), id, period, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if bars == nil {
		bars = []domain.Bar{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bars": bars})
}

type adjustPriceRequest struct {
	Price string `json:"price"`
	Actor string `json:"actor"`
	Bar   *struct {
		Open  string `json:"open"`
		High  string `json:"high"`
		Low   string `json:"low"`
		Close string `json:"close"`
	} `json:"bar"`
}

// AdjustPrice sets the quoted price directly, clamped into the daily band.
// An optional bar payload supplies the recorded OHLC values.
// POST /api/admin/instruments/{id}/price
func (h *InstrumentHandler) AdjustPrice(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req adjustPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	price, err := parsePositiveDecimal(req.Price, "price")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var bar *service.BarOverride
	if req.Bar != nil {
		parsed := service.BarOverride{}
		for _, f := range []struct {
			name string
			raw  string
			dst  *decimal.Decimal
		}{
			{"bar.open", req.Bar.Open, &parsed.Open},
			{"bar.high", req.Bar.High, &parsed.High},
			{"bar.low", req.Bar.Low, &parsed.Low},
			{"bar.close", req.Bar.Close, &parsed.Close},
		} {
			v, err := parsePositiveDecimal(f.raw, f.name)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			*f.dst = v
		}
		bar = &parsed
	}

	inst, err := h.admin.AdjustInstrumentPrice(r.Context(), id, price, bar, req.Actor)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, instrumentResponse{
		Instrument: inst,
		Quote:      inst.QuotedPrice,
		QuotedAt:   inst.UpdatedAt,
	})
}

type setStrategyRequest struct {
	Kind          string `json:"kind"`
	TargetPercent string `json:"target_percent"`
	TargetMinutes int    `json:"target_minutes"`
	LimitUp       string `json:"limit_up_percent"`
	LimitDown     string `json:"limit_down_percent"`
	MaxBuy        string `json:"max_buy_qty"`
	MaxSell       string `json:"max_sell_qty"`
	Actor         string `json:"actor"`
}

// SetStrategy switches the drift strategy applied from the next tick.
// PUT /api/admin/instruments/{id}/strategy
func (h *InstrumentHandler) SetStrategy(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req setStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	kind := domain.StrategyKind(req.Kind)
	switch kind {
	case domain.StrategyFree, domain.StrategyTrendUp, domain.StrategyTrendDown, domain.StrategyVolatile:
	default:
		writeError(w, http.StatusBadRequest, "kind must be one of free, trend_up, trend_down, volatile")
		return
	}

	upd := service.StrategyUpdate{
		Kind:          kind,
		TargetMinutes: req.TargetMinutes,
	}
	if req.TargetPercent != "" {
		pct, err := decimal.NewFromString(req.TargetPercent)
		if err != nil {
			writeError(w, http.StatusBadRequest, "target_percent must be a decimal number")
			return
		}
		upd.TargetPercent = pct
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  **decimal.Decimal
	}{
		{"limit_up_percent", req.LimitUp, &upd.LimitUpPercent},
		{"limit_down_percent", req.LimitDown, &upd.LimitDownPercent},
		{"max_buy_qty", req.MaxBuy, &upd.MaxBuyQty},
		{"max_sell_qty", req.MaxSell, &upd.MaxSellQty},
	} {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, f.name+" must be a decimal number")
			return
		}
		*f.dst = &v
	}

	inst, err := h.admin.SetInstrumentStrategy(r.Context(), id, upd, req.Actor)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instrument": inst})
}
