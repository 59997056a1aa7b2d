package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
)

// InstrumentService exposes the administrator controls over price and
// strategy. Price adjustments go through the same version-guarded write path
// as the tick engine so they never clobber a concurrent tick or fill.
type InstrumentService struct {
	stores domain.Stores
	tx     domain.TxRunner
	quotes domain.QuoteCache
	logger *slog.Logger
}

// NewInstrumentService creates an InstrumentService. quotes may be nil.
func NewInstrumentService(stores domain.Stores, tx domain.TxRunner, quotes domain.QuoteCache, logger *slog.Logger) *InstrumentService {
	return &InstrumentService{
		stores: stores,
		tx:     tx,
		quotes: quotes,
		logger: logger.With(slog.String("component", "instrument_service")),
	}
}

// BarOverride is an administrator-supplied minute bar recorded with a price
// adjustment in place of the synthesized previous-to-new bar.
type BarOverride struct {
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

func (b BarOverride) validate() error {
	for _, p := range []decimal.Decimal{b.Open, b.High, b.Low, b.Close} {
		if !p.IsPositive() {
			return fmt.Errorf("instrument_service: bar prices must be positive")
		}
	}
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("instrument_service: bar high below low")
	}
	return nil
}

// AdjustInstrumentPrice sets the quoted price directly, clamped into the
// daily limit band. The adjustment lands as a minute bar so charts show the
// step; bar may supply the OHLC values, otherwise one is synthesized from the
// previous and new quotes. Open holdings are re-marked and the action is
// audited. A version conflict with a concurrent tick retries once.
func (s *InstrumentService) AdjustInstrumentPrice(ctx context.Context, instrumentID string, price decimal.Decimal, bar *BarOverride, actor string) (domain.Instrument, error) {
	if !price.IsPositive() {
		return domain.Instrument{}, fmt.Errorf("instrument_service: price must be positive")
	}
	if bar != nil {
		if err := bar.validate(); err != nil {
			return domain.Instrument{}, err
		}
	}

	inst, err := s.adjustOnce(ctx, instrumentID, price, bar, actor)
	if errors.Is(err, domain.ErrConflict) {
		inst, err = s.adjustOnce(ctx, instrumentID, price, bar, actor)
	}
	if err != nil {
		return domain.Instrument{}, err
	}

	if s.quotes != nil {
		if err := s.quotes.SetQuote(ctx, inst.ID, inst.QuotedPrice, inst.UpdatedAt); err != nil {
			s.logger.Warn("quote cache update failed",
				slog.String("instrument", inst.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("price adjusted",
		slog.String("instrument", inst.ID),
		slog.String("price", inst.QuotedPrice.String()),
		slog.String("actor", actor),
	)
	return inst, nil
}

func (s *InstrumentService) adjustOnce(ctx context.Context, instrumentID string, price decimal.Decimal, override *BarOverride, actor string) (domain.Instrument, error) {
	var out domain.Instrument

	err := s.tx.InTx(ctx, func(ctx context.Context, st domain.Stores) error {
		inst, err := st.Instruments.GetByID(ctx, instrumentID)
		if err != nil {
			return err
		}
		if !inst.Active {
			return domain.ErrInstrumentInactive
		}

		now := time.Now().UTC()
		prev := inst.QuotedPrice
		inst.QuotedPrice = inst.ClampToLimits(price)
		if inst.QuotedPrice.GreaterThan(inst.DayHigh) {
			inst.DayHigh = inst.QuotedPrice
		}
		if inst.QuotedPrice.LessThan(inst.DayLow) {
			inst.DayLow = inst.QuotedPrice
		}
		inst.UpdatedAt = now

		if err := st.Instruments.UpdateMarketState(ctx, inst); err != nil {
			return err
		}

		bar := domain.Bar{
			InstrumentID: inst.ID,
			Period:       domain.BarPeriodMinute,
			OpenedAt:     now.Truncate(time.Minute),
			Open:         prev,
			High:         decimal.Max(prev, inst.QuotedPrice),
			Low:          decimal.Min(prev, inst.QuotedPrice),
			Close:        inst.QuotedPrice,
		}
		if override != nil {
			bar.Open = override.Open
			bar.High = override.High
			bar.Low = override.Low
			bar.Close = override.Close
		}
		if !bar.Open.IsZero() {
			bar.ChangePercent = bar.Close.Sub(bar.Open).Div(bar.Open).Mul(domain.Hundred).Round(domain.PriceScale)
		}
		if err := st.Instruments.UpsertBar(ctx, bar); err != nil {
			return err
		}

		if _, err := st.Holdings.MarkToMarket(ctx, inst.ID, inst.QuotedPrice); err != nil {
			return err
		}

		if err := st.Audit.Log(ctx, "instrument.price_adjusted", map[string]any{
			"instrument_id": inst.ID,
			"actor":         actor,
			"from":          prev.String(),
			"to":            inst.QuotedPrice.String(),
		}); err != nil {
			return err
		}

		inst.Version++
		out = inst
		return nil
	})
	return out, err
}

// StrategyUpdate carries the administrator-configurable strategy, limit band,
// and order cap fields applied by SetInstrumentStrategy. Nil pointer fields
// leave the instrument's current value in place.
type StrategyUpdate struct {
	Kind          domain.StrategyKind
	TargetPercent decimal.Decimal
	TargetMinutes int

	LimitUpPercent   *decimal.Decimal
	LimitDownPercent *decimal.Decimal
	MaxBuyQty        *decimal.Decimal
	MaxSellQty       *decimal.Decimal
}

func (u StrategyUpdate) validate() error {
	switch u.Kind {
	case domain.StrategyFree, domain.StrategyTrendUp, domain.StrategyTrendDown, domain.StrategyVolatile:
	default:
		return fmt.Errorf("instrument_service: unknown strategy %q", u.Kind)
	}
	if u.LimitUpPercent != nil && !u.LimitUpPercent.IsPositive() {
		return fmt.Errorf("instrument_service: limit up percent must be positive")
	}
	if u.LimitDownPercent != nil && (!u.LimitDownPercent.IsPositive() || u.LimitDownPercent.GreaterThanOrEqual(domain.Hundred)) {
		return fmt.Errorf("instrument_service: limit down percent must be in (0, 100)")
	}
	if u.MaxBuyQty != nil && u.MaxBuyQty.IsNegative() {
		return fmt.Errorf("instrument_service: max buy quantity must not be negative")
	}
	if u.MaxSellQty != nil && u.MaxSellQty.IsNegative() {
		return fmt.Errorf("instrument_service: max sell quantity must not be negative")
	}
	return nil
}

// SetInstrumentStrategy switches the drift strategy applied on subsequent
// ticks and updates the limit band and per-order quantity caps when supplied.
// Takes effect from the next tick; the current quote is untouched.
func (s *InstrumentService) SetInstrumentStrategy(ctx context.Context, instrumentID string, upd StrategyUpdate, actor string) (domain.Instrument, error) {
	if err := upd.validate(); err != nil {
		return domain.Instrument{}, err
	}

	var out domain.Instrument
	err := s.tx.InTx(ctx, func(ctx context.Context, st domain.Stores) error {
		inst, err := st.Instruments.GetByID(ctx, instrumentID)
		if err != nil {
			return err
		}

		inst.StrategyKind = upd.Kind
		inst.StrategyTargetPercent = upd.TargetPercent
		inst.StrategyTargetMinutes = upd.TargetMinutes
		if upd.LimitUpPercent != nil {
			inst.LimitUpPercent = *upd.LimitUpPercent
		}
		if upd.LimitDownPercent != nil {
			inst.LimitDownPercent = *upd.LimitDownPercent
		}
		if upd.MaxBuyQty != nil {
			inst.MaxBuyQty = *upd.MaxBuyQty
		}
		if upd.MaxSellQty != nil {
			inst.MaxSellQty = *upd.MaxSellQty
		}
		if err := st.Instruments.UpdateStrategy(ctx, inst); err != nil {
			return err
		}

		detail := map[string]any{
			"instrument_id":  inst.ID,
			"actor":          actor,
			"strategy":       string(upd.Kind),
			"target_percent": upd.TargetPercent.String(),
			"target_minutes": upd.TargetMinutes,
		}
		if upd.LimitUpPercent != nil {
			detail["limit_up_percent"] = upd.LimitUpPercent.String()
		}
		if upd.LimitDownPercent != nil {
			detail["limit_down_percent"] = upd.LimitDownPercent.String()
		}
		if upd.MaxBuyQty != nil {
			detail["max_buy_qty"] = upd.MaxBuyQty.String()
		}
		if upd.MaxSellQty != nil {
			detail["max_sell_qty"] = upd.MaxSellQty.String()
		}
		if err := st.Audit.Log(ctx, "instrument.strategy_set", detail); err != nil {
			return err
		}

		out = inst
		return nil
	})

	if err == nil {
		s.logger.Info("strategy set",
			slog.String("instrument", out.ID),
			slog.String("strategy", string(upd.Kind)),
			slog.String("actor", actor),
		)
	}
	return out, err
}
