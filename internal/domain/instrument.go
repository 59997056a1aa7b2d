package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyKind selects the administrator-configured drift applied by the
// price formation engine on every tick.
type StrategyKind string

const (
	StrategyFree      StrategyKind = "free"
	StrategyTrendUp   StrategyKind = "trend_up"
	StrategyTrendDown StrategyKind = "trend_down"
	StrategyVolatile  StrategyKind = "volatile"
)

// BarPeriod distinguishes minute bars from daily bars.
type BarPeriod string

const (
	BarPeriodMinute BarPeriod = "minute"
	BarPeriodDay    BarPeriod = "day"
)

// Bar is one OHLC candle produced by the price formation engine (or appended
// by an administrator price adjustment).
type Bar struct {
	InstrumentID  string
	Period        BarPeriod
	OpenedAt      time.Time
	Open          decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	Close         decimal.Decimal
	ChangePercent decimal.Decimal
}

// Instrument is a listed synthetic asset. Price, momentum and supply are
// mutated by exactly two actors (the tick engine and order execution), so
// every write goes through a version-checked update.
type Instrument struct {
	ID     string
	Symbol string
	Name   string
	Active bool

	// BasePrice is the reference for daily limit-up/limit-down clamping;
	// it rolls to the prior close at each day boundary.
	BasePrice   decimal.Decimal
	QuotedPrice decimal.Decimal
	OpenPrice   decimal.Decimal
	DayHigh     decimal.Decimal
	DayLow      decimal.Decimal
	DayOpenedAt time.Time

	// Momentum is transient signed price pressure injected by market impact
	// and released gradually into the quote.
	Momentum decimal.Decimal

	StrategyKind          StrategyKind
	StrategyTargetPercent decimal.Decimal
	StrategyTargetMinutes int
	LimitUpPercent        decimal.Decimal
	LimitDownPercent      decimal.Decimal

	IsSupplyLimited bool
	TotalSupply     decimal.Decimal
	SoldSupply      decimal.Decimal

	MinOrderQty decimal.Decimal
	MaxBuyQty   decimal.Decimal
	MaxSellQty  decimal.Decimal

	// TakeProfitPercent / StopLossPercent gate holding status relative to
	// weighted-average cost. Zero disables the rule.
	TakeProfitPercent decimal.Decimal
	StopLossPercent   decimal.Decimal

	DividendPerShare     decimal.Decimal
	DividendIntervalDays int

	FeePercent decimal.Decimal

	// Version backs the compare-and-swap update used by both mutating actors.
	Version   int64
	UpdatedAt time.Time
}

// LimitBounds returns the daily [low, high] price band derived from
// BasePrice and the configured limit percents.
func (i Instrument) LimitBounds() (low, high decimal.Decimal) {
	low = RoundPrice(i.BasePrice.Sub(PercentOf(i.BasePrice, i.LimitDownPercent)))
	high = RoundPrice(i.BasePrice.Add(PercentOf(i.BasePrice, i.LimitUpPercent)))
	return low, high
}

// ClampToLimits clamps a candidate price into the daily band.
func (i Instrument) ClampToLimits(candidate decimal.Decimal) decimal.Decimal {
	low, high := i.LimitBounds()
	if candidate.LessThan(low) {
		return low
	}
	if candidate.GreaterThan(high) {
		return high
	}
	return RoundPrice(candidate)
}

// RemainingSupply returns how many units can still be bought, or false when
// the instrument has no supply cap.
func (i Instrument) RemainingSupply() (decimal.Decimal, bool) {
	if !i.IsSupplyLimited {
		return Zero, false
	}
	return i.TotalSupply.Sub(i.SoldSupply), true
}

// PaysDividends reports whether the dividend distributor should consider
// this instrument.
func (i Instrument) PaysDividends() bool {
	return i.DividendPerShare.IsPositive() && i.DividendIntervalDays > 0
}
