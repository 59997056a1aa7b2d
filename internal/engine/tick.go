// Package engine implements price formation for the synthetic market: a
// clock-driven tick that advances each instrument's quote using momentum
// release, administrator-configured strategy drift, and daily limit clamps.
package engine

import (
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
)

// Params are the hand-tuned simulation constants. They come straight from
// configuration; see config.MarketConfig.
type Params struct {
	// MomentumRelease is the fraction of pending momentum bled into the
	// price each tick. At 0.2 the momentum halves roughly every 5 ticks.
	MomentumRelease decimal.Decimal
	// MomentumEpsilon snaps momentum to zero once its magnitude drops below
	// it.
	MomentumEpsilon decimal.Decimal
	// StepFraction is the per-tick fraction of the remaining gap to a
	// strategy target, used when the instrument sets no target minutes.
	StepFraction decimal.Decimal
	// NoisePercent bounds the synthetic open/wick perturbation so minute
	// bars have visible range.
	NoisePercent decimal.Decimal
}

// Tick advances one instrument by one tick at the given time. It is a pure
// function of its inputs: all randomness comes from rng, all mutable state
// lives on the instrument. It returns the updated instrument and the bars
// (minute and day) to persist alongside it.
func Tick(inst domain.Instrument, now time.Time, rng *rand.Rand, p Params) (domain.Instrument, []domain.Bar) {
	now = now.UTC()

	if rolled(inst.DayOpenedAt, now) {
		inst = rollDay(inst, now)
	}

	priceDelta := decimal.Zero

	// Momentum release: bleed a fixed fraction of pending price pressure
	// into this tick, shrinking the reservoir by the same amount.
	if inst.Momentum.Abs().GreaterThan(p.MomentumEpsilon) {
		release := inst.Momentum.Mul(p.MomentumRelease)
		priceDelta = priceDelta.Add(release)
		inst.Momentum = inst.Momentum.Sub(release)
		if inst.Momentum.Abs().LessThanOrEqual(p.MomentumEpsilon) {
			inst.Momentum = decimal.Zero
		}
	} else {
		inst.Momentum = decimal.Zero
	}

	// Strategy drift: approach the target asymptotically rather than
	// jumping. The per-tick step defaults to StepFraction; an instrument
	// with target minutes set spreads the approach over that horizon.
	if inst.StrategyKind != domain.StrategyFree {
		target := inst.BasePrice.Add(domain.PercentOf(inst.BasePrice, inst.StrategyTargetPercent))
		step := p.StepFraction
		if inst.StrategyTargetMinutes > 0 {
			step = decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(inst.StrategyTargetMinutes)))
		}
		priceDelta = priceDelta.Add(target.Sub(inst.QuotedPrice).Mul(step))
	}

	prevClose := inst.QuotedPrice
	candidate := inst.QuotedPrice.Add(priceDelta)

	// Circuit breaker: the quote never leaves the daily band. Intent beyond
	// the clamp is rejected by order execution, not here.
	inst.QuotedPrice = inst.ClampToLimits(candidate)

	if inst.QuotedPrice.GreaterThan(inst.DayHigh) {
		inst.DayHigh = inst.QuotedPrice
	}
	if inst.QuotedPrice.LessThan(inst.DayLow) {
		inst.DayLow = inst.QuotedPrice
	}

	minuteBar := buildMinuteBar(inst, prevClose, now, rng, p)
	dayBar := domain.Bar{
		InstrumentID:  inst.ID,
		Period:        domain.BarPeriodDay,
		OpenedAt:      dayStart(now),
		Open:          inst.OpenPrice,
		High:          inst.DayHigh,
		Low:           inst.DayLow,
		Close:         inst.QuotedPrice,
		ChangePercent: changePercent(inst.BasePrice, inst.QuotedPrice),
	}

	return inst, []domain.Bar{minuteBar, dayBar}
}

// buildMinuteBar fabricates one minute candle. The open is the previous
// close perturbed by bounded noise and the high/low carry a random wick, so
// charts show range even when the deterministic delta is tiny. Volatile
// instruments double the noise amplitude.
func buildMinuteBar(inst domain.Instrument, prevClose decimal.Decimal, now time.Time, rng *rand.Rand, p Params) domain.Bar {
	noise := p.NoisePercent
	if inst.StrategyKind == domain.StrategyVolatile {
		noise = noise.Mul(decimal.NewFromInt(2))
	}

	open := inst.ClampToLimits(perturb(prevClose, noise, rng))
	close := inst.QuotedPrice

	high := decimal.Max(open, close)
	low := decimal.Min(open, close)
	wick := decimal.NewFromFloat(rng.Float64()).Mul(noise)
	high = inst.ClampToLimits(high.Add(domain.PercentOf(high, wick)))
	low = inst.ClampToLimits(low.Sub(domain.PercentOf(low, wick)))

	return domain.Bar{
		InstrumentID:  inst.ID,
		Period:        domain.BarPeriodMinute,
		OpenedAt:      now.Truncate(time.Minute),
		Open:          open,
		High:          high,
		Low:           low,
		Close:         close,
		ChangePercent: changePercent(open, close),
	}
}

// perturb shifts a price by a uniform factor in [-noisePercent, +noisePercent].
func perturb(price, noisePercent decimal.Decimal, rng *rand.Rand) decimal.Decimal {
	f := decimal.NewFromFloat(rng.Float64()*2 - 1).Mul(noisePercent)
	return domain.RoundPrice(price.Add(domain.PercentOf(price, f)))
}

func changePercent(from, to decimal.Decimal) decimal.Decimal {
	if from.IsZero() {
		return decimal.Zero
	}
	return to.Sub(from).Div(from).Mul(domain.Hundred).Round(domain.PriceScale)
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func rolled(dayOpenedAt, now time.Time) bool {
	return !dayStart(dayOpenedAt).Equal(dayStart(now))
}

// rollDay resets the daily aggregates at a day boundary: the prior close
// becomes the new base price the limit band is computed from.
func rollDay(inst domain.Instrument, now time.Time) domain.Instrument {
	inst.BasePrice = inst.QuotedPrice
	inst.OpenPrice = inst.QuotedPrice
	inst.DayHigh = inst.QuotedPrice
	inst.DayLow = inst.QuotedPrice
	inst.DayOpenedAt = dayStart(now)
	return inst
}
