package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/mktsim/mktsim/internal/domain"
)

func drawInstrument(t *rapid.T, now time.Time) domain.Instrument {
	base := decimal.New(rapid.Int64Range(10_000, 100_000_000).Draw(t, "base"), -4)
	quoteOffset := decimal.New(rapid.Int64Range(-50_000, 50_000).Draw(t, "quoteOffset"), -4)

	inst := domain.Instrument{
		ID:               "inst-p",
		Symbol:           "SYN",
		Active:           true,
		BasePrice:        base,
		OpenPrice:        base,
		DayOpenedAt:      now,
		Momentum:         decimal.New(rapid.Int64Range(-1_000_000, 1_000_000).Draw(t, "momentum"), -4),
		StrategyKind:     rapid.SampledFrom([]domain.StrategyKind{domain.StrategyFree, domain.StrategyTrendUp, domain.StrategyTrendDown, domain.StrategyVolatile}).Draw(t, "strategy"),
		LimitUpPercent:   decimal.NewFromInt(rapid.Int64Range(1, 50).Draw(t, "limitUp")),
		LimitDownPercent: decimal.NewFromInt(rapid.Int64Range(1, 50).Draw(t, "limitDown")),
	}
	inst.StrategyTargetPercent = decimal.NewFromInt(rapid.Int64Range(-40, 40).Draw(t, "targetPercent"))
	inst.StrategyTargetMinutes = int(rapid.Int64Range(0, 120).Draw(t, "targetMinutes"))

	inst.QuotedPrice = inst.ClampToLimits(base.Add(quoteOffset))
	inst.DayHigh = decimal.Max(inst.QuotedPrice, base)
	inst.DayLow = decimal.Min(inst.QuotedPrice, base)
	return inst
}

func TestProperty_TickKeepsQuoteInsideLimitBand(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	rapid.Check(t, func(t *rapid.T) {
		inst := drawInstrument(t, now)
		rng := rand.New(rand.NewSource(rapid.Int64().Draw(t, "seed")))
		p := Params{
			MomentumRelease: dec("0.2"),
			MomentumEpsilon: dec("0.01"),
			StepFraction:    dec("0.1"),
			NoisePercent:    decimal.New(rapid.Int64Range(0, 200).Draw(t, "noise"), -2),
		}

		next, bars := Tick(inst, now, rng, p)

		low, high := next.LimitBounds()
		if next.QuotedPrice.LessThan(low) || next.QuotedPrice.GreaterThan(high) {
			t.Fatalf("quote %s outside band [%s, %s]", next.QuotedPrice, low, high)
		}
		if next.DayHigh.LessThan(next.QuotedPrice) || next.DayLow.GreaterThan(next.QuotedPrice) {
			t.Fatalf("day range [%s, %s] excludes quote %s", next.DayLow, next.DayHigh, next.QuotedPrice)
		}

		for _, bar := range bars {
			if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) {
				t.Fatalf("%s bar high %s below open %s / close %s", bar.Period, bar.High, bar.Open, bar.Close)
			}
			if bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) {
				t.Fatalf("%s bar low %s above open %s / close %s", bar.Period, bar.Low, bar.Open, bar.Close)
			}
			if bar.High.GreaterThan(high) || bar.Low.LessThan(low) {
				t.Fatalf("%s bar [%s, %s] escapes band [%s, %s]", bar.Period, bar.Low, bar.High, low, high)
			}
		}
	})
}

func TestProperty_TickNeverGrowsMomentum(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	rapid.Check(t, func(t *rapid.T) {
		inst := drawInstrument(t, now)
		rng := rand.New(rand.NewSource(rapid.Int64().Draw(t, "seed")))

		next, _ := Tick(inst, now, rng, Params{
			MomentumRelease: dec("0.2"),
			MomentumEpsilon: dec("0.01"),
			StepFraction:    dec("0.1"),
			NoisePercent:    dec("0.5"),
		})

		if next.Momentum.Abs().GreaterThan(inst.Momentum.Abs()) {
			t.Fatalf("momentum grew from %s to %s", inst.Momentum, next.Momentum)
		}
		if inst.Momentum.IsPositive() && next.Momentum.IsNegative() {
			t.Fatalf("momentum flipped sign: %s -> %s", inst.Momentum, next.Momentum)
		}
	})
}
