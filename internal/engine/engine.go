package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
)

// QuotePublisher receives the new quote after a tick commits; the websocket
// hub implements it to fan updates out to chart clients.
type QuotePublisher interface {
	PublishQuote(instrumentID string, price decimal.Decimal, ts time.Time)
}

// Engine drives the per-tick price advance across all active instruments.
// Instruments are independent: one failed write is logged, skipped, and
// naturally retried on the next tick.
type Engine struct {
	stores    domain.Stores
	tx        domain.TxRunner
	quotes    domain.QuoteCache
	publisher QuotePublisher
	params    Params
	rng       *rand.Rand
	logger    *slog.Logger
}

// New creates an Engine. publisher may be nil when no live feed is attached.
func New(stores domain.Stores, tx domain.TxRunner, quotes domain.QuoteCache, publisher QuotePublisher, params Params, rng *rand.Rand, logger *slog.Logger) *Engine {
	return &Engine{
		stores:    stores,
		tx:        tx,
		quotes:    quotes,
		publisher: publisher,
		params:    params,
		rng:       rng,
		logger:    logger.With(slog.String("component", "engine")),
	}
}

// TickPrices advances every active instrument once and returns how many were
// updated. Each instrument's tick persists atomically (market state, bars,
// mark-to-market) guarded by the instrument version; a concurrent order
// execution causes one reread-and-retry before the instrument is skipped
// until the next tick.
func (e *Engine) TickPrices(ctx context.Context) (int, error) {
	instruments, err := e.stores.Instruments.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	updated := 0

	for _, inst := range instruments {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		price, err := e.tickOne(ctx, inst.ID, now)
		if err != nil {
			e.logger.Error("tick failed",
				slog.String("instrument", inst.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		updated++

		if err := e.quotes.SetQuote(ctx, inst.ID, price, now); err != nil {
			e.logger.Warn("quote cache update failed",
				slog.String("instrument", inst.ID),
				slog.String("error", err.Error()),
			)
		}
		if e.publisher != nil {
			e.publisher.PublishQuote(inst.ID, price, now)
		}
	}

	return updated, nil
}

// tickOne runs one atomic tick for an instrument, retrying once when the
// version check loses to a concurrent order execution.
func (e *Engine) tickOne(ctx context.Context, instrumentID string, now time.Time) (decimal.Decimal, error) {
	var price decimal.Decimal

	attempt := func() error {
		return e.tx.InTx(ctx, func(ctx context.Context, s domain.Stores) error {
			inst, err := s.Instruments.GetByID(ctx, instrumentID)
			if err != nil {
				return err
			}

			next, bars := Tick(inst, now, e.rng, e.params)
			if err := s.Instruments.UpdateMarketState(ctx, next); err != nil {
				return err
			}
			for _, bar := range bars {
				if err := s.Instruments.UpsertBar(ctx, bar); err != nil {
					return err
				}
			}
			if _, err := s.Holdings.MarkToMarket(ctx, instrumentID, next.QuotedPrice); err != nil {
				return err
			}

			price = next.QuotedPrice
			return nil
		})
	}

	err := attempt()
	if errors.Is(err, domain.ErrConflict) {
		err = attempt()
	}
	return price, err
}
