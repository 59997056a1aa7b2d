package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each
// instrument's latest quote is stored under nsKey("quote", instrumentID) with
// fields "price" (decimal string) and "ts" (Unix nanosecond timestamp). The
// tick engine writes it after every persisted tick; the API layer and the
// websocket hub read it instead of hitting Postgres.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(instrumentID string) string {
	return nsKey("quote", instrumentID)
}

// SetQuote stores the latest quote and tick timestamp for an instrument.
func (qc *QuoteCache) SetQuote(ctx context.Context, instrumentID string, price decimal.Decimal, ts time.Time) error {
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := qc.rdb.HSet(ctx, quoteKey(instrumentID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", instrumentID, err)
	}
	return nil
}

// GetQuote retrieves the latest quote and tick timestamp for an instrument.
// It returns domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) GetQuote(ctx context.Context, instrumentID string) (decimal.Decimal, time.Time, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(instrumentID)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get quote %s: %w", instrumentID, err)
	}
	if len(vals) == 0 {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse quote %s: %w", instrumentID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse quote ts %s: %w", instrumentID, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
