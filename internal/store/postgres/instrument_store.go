package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mktsim/mktsim/internal/domain"
)

// InstrumentStore implements domain.InstrumentStore using PostgreSQL.
type InstrumentStore struct {
	db DB
}

// NewInstrumentStore creates a new InstrumentStore backed by the given DB
// handle.
func NewInstrumentStore(db DB) *InstrumentStore {
	return &InstrumentStore{db: db}
}

const instrumentSelectCols = `id, symbol, name, active,
	base_price, quoted_price, open_price, day_high, day_low, day_opened_at,
	momentum, strategy_kind, strategy_target_percent, strategy_target_minutes,
	limit_up_percent, limit_down_percent,
	is_supply_limited, total_supply, sold_supply,
	min_order_qty, max_buy_qty, max_sell_qty,
	take_profit_percent, stop_loss_percent,
	dividend_per_share, dividend_interval_days,
	fee_percent, version, updated_at`

func scanInstrumentRow(row pgx.Row) (domain.Instrument, error) {
	var i domain.Instrument
	var strategyKind string

	err := row.Scan(
		&i.ID, &i.Symbol, &i.Name, &i.Active,
		&i.BasePrice, &i.QuotedPrice, &i.OpenPrice, &i.DayHigh, &i.DayLow, &i.DayOpenedAt,
		&i.Momentum, &strategyKind, &i.StrategyTargetPercent, &i.StrategyTargetMinutes,
		&i.LimitUpPercent, &i.LimitDownPercent,
		&i.IsSupplyLimited, &i.TotalSupply, &i.SoldSupply,
		&i.MinOrderQty, &i.MaxBuyQty, &i.MaxSellQty,
		&i.TakeProfitPercent, &i.StopLossPercent,
		&i.DividendPerShare, &i.DividendIntervalDays,
		&i.FeePercent, &i.Version, &i.UpdatedAt,
	)
	if err != nil {
		return domain.Instrument{}, err
	}
	i.StrategyKind = domain.StrategyKind(strategyKind)
	return i, nil
}

// Create inserts a new instrument.
func (s *InstrumentStore) Create(ctx context.Context, i domain.Instrument) error {
	const query = `
		INSERT INTO instruments (
			id, symbol, name, active,
			base_price, quoted_price, open_price, day_high, day_low, day_opened_at,
			momentum, strategy_kind, strategy_target_percent, strategy_target_minutes,
			limit_up_percent, limit_down_percent,
			is_supply_limited, total_supply, sold_supply,
			min_order_qty, max_buy_qty, max_sell_qty,
			take_profit_percent, stop_loss_percent,
			dividend_per_share, dividend_interval_days,
			fee_percent, version, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16,
			$17, $18, $19,
			$20, $21, $22,
			$23, $24,
			$25, $26,
			$27, $28, NOW()
		)`

	_, err := s.db.Exec(ctx, query,
		i.ID, i.Symbol, i.Name, i.Active,
		i.BasePrice, i.QuotedPrice, i.OpenPrice, i.DayHigh, i.DayLow, i.DayOpenedAt,
		i.Momentum, string(i.StrategyKind), i.StrategyTargetPercent, i.StrategyTargetMinutes,
		i.LimitUpPercent, i.LimitDownPercent,
		i.IsSupplyLimited, i.TotalSupply, i.SoldSupply,
		i.MinOrderQty, i.MaxBuyQty, i.MaxSellQty,
		i.TakeProfitPercent, i.StopLossPercent,
		i.DividendPerShare, i.DividendIntervalDays,
		i.FeePercent, i.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create instrument %s: %w", i.ID, err)
	}
	return nil
}

// GetByID retrieves a single instrument by its ID.
func (s *InstrumentStore) GetByID(ctx context.Context, id string) (domain.Instrument, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+instrumentSelectCols+` FROM instruments WHERE id = $1`, id)

	i, err := scanInstrumentRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("postgres: get instrument %s: %w", id, err)
	}
	return i, nil
}

// ListActive returns all active instruments ordered by symbol.
func (s *InstrumentStore) ListActive(ctx context.Context) ([]domain.Instrument, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+instrumentSelectCols+` FROM instruments WHERE active ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active instruments: %w", err)
	}
	defer rows.Close()

	var instruments []domain.Instrument
	for rows.Next() {
		i, err := scanInstrumentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan instrument: %w", err)
		}
		instruments = append(instruments, i)
	}
	return instruments, rows.Err()
}

// UpdateMarketState writes the fields mutated by the tick engine and order
// execution, guarded by the version the caller read. It bumps the version on
// success; a stale version fails with ErrConflict and writes nothing.
func (s *InstrumentStore) UpdateMarketState(ctx context.Context, i domain.Instrument) error {
	const query = `
		UPDATE instruments SET
			base_price    = $2,
			quoted_price  = $3,
			open_price    = $4,
			day_high      = $5,
			day_low       = $6,
			day_opened_at = $7,
			momentum      = $8,
			sold_supply   = $9,
			version       = version + 1,
			updated_at    = NOW()
		WHERE id = $1 AND version = $10`

	tag, err := s.db.Exec(ctx, query,
		i.ID, i.BasePrice, i.QuotedPrice, i.OpenPrice, i.DayHigh, i.DayLow,
		i.DayOpenedAt, i.Momentum, i.SoldSupply, i.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market state %s: %w", i.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM instruments WHERE id = $1)", i.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: update market state %s: %w", i.ID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

// UpdateStrategy writes the administrator-configured fields.
func (s *InstrumentStore) UpdateStrategy(ctx context.Context, i domain.Instrument) error {
	const query = `
		UPDATE instruments SET
			strategy_kind           = $2,
			strategy_target_percent = $3,
			strategy_target_minutes = $4,
			limit_up_percent        = $5,
			limit_down_percent      = $6,
			max_buy_qty             = $7,
			max_sell_qty            = $8,
			take_profit_percent     = $9,
			stop_loss_percent       = $10,
			dividend_per_share      = $11,
			dividend_interval_days  = $12,
			fee_percent             = $13,
			active                  = $14,
			updated_at              = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		i.ID, string(i.StrategyKind), i.StrategyTargetPercent, i.StrategyTargetMinutes,
		i.LimitUpPercent, i.LimitDownPercent,
		i.MaxBuyQty, i.MaxSellQty,
		i.TakeProfitPercent, i.StopLossPercent,
		i.DividendPerShare, i.DividendIntervalDays,
		i.FeePercent, i.Active,
	)
	if err != nil {
		return fmt.Errorf("postgres: update strategy %s: %w", i.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertBar inserts a bar or updates its aggregates when the (instrument,
// period, opened_at) slot already exists.
func (s *InstrumentStore) UpsertBar(ctx context.Context, b domain.Bar) error {
	const query = `
		INSERT INTO bars (instrument_id, period, opened_at, open, high, low, close, change_percent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (instrument_id, period, opened_at) DO UPDATE SET
			high           = GREATEST(bars.high, EXCLUDED.high),
			low            = LEAST(bars.low, EXCLUDED.low),
			close          = EXCLUDED.close,
			change_percent = EXCLUDED.change_percent`

	_, err := s.db.Exec(ctx, query,
		b.InstrumentID, string(b.Period), b.OpenedAt,
		b.Open, b.High, b.Low, b.Close, b.ChangePercent,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bar %s/%s: %w", b.InstrumentID, b.Period, err)
	}
	return nil
}

// ListBars returns bars for an instrument and period, newest first.
func (s *InstrumentStore) ListBars(ctx context.Context, instrumentID string, period domain.BarPeriod, opts domain.ListOpts) ([]domain.Bar, error) {
	query := `SELECT instrument_id, period, opened_at, open, high, low, close, change_percent
		FROM bars WHERE instrument_id = $1 AND period = $2`
	args := []any{instrumentID, string(period)}
	argIdx := 3

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY opened_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bars %s: %w", instrumentID, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		var p string
		if err := rows.Scan(&b.InstrumentID, &p, &b.OpenedAt, &b.Open, &b.High, &b.Low, &b.Close, &b.ChangePercent); err != nil {
			return nil, fmt.Errorf("postgres: scan bar: %w", err)
		}
		b.Period = domain.BarPeriod(p)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Compile-time interface check.
var _ domain.InstrumentStore = (*InstrumentStore)(nil)
