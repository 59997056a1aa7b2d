package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
)

// HoldingStore implements domain.HoldingStore using PostgreSQL.
type HoldingStore struct {
	db DB
}

// NewHoldingStore creates a new HoldingStore backed by the given DB handle.
func NewHoldingStore(db DB) *HoldingStore {
	return &HoldingStore{db: db}
}

const holdingSelectCols = `id, account_id, instrument_id, quantity,
	weighted_avg_cost, last_mark_price, unrealized_pnl, status, created_at, closed_at`

func scanHoldingRow(row pgx.Row) (domain.Holding, error) {
	var h domain.Holding
	var status string

	err := row.Scan(
		&h.ID, &h.AccountID, &h.InstrumentID, &h.Quantity,
		&h.WeightedAvgCost, &h.LastMarkPrice, &h.UnrealizedPnL,
		&status, &h.CreatedAt, &h.ClosedAt,
	)
	if err != nil {
		return domain.Holding{}, err
	}
	h.Status = domain.HoldingStatus(status)
	return h, nil
}

func scanHoldingRows(rows pgx.Rows) ([]domain.Holding, error) {
	var holdings []domain.Holding
	for rows.Next() {
		h, err := scanHoldingRow(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// Create inserts a new holding.
func (s *HoldingStore) Create(ctx context.Context, h domain.Holding) error {
	const query = `
		INSERT INTO holdings (
			id, account_id, instrument_id, quantity,
			weighted_avg_cost, last_mark_price, unrealized_pnl,
			status, created_at, closed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`

	_, err := s.db.Exec(ctx, query,
		h.ID, h.AccountID, h.InstrumentID, h.Quantity,
		h.WeightedAvgCost, h.LastMarkPrice, h.UnrealizedPnL,
		string(h.Status), h.CreatedAt, h.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create holding %s: %w", h.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a holding.
func (s *HoldingStore) Update(ctx context.Context, h domain.Holding) error {
	const query = `
		UPDATE holdings SET
			quantity          = $2,
			weighted_avg_cost = $3,
			last_mark_price   = $4,
			unrealized_pnl    = $5,
			status            = $6,
			closed_at         = $7,
			updated_at        = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		h.ID, h.Quantity, h.WeightedAvgCost, h.LastMarkPrice,
		h.UnrealizedPnL, string(h.Status), h.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update holding %s: %w", h.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single holding by its ID.
func (s *HoldingStore) GetByID(ctx context.Context, id string) (domain.Holding, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+holdingSelectCols+` FROM holdings WHERE id = $1`, id)

	h, err := scanHoldingRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Holding{}, domain.ErrNotFound
		}
		return domain.Holding{}, fmt.Errorf("postgres: get holding %s: %w", id, err)
	}
	return h, nil
}

// GetOpen returns the non-closed holding for the account/instrument pair.
func (s *HoldingStore) GetOpen(ctx context.Context, accountID, instrumentID string) (domain.Holding, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+holdingSelectCols+` FROM holdings
		 WHERE account_id = $1 AND instrument_id = $2 AND status <> 'closed'`,
		accountID, instrumentID)

	h, err := scanHoldingRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Holding{}, domain.ErrNotFound
		}
		return domain.Holding{}, fmt.Errorf("postgres: get open holding %s/%s: %w", accountID, instrumentID, err)
	}
	return h, nil
}

// ListOpenByAccount returns all open holdings for an account.
func (s *HoldingStore) ListOpenByAccount(ctx context.Context, accountID string) ([]domain.Holding, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+holdingSelectCols+` FROM holdings
		 WHERE account_id = $1 AND status <> 'closed'
		 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list holdings by account: %w", err)
	}
	defer rows.Close()

	return scanHoldingRows(rows)
}

// ListOpenByInstrument returns all open holdings of an instrument.
func (s *HoldingStore) ListOpenByInstrument(ctx context.Context, instrumentID string) ([]domain.Holding, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+holdingSelectCols+` FROM holdings
		 WHERE instrument_id = $1 AND status <> 'closed'
		 ORDER BY created_at`, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list holdings by instrument: %w", err)
	}
	defer rows.Close()

	return scanHoldingRows(rows)
}

// MarkToMarket refreshes mark price and unrealized P&L for every open
// holding of the instrument in a single statement.
func (s *HoldingStore) MarkToMarket(ctx context.Context, instrumentID string, mark decimal.Decimal) (int64, error) {
	const query = `
		UPDATE holdings SET
			last_mark_price = $2,
			unrealized_pnl  = ROUND(quantity * ($2 - weighted_avg_cost), 2),
			updated_at      = NOW()
		WHERE instrument_id = $1 AND status <> 'closed'`

	tag, err := s.db.Exec(ctx, query, instrumentID, mark)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark to market %s: %w", instrumentID, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.HoldingStore = (*HoldingStore)(nil)
