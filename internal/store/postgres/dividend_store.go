package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mktsim/mktsim/internal/domain"
)

// DividendStore implements domain.DividendStore using PostgreSQL. The
// (holding_id, period_index) unique constraint is the datastore-enforced
// idempotency guard for dividend payouts.
type DividendStore struct {
	db DB
}

// NewDividendStore creates a new DividendStore backed by the given DB handle.
func NewDividendStore(db DB) *DividendStore {
	return &DividendStore{db: db}
}

const dividendSelectCols = `id, holding_id, account_id, instrument_id,
	amount, holding_days, period_index, paid_at`

// Create inserts a payout record. A duplicate (holding, period) pair fails
// with ErrAlreadyExists, which callers treat as "already paid".
func (s *DividendStore) Create(ctx context.Context, r domain.DividendRecord) error {
	const query = `
		INSERT INTO dividend_records (
			id, holding_id, account_id, instrument_id,
			amount, holding_days, period_index, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, query,
		r.ID, r.HoldingID, r.AccountID, r.InstrumentID,
		r.Amount, r.HoldingDays, r.PeriodIndex, r.PaidAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create dividend record %s: %w", r.ID, err)
	}
	return nil
}

// GetLastForHolding returns the most recent payout record for a holding, or
// ErrNotFound when it has never been paid.
func (s *DividendStore) GetLastForHolding(ctx context.Context, holdingID string) (domain.DividendRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+dividendSelectCols+` FROM dividend_records
		 WHERE holding_id = $1 ORDER BY period_index DESC LIMIT 1`, holdingID)

	var r domain.DividendRecord
	err := row.Scan(
		&r.ID, &r.HoldingID, &r.AccountID, &r.InstrumentID,
		&r.Amount, &r.HoldingDays, &r.PeriodIndex, &r.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DividendRecord{}, domain.ErrNotFound
		}
		return domain.DividendRecord{}, fmt.Errorf("postgres: get last dividend %s: %w", holdingID, err)
	}
	return r, nil
}

// Compile-time interface check.
var _ domain.DividendStore = (*DividendStore)(nil)
