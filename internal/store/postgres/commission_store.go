package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mktsim/mktsim/internal/domain"
)

// CommissionStore implements domain.CommissionStore using PostgreSQL.
type CommissionStore struct {
	db DB
}

// NewCommissionStore creates a new CommissionStore backed by the given DB
// handle.
func NewCommissionStore(db DB) *CommissionStore {
	return &CommissionStore{db: db}
}

const commissionSelectCols = `id, beneficiary_id, source_id, order_id, tier,
	amount, day_bucket, settled, created_at, settled_at`

func scanCommissionRows(rows pgx.Rows) ([]domain.CommissionRecord, error) {
	var records []domain.CommissionRecord
	for rows.Next() {
		var c domain.CommissionRecord
		if err := rows.Scan(
			&c.ID, &c.BeneficiaryID, &c.SourceID, &c.OrderID, &c.Tier,
			&c.Amount, &c.DayBucket, &c.Settled, &c.CreatedAt, &c.SettledAt,
		); err != nil {
			return nil, err
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

// Create inserts a new commission accrual.
func (s *CommissionStore) Create(ctx context.Context, c domain.CommissionRecord) error {
	const query = `
		INSERT INTO commission_records (
			id, beneficiary_id, source_id, order_id, tier,
			amount, day_bucket, settled, created_at, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.Exec(ctx, query,
		c.ID, c.BeneficiaryID, c.SourceID, c.OrderID, c.Tier,
		c.Amount, c.DayBucket, c.Settled, c.CreatedAt, c.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create commission %s: %w", c.ID, err)
	}
	return nil
}

// ListUnsettled returns unsettled records with a day bucket at or before the
// given day, oldest first.
func (s *CommissionStore) ListUnsettled(ctx context.Context, through time.Time) ([]domain.CommissionRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+commissionSelectCols+` FROM commission_records
		 WHERE NOT settled AND day_bucket <= $1
		 ORDER BY beneficiary_id, day_bucket`, through)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unsettled commissions: %w", err)
	}
	defer rows.Close()

	return scanCommissionRows(rows)
}

// MarkSettled flips the settled flag for the given record IDs.
func (s *CommissionStore) MarkSettled(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`UPDATE commission_records SET settled = TRUE, settled_at = $2 WHERE id = ANY($1)`,
		ids, at)
	if err != nil {
		return fmt.Errorf("postgres: mark commissions settled: %w", err)
	}
	return nil
}

// ListByBeneficiary returns commission records for an account, newest first.
func (s *CommissionStore) ListByBeneficiary(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.CommissionRecord, error) {
	query := `SELECT ` + commissionSelectCols + ` FROM commission_records
		WHERE beneficiary_id = $1 ORDER BY created_at DESC`
	args := []any{accountID}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list commissions: %w", err)
	}
	defer rows.Close()

	return scanCommissionRows(rows)
}

// Compile-time interface check.
var _ domain.CommissionStore = (*CommissionStore)(nil)
