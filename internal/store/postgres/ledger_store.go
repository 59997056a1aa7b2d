package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Entries are
// append-only; there is no update or delete path.
type LedgerStore struct {
	db DB
}

// NewLedgerStore creates a new LedgerStore backed by the given DB handle.
func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const ledgerSelectCols = `id, account_id, kind, amount, balance_after,
	description, ref_id, ref_kind, created_at`

func scanLedgerRows(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var kind string
		if err := rows.Scan(
			&e.ID, &e.AccountID, &kind, &e.Amount, &e.BalanceAfter,
			&e.Description, &e.RefID, &e.RefKind, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Kind = domain.LedgerKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Append writes one immutable ledger entry.
func (s *LedgerStore) Append(ctx context.Context, e domain.LedgerEntry) error {
	const query = `
		INSERT INTO ledger_entries (
			id, account_id, kind, amount, balance_after,
			description, ref_id, ref_kind, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.Exec(ctx, query,
		e.ID, e.AccountID, string(e.Kind), e.Amount, e.BalanceAfter,
		e.Description, e.RefID, e.RefKind, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append ledger entry %s: %w", e.ID, err)
	}
	return nil
}

// ListByAccount returns ledger entries for an account, newest first.
func (s *LedgerStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerSelectCols + ` FROM ledger_entries WHERE account_id = $1`
	args := []any{accountID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger entries: %w", err)
	}
	defer rows.Close()

	return scanLedgerRows(rows)
}

// SumByAccount returns the sum of signed amounts for the account. The
// conservation law requires this to equal available + frozen at all times.
func (s *LedgerStore) SumByAccount(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`,
		accountID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum ledger %s: %w", accountID, err)
	}
	return sum, nil
}

// ListBefore returns entries created strictly before the cutoff; used by the
// archiver.
func (s *LedgerStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LedgerEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+ledgerSelectCols+` FROM ledger_entries WHERE created_at < $1 ORDER BY created_at`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger before %v: %w", before, err)
	}
	defer rows.Close()

	return scanLedgerRows(rows)
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
