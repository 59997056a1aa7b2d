package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mktsim/mktsim/internal/domain"
)

// DB is the subset of pgx execution methods shared by *pgxpool.Pool and
// pgx.Tx, letting every store run against either a pooled connection or a
// transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewStores builds the full store bundle over the given DB handle.
func NewStores(db DB) domain.Stores {
	return domain.Stores{
		Accounts:    NewAccountStore(db),
		Instruments: NewInstrumentStore(db),
		Holdings:    NewHoldingStore(db),
		Orders:      NewOrderStore(db),
		Ledger:      NewLedgerStore(db),
		Deposits:    NewDepositStore(db),
		Withdrawals: NewWithdrawalStore(db),
		Commissions: NewCommissionStore(db),
		Dividends:   NewDividendStore(db),
		Audit:       NewAuditStore(db),
	}
}

// TxRunner implements domain.TxRunner over a pgx connection pool.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner creates a TxRunner backed by the given pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// InTx begins a transaction, hands fn a store bundle bound to it, and
// commits when fn returns nil. Any error from fn rolls back every write.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	if err := fn(ctx, NewStores(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TxRunner = (*TxRunner)(nil)

const uniqueViolationCode = "23505"

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
