package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mktsim/mktsim/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	db DB
}

// NewOrderStore creates a new OrderStore backed by the given DB handle.
func NewOrderStore(db DB) *OrderStore {
	return &OrderStore{db: db}
}

const orderSelectCols = `id, account_id, instrument_id, side, quantity,
	fill_price, gross_amount, fee, net_amount, realized_pnl, status, reason, created_at`

func scanOrderRow(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, status string

	err := row.Scan(
		&o.ID, &o.AccountID, &o.InstrumentID, &side, &o.Quantity,
		&o.FillPrice, &o.GrossAmount, &o.Fee, &o.NetAmount, &o.RealizedPnL,
		&status, &o.Reason, &o.CreatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, account_id, instrument_id, side, quantity,
			fill_price, gross_amount, fee, net_amount, realized_pnl,
			status, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.db.Exec(ctx, query,
		o.ID, o.AccountID, o.InstrumentID, string(o.Side), o.Quantity,
		o.FillPrice, o.GrossAmount, o.Fee, o.NetAmount, o.RealizedPnL,
		string(o.Status), o.Reason, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID retrieves a single order by its ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListByAccount returns orders for an account, newest first.
func (s *OrderStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE account_id = $1`
	args := []any{accountID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
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
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	return scanOrderRows(rows)
}

// ListBefore returns all orders created strictly before the cutoff; used by
// the archiver.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE created_at < $1 ORDER BY created_at`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before %v: %w", before, err)
	}
	defer rows.Close()

	return scanOrderRows(rows)
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
