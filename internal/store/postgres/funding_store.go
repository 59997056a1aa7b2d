package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mktsim/mktsim/internal/domain"
)

// DepositStore implements domain.DepositStore using PostgreSQL.
type DepositStore struct {
	db DB
}

// NewDepositStore creates a new DepositStore backed by the given DB handle.
func NewDepositStore(db DB) *DepositStore {
	return &DepositStore{db: db}
}

const depositSelectCols = `id, account_id, amount, status, remark,
	created_at, payment_deadline, confirmed_at, reviewed_at`

func scanDepositRow(row pgx.Row) (domain.DepositRequest, error) {
	var d domain.DepositRequest
	var status string

	err := row.Scan(
		&d.ID, &d.AccountID, &d.Amount, &status, &d.Remark,
		&d.CreatedAt, &d.PaymentDeadline, &d.ConfirmedAt, &d.ReviewedAt,
	)
	if err != nil {
		return domain.DepositRequest{}, err
	}
	d.Status = domain.DepositStatus(status)
	return d, nil
}

// Create inserts a new deposit request.
func (s *DepositStore) Create(ctx context.Context, d domain.DepositRequest) error {
	const query = `
		INSERT INTO deposit_requests (
			id, account_id, amount, status, remark,
			created_at, payment_deadline, confirmed_at, reviewed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.Exec(ctx, query,
		d.ID, d.AccountID, d.Amount, string(d.Status), d.Remark,
		d.CreatedAt, d.PaymentDeadline, d.ConfirmedAt, d.ReviewedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create deposit %s: %w", d.ID, err)
	}
	return nil
}

// GetByID retrieves a single deposit request by its ID.
func (s *DepositStore) GetByID(ctx context.Context, id string) (domain.DepositRequest, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+depositSelectCols+` FROM deposit_requests WHERE id = $1`, id)

	d, err := scanDepositRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DepositRequest{}, domain.ErrNotFound
		}
		return domain.DepositRequest{}, fmt.Errorf("postgres: get deposit %s: %w", id, err)
	}
	return d, nil
}

// Update replaces the mutable fields of a deposit request.
func (s *DepositStore) Update(ctx context.Context, d domain.DepositRequest) error {
	const query = `
		UPDATE deposit_requests SET
			status       = $2,
			remark       = $3,
			confirmed_at = $4,
			reviewed_at  = $5
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		d.ID, string(d.Status), d.Remark, d.ConfirmedAt, d.ReviewedAt)
	if err != nil {
		return fmt.Errorf("postgres: update deposit %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ExpireOverdue flips awaiting_payment requests past their deadline to
// expired.
func (s *DepositStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE deposit_requests SET status = 'expired'
		WHERE status = 'awaiting_payment' AND payment_deadline < $1`

	tag, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire deposits: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByAccount returns deposit requests for an account, newest first.
func (s *DepositStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.DepositRequest, error) {
	query := `SELECT ` + depositSelectCols + ` FROM deposit_requests
		WHERE account_id = $1 ORDER BY created_at DESC`
	args := []any{accountID}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deposits: %w", err)
	}
	defer rows.Close()

	var deposits []domain.DepositRequest
	for rows.Next() {
		d, err := scanDepositRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan deposit: %w", err)
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

// Compile-time interface check.
var _ domain.DepositStore = (*DepositStore)(nil)

// WithdrawalStore implements domain.WithdrawalStore using PostgreSQL.
type WithdrawalStore struct {
	db DB
}

// NewWithdrawalStore creates a new WithdrawalStore backed by the given DB
// handle.
func NewWithdrawalStore(db DB) *WithdrawalStore {
	return &WithdrawalStore{db: db}
}

const withdrawalSelectCols = `id, account_id, amount, payout_details, status,
	remark, created_at, reviewed_at, paid_at`

func scanWithdrawalRow(row pgx.Row) (domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	var status string

	err := row.Scan(
		&w.ID, &w.AccountID, &w.Amount, &w.PayoutDetails, &status,
		&w.Remark, &w.CreatedAt, &w.ReviewedAt, &w.PaidAt,
	)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	w.Status = domain.WithdrawalStatus(status)
	return w, nil
}

// Create inserts a new withdrawal request.
func (s *WithdrawalStore) Create(ctx context.Context, w domain.WithdrawalRequest) error {
	const query = `
		INSERT INTO withdrawal_requests (
			id, account_id, amount, payout_details, status,
			remark, created_at, reviewed_at, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.Exec(ctx, query,
		w.ID, w.AccountID, w.Amount, w.PayoutDetails, string(w.Status),
		w.Remark, w.CreatedAt, w.ReviewedAt, w.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create withdrawal %s: %w", w.ID, err)
	}
	return nil
}

// GetByID retrieves a single withdrawal request by its ID.
func (s *WithdrawalStore) GetByID(ctx context.Context, id string) (domain.WithdrawalRequest, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+withdrawalSelectCols+` FROM withdrawal_requests WHERE id = $1`, id)

	w, err := scanWithdrawalRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WithdrawalRequest{}, domain.ErrNotFound
		}
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: get withdrawal %s: %w", id, err)
	}
	return w, nil
}

// Update replaces the mutable fields of a withdrawal request.
func (s *WithdrawalStore) Update(ctx context.Context, w domain.WithdrawalRequest) error {
	const query = `
		UPDATE withdrawal_requests SET
			status      = $2,
			remark      = $3,
			reviewed_at = $4,
			paid_at     = $5
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		w.ID, string(w.Status), w.Remark, w.ReviewedAt, w.PaidAt)
	if err != nil {
		return fmt.Errorf("postgres: update withdrawal %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByAccount returns withdrawal requests for an account, newest first.
func (s *WithdrawalStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalSelectCols + ` FROM withdrawal_requests
		WHERE account_id = $1 ORDER BY created_at DESC`
	args := []any{accountID}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawalRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}
	return withdrawals, rows.Err()
}

// Compile-time interface check.
var _ domain.WithdrawalStore = (*WithdrawalStore)(nil)
