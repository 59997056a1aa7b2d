package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mktsim/mktsim/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	db DB
}

// NewAccountStore creates a new AccountStore backed by the given DB handle.
func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountSelectCols = `id, role, status, available_balance, frozen_balance,
	commission_balance, referred_by, position_limits, created_at`

func scanAccountRow(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	var role, status string
	var limitsJSON []byte

	err := row.Scan(
		&a.ID, &role, &status,
		&a.AvailableBalance, &a.FrozenBalance, &a.CommissionBalance,
		&a.ReferredBy, &limitsJSON, &a.CreatedAt,
	)
	if err != nil {
		return domain.Account{}, err
	}
	a.Role = domain.Role(role)
	a.Status = domain.AccountStatus(status)
	if len(limitsJSON) > 0 {
		if err := json.Unmarshal(limitsJSON, &a.PositionLimits); err != nil {
			return domain.Account{}, fmt.Errorf("decode position limits: %w", err)
		}
	}
	return a, nil
}

// Create inserts a new account.
func (s *AccountStore) Create(ctx context.Context, a domain.Account) error {
	limitsJSON, err := json.Marshal(a.PositionLimits)
	if err != nil {
		return fmt.Errorf("postgres: encode position limits: %w", err)
	}

	const query = `
		INSERT INTO accounts (
			id, role, status, available_balance, frozen_balance,
			commission_balance, referred_by, position_limits, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`

	_, err = s.db.Exec(ctx, query,
		a.ID, string(a.Role), string(a.Status),
		a.AvailableBalance, a.FrozenBalance, a.CommissionBalance,
		a.ReferredBy, limitsJSON, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create account %s: %w", a.ID, err)
	}
	return nil
}

// GetByID retrieves a single account by its ID.
func (s *AccountStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE id = $1`, id)

	a, err := scanAccountRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}

// AdjustBalances applies the three signed deltas in one guarded statement.
// The WHERE clause rejects any delta that would drive available or frozen
// negative, so a failed guard applies nothing.
func (s *AccountStore) AdjustBalances(ctx context.Context, id string, availableDelta, frozenDelta, commissionDelta decimal.Decimal) (domain.Account, error) {
	const query = `
		UPDATE accounts SET
			available_balance  = available_balance + $2,
			frozen_balance     = frozen_balance + $3,
			commission_balance = commission_balance + $4,
			updated_at         = NOW()
		WHERE id = $1
		  AND available_balance + $2 >= 0
		  AND frozen_balance + $3 >= 0
		RETURNING ` + accountSelectCols

	row := s.db.QueryRow(ctx, query, id, availableDelta, frozenDelta, commissionDelta)
	a, err := scanAccountRow(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("postgres: adjust balances %s: %w", id, err)
	}

	// Guard failed or the account is missing; distinguish the two.
	var exists bool
	if err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", id,
	).Scan(&exists); err != nil {
		return domain.Account{}, fmt.Errorf("postgres: adjust balances %s: %w", id, err)
	}
	if !exists {
		return domain.Account{}, domain.ErrNotFound
	}
	return domain.Account{}, domain.ErrInsufficientBalance
}

// SetStatus updates the account status.
func (s *AccountStore) SetStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set account status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.AccountStore = (*AccountStore)(nil)
