// Package accounts provides durable storage for trading accounts.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/database"
	"github.com/ashare/papertrade/internal/domain"
)

// userColumns is the list of columns for the users table.
// Column order must match scanUser() expectations.
const userColumns = `id, capital, cash, available_cash, securities, assets, commission, tax_rate, slippage, status, description, created_at`

// UserRepository handles user database operations.
type UserRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ domain.UserStore = (*UserRepository)(nil)

// NewUserRepository creates a new user repository.
func NewUserRepository(db *sql.DB, log zerolog.Logger) *UserRepository {
	return &UserRepository{
		db:  db,
		log: log.With().Str("repo", "user").Logger(),
	}
}

// Create inserts a new user record.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users
		(id, capital, cash, available_cash, securities, assets,
		 commission, tax_rate, slippage, status, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Capital.String(),
		user.Cash.String(),
		user.AvailableCash.String(),
		user.Securities.String(),
		user.Assets.String(),
		user.Commission.String(),
		user.TaxRate.String(),
		user.Slippage.String(),
		string(user.Status),
		user.Desc,
		user.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.log.Info().Str("user", user.ID).Msg("User created")
	return nil
}

// GetByID retrieves a user by id. Returns ErrEntityDoesNotExist when the
// id is unknown.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = ?"

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrEntityDoesNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

// List retrieves all users, oldest first.
func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	return r.list(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at")
}

// ListActive retrieves all non-terminated users.
func (r *UserRepository) ListActive(ctx context.Context) ([]domain.User, error) {
	return r.list(ctx,
		"SELECT "+userColumns+" FROM users WHERE status != ? ORDER BY created_at",
		string(domain.UserStatusTerminated))
}

func (r *UserRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUserFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// Update writes the mutable financial fields and status of a user.
func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET cash = ?, available_cash = ?, securities = ?, assets = ?, status = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, query,
		user.Cash.String(),
		user.AvailableCash.String(),
		user.Securities.String(),
		user.Assets.String(),
		string(user.Status),
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", user.ID, domain.ErrEntityDoesNotExist)
	}
	return nil
}

// BulkUpsert writes the given users in one transaction. Used by the
// market-close flush of the session cache.
func (r *UserRepository) BulkUpsert(ctx context.Context, users []domain.User) error {
	if len(users) == 0 {
		return nil
	}

	query := `
		INSERT INTO users
		(id, capital, cash, available_cash, securities, assets,
		 commission, tax_rate, slippage, status, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cash = excluded.cash,
			available_cash = excluded.available_cash,
			securities = excluded.securities,
			assets = excluded.assets,
			status = excluded.status
	`

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range users {
			u := &users[i]
			if _, err := stmt.ExecContext(ctx,
				u.ID, u.Capital.String(), u.Cash.String(), u.AvailableCash.String(),
				u.Securities.String(), u.Assets.String(), u.Commission.String(),
				u.TaxRate.String(), u.Slippage.String(), string(u.Status),
				u.Desc, u.CreatedAt.Unix(),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to bulk upsert users: %w", err)
	}

	r.log.Debug().Int("count", len(users)).Msg("Users flushed to store")
	return nil
}

// Terminate marks the account terminated. Terminated accounts accept no
// further orders and are purged from the session caches by the caller.
func (r *UserRepository) Terminate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET status = ? WHERE id = ?",
		string(domain.UserStatusTerminated), id)
	if err != nil {
		return fmt.Errorf("failed to terminate user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", id, domain.ErrEntityDoesNotExist)
	}

	r.log.Info().Str("user", id).Msg("User terminated")
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(s scanner) (*domain.User, error) {
	var (
		u                              domain.User
		capital, cash, availableCash   string
		securities, assets, commission string
		taxRate, slippage, status      string
		createdAt                      int64
	)

	err := s.Scan(&u.ID, &capital, &cash, &availableCash, &securities, &assets,
		&commission, &taxRate, &slippage, &status, &u.Desc, &createdAt)
	if err != nil {
		return nil, err
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&u.Capital, capital}, {&u.Cash, cash}, {&u.AvailableCash, availableCash},
		{&u.Securities, securities}, {&u.Assets, assets}, {&u.Commission, commission},
		{&u.TaxRate, taxRate}, {&u.Slippage, slippage},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("failed to parse stored decimal %q: %w", f.src, err)
		}
	}

	u.Status = domain.UserStatus(status)
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

func scanUserFromRows(rows *sql.Rows) (*domain.User, error) {
	return scanUser(rows)
}
