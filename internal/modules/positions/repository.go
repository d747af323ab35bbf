// Package positions provides durable storage for user holdings.
package positions

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

// positionColumns is the list of columns for the positions table.
// Column order must match scanPosition() expectations.
const positionColumns = `user_id, symbol, exchange, volume, available_volume, cost, current_price, profit, first_buy_date, last_sell_date`

// PositionRepository handles position database operations.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ domain.PositionStore = (*PositionRepository)(nil)

// NewPositionRepository creates a new position repository.
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "position").Logger(),
	}
}

// Get retrieves one holding by its composite identity.
func (r *PositionRepository) Get(ctx context.Context, userID, symbol string, exchange domain.Exchange) (*domain.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE user_id = ? AND symbol = ? AND exchange = ?"

	position, err := scanPosition(r.db.QueryRowContext(ctx, query, userID, symbol, string(exchange)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %s.%s.%s: %w", userID, symbol, exchange, domain.ErrEntityDoesNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return position, nil
}

// ListByUser retrieves all holdings of one user.
func (r *PositionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	return r.list(ctx,
		"SELECT "+positionColumns+" FROM positions WHERE user_id = ? ORDER BY symbol", userID)
}

// ListAll retrieves every stored holding.
func (r *PositionRepository) ListAll(ctx context.Context) ([]domain.Position, error) {
	return r.list(ctx, "SELECT "+positionColumns+" FROM positions ORDER BY user_id, symbol")
}

func (r *PositionRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		position, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *position)
	}
	return positions, rows.Err()
}

// Create inserts a new holding.
func (r *PositionRepository) Create(ctx context.Context, position *domain.Position) error {
	if _, err := r.db.ExecContext(ctx, upsertQuery, upsertArgs(position)...); err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}
	return nil
}

// Update writes the mutable fields of a holding.
func (r *PositionRepository) Update(ctx context.Context, position *domain.Position) error {
	if _, err := r.db.ExecContext(ctx, upsertQuery, upsertArgs(position)...); err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}
	return nil
}

// Delete removes a holding.
func (r *PositionRepository) Delete(ctx context.Context, userID, symbol string, exchange domain.Exchange) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM positions WHERE user_id = ? AND symbol = ? AND exchange = ?",
		userID, symbol, string(exchange))
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	return nil
}

// ReplaceForUser upserts the given positions and deletes any stored
// position of the user not present in them. Used by the market-close
// flush so holdings sold to zero during the session disappear from the
// durable store as well.
func (r *PositionRepository) ReplaceForUser(ctx context.Context, userID string, positions []domain.Position) error {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		keep := make(map[string]bool, len(positions))
		for i := range positions {
			p := &positions[i]
			keep[p.Symbol+"."+string(p.Exchange)] = true
			if _, err := tx.ExecContext(ctx, upsertQuery, upsertArgs(p)...); err != nil {
				return err
			}
		}

		rows, err := tx.QueryContext(ctx,
			"SELECT symbol, exchange FROM positions WHERE user_id = ?", userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		var stale [][2]string
		for rows.Next() {
			var symbol, exchange string
			if err := rows.Scan(&symbol, &exchange); err != nil {
				return err
			}
			if !keep[symbol+"."+exchange] {
				stale = append(stale, [2]string{symbol, exchange})
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, s := range stale {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM positions WHERE user_id = ? AND symbol = ? AND exchange = ?",
				userID, s[0], s[1]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace positions for user %s: %w", userID, err)
	}

	r.log.Debug().Str("user", userID).Int("count", len(positions)).Msg("Positions flushed to store")
	return nil
}

const upsertQuery = `
	INSERT INTO positions
	(user_id, symbol, exchange, volume, available_volume, cost,
	 current_price, profit, first_buy_date, last_sell_date)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, symbol, exchange) DO UPDATE SET
		volume = excluded.volume,
		available_volume = excluded.available_volume,
		cost = excluded.cost,
		current_price = excluded.current_price,
		profit = excluded.profit,
		last_sell_date = excluded.last_sell_date
`

func upsertArgs(p *domain.Position) []interface{} {
	var lastSell interface{}
	if p.LastSellDate != nil {
		lastSell = p.LastSellDate.Unix()
	}
	return []interface{}{
		p.User, p.Symbol, string(p.Exchange), p.Volume, p.AvailableVolume,
		p.Cost.String(), p.CurrentPrice.String(), p.Profit.String(),
		p.FirstBuyDate.Unix(), lastSell,
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	var (
		p                          domain.Position
		exchange                   string
		cost, currentPrice, profit string
		firstBuy                   int64
		lastSell                   sql.NullInt64
	)

	err := s.Scan(&p.User, &p.Symbol, &exchange, &p.Volume, &p.AvailableVolume,
		&cost, &currentPrice, &profit, &firstBuy, &lastSell)
	if err != nil {
		return nil, err
	}

	if p.Cost, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("failed to parse stored cost %q: %w", cost, err)
	}
	if p.CurrentPrice, err = decimal.NewFromString(currentPrice); err != nil {
		return nil, fmt.Errorf("failed to parse stored current price %q: %w", currentPrice, err)
	}
	if p.Profit, err = decimal.NewFromString(profit); err != nil {
		return nil, fmt.Errorf("failed to parse stored profit %q: %w", profit, err)
	}

	p.Exchange = domain.Exchange(exchange)
	p.FirstBuyDate = time.Unix(firstBuy, 0)
	if lastSell.Valid {
		t := time.Unix(lastSell.Int64, 0)
		p.LastSellDate = &t
	}
	return &p, nil
}
