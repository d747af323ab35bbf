// Package statements provides the append-only trade record store.
package statements

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/domain"
)

// statementColumns is the list of columns for the statements table.
// Column order must match scanStatement() expectations.
const statementColumns = `id, entrust_id, user_id, symbol, exchange, trade_category, volume, sold_price, amount, commission, tax, total_costs, deal_time`

// dayFormat is the layout of the date bounds in StatementQuery.
const dayFormat = "2006-01-02"

// StatementRepository handles statement database operations. Statements
// are never updated or deleted.
type StatementRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ domain.StatementStore = (*StatementRepository)(nil)

// NewStatementRepository creates a new statement repository.
func NewStatementRepository(db *sql.DB, log zerolog.Logger) *StatementRepository {
	return &StatementRepository{
		db:  db,
		log: log.With().Str("repo", "statement").Logger(),
	}
}

// Create inserts a trade record. A second statement for the same
// (entrustId, category) is silently skipped; the unique index guarantees
// at most one per filled order even if a lifecycle event is replayed.
func (r *StatementRepository) Create(ctx context.Context, statement *domain.Statement) error {
	exists, err := r.ExistsByEntrustIDAndCategory(ctx, statement.EntrustID, statement.TradeCategory)
	if err != nil {
		return fmt.Errorf("failed to check for existing statement: %w", err)
	}
	if exists {
		r.log.Debug().
			Str("entrust_id", statement.EntrustID).
			Msg("Statement already exists, skipping duplicate")
		return nil
	}

	query := `
		INSERT INTO statements
		(id, entrust_id, user_id, symbol, exchange, trade_category, volume,
		 sold_price, amount, commission, tax, total_costs, deal_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		statement.ID,
		statement.EntrustID,
		statement.User,
		statement.Symbol,
		string(statement.Exchange),
		string(statement.TradeCategory),
		statement.Volume,
		statement.SoldPrice.String(),
		statement.Amount.String(),
		statement.Costs.Commission.String(),
		statement.Costs.Tax.String(),
		statement.Costs.Total.String(),
		statement.DealTime.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create statement: %w", err)
	}

	r.log.Info().
		Str("entrust_id", statement.EntrustID).
		Str("category", string(statement.TradeCategory)).
		Str("amount", statement.Amount.String()).
		Msg("Statement created")
	return nil
}

// ExistsByEntrustID reports whether any statement exists for the entrust id.
func (r *StatementRepository) ExistsByEntrustID(ctx context.Context, entrustID string) (bool, error) {
	return r.exists(ctx, "SELECT 1 FROM statements WHERE entrust_id = ? LIMIT 1", entrustID)
}

// ExistsByEntrustIDAndCategory reports whether a statement of one category
// exists for the entrust id.
func (r *StatementRepository) ExistsByEntrustIDAndCategory(ctx context.Context, entrustID string, category domain.TradeCategory) (bool, error) {
	return r.exists(ctx,
		"SELECT 1 FROM statements WHERE entrust_id = ? AND trade_category = ? LIMIT 1",
		entrustID, string(category))
}

func (r *StatementRepository) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check statement existence: %w", err)
	}
	return true, nil
}

// List retrieves statements matching the query, most recent first.
func (r *StatementRepository) List(ctx context.Context, q domain.StatementQuery) ([]domain.Statement, error) {
	query := "SELECT " + statementColumns + " FROM statements WHERE 1 = 1"
	var args []interface{}

	if q.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, q.UserID)
	}
	if q.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, q.Symbol)
	}
	if len(q.Categories) > 0 {
		query += " AND trade_category IN (" + placeholders(len(q.Categories)) + ")"
		for _, c := range q.Categories {
			args = append(args, string(c))
		}
	}
	if q.StartDate != "" {
		start, err := dayBound(q.StartDate, false)
		if err != nil {
			return nil, err
		}
		query += " AND deal_time >= ?"
		args = append(args, start)
	}
	if q.EndDate != "" {
		end, err := dayBound(q.EndDate, true)
		if err != nil {
			return nil, err
		}
		query += " AND deal_time < ?"
		args = append(args, end)
	}
	query += " ORDER BY deal_time DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list statements: %w", err)
	}
	defer rows.Close()

	var statements []domain.Statement
	for rows.Next() {
		statement, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan statement: %w", err)
		}
		statements = append(statements, *statement)
	}
	return statements, rows.Err()
}

// dayBound converts a YYYY-MM-DD string into a Unix-second bound; the end
// bound is exclusive at the following midnight.
func dayBound(date string, end bool) (int64, error) {
	t, err := time.ParseInLocation(dayFormat, date, time.Local)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if end {
		t = t.AddDate(0, 0, 1)
	}
	return t.Unix(), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStatement(s scanner) (*domain.Statement, error) {
	var (
		st                         domain.Statement
		exchange, category         string
		soldPrice, amount          string
		commission, tax, totalCost string
		dealTime                   int64
	)

	err := s.Scan(&st.ID, &st.EntrustID, &st.User, &st.Symbol, &exchange,
		&category, &st.Volume, &soldPrice, &amount, &commission, &tax,
		&totalCost, &dealTime)
	if err != nil {
		return nil, err
	}

	if st.SoldPrice, err = decimal.NewFromString(soldPrice); err != nil {
		return nil, fmt.Errorf("failed to parse stored sold price %q: %w", soldPrice, err)
	}
	if st.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse stored amount %q: %w", amount, err)
	}
	if st.Costs.Commission, err = decimal.NewFromString(commission); err != nil {
		return nil, fmt.Errorf("failed to parse stored commission %q: %w", commission, err)
	}
	if st.Costs.Tax, err = decimal.NewFromString(tax); err != nil {
		return nil, fmt.Errorf("failed to parse stored tax %q: %w", tax, err)
	}
	if st.Costs.Total, err = decimal.NewFromString(totalCost); err != nil {
		return nil, fmt.Errorf("failed to parse stored total costs %q: %w", totalCost, err)
	}

	st.Exchange = domain.Exchange(exchange)
	st.TradeCategory = domain.TradeCategory(category)
	st.DealTime = time.Unix(dealTime, 0)
	return &st, nil
}
