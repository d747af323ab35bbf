// Package dividends applies corporate actions to paper-trading accounts:
// share bonuses, cash dividends and the CN dividend tax tiers.
package dividends

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/domain"
)

// declarationColumns is the list of columns for the dividend_declarations
// table. Column order must match scanDeclaration() expectations.
const declarationColumns = `id, symbol, exchange, ex_date, record_date, cash_per_share, bonus_ratio`

// DividendRepository handles dividend declaration database operations.
type DividendRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ domain.DividendStore = (*DividendRepository)(nil)

// NewDividendRepository creates a new dividend repository.
func NewDividendRepository(db *sql.DB, log zerolog.Logger) *DividendRepository {
	return &DividendRepository{
		db:  db,
		log: log.With().Str("repo", "dividend").Logger(),
	}
}

// Create inserts a declaration. One declaration per (symbol, exchange,
// exDate); re-importing the same row is an error surfaced to the caller.
func (r *DividendRepository) Create(ctx context.Context, declaration *domain.DividendDeclaration) error {
	query := `
		INSERT INTO dividend_declarations
		(symbol, exchange, ex_date, record_date, cash_per_share, bonus_ratio)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	res, err := r.db.ExecContext(ctx, query,
		declaration.Symbol,
		string(declaration.Exchange),
		declaration.ExDate,
		declaration.RecordDate,
		declaration.CashPerShare.String(),
		declaration.BonusRatio.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to create dividend declaration: %w", err)
	}
	if declaration.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read declaration id: %w", err)
	}

	r.log.Info().
		Str("stock", domain.FormatStockCode(declaration.Symbol, declaration.Exchange)).
		Str("ex_date", declaration.ExDate).
		Msg("Dividend declaration created")
	return nil
}

// ListByExDate retrieves the declarations going ex on one day.
func (r *DividendRepository) ListByExDate(ctx context.Context, exDate string) ([]domain.DividendDeclaration, error) {
	return r.list(ctx,
		"SELECT "+declarationColumns+" FROM dividend_declarations WHERE ex_date = ? ORDER BY symbol",
		exDate)
}

// ListBySymbol retrieves all declarations of one security, oldest first.
func (r *DividendRepository) ListBySymbol(ctx context.Context, symbol string, exchange domain.Exchange) ([]domain.DividendDeclaration, error) {
	return r.list(ctx,
		"SELECT "+declarationColumns+" FROM dividend_declarations WHERE symbol = ? AND exchange = ? ORDER BY ex_date",
		symbol, string(exchange))
}

func (r *DividendRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.DividendDeclaration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dividend declarations: %w", err)
	}
	defer rows.Close()

	var declarations []domain.DividendDeclaration
	for rows.Next() {
		declaration, err := scanDeclaration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dividend declaration: %w", err)
		}
		declarations = append(declarations, *declaration)
	}
	return declarations, rows.Err()
}

func scanDeclaration(rows *sql.Rows) (*domain.DividendDeclaration, error) {
	var (
		d                        domain.DividendDeclaration
		exchange                 string
		cashPerShare, bonusRatio string
	)

	err := rows.Scan(&d.ID, &d.Symbol, &exchange, &d.ExDate, &d.RecordDate,
		&cashPerShare, &bonusRatio)
	if err != nil {
		return nil, err
	}

	if d.CashPerShare, err = decimal.NewFromString(cashPerShare); err != nil {
		return nil, fmt.Errorf("failed to parse stored cash per share %q: %w", cashPerShare, err)
	}
	if d.BonusRatio, err = decimal.NewFromString(bonusRatio); err != nil {
		return nil, fmt.Errorf("failed to parse stored bonus ratio %q: %w", bonusRatio, err)
	}

	d.Exchange = domain.Exchange(exchange)
	return &d, nil
}
