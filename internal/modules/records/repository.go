// Package records provides the daily per-user asset snapshot store.
package records

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/domain"
)

// recordColumns is the list of columns for the user_assets_records table.
// Column order must match scanRecord() expectations.
const recordColumns = `user_id, record_day, assets, cash, securities`

// AssetsRecordRepository handles asset snapshot database operations.
type AssetsRecordRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ domain.AssetsRecordStore = (*AssetsRecordRepository)(nil)

// NewAssetsRecordRepository creates a new assets record repository.
func NewAssetsRecordRepository(db *sql.DB, log zerolog.Logger) *AssetsRecordRepository {
	return &AssetsRecordRepository{
		db:  db,
		log: log.With().Str("repo", "assets_record").Logger(),
	}
}

// Upsert writes the snapshot for (user, date), updating in place when the
// day already has a row.
func (r *AssetsRecordRepository) Upsert(ctx context.Context, record *domain.UserAssetsRecord) error {
	query := `
		INSERT INTO user_assets_records (user_id, record_day, assets, cash, securities)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, record_day) DO UPDATE SET
			assets = excluded.assets,
			cash = excluded.cash,
			securities = excluded.securities
	`

	_, err := r.db.ExecContext(ctx, query,
		record.User,
		record.Date,
		record.Assets.String(),
		record.Cash.String(),
		record.Securities.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert assets record: %w", err)
	}
	return nil
}

// ListByUser retrieves a user's snapshots in the inclusive date range,
// oldest first. Empty bounds match all days.
func (r *AssetsRecordRepository) ListByUser(ctx context.Context, userID, startDate, endDate string) ([]domain.UserAssetsRecord, error) {
	query := "SELECT " + recordColumns + " FROM user_assets_records WHERE user_id = ?"
	args := []interface{}{userID}

	if startDate != "" {
		query += " AND record_day >= ?"
		args = append(args, startDate)
	}
	if endDate != "" {
		query += " AND record_day <= ?"
		args = append(args, endDate)
	}
	query += " ORDER BY record_day"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets records: %w", err)
	}
	defer rows.Close()

	var records []domain.UserAssetsRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assets record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (*domain.UserAssetsRecord, error) {
	var (
		rec                      domain.UserAssetsRecord
		assets, cash, securities string
	)

	if err := rows.Scan(&rec.User, &rec.Date, &assets, &cash, &securities); err != nil {
		return nil, err
	}

	var err error
	if rec.Assets, err = decimal.NewFromString(assets); err != nil {
		return nil, fmt.Errorf("failed to parse stored assets %q: %w", assets, err)
	}
	if rec.Cash, err = decimal.NewFromString(cash); err != nil {
		return nil, fmt.Errorf("failed to parse stored cash %q: %w", cash, err)
	}
	if rec.Securities, err = decimal.NewFromString(securities); err != nil {
		return nil, fmt.Errorf("failed to parse stored securities %q: %w", securities, err)
	}
	return &rec, nil
}
