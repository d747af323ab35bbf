package database

import (
	"database/sql"
	"fmt"
)

// Schema is the full DDL for the trading ledger. Money columns are TEXT
// holding decimal strings; timestamps are Unix seconds; day columns are
// YYYY-MM-DD in the market timezone.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	capital        TEXT NOT NULL,
	cash           TEXT NOT NULL,
	available_cash TEXT NOT NULL,
	securities     TEXT NOT NULL,
	assets         TEXT NOT NULL,
	commission     TEXT NOT NULL,
	tax_rate       TEXT NOT NULL,
	slippage       TEXT NOT NULL,
	status         TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	user_id          TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	exchange         TEXT NOT NULL,
	volume           INTEGER NOT NULL,
	available_volume INTEGER NOT NULL,
	cost             TEXT NOT NULL,
	current_price    TEXT NOT NULL,
	profit           TEXT NOT NULL,
	first_buy_date   INTEGER NOT NULL,
	last_sell_date   INTEGER,
	PRIMARY KEY (user_id, symbol, exchange)
);

CREATE TABLE IF NOT EXISTS orders (
	id                  TEXT PRIMARY KEY,
	entrust_id          TEXT NOT NULL UNIQUE,
	user_id             TEXT NOT NULL,
	symbol              TEXT NOT NULL,
	exchange            TEXT NOT NULL,
	volume              INTEGER NOT NULL,
	price               TEXT NOT NULL,
	price_type          TEXT NOT NULL,
	order_type          TEXT NOT NULL,
	trade_type          TEXT NOT NULL,
	status              TEXT NOT NULL,
	traded_volume       INTEGER NOT NULL DEFAULT 0,
	sold_price          TEXT NOT NULL DEFAULT '0',
	deal_time           INTEGER,
	frozen_amount       TEXT NOT NULL DEFAULT '0',
	frozen_stock_volume INTEGER NOT NULL DEFAULT 0,
	order_date          INTEGER NOT NULL,
	order_day           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, order_date);
CREATE INDEX IF NOT EXISTS idx_orders_day_status ON orders (order_day, status);

CREATE TABLE IF NOT EXISTS statements (
	id             TEXT PRIMARY KEY,
	entrust_id     TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	symbol         TEXT NOT NULL,
	exchange       TEXT NOT NULL,
	trade_category TEXT NOT NULL,
	volume         INTEGER NOT NULL,
	sold_price     TEXT NOT NULL,
	amount         TEXT NOT NULL,
	commission     TEXT NOT NULL,
	tax            TEXT NOT NULL,
	total_costs    TEXT NOT NULL,
	deal_time      INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_statements_entrust
	ON statements (entrust_id, trade_category);
CREATE INDEX IF NOT EXISTS idx_statements_user ON statements (user_id, deal_time);

CREATE TABLE IF NOT EXISTS user_assets_records (
	user_id    TEXT NOT NULL,
	record_day TEXT NOT NULL,
	assets     TEXT NOT NULL,
	cash       TEXT NOT NULL,
	securities TEXT NOT NULL,
	PRIMARY KEY (user_id, record_day)
);

CREATE TABLE IF NOT EXISTS dividend_declarations (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol         TEXT NOT NULL,
	exchange       TEXT NOT NULL,
	ex_date        TEXT NOT NULL,
	record_date    TEXT NOT NULL,
	cash_per_share TEXT NOT NULL,
	bonus_ratio    TEXT NOT NULL,
	UNIQUE (symbol, exchange, ex_date)
);
`

// InitSchema creates all tables and indexes if they do not exist yet.
func InitSchema(conn *sql.DB) error {
	if _, err := conn.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
