// Package orders provides durable storage for the order lifecycle.
package orders

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

// orderColumns is the list of columns for the orders table.
// Column order must match scanOrder() expectations.
const orderColumns = `id, entrust_id, user_id, symbol, exchange, volume, price, price_type, order_type, trade_type, status, traded_volume, sold_price, deal_time, frozen_amount, frozen_stock_volume, order_date, order_day`

// dayFormat is the layout of the order_day column.
const dayFormat = "2006-01-02"

// OrderRepository handles order database operations.
type OrderRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ domain.OrderStore = (*OrderRepository)(nil)

// NewOrderRepository creates a new order repository.
func NewOrderRepository(db *sql.DB, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{
		db:  db,
		log: log.With().Str("repo", "order").Logger(),
	}
}

// Create inserts a new order record.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders
		(id, entrust_id, user_id, symbol, exchange, volume, price, price_type,
		 order_type, trade_type, status, traded_volume, sold_price, deal_time,
		 frozen_amount, frozen_stock_volume, order_date, order_day)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		order.ID,
		order.EntrustID,
		order.User,
		order.Symbol,
		string(order.Exchange),
		order.Volume,
		order.Price.String(),
		string(order.PriceType),
		string(order.OrderType),
		string(order.TradeType),
		string(order.Status),
		order.TradedVolume,
		order.SoldPrice.String(),
		nullUnix(order.DealTime),
		order.FrozenAmount.String(),
		order.FrozenStockVolume,
		order.OrderDate.Unix(),
		order.OrderDate.Format(dayFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	r.log.Info().
		Str("entrust_id", order.EntrustID).
		Str("order_type", string(order.OrderType)).
		Str("stock", order.StockCode()).
		Msg("Order created")
	return nil
}

// GetByEntrustID retrieves an order by its public correlation key.
func (r *OrderRepository) GetByEntrustID(ctx context.Context, entrustID string) (*domain.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE entrust_id = ?"

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, entrustID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", entrustID, domain.ErrEntityDoesNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by entrust_id: %w", err)
	}
	return order, nil
}

// List retrieves a user's orders filtered by status and order-date range,
// most recent first. Nil bounds and an empty status list match all.
func (r *OrderRepository) List(ctx context.Context, userID string, statuses []domain.OrderStatus, start, end *time.Time) ([]domain.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE user_id = ?"
	args := []interface{}{userID}

	if len(statuses) > 0 {
		query += " AND status IN (" + placeholders(len(statuses)) + ")"
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	if start != nil {
		query += " AND order_date >= ?"
		args = append(args, start.Unix())
	}
	if end != nil {
		query += " AND order_date <= ?"
		args = append(args, end.Unix())
	}
	query += " ORDER BY order_date DESC"

	return r.list(ctx, query, args...)
}

// ListByDateAndStatus retrieves the orders of one trading day in the given
// states. Used for the startup reload and the market-close refusal sweep.
func (r *OrderRepository) ListByDateAndStatus(ctx context.Context, date string, statuses []domain.OrderStatus) ([]domain.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query := "SELECT " + orderColumns + " FROM orders WHERE order_day = ?" +
		" AND status IN (" + placeholders(len(statuses)) + ") ORDER BY order_date"
	args := []interface{}{date}
	for _, s := range statuses {
		args = append(args, string(s))
	}

	return r.list(ctx, query, args...)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// Update writes the fill fields and status of an order by entrust id.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	query := `
		UPDATE orders
		SET status = ?, traded_volume = ?, sold_price = ?, deal_time = ?
		WHERE entrust_id = ?
	`

	res, err := r.db.ExecContext(ctx, query,
		string(order.Status),
		order.TradedVolume,
		order.SoldPrice.String(),
		nullUnix(order.DealTime),
		order.EntrustID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", order.EntrustID, domain.ErrEntityDoesNotExist)
	}
	return nil
}

// UpdateStatus transitions the order status by entrust id.
func (r *OrderRepository) UpdateStatus(ctx context.Context, entrustID string, status domain.OrderStatus) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE orders SET status = ? WHERE entrust_id = ?",
		string(status), entrustID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", entrustID, domain.ErrEntityDoesNotExist)
	}

	r.log.Debug().
		Str("entrust_id", entrustID).
		Str("status", string(status)).
		Msg("Order status updated")
	return nil
}

// ClearFrozen releases the reservation fields of an order that reached a
// terminal status.
func (r *OrderRepository) ClearFrozen(ctx context.Context, entrustID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE orders SET frozen_amount = '0', frozen_stock_volume = 0 WHERE entrust_id = ?",
		entrustID)
	if err != nil {
		return fmt.Errorf("failed to clear frozen fields: %w", err)
	}
	return nil
}

// placeholders returns n comma-joined SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var (
		o                              domain.Order
		exchange, priceType, orderType string
		tradeType, status              string
		price, soldPrice, frozenAmount string
		dealTime                       sql.NullInt64
		orderDate                      int64
		orderDay                       string
	)

	err := s.Scan(&o.ID, &o.EntrustID, &o.User, &o.Symbol, &exchange, &o.Volume,
		&price, &priceType, &orderType, &tradeType, &status, &o.TradedVolume,
		&soldPrice, &dealTime, &frozenAmount, &o.FrozenStockVolume, &orderDate, &orderDay)
	if err != nil {
		return nil, err
	}

	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse stored price %q: %w", price, err)
	}
	if o.SoldPrice, err = decimal.NewFromString(soldPrice); err != nil {
		return nil, fmt.Errorf("failed to parse stored sold price %q: %w", soldPrice, err)
	}
	if o.FrozenAmount, err = decimal.NewFromString(frozenAmount); err != nil {
		return nil, fmt.Errorf("failed to parse stored frozen amount %q: %w", frozenAmount, err)
	}

	o.Exchange = domain.Exchange(exchange)
	o.PriceType = domain.PriceType(priceType)
	o.OrderType = domain.OrderType(orderType)
	o.TradeType = domain.TradeType(tradeType)
	o.Status = domain.OrderStatus(status)
	o.OrderDate = time.Unix(orderDate, 0)
	if dealTime.Valid {
		t := time.Unix(dealTime.Int64, 0)
		o.DealTime = &t
	}
	return &o, nil
}
