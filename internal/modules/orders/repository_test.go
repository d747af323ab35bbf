package orders

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ashare/papertrade/internal/database"
	"github.com/ashare/papertrade/internal/domain"
)

func setupRepo(t *testing.T) *OrderRepository {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	require.NoError(t, database.InitSchema(conn))
	t.Cleanup(func() { conn.Close() })

	return NewOrderRepository(conn, zerolog.Nop())
}

func newOrder(user string, status domain.OrderStatus, orderDate time.Time) *domain.Order {
	return &domain.Order{
		ID:           domain.NewEntrustID(),
		EntrustID:    domain.NewEntrustID(),
		User:         user,
		Symbol:       "600519",
		Exchange:     domain.ExchangeSH,
		Volume:       100,
		Price:        decimal.RequireFromString("10"),
		PriceType:    domain.PriceTypeLimit,
		OrderType:    domain.OrderTypeBuy,
		TradeType:    domain.TradeTypeT1,
		Status:       status,
		SoldPrice:    decimal.Zero,
		FrozenAmount: decimal.RequireFromString("1000.3"),
		OrderDate:    orderDate,
	}
}

func TestCreateAndGetByEntrustID(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	order := newOrder("user-1", domain.OrderStatusSubmitting, time.Now())
	require.NoError(t, repo.Create(ctx, order))

	got, err := repo.GetByEntrustID(ctx, order.EntrustID)
	require.NoError(t, err)
	require.Equal(t, order.ID, got.ID)
	require.Equal(t, order.User, got.User)
	require.True(t, got.Price.Equal(order.Price))
	require.True(t, got.FrozenAmount.Equal(order.FrozenAmount))
	require.Nil(t, got.DealTime)

	_, err = repo.GetByEntrustID(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrEntityDoesNotExist)
}

func TestListFiltersByStatusAndDate(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	now := time.Now()

	open := newOrder("user-1", domain.OrderStatusNotDone, now)
	done := newOrder("user-1", domain.OrderStatusAllFinished, now)
	old := newOrder("user-1", domain.OrderStatusNotDone, now.AddDate(0, 0, -7))
	other := newOrder("user-2", domain.OrderStatusNotDone, now)
	for _, o := range []*domain.Order{open, done, old, other} {
		require.NoError(t, repo.Create(ctx, o))
	}

	all, err := repo.List(ctx, "user-1", nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)

	notDone, err := repo.List(ctx, "user-1", []domain.OrderStatus{domain.OrderStatusNotDone}, nil, nil)
	require.NoError(t, err)
	require.Len(t, notDone, 2)

	start := now.Add(-time.Hour)
	recent, err := repo.List(ctx, "user-1", nil, &start, nil)
	require.NoError(t, err)
	require.Len(t, recent, 2, "week-old order excluded")
}

func TestListByDateAndStatus(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	now := time.Now()
	today := now.Format(dayFormat)

	open := newOrder("user-1", domain.OrderStatusNotDone, now)
	rejected := newOrder("user-1", domain.OrderStatusRejected, now)
	yesterday := newOrder("user-1", domain.OrderStatusNotDone, now.AddDate(0, 0, -1))
	for _, o := range []*domain.Order{open, rejected, yesterday} {
		require.NoError(t, repo.Create(ctx, o))
	}

	carried, err := repo.ListByDateAndStatus(ctx, today, domain.OpenOrderStatuses())
	require.NoError(t, err)
	require.Len(t, carried, 1)
	require.Equal(t, open.EntrustID, carried[0].EntrustID)

	none, err := repo.ListByDateAndStatus(ctx, today, nil)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestUpdateWritesFillFields(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	order := newOrder("user-1", domain.OrderStatusNotDone, time.Now())
	require.NoError(t, repo.Create(ctx, order))

	dealTime := time.Now().Truncate(time.Second)
	order.Status = domain.OrderStatusAllFinished
	order.TradedVolume = 100
	order.SoldPrice = decimal.RequireFromString("10.5")
	order.DealTime = &dealTime
	require.NoError(t, repo.Update(ctx, order))

	got, err := repo.GetByEntrustID(ctx, order.EntrustID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusAllFinished, got.Status)
	require.Equal(t, int64(100), got.TradedVolume)
	require.True(t, got.SoldPrice.Equal(order.SoldPrice))
	require.NotNil(t, got.DealTime)
	require.True(t, got.DealTime.Equal(dealTime))

	missing := newOrder("user-1", domain.OrderStatusAllFinished, time.Now())
	require.ErrorIs(t, repo.Update(ctx, missing), domain.ErrEntityDoesNotExist)
}

func TestUpdateStatusAndClearFrozen(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	order := newOrder("user-1", domain.OrderStatusNotDone, time.Now())
	require.NoError(t, repo.Create(ctx, order))

	require.NoError(t, repo.UpdateStatus(ctx, order.EntrustID, domain.OrderStatusCanceled))
	require.ErrorIs(t, repo.UpdateStatus(ctx, "missing", domain.OrderStatusCanceled), domain.ErrEntityDoesNotExist)

	require.NoError(t, repo.ClearFrozen(ctx, order.EntrustID))

	got, err := repo.GetByEntrustID(ctx, order.EntrustID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCanceled, got.Status)
	require.True(t, got.FrozenAmount.IsZero())
	require.Zero(t, got.FrozenStockVolume)
}
