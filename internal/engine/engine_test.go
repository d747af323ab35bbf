package engine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ashare/papertrade/internal/cache"
	"github.com/ashare/papertrade/internal/clients/quotes"
	"github.com/ashare/papertrade/internal/database"
	"github.com/ashare/papertrade/internal/domain"
	"github.com/ashare/papertrade/internal/entrust"
	"github.com/ashare/papertrade/internal/events"
	"github.com/ashare/papertrade/internal/modules/accounts"
	"github.com/ashare/papertrade/internal/modules/orders"
	"github.com/ashare/papertrade/internal/modules/positions"
	"github.com/ashare/papertrade/internal/modules/records"
	"github.com/ashare/papertrade/internal/modules/statements"
)

const (
	waitFor = 3 * time.Second
	tick    = 20 * time.Millisecond
)

// openCalendar keeps the session always open so tests do not depend on
// the wall clock.
type openCalendar struct{}

func (openCalendar) IsTradingTime(time.Time) bool { return true }
func (openCalendar) Today(t time.Time) string     { return t.Format(dayFormat) }

type testHarness struct {
	engine     *MainEngine
	market     *MarketEngine
	userEngine *UserEngine
	bus        *events.Bus
	ticks      *quotes.MemoryProvider
	userCache  *cache.MemoryUserCache
	posCache   *cache.MemoryPositionCache
	users      *accounts.UserRepository
	orders     *orders.OrderRepository
	positions  *positions.PositionRepository
	statements *statements.StatementRepository
	records    *records.AssetsRecordRepository
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setupEngine(t *testing.T) *testHarness {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	require.NoError(t, database.InitSchema(conn))
	t.Cleanup(func() { conn.Close() })

	log := zerolog.Nop()
	h := &testHarness{
		bus:        events.NewBus(log),
		ticks:      quotes.NewMemoryProvider(),
		userCache:  cache.NewMemoryUserCache(),
		posCache:   cache.NewMemoryPositionCache(),
		users:      accounts.NewUserRepository(conn, log),
		orders:     orders.NewOrderRepository(conn, log),
		positions:  positions.NewPositionRepository(conn, log),
		statements: statements.NewStatementRepository(conn, log),
		records:    records.NewAssetsRecordRepository(conn, log),
	}

	h.userEngine = NewUserEngine(h.bus, h.users, h.positions, h.records, h.userCache, h.posCache, h.ticks, log)
	h.market = NewMarketEngine(h.bus, entrust.NewQueue(), h.ticks, h.userEngine, openCalendar{}, log)
	h.market.requeueDelay = 10 * time.Millisecond
	h.engine = NewMainEngine(h.bus, h.market, h.userEngine, openCalendar{}, h.orders, h.statements, h.users, h.userCache, log)

	require.NoError(t, h.engine.Startup(context.Background()))
	t.Cleanup(h.engine.Shutdown)
	return h
}

// seedUser creates an activated account with the given opening cash in
// both the store and the cache.
func (h *testHarness) seedUser(t *testing.T, cash string) *domain.User {
	t.Helper()

	c := dec(cash)
	user := &domain.User{
		ID:            domain.NewUserID(),
		Capital:       c,
		Cash:          c,
		AvailableCash: c,
		Securities:    decimal.Zero,
		Assets:        c,
		Commission:    dec("0.0003"),
		TaxRate:       dec("0.001"),
		Slippage:      dec("0.01"),
		Status:        domain.UserStatusActivated,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, h.users.Create(context.Background(), user))
	require.NoError(t, h.userCache.Set(context.Background(), user))
	return user
}

// seedTicks publishes a tick with the given book top for 600519.SH.
func (h *testHarness) seedTicks(current, bid1, ask1 string) {
	h.ticks.SetTicks(&domain.Quotes{
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Current:   dec(current),
		Open:      dec(current),
		High:      dec(current),
		Low:       dec(current),
		LastClose: dec(current),
		Bids:      [5]domain.Level{{Price: dec(bid1), Volume: 10000}},
		Asks:      [5]domain.Level{{Price: dec(ask1), Volume: 10000}},
		Timestamp: time.Now(),
	})
}

func (h *testHarness) cachedUser(t *testing.T, id string) *domain.User {
	t.Helper()
	user, err := h.userCache.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, user)
	return user
}

// waitStatus blocks until the stored order reaches the given status.
func (h *testHarness) waitStatus(t *testing.T, entrustID string, status domain.OrderStatus) *domain.Order {
	t.Helper()

	var stored *domain.Order
	require.Eventually(t, func() bool {
		order, err := h.orders.GetByEntrustID(context.Background(), entrustID)
		if err != nil {
			return false
		}
		stored = order
		return order.Status == status
	}, waitFor, tick, "order %s never reached %s", entrustID, status)
	return stored
}

func TestBuyOrderFillsAtAsk(t *testing.T) {
	h := setupEngine(t)
	ctx := context.Background()
	user := h.seedUser(t, "1000000")
	h.seedTicks("10", "9.99", "10")

	entrustID, err := h.engine.OnOrderArrived(ctx, &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Volume:    100,
		Price:     dec("10"),
		OrderType: domain.OrderTypeBuy,
		TradeType: domain.TradeTypeT0,
	})
	require.NoError(t, err)
	require.NotEmpty(t, entrustID)

	stored := h.waitStatus(t, entrustID, domain.OrderStatusAllFinished)
	require.Equal(t, int64(100), stored.TradedVolume)
	require.True(t, stored.SoldPrice.Equal(dec("10")))
	require.NotNil(t, stored.DealTime)

	var rows []domain.Statement
	require.Eventually(t, func() bool {
		var err error
		rows, err = h.statements.List(ctx, domain.StatementQuery{UserID: user.ID})
		return err == nil && len(rows) == 1
	}, waitFor, tick)
	require.Equal(t, domain.TradeCategoryBuy, rows[0].TradeCategory)
	require.Equal(t, int64(100), rows[0].Volume)
	require.True(t, rows[0].Costs.Commission.Equal(dec("0.3")))
	require.True(t, rows[0].Costs.Tax.IsZero())
	require.True(t, rows[0].Amount.Equal(dec("-1000.3")))

	settled := h.cachedUser(t, user.ID)
	require.True(t, settled.Cash.Equal(dec("998999.7")), "cash = %s", settled.Cash)
	require.True(t, settled.AvailableCash.Equal(dec("998999.7")))
	require.True(t, settled.Securities.Equal(dec("1000")))
	require.True(t, settled.Assets.Equal(settled.Cash.Add(settled.Securities)))

	position, err := h.posCache.Get(ctx, user.ID, "600519", domain.ExchangeSH)
	require.NoError(t, err)
	require.NotNil(t, position)
	require.Equal(t, int64(100), position.Volume)
	require.Equal(t, int64(100), position.AvailableVolume)
	require.True(t, position.Cost.Equal(dec("10.003")), "cost = %s", position.Cost)
}

func TestBuyInsufficientFunds(t *testing.T) {
	h := setupEngine(t)
	ctx := context.Background()
	user := h.seedUser(t, "100")
	h.seedTicks("10", "9.99", "10")

	_, err := h.engine.OnOrderArrived(ctx, &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Volume:    100,
		Price:     dec("10"),
		OrderType: domain.OrderTypeBuy,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	persisted, err := h.orders.List(ctx, user.ID, nil, nil, nil)
	require.NoError(t, err)
	require.Empty(t, persisted)
	require.True(t, h.cachedUser(t, user.ID).AvailableCash.Equal(dec("100")))
}

func TestBuyInvalidExchange(t *testing.T) {
	h := setupEngine(t)
	user := h.seedUser(t, "1000000")

	_, err := h.engine.OnOrderArrived(context.Background(), &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.Exchange("NYSE"),
		Volume:    100,
		Price:     dec("10"),
		OrderType: domain.OrderTypeBuy,
	})
	require.ErrorIs(t, err, domain.ErrInvalidExchange)
	require.True(t, h.cachedUser(t, user.ID).AvailableCash.Equal(dec("1000000")))
}

func TestLimitBuyBelowAskRequeues(t *testing.T) {
	h := setupEngine(t)
	ctx := context.Background()
	user := h.seedUser(t, "1000000")
	h.seedTicks("10", "9.99", "10")

	entrustID, err := h.engine.OnOrderArrived(ctx, &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Volume:    100,
		Price:     dec("9"),
		OrderType: domain.OrderTypeBuy,
	})
	require.NoError(t, err)

	h.waitStatus(t, entrustID, domain.OrderStatusNotDone)
	time.Sleep(100 * time.Millisecond)

	// Still waiting for a matchable ask: no fill, reservation held.
	require.Equal(t, domain.OrderStatusNotDone, h.waitStatus(t, entrustID, domain.OrderStatusNotDone).Status)
	rows, err := h.statements.List(ctx, domain.StatementQuery{UserID: user.ID})
	require.NoError(t, err)
	require.Empty(t, rows)
	require.True(t, h.cachedUser(t, user.ID).AvailableCash.Equal(dec("999099.73")))
}

func TestCancelRestoresReservation(t *testing.T) {
	h := setupEngine(t)
	ctx := context.Background()
	user := h.seedUser(t, "1000000")
	h.seedTicks("10", "9.99", "10")

	entrustID, err := h.engine.OnOrderArrived(ctx, &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Volume:    100,
		Price:     dec("9"),
		OrderType: domain.OrderTypeBuy,
	})
	require.NoError(t, err)
	h.waitStatus(t, entrustID, domain.OrderStatusNotDone)

	require.NoError(t, h.engine.CancelOrder(ctx, user.ID, entrustID))

	stored := h.waitStatus(t, entrustID, domain.OrderStatusCanceled)
	require.Eventually(t, func() bool {
		order, err := h.orders.GetByEntrustID(ctx, entrustID)
		return err == nil && order.FrozenAmount.IsZero()
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return h.cachedUser(t, user.ID).AvailableCash.Equal(dec("1000000"))
	}, waitFor, tick)
	require.Equal(t, domain.OrderStatusCanceled, stored.Status)

	// A second cancel of the same entrust id is a no-op: one canceled
	// transition, one unfreeze.
	require.NoError(t, h.engine.CancelOrder(ctx, user.ID, entrustID))
	time.Sleep(100 * time.Millisecond)
	require.True(t, h.cachedUser(t, user.ID).AvailableCash.Equal(dec("1000000")))
	order, err := h.orders.GetByEntrustID(ctx, entrustID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCanceled, order.Status)
}

func TestSellClosesPosition(t *testing.T) {
	h := setupEngine(t)
	ctx := context.Background()
	user := h.seedUser(t, "1000000")
	h.seedTicks("11", "11", "11.01")

	held := &domain.Position{
		User:            user.ID,
		Symbol:          "600519",
		Exchange:        domain.ExchangeSH,
		Volume:          100,
		AvailableVolume: 100,
		Cost:            dec("10"),
		CurrentPrice:    dec("10"),
		Profit:          decimal.Zero,
		FirstBuyDate:    time.Now().AddDate(0, 0, -40),
	}
	require.NoError(t, h.positions.Create(ctx, held))
	require.NoError(t, h.posCache.Set(ctx, held))
	user.Securities = dec("1000")
	user.Assets = dec("1001000")
	require.NoError(t, h.userCache.Set(ctx, user))

	entrustID, err := h.engine.OnOrderArrived(ctx, &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Volume:    100,
		Price:     dec("11"),
		OrderType: domain.OrderTypeSell,
	})
	require.NoError(t, err)
	h.waitStatus(t, entrustID, domain.OrderStatusAllFinished)

	var rows []domain.Statement
	require.Eventually(t, func() bool {
		var err error
		rows, err = h.statements.List(ctx, domain.StatementQuery{UserID: user.ID})
		return err == nil && len(rows) == 1
	}, waitFor, tick)
	require.Equal(t, domain.TradeCategorySell, rows[0].TradeCategory)
	require.True(t, rows[0].Costs.Total.Equal(dec("1.43")), "total = %s", rows[0].Costs.Total)
	require.True(t, rows[0].Amount.Equal(dec("1098.57")))

	settled := h.cachedUser(t, user.ID)
	require.True(t, settled.Cash.Equal(dec("1001098.57")), "cash = %s", settled.Cash)
	require.True(t, settled.AvailableCash.Equal(settled.Cash))
	// Securities floors at zero; the liquidation pass is the
	// reconciliation point.
	require.True(t, settled.Securities.IsZero())

	position, err := h.posCache.Get(ctx, user.ID, "600519", domain.ExchangeSH)
	require.NoError(t, err)
	require.NotNil(t, position)
	require.Equal(t, int64(0), position.Volume)

	// The next liquidation pass with volume refresh drops the empty row.
	require.NoError(t, h.userEngine.LiquidateUserPosition(ctx, user.ID, true))
	position, err = h.posCache.Get(ctx, user.ID, "600519", domain.ExchangeSH)
	require.NoError(t, err)
	require.Nil(t, position)
}

func TestSellWithoutPosition(t *testing.T) {
	h := setupEngine(t)
	user := h.seedUser(t, "1000000")

	_, err := h.engine.OnOrderArrived(context.Background(), &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Volume:    100,
		Price:     dec("10"),
		OrderType: domain.OrderTypeSell,
	})
	require.ErrorIs(t, err, domain.ErrNoPositionsAvailable)
}

func TestSellBeyondAvailableVolume(t *testing.T) {
	h := setupEngine(t)
	ctx := context.Background()
	user := h.seedUser(t, "1000000")
	require.NoError(t, h.posCache.Set(ctx, &domain.Position{
		User:            user.ID,
		Symbol:          "600519",
		Exchange:        domain.ExchangeSH,
		Volume:          100,
		AvailableVolume: 50,
		Cost:            dec("10"),
		CurrentPrice:    dec("10"),
		FirstBuyDate:    time.Now(),
	}))

	_, err := h.engine.OnOrderArrived(ctx, &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Volume:    100,
		Price:     dec("10"),
		OrderType: domain.OrderTypeSell,
	})
	require.ErrorIs(t, err, domain.ErrNotEnoughAvailablePositions)
}

func TestBuySellRoundTrip(t *testing.T) {
	h := setupEngine(t)
	ctx := context.Background()
	user := h.seedUser(t, "1000000")
	h.seedTicks("10", "10", "10")

	buyID, err := h.engine.OnOrderArrived(ctx, &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Volume:    100,
		Price:     dec("10"),
		OrderType: domain.OrderTypeBuy,
		TradeType: domain.TradeTypeT0,
	})
	require.NoError(t, err)
	h.waitStatus(t, buyID, domain.OrderStatusAllFinished)

	sellID, err := h.engine.OnOrderArrived(ctx, &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Volume:    100,
		Price:     dec("10"),
		OrderType: domain.OrderTypeSell,
	})
	require.NoError(t, err)
	h.waitStatus(t, sellID, domain.OrderStatusAllFinished)

	// Cash down by exactly buyCommission + sellCommission + sellTax.
	require.Eventually(t, func() bool {
		settled := h.cachedUser(t, user.ID)
		return settled.Cash.Equal(dec("999998.4")) &&
			settled.AvailableCash.Equal(settled.Cash) &&
			settled.Securities.IsZero() &&
			settled.Assets.Equal(settled.Cash)
	}, waitFor, tick)
}

func TestMarketCloseSweep(t *testing.T) {
	h := setupEngine(t)
	ctx := context.Background()
	user := h.seedUser(t, "1000000")
	h.seedTicks("10", "9.99", "10")
	today := time.Now().Format(dayFormat)

	entrustID, err := h.engine.OnOrderArrived(ctx, &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Volume:    100,
		Price:     dec("9"),
		OrderType: domain.OrderTypeBuy,
	})
	require.NoError(t, err)
	h.waitStatus(t, entrustID, domain.OrderStatusNotDone)

	h.bus.Emit(events.MarketClose, "test", &events.MarketCloseData{Date: today})

	h.waitStatus(t, entrustID, domain.OrderStatusRejected)
	require.Eventually(t, func() bool {
		return h.cachedUser(t, user.ID).AvailableCash.Equal(dec("1000000"))
	}, waitFor, tick)

	// One assets snapshot per user for the closed day.
	snapshots, err := h.records.ListByUser(ctx, user.ID, today, today)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	require.True(t, snapshots[0].Assets.Equal(dec("1000000")))

	// Session state flushed to the durable store; cache marked stale.
	stored, err := h.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, stored.AvailableCash.Equal(dec("1000000")))

	reload, err := h.userCache.IsReload(ctx)
	require.NoError(t, err)
	require.True(t, reload)
}

func TestSweptOrderCannotFillAfterReopen(t *testing.T) {
	h := setupEngine(t)
	ctx := context.Background()
	user := h.seedUser(t, "1000000")
	h.seedTicks("10", "9.99", "10")
	today := time.Now().Format(dayFormat)

	entrustID, err := h.engine.OnOrderArrived(ctx, &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Volume:    100,
		Price:     dec("9"),
		OrderType: domain.OrderTypeBuy,
	})
	require.NoError(t, err)
	h.waitStatus(t, entrustID, domain.OrderStatusNotDone)

	h.bus.Emit(events.MarketClose, "test", &events.MarketCloseData{Date: today})
	h.waitStatus(t, entrustID, domain.OrderStatusRejected)
	require.Eventually(t, func() bool {
		return h.cachedUser(t, user.ID).AvailableCash.Equal(dec("1000000"))
	}, waitFor, tick)

	// The sweep stops matchmaking and empties the queue.
	require.False(t, h.market.Running())
	require.Zero(t, h.market.queue.Len())

	// Next open arrives with an ask the stale limit order would match.
	h.seedTicks("9", "8.99", "9")
	h.market.Startup()
	time.Sleep(200 * time.Millisecond)

	stored, err := h.orders.GetByEntrustID(ctx, entrustID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusRejected, stored.Status, "rejected is terminal")

	settled := h.cachedUser(t, user.ID)
	require.True(t, settled.AvailableCash.Equal(dec("1000000")))
	require.True(t, settled.AvailableCash.LessThanOrEqual(settled.Cash))
}

func TestStartupDiscardsStaleExitSignal(t *testing.T) {
	h := setupEngine(t)
	ctx := context.Background()
	h.market.Shutdown()
	require.False(t, h.market.Running())

	// A shutdown racing the loop's own session-edge exit leaves an
	// unconsumed sentinel behind.
	h.market.queue.Put(entrust.SignalExit)

	h.market.Startup()
	require.True(t, h.market.Running())

	user := h.seedUser(t, "1000000")
	h.seedTicks("10", "9.99", "10")
	entrustID, err := h.engine.OnOrderArrived(ctx, &domain.Order{
		User:      user.ID,
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Volume:    100,
		Price:     dec("10"),
		OrderType: domain.OrderTypeBuy,
		TradeType: domain.TradeTypeT0,
	})
	require.NoError(t, err)

	// A worker killed by the stale sentinel would never reach this fill.
	h.waitStatus(t, entrustID, domain.OrderStatusAllFinished)
}

func TestStartupReloadsCacheAndOpenOrders(t *testing.T) {
	h := setupEngine(t)
	ctx := context.Background()

	// Simulate a fresh process after close: store rows exist, cache is
	// empty and flagged stale.
	user := &domain.User{
		ID:            domain.NewUserID(),
		Capital:       dec("1000000"),
		Cash:          dec("1000000"),
		AvailableCash: dec("1000000"),
		Securities:    decimal.Zero,
		Assets:        dec("1000000"),
		Commission:    dec("0.0003"),
		TaxRate:       dec("0.001"),
		Slippage:      dec("0.01"),
		Status:        domain.UserStatusActivated,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, h.users.Create(ctx, user))
	require.NoError(t, h.userCache.SetReload(ctx))

	require.NoError(t, h.userEngine.Startup(ctx))

	cached, err := h.userCache.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.True(t, cached.Cash.Equal(dec("1000000")))

	// The flag is read-and-clear; a second startup leaves the cache alone.
	reload, err := h.userCache.IsReload(ctx)
	require.NoError(t, err)
	require.False(t, reload)
}
