package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/domain"
	"github.com/ashare/papertrade/internal/events"
)

// mainModule names the main engine in emitted events.
const mainModule = "main_engine"

// MainEngine is the front door for order submission and the coordinator
// of lifecycle persistence. It owns the bus registrations that turn
// engine events into durable rows.
type MainEngine struct {
	bus        *events.Bus
	market     *MarketEngine
	userEngine *UserEngine
	session    Calendar
	orders     domain.OrderStore
	statements domain.StatementStore
	users      domain.UserStore
	userCache  domain.UserCache
	log        zerolog.Logger

	subscriptions map[events.EventType]int
}

// NewMainEngine creates the main engine. Bus handlers are registered in
// Startup.
func NewMainEngine(
	bus *events.Bus,
	market *MarketEngine,
	userEngine *UserEngine,
	session Calendar,
	orders domain.OrderStore,
	statements domain.StatementStore,
	users domain.UserStore,
	userCache domain.UserCache,
	log zerolog.Logger,
) *MainEngine {
	return &MainEngine{
		bus:           bus,
		market:        market,
		userEngine:    userEngine,
		session:       session,
		orders:        orders,
		statements:    statements,
		users:         users,
		userCache:     userCache,
		log:           log.With().Str("component", "main_engine").Logger(),
		subscriptions: make(map[events.EventType]int),
	}
}

// Startup registers the persistence handlers, reconciles the cache,
// replays today's open orders into the market engine and, inside the
// session, starts matchmaking.
func (e *MainEngine) Startup(ctx context.Context) error {
	e.register()
	e.bus.Startup()

	if err := e.userEngine.Startup(ctx); err != nil {
		return fmt.Errorf("failed to reconcile cache: %w", err)
	}

	now := time.Now()
	carried, err := e.orders.ListByDateAndStatus(ctx, e.session.Today(now), domain.OpenOrderStatuses())
	if err != nil {
		return fmt.Errorf("failed to reload open orders: %w", err)
	}
	for i := range carried {
		if err := e.market.Put(&carried[i]); err != nil {
			e.log.Warn().Err(err).
				Str("entrust_id", carried[i].EntrustID).
				Msg("Carried order not requeued")
		}
	}
	if len(carried) > 0 {
		e.log.Info().Int("orders", len(carried)).Msg("Open orders reloaded")
	}

	if e.session.IsTradingTime(now) {
		e.market.Startup()
	}
	return nil
}

// Shutdown stops matchmaking, drains the bus and removes the handlers.
func (e *MainEngine) Shutdown() {
	e.market.Shutdown()
	e.bus.Shutdown()
	for eventType, id := range e.subscriptions {
		e.bus.Unsubscribe(eventType, id)
	}
	e.subscriptions = make(map[events.EventType]int)
}

func (e *MainEngine) register() {
	e.subscriptions[events.OrderCreate] = e.bus.Subscribe(events.OrderCreate, e.onOrderCreate)
	e.subscriptions[events.OrderUpdate] = e.bus.Subscribe(events.OrderUpdate, e.onOrderUpdate)
	e.subscriptions[events.OrderUpdateStatus] = e.bus.Subscribe(events.OrderUpdateStatus, e.onOrderUpdateStatus)
	e.subscriptions[events.OrderUpdateFrozen] = e.bus.Subscribe(events.OrderUpdateFrozen, e.onOrderUpdateFrozen)
	e.subscriptions[events.StatementCreate] = e.bus.Subscribe(events.StatementCreate, e.onStatementCreate)
	e.subscriptions[events.UserUpdateAssets] = e.bus.Subscribe(events.UserUpdateAssets, e.onUserUpdateAssets)
	e.subscriptions[events.Unfreeze] = e.bus.Subscribe(events.Unfreeze, e.onUnfreeze)
	e.subscriptions[events.MarketClose] = e.bus.Subscribe(events.MarketClose, e.onMarketClose)
}

// OnOrderArrived validates and freezes synchronously, persists the new
// order through the bus and hands it to the market engine. It returns
// the fresh entrust id the caller correlates with.
func (e *MainEngine) OnOrderArrived(ctx context.Context, order *domain.Order) (string, error) {
	if !order.Exchange.Valid() {
		return "", domain.ErrInvalidExchange
	}
	user, err := e.userCache.GetByID(ctx, order.User)
	if err != nil {
		return "", fmt.Errorf("failed to read cached user: %w", err)
	}
	if user == nil {
		return "", domain.ErrInvalidUserID
	}

	if order.Price.IsZero() {
		order.PriceType = domain.PriceTypeMarket
	} else {
		order.PriceType = domain.PriceTypeLimit
	}
	if order.TradeType == "" {
		order.TradeType = domain.TradeTypeT1
	}

	frozenAmount, frozenVolume, err := e.userEngine.PreTradeValidate(ctx, order, user)
	if err != nil {
		return "", err
	}

	order.ID = domain.NewEntrustID()
	order.EntrustID = domain.NewEntrustID()
	order.Status = domain.OrderStatusSubmitting
	order.FrozenAmount = frozenAmount
	order.FrozenStockVolume = frozenVolume
	order.OrderDate = time.Now()

	e.bus.Emit(events.OrderCreate, mainModule, &events.OrderCreateData{Order: order})
	if err := e.market.Put(order); err != nil {
		return "", err
	}

	e.log.Info().
		Str("entrust_id", order.EntrustID).
		Str("user", order.User).
		Str("stock", order.StockCode()).
		Str("side", string(order.OrderType)).
		Msg("Order accepted")
	return order.EntrustID, nil
}

// CancelOrder submits a cancel for the user's order identified by
// entrustID. The cancel rides the entrust queue like any order; whether
// it lands before the fill decides the outcome.
func (e *MainEngine) CancelOrder(ctx context.Context, userID, entrustID string) error {
	target, err := e.orders.GetByEntrustID(ctx, entrustID)
	if err != nil {
		return err
	}
	if target.User != userID {
		return domain.ErrEntityDoesNotExist
	}

	cancel := &domain.Order{
		EntrustID: entrustID,
		User:      userID,
		Symbol:    target.Symbol,
		Exchange:  target.Exchange,
		OrderType: domain.OrderTypeCancel,
		OrderDate: time.Now(),
	}
	return e.market.Put(cancel)
}

// AdjustUserCash deposits or withdraws by moving availableCash to
// target. Only allowed inside the session so the adjustment cannot race
// the close sweep's availableCash reset.
func (e *MainEngine) AdjustUserCash(ctx context.Context, userID string, target decimal.Decimal) (*domain.User, error) {
	if !e.session.IsTradingTime(time.Now()) {
		return nil, domain.ErrNotTradingTime
	}
	return e.userEngine.AdjustCash(ctx, userID, target)
}

func (e *MainEngine) onOrderCreate(event *events.Event) error {
	data, ok := event.Data.(*events.OrderCreateData)
	if !ok {
		return fmt.Errorf("unexpected data type for %s", event.Type)
	}
	return e.orders.Create(context.Background(), data.Order)
}

func (e *MainEngine) onOrderUpdate(event *events.Event) error {
	data, ok := event.Data.(*events.OrderUpdateData)
	if !ok {
		return fmt.Errorf("unexpected data type for %s", event.Type)
	}
	return e.orders.Update(context.Background(), data.Order)
}

func (e *MainEngine) onOrderUpdateStatus(event *events.Event) error {
	data, ok := event.Data.(*events.OrderStatusData)
	if !ok {
		return fmt.Errorf("unexpected data type for %s", event.Type)
	}
	return e.orders.UpdateStatus(context.Background(), data.EntrustID, data.Status)
}

func (e *MainEngine) onOrderUpdateFrozen(event *events.Event) error {
	data, ok := event.Data.(*events.OrderFrozenData)
	if !ok {
		return fmt.Errorf("unexpected data type for %s", event.Type)
	}
	return e.orders.ClearFrozen(context.Background(), data.EntrustID)
}

// onStatementCreate derives the signed amount from the order side and
// appends the immutable trade record.
func (e *MainEngine) onStatementCreate(event *events.Event) error {
	data, ok := event.Data.(*events.StatementCreateData)
	if !ok {
		return fmt.Errorf("unexpected data type for %s", event.Type)
	}
	order := data.Order

	var amount decimal.Decimal
	var category domain.TradeCategory
	if order.OrderType == domain.OrderTypeBuy {
		amount = data.SecuritiesOrder.Add(data.Costs.Total).Neg()
		category = domain.TradeCategoryBuy
	} else {
		amount = data.SecuritiesOrder.Sub(data.Costs.Total)
		category = domain.TradeCategorySell
	}

	dealTime := time.Now()
	if order.DealTime != nil {
		dealTime = *order.DealTime
	}

	statement := &domain.Statement{
		ID:            domain.NewEntrustID(),
		EntrustID:     order.EntrustID,
		User:          order.User,
		Symbol:        order.Symbol,
		Exchange:      order.Exchange,
		TradeCategory: category,
		Volume:        order.TradedVolume,
		SoldPrice:     order.SoldPrice,
		Amount:        amount,
		Costs:         data.Costs,
		DealTime:      dealTime,
	}
	return e.statements.Create(context.Background(), statement)
}

func (e *MainEngine) onUserUpdateAssets(event *events.Event) error {
	data, ok := event.Data.(*events.UserAssetsData)
	if !ok {
		return fmt.Errorf("unexpected data type for %s", event.Type)
	}
	return e.users.Update(context.Background(), data.User)
}

func (e *MainEngine) onUnfreeze(event *events.Event) error {
	data, ok := event.Data.(*events.UnfreezeData)
	if !ok {
		return fmt.Errorf("unexpected data type for %s", event.Type)
	}
	return e.userEngine.Unfreeze(context.Background(), data.Order)
}

// onMarketClose runs the end-of-day sweep: reject leftovers and release
// their reservations first, then mark, snapshot and flush every account.
// Unfreezing before the refresh passes keeps availableCash from ending
// above cash.
func (e *MainEngine) onMarketClose(event *events.Event) error {
	data, ok := event.Data.(*events.MarketCloseData)
	if !ok {
		return fmt.Errorf("unexpected data type for %s", event.Type)
	}
	ctx := context.Background()
	day := data.Date

	// Matchmaking is over for the day. Quiesce the worker, then purge
	// the queue so leftovers cannot fill at the next open; the refusal
	// sweep below is the only exit for these orders.
	e.market.Shutdown()
	purged := e.market.DrainOrders()

	open, err := e.orders.ListByDateAndStatus(ctx, day, domain.OpenOrderStatuses())
	if err != nil {
		return fmt.Errorf("failed to list open orders: %w", err)
	}
	for i := range open {
		order := &open[i]
		if err := e.userEngine.Unfreeze(ctx, order); err != nil {
			e.log.Error().Err(err).Str("entrust_id", order.EntrustID).Msg("Failed to unfreeze swept order")
		}
		if err := e.orders.UpdateStatus(ctx, order.EntrustID, domain.OrderStatusRejected); err != nil {
			e.log.Error().Err(err).Str("entrust_id", order.EntrustID).Msg("Failed to reject swept order")
		}
	}

	users, err := e.userCache.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cached users: %w", err)
	}
	for i := range users {
		userID := users[i].ID
		if err := e.userEngine.LiquidateUserPosition(ctx, userID, true); err != nil {
			e.log.Error().Err(err).Str("user", userID).Msg("Failed to liquidate positions")
			continue
		}
		if err := e.userEngine.LiquidateUserProfit(ctx, userID, true); err != nil {
			e.log.Error().Err(err).Str("user", userID).Msg("Failed to liquidate profit")
			continue
		}
		if err := e.userEngine.UpdateUserAssetsRecord(ctx, userID, day); err != nil {
			e.log.Error().Err(err).Str("user", userID).Msg("Failed to snapshot assets")
		}
	}

	if err := e.userEngine.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush session state: %w", err)
	}
	if err := e.userCache.SetReload(ctx); err != nil {
		return fmt.Errorf("failed to set reload flag: %w", err)
	}

	e.log.Info().
		Str("day", day).
		Int("swept", len(open)).
		Int("purged", purged).
		Int("users", len(users)).
		Msg("Market closed")
	return nil
}
