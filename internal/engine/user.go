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

// userModule names the user engine in emitted events.
const userModule = "user_engine"

// UserEngine is the only writer of user financial state and positions in
// the hot path. Pre-trade validation runs on the caller's goroutine and
// relies on the cache's atomic freeze operations; everything else runs
// on the serial matchmaking worker, so no cross-order locks are needed.
type UserEngine struct {
	bus       *events.Bus
	users     domain.UserStore
	positions domain.PositionStore
	records   domain.AssetsRecordStore
	userCache domain.UserCache
	posCache  domain.PositionCache
	quotes    domain.QuoteProvider
	log       zerolog.Logger
}

// NewUserEngine creates the user engine.
func NewUserEngine(
	bus *events.Bus,
	users domain.UserStore,
	positions domain.PositionStore,
	records domain.AssetsRecordStore,
	userCache domain.UserCache,
	posCache domain.PositionCache,
	quotes domain.QuoteProvider,
	log zerolog.Logger,
) *UserEngine {
	return &UserEngine{
		bus:       bus,
		users:     users,
		positions: positions,
		records:   records,
		userCache: userCache,
		posCache:  posCache,
		quotes:    quotes,
		log:       log.With().Str("component", "user_engine").Logger(),
	}
}

// PreTradeValidate checks funds or holdings for a new order and freezes
// the reservation in one atomic cache operation. It returns the frozen
// cash (buys) or the frozen share volume (sells).
func (e *UserEngine) PreTradeValidate(ctx context.Context, order *domain.Order, user *domain.User) (decimal.Decimal, int64, error) {
	if user.Terminated() {
		return decimal.Zero, 0, domain.ErrUserTerminated
	}

	switch order.OrderType {
	case domain.OrderTypeBuy:
		need := order.Price.
			Mul(decimal.NewFromInt(order.Volume)).
			Mul(decimal.NewFromInt(1).Add(user.Commission))
		ok, err := e.userCache.FreezeCash(ctx, user.ID, need)
		if err != nil {
			return decimal.Zero, 0, fmt.Errorf("failed to freeze cash: %w", err)
		}
		if !ok {
			return decimal.Zero, 0, domain.ErrInsufficientFunds
		}
		return need, 0, nil

	case domain.OrderTypeSell:
		position, err := e.posCache.Get(ctx, user.ID, order.Symbol, order.Exchange)
		if err != nil {
			return decimal.Zero, 0, fmt.Errorf("failed to read position: %w", err)
		}
		if position == nil {
			return decimal.Zero, 0, domain.ErrNoPositionsAvailable
		}
		ok, err := e.posCache.FreezeVolume(ctx, user.ID, order.Symbol, order.Exchange, order.Volume)
		if err != nil {
			return decimal.Zero, 0, fmt.Errorf("failed to freeze volume: %w", err)
		}
		if !ok {
			return decimal.Zero, 0, domain.ErrNotEnoughAvailablePositions
		}
		return decimal.Zero, order.Volume, nil

	default:
		return decimal.Zero, 0, fmt.Errorf("order type %q requires no validation", order.OrderType)
	}
}

// CreatePosition applies a buy fill: the position is created or its cost
// basis re-averaged, and the account settles through UpdateUser. Returns
// the gross traded value and the fee breakdown for the statement.
func (e *UserEngine) CreatePosition(ctx context.Context, order *domain.Order) (decimal.Decimal, domain.Costs, error) {
	user, err := e.cachedUser(ctx, order.User)
	if err != nil {
		return decimal.Zero, domain.Costs{}, err
	}
	quote, err := e.quotes.GetTicks(ctx, order.StockCode())
	if err != nil {
		return decimal.Zero, domain.Costs{}, fmt.Errorf("failed to fetch ticks: %w", err)
	}

	traded := decimal.NewFromInt(order.TradedVolume)
	securitiesOrder := traded.Mul(order.SoldPrice)
	commission := securitiesOrder.Mul(user.Commission)
	amount := securitiesOrder.Add(commission)

	// Shares bought under T+1 stay locked until the next open.
	var availableGain int64
	if order.TradeType == domain.TradeTypeT0 {
		availableGain = order.TradedVolume
	}

	position, err := e.posCache.Get(ctx, user.ID, order.Symbol, order.Exchange)
	if err != nil {
		return decimal.Zero, domain.Costs{}, fmt.Errorf("failed to read position: %w", err)
	}

	if position == nil {
		position = &domain.Position{
			User:            user.ID,
			Symbol:          order.Symbol,
			Exchange:        order.Exchange,
			Volume:          order.TradedVolume,
			AvailableVolume: availableGain,
			Cost:            amount.Div(traded),
			CurrentPrice:    quote.Current,
			Profit:          quote.Current.Sub(order.SoldPrice).Mul(traded).Sub(commission),
			FirstBuyDate:    time.Now(),
		}
		if err := e.posCache.Set(ctx, position); err != nil {
			return decimal.Zero, domain.Costs{}, fmt.Errorf("failed to cache position: %w", err)
		}
	} else {
		newVolume := decimal.NewFromInt(position.Volume + order.TradedVolume)
		oldSpent := position.Cost.Mul(decimal.NewFromInt(position.Volume))
		position.Volume += order.TradedVolume
		position.Cost = oldSpent.Add(amount).Div(newVolume)
		position.CurrentPrice = quote.Current
		position.Profit = quote.Current.Sub(position.Cost).Mul(newVolume)
		err := e.posCache.Update(ctx, position,
			domain.PositionFieldVolume,
			domain.PositionFieldCost,
			domain.PositionFieldCurrentPrice,
			domain.PositionFieldProfit,
		)
		if err != nil {
			return decimal.Zero, domain.Costs{}, fmt.Errorf("failed to update position: %w", err)
		}
		if availableGain > 0 {
			if err := e.posCache.AddAvailableVolume(ctx, user.ID, order.Symbol, order.Exchange, availableGain); err != nil {
				return decimal.Zero, domain.Costs{}, fmt.Errorf("failed to release bought volume: %w", err)
			}
		}
	}

	securitiesDiff := traded.Mul(quote.Current)
	if err := e.UpdateUser(ctx, order, amount, securitiesDiff); err != nil {
		return decimal.Zero, domain.Costs{}, err
	}

	costs := domain.Costs{Commission: commission, Tax: decimal.Zero, Total: commission}
	return securitiesOrder, costs, nil
}

// ReducePosition applies a sell fill. The position with volume zero is
// kept until the next liquidation pass deletes it.
func (e *UserEngine) ReducePosition(ctx context.Context, order *domain.Order) (decimal.Decimal, domain.Costs, error) {
	user, err := e.cachedUser(ctx, order.User)
	if err != nil {
		return decimal.Zero, domain.Costs{}, err
	}
	quote, err := e.quotes.GetTicks(ctx, order.StockCode())
	if err != nil {
		return decimal.Zero, domain.Costs{}, fmt.Errorf("failed to fetch ticks: %w", err)
	}
	position, err := e.posCache.Get(ctx, user.ID, order.Symbol, order.Exchange)
	if err != nil {
		return decimal.Zero, domain.Costs{}, fmt.Errorf("failed to read position: %w", err)
	}
	if position == nil {
		return decimal.Zero, domain.Costs{}, fmt.Errorf("position %s.%s: %w", order.Symbol, order.Exchange, domain.ErrEntityDoesNotExist)
	}

	traded := decimal.NewFromInt(order.TradedVolume)
	securitiesOrder := traded.Mul(order.SoldPrice)
	commission := securitiesOrder.Mul(user.Commission)
	tax := securitiesOrder.Mul(user.TaxRate)
	oldSpent := position.Cost.Mul(decimal.NewFromInt(position.Volume))
	newVolume := position.Volume - order.TradedVolume
	now := time.Now()

	position.Volume = newVolume
	position.CurrentPrice = quote.Current
	position.LastSellDate = &now

	if newVolume == 0 {
		// The closing trade's all-in unit cost, recorded for the final
		// profit figure before the liquidation pass removes the row.
		position.Cost = oldSpent.Add(commission).Add(tax).Div(traded)
		position.Profit = quote.Current.Sub(position.Cost).Mul(traded)
		position.AvailableVolume = 0
		err = e.posCache.Update(ctx, position,
			domain.PositionFieldVolume,
			domain.PositionFieldAvailableVolume,
			domain.PositionFieldCost,
			domain.PositionFieldCurrentPrice,
			domain.PositionFieldProfit,
			domain.PositionFieldLastSellDate,
		)
	} else {
		remaining := decimal.NewFromInt(newVolume)
		position.Cost = oldSpent.Add(commission).Add(tax).
			Sub(order.SoldPrice.Mul(traded)).Div(remaining)
		position.Profit = quote.Current.Sub(position.Cost).Mul(remaining)
		err = e.posCache.Update(ctx, position,
			domain.PositionFieldVolume,
			domain.PositionFieldCost,
			domain.PositionFieldCurrentPrice,
			domain.PositionFieldProfit,
			domain.PositionFieldLastSellDate,
		)
		if err == nil {
			// The freeze consumed frozenStockVolume from availableVolume;
			// give back whatever the fill did not use.
			if delta := order.FrozenStockVolume - order.TradedVolume; delta != 0 {
				err = e.posCache.AddAvailableVolume(ctx, user.ID, order.Symbol, order.Exchange, delta)
			}
		}
	}
	if err != nil {
		return decimal.Zero, domain.Costs{}, fmt.Errorf("failed to update position: %w", err)
	}

	amount := securitiesOrder.Sub(commission).Sub(tax)
	if err := e.UpdateUser(ctx, order, amount, securitiesOrder); err != nil {
		return decimal.Zero, domain.Costs{}, err
	}

	costs := domain.Costs{Commission: commission, Tax: tax, Total: commission.Add(tax)}
	return securitiesOrder, costs, nil
}

// UpdateUser settles an account after a fill and emits USER_UPDATE_ASSETS
// for the persistence handler. availableCash moves by an additive delta
// so the write commutes with freezes taken by concurrent submissions.
func (e *UserEngine) UpdateUser(ctx context.Context, order *domain.Order, amount, securitiesDiff decimal.Decimal) error {
	user, err := e.cachedUser(ctx, order.User)
	if err != nil {
		return err
	}

	var availableDelta decimal.Decimal
	if order.OrderType == domain.OrderTypeBuy {
		user.Cash = user.Cash.Sub(amount)
		availableDelta = order.FrozenAmount.Sub(amount)
		user.Securities = user.Securities.Add(securitiesDiff)
	} else {
		user.Cash = user.Cash.Add(amount)
		availableDelta = amount
		user.Securities = user.Securities.Sub(securitiesDiff)
		if user.Securities.IsNegative() {
			// Floored at zero; the periodic asset sync re-marks holdings
			// and corrects the drift.
			user.Securities = decimal.Zero
		}
	}
	user.Assets = user.Cash.Add(user.Securities)

	err = e.userCache.Update(ctx, user,
		domain.UserFieldCash,
		domain.UserFieldSecurities,
		domain.UserFieldAssets,
	)
	if err != nil {
		return fmt.Errorf("failed to update cached user: %w", err)
	}
	if err := e.userCache.AddAvailableCash(ctx, user.ID, availableDelta); err != nil {
		return fmt.Errorf("failed to adjust available cash: %w", err)
	}

	settled, err := e.cachedUser(ctx, user.ID)
	if err != nil {
		return err
	}
	e.bus.Emit(events.UserUpdateAssets, userModule, &events.UserAssetsData{User: settled})
	return nil
}

// Unfreeze releases the reservation held by a canceled or rejected order
// and asks the persistence layer to clear the order's frozen fields.
func (e *UserEngine) Unfreeze(ctx context.Context, order *domain.Order) error {
	if order.FrozenAmount.IsPositive() {
		if err := e.userCache.AddAvailableCash(ctx, order.User, order.FrozenAmount); err != nil {
			return fmt.Errorf("failed to unfreeze cash: %w", err)
		}
	}
	if order.FrozenStockVolume > 0 {
		if err := e.posCache.AddAvailableVolume(ctx, order.User, order.Symbol, order.Exchange, order.FrozenStockVolume); err != nil {
			return fmt.Errorf("failed to unfreeze volume: %w", err)
		}
	}

	e.bus.Emit(events.OrderUpdateFrozen, userModule, &events.OrderFrozenData{EntrustID: order.EntrustID})
	return nil
}

// LiquidateUserPosition re-marks each of the user's positions at the
// current quote. With refreshVolume (market close), T+1 locks are
// released and emptied positions are deleted.
func (e *UserEngine) LiquidateUserPosition(ctx context.Context, userID string, refreshVolume bool) error {
	positions, err := e.posCache.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list cached positions: %w", err)
	}

	for i := range positions {
		p := &positions[i]

		if refreshVolume && p.Volume == 0 {
			if err := e.posCache.Delete(ctx, userID, p.Symbol, p.Exchange); err != nil {
				e.log.Error().Err(err).Str("stock", p.StockCode()).Msg("Failed to drop emptied position")
			}
			continue
		}

		quote, err := e.quotes.GetTicks(ctx, p.StockCode())
		if err != nil {
			e.log.Warn().Err(err).Str("stock", p.StockCode()).Msg("Skipping position mark, no quote")
			continue
		}

		p.CurrentPrice = quote.Current
		p.Profit = quote.Current.Sub(p.Cost).Mul(decimal.NewFromInt(p.Volume))
		fields := []string{domain.PositionFieldCurrentPrice, domain.PositionFieldProfit}
		if refreshVolume {
			p.AvailableVolume = p.Volume
			fields = append(fields, domain.PositionFieldAvailableVolume)
		}
		if err := e.posCache.Update(ctx, p, fields...); err != nil {
			e.log.Error().Err(err).Str("stock", p.StockCode()).Msg("Failed to mark position")
		}
	}
	return nil
}

// LiquidateUserProfit recomputes securities and assets from the marked
// positions. With refreshFrozen (market close), availableCash snaps back
// to cash; no order can be in flight then.
func (e *UserEngine) LiquidateUserProfit(ctx context.Context, userID string, refreshFrozen bool) error {
	user, err := e.cachedUser(ctx, userID)
	if err != nil {
		return err
	}
	positions, err := e.posCache.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list cached positions: %w", err)
	}

	securities := decimal.Zero
	for i := range positions {
		p := &positions[i]
		securities = securities.Add(p.CurrentPrice.Mul(decimal.NewFromInt(p.Volume)))
	}

	user.Securities = securities
	user.Assets = user.Cash.Add(securities)
	fields := []string{domain.UserFieldSecurities, domain.UserFieldAssets}
	if refreshFrozen {
		user.AvailableCash = user.Cash
		fields = append(fields, domain.UserFieldAvailableCash)
	}
	if err := e.userCache.Update(ctx, user, fields...); err != nil {
		return fmt.Errorf("failed to update cached user: %w", err)
	}

	e.bus.Emit(events.UserUpdateAssets, userModule, &events.UserAssetsData{User: user})
	return nil
}

// UpdateUserAssetsRecord upserts the user's snapshot row for day.
func (e *UserEngine) UpdateUserAssetsRecord(ctx context.Context, userID, day string) error {
	user, err := e.cachedUser(ctx, userID)
	if err != nil {
		return err
	}
	record := &domain.UserAssetsRecord{
		User:       user.ID,
		Date:       day,
		Assets:     user.Assets,
		Cash:       user.Cash,
		Securities: user.Securities,
	}
	if err := e.records.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to upsert assets record: %w", err)
	}
	return nil
}

// AdjustCash moves the account's available cash to targetAvailable and
// applies the signed delta to cash and assets. Deposits and withdrawals
// share this path.
func (e *UserEngine) AdjustCash(ctx context.Context, userID string, targetAvailable decimal.Decimal) (*domain.User, error) {
	user, err := e.cachedUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	delta := targetAvailable.Sub(user.AvailableCash)
	user.Cash = user.Cash.Add(delta)
	user.Assets = user.Assets.Add(delta)
	err = e.userCache.Update(ctx, user,
		domain.UserFieldCash,
		domain.UserFieldAssets,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update cached user: %w", err)
	}
	if err := e.userCache.AddAvailableCash(ctx, userID, delta); err != nil {
		return nil, fmt.Errorf("failed to adjust available cash: %w", err)
	}

	user, err = e.cachedUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.bus.Emit(events.UserUpdateAssets, userModule, &events.UserAssetsData{User: user})

	e.log.Info().
		Str("user", userID).
		Str("delta", delta.String()).
		Msg("User cash adjusted")
	return user, nil
}

// TerminateUser marks the account terminated and purges its session
// projections. The durable rows stay for the records.
func (e *UserEngine) TerminateUser(ctx context.Context, userID string) error {
	if err := e.users.Terminate(ctx, userID); err != nil {
		return err
	}
	if err := e.userCache.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to purge cached user: %w", err)
	}
	if err := e.posCache.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to purge cached positions: %w", err)
	}
	return nil
}

// Startup reconciles the cache with the durable store when the reload
// flag is set: all non-terminated users and their positions are bulk
// loaded and the flag cleared.
func (e *UserEngine) Startup(ctx context.Context) error {
	reload, err := e.userCache.IsReload(ctx)
	if err != nil {
		return fmt.Errorf("failed to read reload flag: %w", err)
	}
	if !reload {
		return nil
	}

	users, err := e.users.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load users for reload: %w", err)
	}
	if err := e.userCache.SetMany(ctx, users); err != nil {
		return fmt.Errorf("failed to seed user cache: %w", err)
	}

	active := make(map[string]bool, len(users))
	for i := range users {
		active[users[i].ID] = true
	}

	all, err := e.positions.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load positions for reload: %w", err)
	}
	positions := all[:0]
	for i := range all {
		if active[all[i].User] {
			positions = append(positions, all[i])
		}
	}
	if err := e.posCache.SetMany(ctx, positions); err != nil {
		return fmt.Errorf("failed to seed position cache: %w", err)
	}

	e.log.Info().
		Int("users", len(users)).
		Int("positions", len(positions)).
		Msg("Cache reloaded from store")
	return nil
}

// Flush writes the session cache back to the durable store. Positions
// absent from the cache but present in the store are deleted.
func (e *UserEngine) Flush(ctx context.Context) error {
	users, err := e.userCache.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cached users: %w", err)
	}
	if err := e.users.BulkUpsert(ctx, users); err != nil {
		return err
	}

	for i := range users {
		userID := users[i].ID
		positions, err := e.posCache.ListByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list cached positions: %w", err)
		}
		if err := e.positions.ReplaceForUser(ctx, userID, positions); err != nil {
			return err
		}
	}

	e.log.Info().Int("users", len(users)).Msg("Session cache flushed to store")
	return nil
}

// cachedUser reads the session projection of a user.
func (e *UserEngine) cachedUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := e.userCache.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not in cache: %w", userID, domain.ErrEntityDoesNotExist)
	}
	return user, nil
}
