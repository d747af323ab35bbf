package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/domain"
	"github.com/ashare/papertrade/internal/entrust"
	"github.com/ashare/papertrade/internal/events"
)

// marketModule names the market engine in emitted events.
const marketModule = "market_engine"

// defaultRequeueDelay spaces out retries of orders that found no
// counterparty, so a lone unmatchable limit order does not spin against
// the quote provider.
const defaultRequeueDelay = 3 * time.Second

// MarketEngine drains the entrust queue on a single worker and converts
// orders into fills against the current best bid/ask. All order state
// transitions are serialized through this worker.
type MarketEngine struct {
	bus          *events.Bus
	queue        *entrust.Queue
	quotes       domain.QuoteProvider
	userEngine   *UserEngine
	session      Calendar
	requeueDelay time.Duration
	log          zerolog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewMarketEngine creates the market engine. The matchmaking worker is
// not started until Startup.
func NewMarketEngine(
	bus *events.Bus,
	queue *entrust.Queue,
	quotes domain.QuoteProvider,
	userEngine *UserEngine,
	session Calendar,
	log zerolog.Logger,
) *MarketEngine {
	return &MarketEngine{
		bus:          bus,
		queue:        queue,
		quotes:       quotes,
		userEngine:   userEngine,
		session:      session,
		requeueDelay: defaultRequeueDelay,
		log:          log.With().Str("component", "market_engine").Logger(),
	}
}

// Put validates the order's exchange and enqueues it for matching. For
// buy and sell orders the notDone transition is emitted here; cancels
// share their target's entrust id, so emitting for them would clobber a
// terminal status the target may already have reached.
func (e *MarketEngine) Put(order *domain.Order) error {
	if !order.Exchange.Valid() {
		return domain.ErrInvalidExchange
	}

	if order.OrderType != domain.OrderTypeCancel {
		e.bus.Emit(events.OrderUpdateStatus, marketModule, &events.OrderStatusData{
			EntrustID: order.EntrustID,
			Status:    domain.OrderStatusNotDone,
		})
	}
	e.queue.Put(order)
	return nil
}

// Startup launches the matchmaking worker. Idempotent while running.
// A stale exit sentinel is discarded first: a Shutdown racing the
// loop's own session-edge exit leaves one queued, and the fresh worker
// would consume it immediately.
func (e *MarketEngine) Startup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.queue.Delete(entrust.SignalKey)
	e.running = true
	e.done = make(chan struct{})
	go e.matchLoop(e.done)
	e.log.Info().Msg("Matchmaking started")
}

// Shutdown posts the exit sentinel and waits for the worker to finish
// its current iteration. Queued orders stay queued across the lunch
// break; the close sweep drains them at end of day.
func (e *MarketEngine) Shutdown() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	done := e.done
	e.mu.Unlock()

	e.queue.Put(entrust.SignalExit)
	<-done
	e.log.Info().Int("queued", e.queue.Len()).Msg("Matchmaking stopped")
}

// DrainOrders removes every order entry from the queue and reports the
// count. Control signals stay queued. Callers must stop the worker
// first; an order taken but not yet re-put would survive the purge.
func (e *MarketEngine) DrainOrders() int {
	purged := 0
	for _, item := range e.queue.Snapshot() {
		if _, ok := item.(*domain.Order); !ok {
			continue
		}
		if e.queue.Delete(item.QueueKey()) {
			purged++
		}
	}
	if purged > 0 {
		e.log.Info().Int("orders", purged).Msg("Entrust queue drained")
	}
	return purged
}

// Running reports whether the matchmaking worker is live.
func (e *MarketEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *MarketEngine) matchLoop(done chan struct{}) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		close(done)
	}()

	for {
		item := e.queue.Take()

		switch v := item.(type) {
		case entrust.Signal:
			if v == entrust.SignalExit {
				return
			}
			e.log.Warn().Str("signal", string(v)).Msg("Unknown queue signal dropped")

		case *domain.Order:
			// The scheduler gates Startup/Shutdown, but an order taken
			// right at the session edge must not fill after close.
			if !e.session.IsTradingTime(time.Now()) {
				e.queue.Put(v)
				return
			}
			if v.OrderType == domain.OrderTypeCancel {
				e.processCancel(v)
			} else if requeued := e.processTrade(v); requeued {
				// Pace the worker after a no-match pass so a lone
				// unmatchable order does not spin against the quote
				// provider. The order stays in the queue during the
				// pause, visible to cancels.
				time.Sleep(e.requeueDelay)
			}
		}
	}
}

// processCancel removes the cancel's target from the queue and releases
// its reservation. A target already matched or canceled is a no-op.
func (e *MarketEngine) processCancel(cancel *domain.Order) {
	item, ok := e.queue.Get(cancel.EntrustID)
	if !ok {
		e.log.Info().
			Str("entrust_id", cancel.EntrustID).
			Msg("Cancel target already processed")
		return
	}
	target := item.(*domain.Order)
	e.queue.Delete(cancel.EntrustID)

	e.bus.Emit(events.OrderUpdateStatus, marketModule, &events.OrderStatusData{
		EntrustID: target.EntrustID,
		Status:    domain.OrderStatusCanceled,
	})
	e.bus.Emit(events.Unfreeze, marketModule, &events.UnfreezeData{Order: target})

	e.log.Info().
		Str("entrust_id", target.EntrustID).
		Str("stock", target.StockCode()).
		Msg("Order canceled")
}

// processTrade matches one order against the current book top and
// reports whether it was requeued. Matching fills fully or requeues; a
// quote miss drops the order and the close sweep releases its
// reservation.
func (e *MarketEngine) processTrade(order *domain.Order) bool {
	ctx := context.Background()

	quote, err := e.quotes.GetTicks(ctx, order.StockCode())
	if err != nil {
		e.log.Warn().Err(err).
			Str("entrust_id", order.EntrustID).
			Str("stock", order.StockCode()).
			Msg("Quote fetch failed, order dropped")
		return false
	}

	// Fill price is the counterparty's best: the ask for buys, the bid
	// for sells. A zero price means the book side is empty (limit-up or
	// limit-down), so the order waits.
	var p decimal.Decimal
	if order.OrderType == domain.OrderTypeBuy {
		p = quote.Asks[0].Price
	} else {
		p = quote.Bids[0].Price
	}
	if p.IsZero() {
		e.queue.Put(order)
		return true
	}

	if order.PriceType == domain.PriceTypeLimit {
		matched := order.Price.GreaterThanOrEqual(p)
		if order.OrderType == domain.OrderTypeSell {
			matched = order.Price.LessThanOrEqual(p)
		}
		if !matched {
			e.queue.Put(order)
			return true
		}
	}

	e.settle(ctx, order, p)
	return false
}

// settle applies a full fill at price p and emits the persistence and
// statement events.
func (e *MarketEngine) settle(ctx context.Context, order *domain.Order, p decimal.Decimal) {
	now := time.Now()
	order.SoldPrice = p
	order.TradedVolume = order.Volume
	order.DealTime = &now

	var (
		securitiesOrder decimal.Decimal
		costs           domain.Costs
		err             error
	)
	if order.OrderType == domain.OrderTypeBuy {
		securitiesOrder, costs, err = e.userEngine.CreatePosition(ctx, order)
	} else {
		securitiesOrder, costs, err = e.userEngine.ReducePosition(ctx, order)
	}
	if err != nil {
		e.log.Error().Err(err).
			Str("entrust_id", order.EntrustID).
			Str("stock", order.StockCode()).
			Msg("Settlement failed, order dropped")
		return
	}

	if order.TradedVolume == order.Volume {
		order.Status = domain.OrderStatusAllFinished
	} else {
		order.Status = domain.OrderStatusPartFinished
	}

	e.bus.Emit(events.OrderUpdate, marketModule, &events.OrderUpdateData{Order: order})
	e.bus.Emit(events.StatementCreate, marketModule, &events.StatementCreateData{
		Order:           order,
		SecuritiesOrder: securitiesOrder,
		Costs:           costs,
	})

	e.log.Info().
		Str("entrust_id", order.EntrustID).
		Str("stock", order.StockCode()).
		Str("side", string(order.OrderType)).
		Str("price", p.String()).
		Int64("volume", order.TradedVolume).
		Msg("Order filled")
}
