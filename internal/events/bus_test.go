package events

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashare/papertrade/internal/domain"
)

// TestBusDeliversInOrder tests that events of one type are delivered in
// the order they were put, even when queued before startup
func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	received := make(chan string, 10)

	_ = bus.Subscribe(OrderUpdateStatus, func(event *Event) error {
		data := event.Data.(*OrderStatusData)
		received <- data.EntrustID
		return nil
	})

	for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		bus.Emit(OrderUpdateStatus, "test", &OrderStatusData{EntrustID: id, Status: domain.OrderStatusNotDone})
	}

	bus.Startup()
	defer bus.Shutdown()

	for _, want := range []string{"e1", "e2", "e3", "e4", "e5"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

// TestBusHandlersRunInSubscriptionOrder tests that all handlers for one
// event run sequentially in the order they subscribed
func TestBusHandlersRunInSubscriptionOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	order := make(chan string, 4)

	_ = bus.Subscribe(MarketClose, func(event *Event) error {
		order <- "first"
		return nil
	})
	_ = bus.Subscribe(MarketClose, func(event *Event) error {
		order <- "second"
		return nil
	})

	bus.Startup()
	defer bus.Shutdown()

	bus.Emit(MarketClose, "test", &MarketCloseData{Date: "2024-01-02"})

	for _, want := range []string{"first", "second"} {
		select {
		case got := <-order:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for handler")
		}
	}
}

// TestBusHandlerErrorDoesNotStopDispatch tests that a failing handler
// does not prevent later handlers or later events from running
func TestBusHandlerErrorDoesNotStopDispatch(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	received := make(chan string, 4)

	_ = bus.Subscribe(OrderUpdateFrozen, func(event *Event) error {
		return errors.New("handler exploded")
	})
	_ = bus.Subscribe(OrderUpdateFrozen, func(event *Event) error {
		received <- event.Data.(*OrderFrozenData).EntrustID
		return nil
	})

	bus.Startup()
	defer bus.Shutdown()

	bus.Emit(OrderUpdateFrozen, "test", &OrderFrozenData{EntrustID: "e1"})
	bus.Emit(OrderUpdateFrozen, "test", &OrderFrozenData{EntrustID: "e2"})

	for _, want := range []string{"e1", "e2"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("event %s was not delivered past the failing handler", want)
		}
	}
}

// TestBusUnsubscribe tests that an unsubscribed handler no longer
// receives events while other handlers keep working
func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)

	id := bus.Subscribe(MarketClose, func(event *Event) error {
		first <- struct{}{}
		return nil
	})
	require.True(t, bus.Unsubscribe(MarketClose, id))
	assert.False(t, bus.Unsubscribe(MarketClose, id), "second unsubscribe should be a no-op")

	_ = bus.Subscribe(MarketClose, func(event *Event) error {
		second <- struct{}{}
		return nil
	})

	bus.Startup()
	defer bus.Shutdown()

	bus.Emit(MarketClose, "test", nil)

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("remaining handler did not receive the event")
	}
	select {
	case <-first:
		t.Fatal("unsubscribed handler still received the event")
	default:
	}
}

// TestBusShutdownStopsDrain tests that no events are dispatched after
// Shutdown returns and that Shutdown is idempotent
func TestBusShutdownStopsDrain(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	received := make(chan struct{}, 2)

	_ = bus.Subscribe(MarketClose, func(event *Event) error {
		received <- struct{}{}
		return nil
	})

	bus.Startup()
	bus.Emit(MarketClose, "test", nil)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("event was not delivered before shutdown")
	}

	bus.Shutdown()
	bus.Shutdown()

	bus.Emit(MarketClose, "test", nil)
	select {
	case <-received:
		t.Fatal("event dispatched after shutdown")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestBusEmitTypedData tests that typed payloads arrive intact
func TestBusEmitTypedData(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	received := make(chan *Event, 1)

	_ = bus.Subscribe(StatementCreate, func(event *Event) error {
		received <- event
		return nil
	})

	bus.Startup()
	defer bus.Shutdown()

	order := &domain.Order{
		EntrustID:    "e1",
		Symbol:       "600519",
		Exchange:     domain.ExchangeSH,
		OrderType:    domain.OrderTypeBuy,
		TradedVolume: 100,
		SoldPrice:    decimal.RequireFromString("1700.5"),
	}
	bus.Emit(StatementCreate, "market_engine", &StatementCreateData{
		Order:           order,
		SecuritiesOrder: decimal.RequireFromString("170050"),
		Costs:           domain.ZeroCosts(),
	})

	select {
	case event := <-received:
		assert.Equal(t, StatementCreate, event.Type)
		assert.Equal(t, "market_engine", event.Module)
		assert.False(t, event.Timestamp.IsZero())

		data, ok := event.Data.(*StatementCreateData)
		require.True(t, ok, "event data should be StatementCreateData")
		assert.Equal(t, "e1", data.Order.EntrustID)
		assert.True(t, data.SecuritiesOrder.Equal(decimal.RequireFromString("170050")))
	case <-time.After(time.Second):
		t.Fatal("typed event not received")
	}
}
