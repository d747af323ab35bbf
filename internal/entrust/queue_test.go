package entrust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashare/papertrade/internal/domain"
)

func makeOrder(entrustID string, orderType domain.OrderType, volume int64) *domain.Order {
	return &domain.Order{
		EntrustID: entrustID,
		User:      "5f8a7b2c1d3e4f5061728394",
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		OrderType: orderType,
		Volume:    volume,
	}
}

// TestQueueFIFO tests that entries come out in insertion order
func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	q.Put(makeOrder("e1", domain.OrderTypeBuy, 100))
	q.Put(makeOrder("e2", domain.OrderTypeSell, 200))
	q.Put(makeOrder("e3", domain.OrderTypeBuy, 300))

	for _, want := range []string{"e1", "e2", "e3"} {
		got := q.Take().(*domain.Order)
		assert.Equal(t, want, got.EntrustID)
	}
	assert.Equal(t, 0, q.Len())
}

// TestQueueReplaceInPlace tests that putting an existing key swaps the
// entry without losing its queue position
func TestQueueReplaceInPlace(t *testing.T) {
	q := NewQueue()
	q.Put(makeOrder("e1", domain.OrderTypeBuy, 100))
	q.Put(makeOrder("e2", domain.OrderTypeBuy, 200))
	q.Put(makeOrder("e3", domain.OrderTypeBuy, 300))

	q.Put(makeOrder("e2", domain.OrderTypeBuy, 999))
	assert.Equal(t, 3, q.Len())

	first := q.Take().(*domain.Order)
	second := q.Take().(*domain.Order)
	assert.Equal(t, "e1", first.EntrustID)
	assert.Equal(t, "e2", second.EntrustID)
	assert.Equal(t, int64(999), second.Volume, "replacement should keep e2's position")
}

// TestQueueCancelKey tests that a cancel queues alongside its target
// instead of replacing it
func TestQueueCancelKey(t *testing.T) {
	q := NewQueue()
	target := makeOrder("e1", domain.OrderTypeBuy, 100)
	cancel := makeOrder("e1", domain.OrderTypeCancel, 0)

	q.Put(target)
	q.Put(cancel)
	require.Equal(t, 2, q.Len())

	got, ok := q.Get("e1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderTypeBuy, got.(*domain.Order).OrderType)

	got, ok = q.Get("e1_cancel")
	require.True(t, ok)
	assert.Equal(t, domain.OrderTypeCancel, got.(*domain.Order).OrderType)
}

// TestQueueDelete tests keyed removal
func TestQueueDelete(t *testing.T) {
	q := NewQueue()
	q.Put(makeOrder("e1", domain.OrderTypeBuy, 100))
	q.Put(makeOrder("e2", domain.OrderTypeBuy, 200))
	q.Put(makeOrder("e3", domain.OrderTypeBuy, 300))

	assert.True(t, q.Delete("e2"))
	assert.False(t, q.Delete("e2"), "deleting an absent key should report false")
	assert.False(t, q.Delete("never-queued"))

	first := q.Take().(*domain.Order)
	second := q.Take().(*domain.Order)
	assert.Equal(t, "e1", first.EntrustID)
	assert.Equal(t, "e3", second.EntrustID)
	assert.Equal(t, 0, q.Len())
}

// TestQueueTakeBlocks tests that Take waits for a put
func TestQueueTakeBlocks(t *testing.T) {
	q := NewQueue()
	taken := make(chan Item, 1)

	go func() {
		taken <- q.Take()
	}()

	select {
	case <-taken:
		t.Fatal("Take returned from an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Put(makeOrder("e1", domain.OrderTypeBuy, 100))

	select {
	case item := <-taken:
		assert.Equal(t, "e1", item.(*domain.Order).EntrustID)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake after Put")
	}
}

// TestQueueSnapshot tests that Snapshot preserves order and does not
// consume entries
func TestQueueSnapshot(t *testing.T) {
	q := NewQueue()
	q.Put(makeOrder("e1", domain.OrderTypeBuy, 100))
	q.Put(makeOrder("e2", domain.OrderTypeSell, 200))

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "e1", snap[0].(*domain.Order).EntrustID)
	assert.Equal(t, "e2", snap[1].(*domain.Order).EntrustID)
	assert.Equal(t, 2, q.Len())
}

// TestQueueSignal tests the reserved control key: signals replace each
// other and interleave with orders in FIFO position
func TestQueueSignal(t *testing.T) {
	q := NewQueue()
	q.Put(makeOrder("e1", domain.OrderTypeBuy, 100))
	q.Put(SignalExit)
	q.Put(SignalExit)
	assert.Equal(t, 2, q.Len())

	_, isOrder := q.Take().(*domain.Order)
	assert.True(t, isOrder)

	sig, isSignal := q.Take().(Signal)
	require.True(t, isSignal)
	assert.Equal(t, SignalExit, sig)
}
