package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStockCode(t *testing.T) {
	testCases := []struct {
		name       string
		code       string
		wantSymbol string
		wantExch   Exchange
		wantErr    bool
	}{
		{name: "shanghai", code: "600519.SH", wantSymbol: "600519", wantExch: ExchangeSH},
		{name: "shenzhen", code: "000001.SZ", wantSymbol: "000001", wantExch: ExchangeSZ},
		{name: "unknown exchange", code: "600519.HK", wantErr: true},
		{name: "missing separator", code: "600519SH", wantErr: true},
		{name: "trailing separator", code: "600519.", wantErr: true},
		{name: "empty", code: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			symbol, exchange, err := ParseStockCode(tc.code)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.wantSymbol, symbol)
			assert.Equal(t, tc.wantExch, exchange)
		})
	}
}

func TestOrderQueueKey(t *testing.T) {
	order := Order{EntrustID: "abc", OrderType: OrderTypeBuy}
	assert.Equal(t, "abc", order.QueueKey())

	cancel := Order{EntrustID: "abc", OrderType: OrderTypeCancel}
	assert.Equal(t, "abc_cancel", cancel.QueueKey())
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusAllFinished, OrderStatusCanceled, OrderStatusRejected}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "status %s should be terminal", s)
	}

	open := []OrderStatus{OrderStatusSubmitting, OrderStatusNotDone, OrderStatusPartFinished}
	for _, s := range open {
		assert.False(t, s.Terminal(), "status %s should not be terminal", s)
	}
}

func TestNewUserID(t *testing.T) {
	id := NewUserID()
	assert.Len(t, id, 24)
	assert.True(t, ValidUserID(id))
	assert.False(t, ValidUserID("not-a-hex-id"))
	assert.False(t, ValidUserID("600519"))

	// Two ids never collide in practice.
	assert.NotEqual(t, id, NewUserID())
}
