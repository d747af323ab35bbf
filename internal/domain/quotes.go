package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Level is one rung of the order book.
type Level struct {
	Price  decimal.Decimal `json:"price" msgpack:"p"`
	Volume int64           `json:"volume" msgpack:"v"`
}

// Quotes is a level-1..5 tick for one security. Index 0 of Bids/Asks is
// the top of book; a zero best price signals a trading limit (no
// counterparty side).
type Quotes struct {
	Symbol    string          `json:"symbol" msgpack:"s"`
	Exchange  Exchange        `json:"exchange" msgpack:"e"`
	Current   decimal.Decimal `json:"current" msgpack:"c"`
	Open      decimal.Decimal `json:"open" msgpack:"o"`
	High      decimal.Decimal `json:"high" msgpack:"h"`
	Low       decimal.Decimal `json:"low" msgpack:"l"`
	LastClose decimal.Decimal `json:"lastClose" msgpack:"lc"`
	Bids      [5]Level        `json:"bids" msgpack:"b"`
	Asks      [5]Level        `json:"asks" msgpack:"a"`
	Timestamp time.Time       `json:"timestamp" msgpack:"t"`
}

// StockCode returns the quote-feed key, e.g. "600519.SH".
func (q *Quotes) StockCode() string {
	return FormatStockCode(q.Symbol, q.Exchange)
}

// Bid1 returns the best bid.
func (q *Quotes) Bid1() Level { return q.Bids[0] }

// Ask1 returns the best ask.
func (q *Quotes) Ask1() Level { return q.Asks[0] }
