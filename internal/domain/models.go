// Package domain provides the core domain models and the store
// interfaces the engines consume.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User is a trading account. Cash, securities and assets are decimal
// strings in storage; assets == cash + securities holds at every
// quiescent point.
type User struct {
	ID            string          `json:"id"`
	Capital       decimal.Decimal `json:"capital"`
	Cash          decimal.Decimal `json:"cash"`
	AvailableCash decimal.Decimal `json:"availableCash"`
	Securities    decimal.Decimal `json:"securities"`
	Assets        decimal.Decimal `json:"assets"`
	Commission    decimal.Decimal `json:"commission"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	Slippage      decimal.Decimal `json:"slippage"`
	Status        UserStatus      `json:"status"`
	Desc          string          `json:"desc"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Terminated reports whether the account refuses new orders.
func (u *User) Terminated() bool {
	return u.Status == UserStatusTerminated
}

// Position is a user's holding in one security, keyed by
// (user, symbol, exchange).
type Position struct {
	User            string          `json:"user"`
	Symbol          string          `json:"symbol"`
	Exchange        Exchange        `json:"exchange"`
	Volume          int64           `json:"volume"`
	AvailableVolume int64           `json:"availableVolume"`
	Cost            decimal.Decimal `json:"cost"`
	CurrentPrice    decimal.Decimal `json:"currentPrice"`
	Profit          decimal.Decimal `json:"profit"`
	FirstBuyDate    time.Time       `json:"firstBuyDate"`
	LastSellDate    *time.Time      `json:"lastSellDate,omitempty"`
}

// StockCode returns the quote-feed key, e.g. "600519.SH".
func (p *Position) StockCode() string {
	return FormatStockCode(p.Symbol, p.Exchange)
}

// Order is a buy, sell or cancel request. EntrustID is the public
// correlation key carried across events, statements and cancels.
type Order struct {
	ID                string          `json:"id"`
	EntrustID         string          `json:"entrustId"`
	User              string          `json:"user"`
	Symbol            string          `json:"symbol"`
	Exchange          Exchange        `json:"exchange"`
	Volume            int64           `json:"volume"`
	Price             decimal.Decimal `json:"price"`
	PriceType         PriceType       `json:"priceType"`
	OrderType         OrderType       `json:"orderType"`
	TradeType         TradeType       `json:"tradeType"`
	Status            OrderStatus     `json:"status"`
	TradedVolume      int64           `json:"tradedVolume"`
	SoldPrice         decimal.Decimal `json:"soldPrice"`
	DealTime          *time.Time      `json:"dealTime,omitempty"`
	FrozenAmount      decimal.Decimal `json:"frozenAmount"`
	FrozenStockVolume int64           `json:"frozenStockVolume"`
	OrderDate         time.Time       `json:"orderDate"`
}

// StockCode returns the quote-feed key, e.g. "600519.SH".
func (o *Order) StockCode() string {
	return FormatStockCode(o.Symbol, o.Exchange)
}

// QueueKey is the entrust-queue key. Cancels are suffixed so they never
// collide with the order they target.
func (o *Order) QueueKey() string {
	if o.OrderType == OrderTypeCancel {
		return o.EntrustID + "_cancel"
	}
	return o.EntrustID
}

// Costs breaks down the fees charged on a fill.
type Costs struct {
	Commission decimal.Decimal `json:"commission"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
}

// ZeroCosts returns an all-zero cost breakdown.
func ZeroCosts() Costs {
	return Costs{Commission: decimal.Zero, Tax: decimal.Zero, Total: decimal.Zero}
}

// Statement is an immutable trade record. Amount is signed: negative
// for buys, positive for sells. Exactly one exists per filled order.
type Statement struct {
	ID            string          `json:"id"`
	EntrustID     string          `json:"entrustId"`
	User          string          `json:"user"`
	Symbol        string          `json:"symbol"`
	Exchange      Exchange        `json:"exchange"`
	TradeCategory TradeCategory   `json:"tradeCategory"`
	Volume        int64           `json:"volume"`
	SoldPrice     decimal.Decimal `json:"soldPrice"`
	Amount        decimal.Decimal `json:"amount"`
	Costs         Costs           `json:"costs"`
	DealTime      time.Time       `json:"dealTime"`
}

// UserAssetsRecord is the daily (user, date) snapshot, updated in place
// when the day already has a row.
type UserAssetsRecord struct {
	User       string          `json:"user"`
	Date       string          `json:"date"` // YYYY-MM-DD
	Assets     decimal.Decimal `json:"assets"`
	Cash       decimal.Decimal `json:"cash"`
	Securities decimal.Decimal `json:"securities"`
}

// DividendDeclaration is a corporate action applied by the dividend
// liquidation jobs. CashPerShare is pre-tax; BonusRatio is bonus shares
// per held share.
type DividendDeclaration struct {
	ID           int64           `json:"id"`
	Symbol       string          `json:"symbol"`
	Exchange     Exchange        `json:"exchange"`
	ExDate       string          `json:"exDate"` // YYYY-MM-DD
	RecordDate   string          `json:"recordDate"`
	CashPerShare decimal.Decimal `json:"cashPerShare"`
	BonusRatio   decimal.Decimal `json:"bonusRatio"`
}

// FormatStockCode joins symbol and exchange into the quote-feed key.
func FormatStockCode(symbol string, exchange Exchange) string {
	return symbol + "." + string(exchange)
}

// ParseStockCode splits a "symbol.exchange" key.
func ParseStockCode(code string) (symbol string, exchange Exchange, err error) {
	i := strings.LastIndex(code, ".")
	if i <= 0 || i == len(code)-1 {
		return "", "", fmt.Errorf("malformed stock code %q", code)
	}
	symbol, exchange = code[:i], Exchange(code[i+1:])
	if !exchange.Valid() {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidExchange, code[i+1:])
	}
	return symbol, exchange, nil
}
