package domain

// Exchange identifies the listing market of a security.
type Exchange string

const (
	ExchangeSH Exchange = "SH" // Shanghai Stock Exchange
	ExchangeSZ Exchange = "SZ" // Shenzhen Stock Exchange
)

// Valid reports whether the exchange is one the engine trades on.
func (e Exchange) Valid() bool {
	return e == ExchangeSH || e == ExchangeSZ
}

// OrderType is the direction of an order. Cancels are first-class orders
// targeting a live entrust id.
type OrderType string

const (
	OrderTypeBuy    OrderType = "buy"
	OrderTypeSell   OrderType = "sell"
	OrderTypeCancel OrderType = "cancel"
)

// PriceType distinguishes limit from market orders. A zero price on
// submission encodes a market order.
type PriceType string

const (
	PriceTypeLimit  PriceType = "limit"
	PriceTypeMarket PriceType = "market"
)

// TradeType is the settlement regime. Under T1, shares bought today are
// not sellable until the next trading day.
type TradeType string

const (
	TradeTypeT0 TradeType = "T0"
	TradeTypeT1 TradeType = "T1"
)

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderStatusSubmitting   OrderStatus = "submitting"
	OrderStatusNotDone      OrderStatus = "not_done"
	OrderStatusPartFinished OrderStatus = "part_finished"
	OrderStatusAllFinished  OrderStatus = "all_finished"
	OrderStatusCanceled     OrderStatus = "canceled"
	OrderStatusRejected     OrderStatus = "rejected"
)

// Terminal reports whether the status ends the order lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusAllFinished, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

// OpenOrderStatuses are the states reloaded into the matching engine at
// startup and swept to rejected at market close.
func OpenOrderStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusSubmitting, OrderStatusNotDone, OrderStatusPartFinished}
}

// TradeCategory classifies statement rows.
type TradeCategory string

const (
	TradeCategoryBuy      TradeCategory = "buy"
	TradeCategorySell     TradeCategory = "sell"
	TradeCategoryDividend TradeCategory = "dividend"
	TradeCategoryTax      TradeCategory = "tax"
)

// UserStatus is the account state.
type UserStatus string

const (
	UserStatusActivated  UserStatus = "activated"
	UserStatusTerminated UserStatus = "terminated"
)
