package events

import (
	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/domain"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// OrderCreateData contains data for OrderCreate events
type OrderCreateData struct {
	Order *domain.Order `json:"order"`
}

// EventType returns the event type for OrderCreateData
func (d *OrderCreateData) EventType() EventType {
	return OrderCreate
}

// OrderUpdateData contains the full order to be updated by entrust id
type OrderUpdateData struct {
	Order *domain.Order `json:"order"`
}

// EventType returns the event type for OrderUpdateData
func (d *OrderUpdateData) EventType() EventType {
	return OrderUpdate
}

// OrderStatusData contains a status transition for one order
type OrderStatusData struct {
	EntrustID string             `json:"entrust_id"`
	Status    domain.OrderStatus `json:"status"`
}

// EventType returns the event type for OrderStatusData
func (d *OrderStatusData) EventType() EventType {
	return OrderUpdateStatus
}

// OrderFrozenData asks the persistence layer to clear the frozen
// reservation fields of one order
type OrderFrozenData struct {
	EntrustID string `json:"entrust_id"`
}

// EventType returns the event type for OrderFrozenData
func (d *OrderFrozenData) EventType() EventType {
	return OrderUpdateFrozen
}

// StatementCreateData contains everything the statement handler needs
// to build the immutable trade record: the filled order, the gross
// traded value (tradedVolume x soldPrice) and the fee breakdown. The
// handler derives the signed amount from the order side.
type StatementCreateData struct {
	Order           *domain.Order   `json:"order"`
	SecuritiesOrder decimal.Decimal `json:"securities_order"`
	Costs           domain.Costs    `json:"costs"`
}

// EventType returns the event type for StatementCreateData
func (d *StatementCreateData) EventType() EventType {
	return StatementCreate
}

// UserAssetsData contains the post-settlement user state
type UserAssetsData struct {
	User *domain.User `json:"user"`
}

// EventType returns the event type for UserAssetsData
func (d *UserAssetsData) EventType() EventType {
	return UserUpdateAssets
}

// UnfreezeData asks the user engine to release the reservation held by
// a canceled or rejected order
type UnfreezeData struct {
	Order *domain.Order `json:"order"`
}

// EventType returns the event type for UnfreezeData
func (d *UnfreezeData) EventType() EventType {
	return Unfreeze
}

// MarketCloseData signals the end-of-day sweep. Date is the trading day
// being closed, formatted YYYY-MM-DD.
type MarketCloseData struct {
	Date string `json:"date"`
}

// EventType returns the event type for MarketCloseData
func (d *MarketCloseData) EventType() EventType {
	return MarketClose
}
