package domain

// Field names of the cached user and position projections. Cache
// implementations store these as hash fields; engines pass them to
// Update to write a subset of a projection.
const (
	UserFieldCash          = "cash"
	UserFieldAvailableCash = "available_cash"
	UserFieldSecurities    = "securities"
	UserFieldAssets        = "assets"
	UserFieldStatus        = "status"

	PositionFieldVolume          = "volume"
	PositionFieldAvailableVolume = "available_volume"
	PositionFieldCost            = "cost"
	PositionFieldCurrentPrice    = "current_price"
	PositionFieldProfit          = "profit"
	PositionFieldLastSellDate    = "last_sell_date"
)
