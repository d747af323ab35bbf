// Package cache provides the fast-store projections of users and
// positions. During the trading session the cache is authoritative for
// availableCash and availableVolume, so the freeze operations are
// atomic read-modify-writes. A Redis implementation backs production;
// an in-process implementation backs tests and single-node dev runs.
package cache

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/domain"
)

var (
	_ domain.UserCache     = (*RedisUserCache)(nil)
	_ domain.UserCache     = (*MemoryUserCache)(nil)
	_ domain.PositionCache = (*RedisPositionCache)(nil)
	_ domain.PositionCache = (*MemoryPositionCache)(nil)
)

// moneyPlaces is the fixed scale money is stored at. Values this size
// stay exact through Lua number arithmetic.
const moneyPlaces = 4

// reloadKey is the flag the user cache reads and clears at startup to
// decide whether to bulk-load state from the durable store.
const reloadKey = "is_reload"

func userKey(id string) string {
	return "user_" + id
}

func positionKey(userID, symbol string, exchange domain.Exchange) string {
	return fmt.Sprintf("position_%s.%s.%s", userID, symbol, exchange)
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(moneyPlaces)
}

func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func userToMap(u *domain.User) map[string]interface{} {
	return map[string]interface{}{
		"id":             u.ID,
		"capital":        formatMoney(u.Capital),
		"cash":           formatMoney(u.Cash),
		"available_cash": formatMoney(u.AvailableCash),
		"securities":     formatMoney(u.Securities),
		"assets":         formatMoney(u.Assets),
		"commission":     u.Commission.String(),
		"tax_rate":       u.TaxRate.String(),
		"slippage":       u.Slippage.String(),
		"status":         string(u.Status),
		"desc":           u.Desc,
		"created_at":     strconv.FormatInt(u.CreatedAt.Unix(), 10),
	}
}

func userFromMap(m map[string]string) (*domain.User, error) {
	u := &domain.User{
		ID:     m["id"],
		Status: domain.UserStatus(m["status"]),
		Desc:   m["desc"],
	}

	var err error
	if u.Capital, err = parseMoney(m["capital"]); err != nil {
		return nil, fmt.Errorf("failed to parse cached capital: %w", err)
	}
	if u.Cash, err = parseMoney(m["cash"]); err != nil {
		return nil, fmt.Errorf("failed to parse cached cash: %w", err)
	}
	if u.AvailableCash, err = parseMoney(m["available_cash"]); err != nil {
		return nil, fmt.Errorf("failed to parse cached available cash: %w", err)
	}
	if u.Securities, err = parseMoney(m["securities"]); err != nil {
		return nil, fmt.Errorf("failed to parse cached securities: %w", err)
	}
	if u.Assets, err = parseMoney(m["assets"]); err != nil {
		return nil, fmt.Errorf("failed to parse cached assets: %w", err)
	}
	if u.Commission, err = parseMoney(m["commission"]); err != nil {
		return nil, fmt.Errorf("failed to parse cached commission: %w", err)
	}
	if u.TaxRate, err = parseMoney(m["tax_rate"]); err != nil {
		return nil, fmt.Errorf("failed to parse cached tax rate: %w", err)
	}
	if u.Slippage, err = parseMoney(m["slippage"]); err != nil {
		return nil, fmt.Errorf("failed to parse cached slippage: %w", err)
	}
	if ts := m["created_at"]; ts != "" {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cached created_at: %w", err)
		}
		u.CreatedAt = time.Unix(sec, 0)
	}
	return u, nil
}

// userFieldValue maps an updatable field name to its encoded value.
func userFieldValue(u *domain.User, field string) (interface{}, error) {
	switch field {
	case domain.UserFieldCash:
		return formatMoney(u.Cash), nil
	case domain.UserFieldAvailableCash:
		return formatMoney(u.AvailableCash), nil
	case domain.UserFieldSecurities:
		return formatMoney(u.Securities), nil
	case domain.UserFieldAssets:
		return formatMoney(u.Assets), nil
	case domain.UserFieldStatus:
		return string(u.Status), nil
	default:
		return nil, fmt.Errorf("unknown user cache field %q", field)
	}
}

func positionToMap(p *domain.Position) map[string]interface{} {
	lastSell := ""
	if p.LastSellDate != nil {
		lastSell = strconv.FormatInt(p.LastSellDate.Unix(), 10)
	}
	return map[string]interface{}{
		"user":             p.User,
		"symbol":           p.Symbol,
		"exchange":         string(p.Exchange),
		"volume":           strconv.FormatInt(p.Volume, 10),
		"available_volume": strconv.FormatInt(p.AvailableVolume, 10),
		"cost":             formatMoney(p.Cost),
		"current_price":    formatMoney(p.CurrentPrice),
		"profit":           formatMoney(p.Profit),
		"first_buy_date":   strconv.FormatInt(p.FirstBuyDate.Unix(), 10),
		"last_sell_date":   lastSell,
	}
}

func positionFromMap(m map[string]string) (*domain.Position, error) {
	p := &domain.Position{
		User:     m["user"],
		Symbol:   m["symbol"],
		Exchange: domain.Exchange(m["exchange"]),
	}

	var err error
	if p.Volume, err = strconv.ParseInt(m["volume"], 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse cached volume: %w", err)
	}
	if p.AvailableVolume, err = strconv.ParseInt(m["available_volume"], 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse cached available volume: %w", err)
	}
	if p.Cost, err = parseMoney(m["cost"]); err != nil {
		return nil, fmt.Errorf("failed to parse cached cost: %w", err)
	}
	if p.CurrentPrice, err = parseMoney(m["current_price"]); err != nil {
		return nil, fmt.Errorf("failed to parse cached current price: %w", err)
	}
	if p.Profit, err = parseMoney(m["profit"]); err != nil {
		return nil, fmt.Errorf("failed to parse cached profit: %w", err)
	}
	if ts := m["first_buy_date"]; ts != "" {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cached first buy date: %w", err)
		}
		p.FirstBuyDate = time.Unix(sec, 0)
	}
	if ts := m["last_sell_date"]; ts != "" {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cached last sell date: %w", err)
		}
		t := time.Unix(sec, 0)
		p.LastSellDate = &t
	}
	return p, nil
}

// positionFieldValue maps an updatable field name to its encoded value.
func positionFieldValue(p *domain.Position, field string) (interface{}, error) {
	switch field {
	case domain.PositionFieldVolume:
		return strconv.FormatInt(p.Volume, 10), nil
	case domain.PositionFieldAvailableVolume:
		return strconv.FormatInt(p.AvailableVolume, 10), nil
	case domain.PositionFieldCost:
		return formatMoney(p.Cost), nil
	case domain.PositionFieldCurrentPrice:
		return formatMoney(p.CurrentPrice), nil
	case domain.PositionFieldProfit:
		return formatMoney(p.Profit), nil
	case domain.PositionFieldLastSellDate:
		if p.LastSellDate == nil {
			return "", nil
		}
		return strconv.FormatInt(p.LastSellDate.Unix(), 10), nil
	default:
		return nil, fmt.Errorf("unknown position cache field %q", field)
	}
}
