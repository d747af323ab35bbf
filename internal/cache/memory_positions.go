package cache

import (
	"context"
	"fmt"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ashare/papertrade/internal/domain"
)

// MemoryPositionCache is an in-process PositionCache for tests and
// single-node dev runs without Redis.
type MemoryPositionCache struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// NewMemoryPositionCache creates an empty in-process position cache.
func NewMemoryPositionCache() *MemoryPositionCache {
	return &MemoryPositionCache{
		items: gocache.New(gocache.NoExpiration, 0),
	}
}

// Set writes the full position projection.
func (c *MemoryPositionCache) Set(ctx context.Context, position *domain.Position) error {
	c.items.Set(positionKey(position.User, position.Symbol, position.Exchange), *position, gocache.NoExpiration)
	return nil
}

// SetMany writes position projections.
func (c *MemoryPositionCache) SetMany(ctx context.Context, positions []domain.Position) error {
	for i := range positions {
		p := positions[i]
		c.items.Set(positionKey(p.User, p.Symbol, p.Exchange), p, gocache.NoExpiration)
	}
	return nil
}

// Get returns a copy of the cached position, or nil when not cached.
func (c *MemoryPositionCache) Get(ctx context.Context, userID, symbol string, exchange domain.Exchange) (*domain.Position, error) {
	v, ok := c.items.Get(positionKey(userID, symbol, exchange))
	if !ok {
		return nil, nil
	}
	p := v.(domain.Position)
	return &p, nil
}

// ListByUser returns the user's cached positions.
func (c *MemoryPositionCache) ListByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	var positions []domain.Position
	for _, item := range c.items.Items() {
		if p, ok := item.Object.(domain.Position); ok && p.User == userID {
			positions = append(positions, p)
		}
	}
	return positions, nil
}

// All returns every cached position.
func (c *MemoryPositionCache) All(ctx context.Context) ([]domain.Position, error) {
	items := c.items.Items()
	positions := make([]domain.Position, 0, len(items))
	for _, item := range items {
		if p, ok := item.Object.(domain.Position); ok {
			positions = append(positions, p)
		}
	}
	return positions, nil
}

// Update writes only the named fields of the projection.
func (c *MemoryPositionCache) Update(ctx context.Context, position *domain.Position, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := positionKey(position.User, position.Symbol, position.Exchange)
	v, ok := c.items.Get(key)
	if !ok {
		c.items.Set(key, *position, gocache.NoExpiration)
		return nil
	}
	current := v.(domain.Position)
	for _, field := range fields {
		switch field {
		case domain.PositionFieldVolume:
			current.Volume = position.Volume
		case domain.PositionFieldAvailableVolume:
			current.AvailableVolume = position.AvailableVolume
		case domain.PositionFieldCost:
			current.Cost = position.Cost
		case domain.PositionFieldCurrentPrice:
			current.CurrentPrice = position.CurrentPrice
		case domain.PositionFieldProfit:
			current.Profit = position.Profit
		case domain.PositionFieldLastSellDate:
			current.LastSellDate = position.LastSellDate
		default:
			return fmt.Errorf("unknown position cache field %q", field)
		}
	}
	c.items.Set(key, current, gocache.NoExpiration)
	return nil
}

// Delete removes one position projection.
func (c *MemoryPositionCache) Delete(ctx context.Context, userID, symbol string, exchange domain.Exchange) error {
	c.items.Delete(positionKey(userID, symbol, exchange))
	return nil
}

// DeleteByUser removes every cached position of the user.
func (c *MemoryPositionCache) DeleteByUser(ctx context.Context, userID string) error {
	for key, item := range c.items.Items() {
		if p, ok := item.Object.(domain.Position); ok && p.User == userID {
			c.items.Delete(key)
		}
	}
	return nil
}

// FreezeVolume atomically deducts volume from availableVolume when
// enough shares are sellable.
func (c *MemoryPositionCache) FreezeVolume(ctx context.Context, userID, symbol string, exchange domain.Exchange, volume int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := positionKey(userID, symbol, exchange)
	v, ok := c.items.Get(key)
	if !ok {
		return false, fmt.Errorf("position %s: %w", key, domain.ErrEntityDoesNotExist)
	}
	p := v.(domain.Position)
	if p.AvailableVolume < volume {
		return false, nil
	}
	p.AvailableVolume -= volume
	c.items.Set(key, p, gocache.NoExpiration)
	return true, nil
}

// AddAvailableVolume atomically adds delta (possibly negative) shares
// to availableVolume.
func (c *MemoryPositionCache) AddAvailableVolume(ctx context.Context, userID, symbol string, exchange domain.Exchange, delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := positionKey(userID, symbol, exchange)
	v, ok := c.items.Get(key)
	if !ok {
		return fmt.Errorf("position %s: %w", key, domain.ErrEntityDoesNotExist)
	}
	p := v.(domain.Position)
	p.AvailableVolume += delta
	c.items.Set(key, p, gocache.NoExpiration)
	return nil
}
