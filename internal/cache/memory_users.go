package cache

import (
	"context"
	"fmt"
	"sync"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/domain"
)

// MemoryUserCache is an in-process UserCache for tests and single-node
// dev runs without Redis. Entries never expire; the mutex serializes
// the read-modify-write operations the Lua scripts provide on Redis.
type MemoryUserCache struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// NewMemoryUserCache creates an empty in-process user cache.
func NewMemoryUserCache() *MemoryUserCache {
	return &MemoryUserCache{
		items: gocache.New(gocache.NoExpiration, 0),
	}
}

// Set writes the full user projection.
func (c *MemoryUserCache) Set(ctx context.Context, user *domain.User) error {
	c.items.Set(userKey(user.ID), *user, gocache.NoExpiration)
	return nil
}

// SetMany writes user projections.
func (c *MemoryUserCache) SetMany(ctx context.Context, users []domain.User) error {
	for i := range users {
		c.items.Set(userKey(users[i].ID), users[i], gocache.NoExpiration)
	}
	return nil
}

// GetByID returns a copy of the cached user, or nil when not cached.
func (c *MemoryUserCache) GetByID(ctx context.Context, id string) (*domain.User, error) {
	v, ok := c.items.Get(userKey(id))
	if !ok {
		return nil, nil
	}
	u := v.(domain.User)
	return &u, nil
}

// All returns every cached user.
func (c *MemoryUserCache) All(ctx context.Context) ([]domain.User, error) {
	items := c.items.Items()
	users := make([]domain.User, 0, len(items))
	for _, item := range items {
		if u, ok := item.Object.(domain.User); ok {
			users = append(users, u)
		}
	}
	return users, nil
}

// Update writes only the named fields of the projection.
func (c *MemoryUserCache) Update(ctx context.Context, user *domain.User, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.items.Get(userKey(user.ID))
	if !ok {
		c.items.Set(userKey(user.ID), *user, gocache.NoExpiration)
		return nil
	}
	current := v.(domain.User)
	for _, field := range fields {
		switch field {
		case domain.UserFieldCash:
			current.Cash = user.Cash
		case domain.UserFieldAvailableCash:
			current.AvailableCash = user.AvailableCash
		case domain.UserFieldSecurities:
			current.Securities = user.Securities
		case domain.UserFieldAssets:
			current.Assets = user.Assets
		case domain.UserFieldStatus:
			current.Status = user.Status
		default:
			return fmt.Errorf("unknown user cache field %q", field)
		}
	}
	c.items.Set(userKey(user.ID), current, gocache.NoExpiration)
	return nil
}

// Delete removes the user projection.
func (c *MemoryUserCache) Delete(ctx context.Context, id string) error {
	c.items.Delete(userKey(id))
	return nil
}

// FreezeCash atomically deducts need from availableCash when the
// balance suffices.
func (c *MemoryUserCache) FreezeCash(ctx context.Context, id string, need decimal.Decimal) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.items.Get(userKey(id))
	if !ok {
		return false, fmt.Errorf("user %s: %w", id, domain.ErrEntityDoesNotExist)
	}
	u := v.(domain.User)
	if u.AvailableCash.LessThan(need) {
		return false, nil
	}
	u.AvailableCash = u.AvailableCash.Sub(need)
	c.items.Set(userKey(id), u, gocache.NoExpiration)
	return true, nil
}

// AddAvailableCash atomically adds delta (possibly negative) to
// availableCash.
func (c *MemoryUserCache) AddAvailableCash(ctx context.Context, id string, delta decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.items.Get(userKey(id))
	if !ok {
		return fmt.Errorf("user %s: %w", id, domain.ErrEntityDoesNotExist)
	}
	u := v.(domain.User)
	u.AvailableCash = u.AvailableCash.Add(delta)
	c.items.Set(userKey(id), u, gocache.NoExpiration)
	return nil
}

// IsReload reads and clears the reload flag.
func (c *MemoryUserCache) IsReload(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items.Get(reloadKey)
	if ok {
		c.items.Delete(reloadKey)
	}
	return ok, nil
}

// SetReload marks the cache stale.
func (c *MemoryUserCache) SetReload(ctx context.Context) error {
	c.items.Set(reloadKey, true, gocache.NoExpiration)
	return nil
}
