package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/domain"
)

// RedisUserCache stores user projections as Redis hashes, one per user,
// in a database dedicated to users.
type RedisUserCache struct {
	client redis.Cmdable
	log    zerolog.Logger
}

// NewRedisUserCache creates a user cache on the given client. The
// client can be either *redis.Client or *redis.ClusterClient.
func NewRedisUserCache(client redis.Cmdable, log zerolog.Logger) *RedisUserCache {
	return &RedisUserCache{
		client: client,
		log:    log.With().Str("component", "user_cache").Logger(),
	}
}

// Set writes the full user projection.
func (c *RedisUserCache) Set(ctx context.Context, user *domain.User) error {
	if err := c.client.HSet(ctx, userKey(user.ID), userToMap(user)).Err(); err != nil {
		return fmt.Errorf("failed to cache user %s: %w", user.ID, err)
	}
	return nil
}

// SetMany writes user projections in one pipeline round-trip.
func (c *RedisUserCache) SetMany(ctx context.Context, users []domain.User) error {
	if len(users) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for i := range users {
		pipe.HSet(ctx, userKey(users[i].ID), userToMap(&users[i]))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache %d users: %w", len(users), err)
	}
	c.log.Debug().Int("count", len(users)).Msg("Cached users")
	return nil
}

// GetByID returns the cached user, or nil when not cached.
func (c *RedisUserCache) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m, err := c.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cached user %s: %w", id, err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return userFromMap(m)
}

// All returns every cached user.
func (c *RedisUserCache) All(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, "user_*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached users: %w", err)
		}
		for _, key := range keys {
			m, err := c.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to read cached user at %s: %w", key, err)
			}
			if len(m) == 0 {
				continue
			}
			u, err := userFromMap(m)
			if err != nil {
				return nil, err
			}
			users = append(users, *u)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return users, nil
}

// Update writes only the named fields of the projection.
func (c *RedisUserCache) Update(ctx context.Context, user *domain.User, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		v, err := userFieldValue(user, field)
		if err != nil {
			return err
		}
		values[field] = v
	}
	if err := c.client.HSet(ctx, userKey(user.ID), values).Err(); err != nil {
		return fmt.Errorf("failed to update cached user %s: %w", user.ID, err)
	}
	return nil
}

// Delete removes the user projection.
func (c *RedisUserCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, userKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached user %s: %w", id, err)
	}
	return nil
}

// FreezeCash atomically deducts need from availableCash when the
// balance suffices. Returns false with no error when it does not.
func (c *RedisUserCache) FreezeCash(ctx context.Context, id string, need decimal.Decimal) (bool, error) {
	res, err := freezeCashScript.Run(ctx, c.client, []string{userKey(id)}, formatMoney(need)).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to freeze cash for user %s: %w", id, err)
	}
	switch res {
	case scriptApplied:
		return true, nil
	case scriptInsufficient:
		return false, nil
	default:
		return false, fmt.Errorf("user %s: %w", id, domain.ErrEntityDoesNotExist)
	}
}

// AddAvailableCash atomically adds delta (possibly negative) to
// availableCash.
func (c *RedisUserCache) AddAvailableCash(ctx context.Context, id string, delta decimal.Decimal) error {
	res, err := addAvailableCashScript.Run(ctx, c.client, []string{userKey(id)}, formatMoney(delta)).Int64()
	if err != nil {
		return fmt.Errorf("failed to adjust available cash for user %s: %w", id, err)
	}
	if res == scriptMissing {
		return fmt.Errorf("user %s: %w", id, domain.ErrEntityDoesNotExist)
	}
	return nil
}

// IsReload reads and clears the reload flag.
func (c *RedisUserCache) IsReload(ctx context.Context) (bool, error) {
	val, err := c.client.GetDel(ctx, reloadKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read reload flag: %w", err)
	}
	return val != "" && val != "0", nil
}

// SetReload marks the cache stale so the next startup bulk-loads from
// the durable store.
func (c *RedisUserCache) SetReload(ctx context.Context) error {
	if err := c.client.Set(ctx, reloadKey, "1", 0).Err(); err != nil {
		return fmt.Errorf("failed to set reload flag: %w", err)
	}
	return nil
}
