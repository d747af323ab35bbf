package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ashare/papertrade/internal/domain"
)

// RedisPositionCache stores position projections as Redis hashes keyed
// by (user, symbol, exchange), in a database dedicated to positions.
type RedisPositionCache struct {
	client redis.Cmdable
	log    zerolog.Logger
}

// NewRedisPositionCache creates a position cache on the given client.
func NewRedisPositionCache(client redis.Cmdable, log zerolog.Logger) *RedisPositionCache {
	return &RedisPositionCache{
		client: client,
		log:    log.With().Str("component", "position_cache").Logger(),
	}
}

// Set writes the full position projection.
func (c *RedisPositionCache) Set(ctx context.Context, position *domain.Position) error {
	key := positionKey(position.User, position.Symbol, position.Exchange)
	if err := c.client.HSet(ctx, key, positionToMap(position)).Err(); err != nil {
		return fmt.Errorf("failed to cache position %s: %w", key, err)
	}
	return nil
}

// SetMany writes position projections in one pipeline round-trip.
func (c *RedisPositionCache) SetMany(ctx context.Context, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for i := range positions {
		p := &positions[i]
		pipe.HSet(ctx, positionKey(p.User, p.Symbol, p.Exchange), positionToMap(p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache %d positions: %w", len(positions), err)
	}
	c.log.Debug().Int("count", len(positions)).Msg("Cached positions")
	return nil
}

// Get returns the cached position, or nil when not cached.
func (c *RedisPositionCache) Get(ctx context.Context, userID, symbol string, exchange domain.Exchange) (*domain.Position, error) {
	key := positionKey(userID, symbol, exchange)
	m, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cached position %s: %w", key, err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return positionFromMap(m)
}

// ListByUser returns the user's cached positions.
func (c *RedisPositionCache) ListByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	return c.scanPositions(ctx, "position_"+userID+".*")
}

// All returns every cached position.
func (c *RedisPositionCache) All(ctx context.Context) ([]domain.Position, error) {
	return c.scanPositions(ctx, "position_*")
}

func (c *RedisPositionCache) scanPositions(ctx context.Context, pattern string) ([]domain.Position, error) {
	var positions []domain.Position
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached positions: %w", err)
		}
		for _, key := range keys {
			m, err := c.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to read cached position at %s: %w", key, err)
			}
			if len(m) == 0 {
				continue
			}
			p, err := positionFromMap(m)
			if err != nil {
				return nil, err
			}
			positions = append(positions, *p)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return positions, nil
}

// Update writes only the named fields of the projection.
func (c *RedisPositionCache) Update(ctx context.Context, position *domain.Position, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		v, err := positionFieldValue(position, field)
		if err != nil {
			return err
		}
		values[field] = v
	}
	key := positionKey(position.User, position.Symbol, position.Exchange)
	if err := c.client.HSet(ctx, key, values).Err(); err != nil {
		return fmt.Errorf("failed to update cached position %s: %w", key, err)
	}
	return nil
}

// Delete removes one position projection.
func (c *RedisPositionCache) Delete(ctx context.Context, userID, symbol string, exchange domain.Exchange) error {
	key := positionKey(userID, symbol, exchange)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cached position %s: %w", key, err)
	}
	return nil
}

// DeleteByUser removes every cached position of the user.
func (c *RedisPositionCache) DeleteByUser(ctx context.Context, userID string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, "position_"+userID+".*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan positions of user %s: %w", userID, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete positions of user %s: %w", userID, err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// FreezeVolume atomically deducts volume from availableVolume when
// enough shares are sellable. Returns false with no error when not.
func (c *RedisPositionCache) FreezeVolume(ctx context.Context, userID, symbol string, exchange domain.Exchange, volume int64) (bool, error) {
	key := positionKey(userID, symbol, exchange)
	res, err := freezeVolumeScript.Run(ctx, c.client, []string{key}, volume).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to freeze volume for %s: %w", key, err)
	}
	switch res {
	case scriptApplied:
		return true, nil
	case scriptInsufficient:
		return false, nil
	default:
		return false, fmt.Errorf("position %s: %w", key, domain.ErrEntityDoesNotExist)
	}
}

// AddAvailableVolume atomically adds delta (possibly negative) shares
// to availableVolume.
func (c *RedisPositionCache) AddAvailableVolume(ctx context.Context, userID, symbol string, exchange domain.Exchange, delta int64) error {
	key := positionKey(userID, symbol, exchange)
	res, err := addAvailableVolumeScript.Run(ctx, c.client, []string{key}, delta).Int64()
	if err != nil {
		return fmt.Errorf("failed to adjust available volume for %s: %w", key, err)
	}
	if res == scriptMissing {
		return fmt.Errorf("position %s: %w", key, domain.ErrEntityDoesNotExist)
	}
	return nil
}
