package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashare/papertrade/internal/domain"
)

// TestMemoryUserCacheFreezeCash tests the mutex-guarded deduction
func TestMemoryUserCacheFreezeCash(t *testing.T) {
	c := NewMemoryUserCache()
	ctx := context.Background()

	u := testUser("5f8a7b2c1d3e4f5061728394")
	require.NoError(t, c.Set(ctx, u))

	ok, err := c.FreezeCash(ctx, u.ID, decimal.RequireFromString("999999.99"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.FreezeCash(ctx, u.ID, decimal.RequireFromString("0.02"))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := c.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.AvailableCash.Equal(decimal.RequireFromString("0.01")))

	_, err = c.FreezeCash(ctx, "000000000000000000000000", decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, domain.ErrEntityDoesNotExist))
}

// TestMemoryUserCacheUpdateIsolation tests that cached copies do not
// alias the caller's struct
func TestMemoryUserCacheUpdateIsolation(t *testing.T) {
	c := NewMemoryUserCache()
	ctx := context.Background()

	u := testUser("5f8a7b2c1d3e4f5061728394")
	require.NoError(t, c.Set(ctx, u))

	u.Cash = decimal.RequireFromString("1")
	got, err := c.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Cash.Equal(decimal.RequireFromString("1000000")),
		"mutating the caller's struct must not change the cache")

	u.Assets = decimal.RequireFromString("777")
	require.NoError(t, c.Update(ctx, u, domain.UserFieldAssets))
	got, err = c.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Assets.Equal(decimal.RequireFromString("777")))
	assert.True(t, got.Cash.Equal(decimal.RequireFromString("1000000")),
		"unnamed fields keep their cached values")
}

// TestMemoryUserCacheReloadFlag tests read-and-clear
func TestMemoryUserCacheReloadFlag(t *testing.T) {
	c := NewMemoryUserCache()
	ctx := context.Background()

	reload, err := c.IsReload(ctx)
	require.NoError(t, err)
	assert.False(t, reload)

	require.NoError(t, c.SetReload(ctx))
	reload, err = c.IsReload(ctx)
	require.NoError(t, err)
	assert.True(t, reload)

	reload, err = c.IsReload(ctx)
	require.NoError(t, err)
	assert.False(t, reload)

	users, err := c.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, users, "reload flag must not surface as a user")
}

// TestMemoryPositionCacheFreezeVolume tests the share freeze and the
// unconditional delta
func TestMemoryPositionCacheFreezeVolume(t *testing.T) {
	c := NewMemoryPositionCache()
	ctx := context.Background()

	p := testPosition("5f8a7b2c1d3e4f5061728394")
	require.NoError(t, c.Set(ctx, p))

	ok, err := c.FreezeVolume(ctx, p.User, p.Symbol, p.Exchange, 300)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.FreezeVolume(ctx, p.User, p.Symbol, p.Exchange, 1)
	require.NoError(t, err)
	assert.False(t, ok, "nothing sellable left")

	require.NoError(t, c.AddAvailableVolume(ctx, p.User, p.Symbol, p.Exchange, 300))
	got, err := c.Get(ctx, p.User, p.Symbol, p.Exchange)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.AvailableVolume)
}

// TestMemoryPositionCacheDeleteByUser tests per-user removal
func TestMemoryPositionCacheDeleteByUser(t *testing.T) {
	c := NewMemoryPositionCache()
	ctx := context.Background()

	mine := testPosition("5f8a7b2c1d3e4f5061728394")
	other := testPosition("6a9b8c7d6e5f403121324354")
	require.NoError(t, c.SetMany(ctx, []domain.Position{*mine, *other}))

	require.NoError(t, c.DeleteByUser(ctx, mine.User))

	all, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, other.User, all[0].User)
}
