package di

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ashare/papertrade/internal/cache"
	"github.com/ashare/papertrade/internal/config"
	"github.com/ashare/papertrade/internal/scheduler"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dataDir := t.TempDir()
	return &config.Config{
		MarketName: "CHINA_A",
		DataDir:    dataDir,
		Port:       0,
		DevMode:    true,
		Timezone:   "Asia/Shanghai",
		Auth: config.AuthConfig{
			Mode:        config.AuthModeUID,
			TokenPrefix: "Token",
		},
		Quotes: config.QuotesConfig{
			Endpoint:       "http://127.0.0.1:1",
			RequestTimeout: time.Second,
		},
		User: config.UserDefaults{
			Capital:    "1000000",
			Commission: "0.0003",
			TaxRate:    "0.001",
			Slippage:   "0.01",
		},
		Backup: config.BackupConfig{
			Enabled:  false,
			Dir:      filepath.Join(dataDir, "backups"),
			KeepDays: 7,
		},
		LockFile: filepath.Join(dataDir, "scheduler.lock"),
	}
}

func TestWireDevMode(t *testing.T) {
	cfg := testConfig(t)

	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.DB)
	require.NotNil(t, c.Bus)
	require.NotNil(t, c.MainEngine)
	require.NotNil(t, c.DividendService)
	require.NotNil(t, c.BackupService)
	require.Nil(t, c.Streamer, "no stream URL configured")

	// Dev mode runs without Redis.
	require.IsType(t, &cache.MemoryUserCache{}, c.UserCache)
	require.IsType(t, &cache.MemoryPositionCache{}, c.PositionCache)
}

func TestWireRedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.DevMode = false
	cfg.Redis = config.RedisConfig{Addr: "127.0.0.1:1", UserDB: 0, PositionDB: 1}

	_, err := Wire(cfg, zerolog.Nop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis")
}

func TestStartSchedulerHoldsAdvisoryLock(t *testing.T) {
	cfg := testConfig(t)

	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, c.StartScheduler())

	rival := scheduler.NewLock(cfg.LockFile)
	held, err := rival.TryAcquire()
	require.NoError(t, err)
	require.False(t, held, "running instance must hold the lock")

	c.Close()

	held, err = rival.TryAcquire()
	require.NoError(t, err)
	require.True(t, held, "lock released on shutdown")
	require.NoError(t, rival.Release())
}
