// Package di wires the application graph: database, caches, quote
// providers, engines, services and the scheduler.
package di

import (
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ashare/papertrade/internal/backup"
	"github.com/ashare/papertrade/internal/clients/quotes"
	"github.com/ashare/papertrade/internal/config"
	"github.com/ashare/papertrade/internal/database"
	"github.com/ashare/papertrade/internal/domain"
	"github.com/ashare/papertrade/internal/engine"
	"github.com/ashare/papertrade/internal/events"
	"github.com/ashare/papertrade/internal/modules/accounts"
	"github.com/ashare/papertrade/internal/modules/dividends"
	"github.com/ashare/papertrade/internal/modules/orders"
	"github.com/ashare/papertrade/internal/modules/positions"
	"github.com/ashare/papertrade/internal/modules/records"
	"github.com/ashare/papertrade/internal/modules/statements"
	"github.com/ashare/papertrade/internal/scheduler"
)

// Container holds every constructed dependency. Created by Wire and
// torn down by Close.
type Container struct {
	Config  *config.Config
	Log     zerolog.Logger
	Session *engine.Session

	DB  *database.DB
	Bus *events.Bus

	// Fast-store projections. Redis in production, in-process maps in
	// dev mode.
	UserCache     domain.UserCache
	PositionCache domain.PositionCache

	// Quotes resolves ticks for matching; Streamer is non-nil only when
	// a push feed is configured.
	Quotes   domain.QuoteProvider
	Streamer *quotes.Streamer

	// Repositories over the ledger database.
	Users      *accounts.UserRepository
	Orders     *orders.OrderRepository
	Positions  *positions.PositionRepository
	Statements *statements.StatementRepository
	Records    *records.AssetsRecordRepository
	Dividends  *dividends.DividendRepository

	// Engines and services.
	UserEngine      *engine.UserEngine
	MarketEngine    *engine.MarketEngine
	MainEngine      *engine.MainEngine
	DividendService *dividends.Service
	BackupService   *backup.Service

	// Scheduler. Only the advisory-lock holder runs the session timers.
	Scheduler     *scheduler.Scheduler
	SchedulerLock *scheduler.Lock

	redisUsers     *redis.Client
	redisPositions *redis.Client
	schedulerUp    bool
	lockHeld       bool
}

// Close tears the container down in reverse dependency order.
func (c *Container) Close() {
	if c.schedulerUp {
		c.Scheduler.Stop()
	}
	if c.lockHeld {
		if err := c.SchedulerLock.Release(); err != nil {
			c.Log.Warn().Err(err).Msg("Failed to release scheduler lock")
		}
	}
	if c.Streamer != nil {
		c.Streamer.Stop()
	}
	if c.MainEngine != nil {
		c.MainEngine.Shutdown()
	}
	if c.redisUsers != nil {
		_ = c.redisUsers.Close()
	}
	if c.redisPositions != nil {
		_ = c.redisPositions.Close()
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
