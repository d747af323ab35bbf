package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ashare/papertrade/internal/backup"
	"github.com/ashare/papertrade/internal/cache"
	"github.com/ashare/papertrade/internal/clients/quotes"
	"github.com/ashare/papertrade/internal/config"
	"github.com/ashare/papertrade/internal/database"
	"github.com/ashare/papertrade/internal/engine"
	"github.com/ashare/papertrade/internal/entrust"
	"github.com/ashare/papertrade/internal/events"
	"github.com/ashare/papertrade/internal/modules/accounts"
	"github.com/ashare/papertrade/internal/modules/dividends"
	"github.com/ashare/papertrade/internal/modules/orders"
	"github.com/ashare/papertrade/internal/modules/positions"
	"github.com/ashare/papertrade/internal/modules/records"
	"github.com/ashare/papertrade/internal/modules/statements"
	"github.com/ashare/papertrade/internal/scheduler"
)

// Wire builds the full dependency graph. On error everything already
// constructed is closed.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Log: log}

	session, err := engine.NewSession(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to build trading session: %w", err)
	}
	c.Session = session

	db, err := database.New(database.Config{Path: cfg.DatabasePath(), Name: "papertrade"})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	c.DB = db
	if err := database.InitSchema(db.Conn()); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	c.Bus = events.NewBus(log)

	if err := wireCaches(c, cfg, log); err != nil {
		c.Close()
		return nil, err
	}
	wireQuotes(c, cfg, log)
	wireRepositories(c, log)
	wireEngines(c, log)

	backupService, err := backup.NewService(db, cfg.Backup, log)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to build backup service: %w", err)
	}
	c.BackupService = backupService

	c.Scheduler = scheduler.New(session.Location(), log)
	c.SchedulerLock = scheduler.NewLock(cfg.LockFile)

	log.Info().
		Bool("dev_mode", cfg.DevMode).
		Str("market", cfg.MarketName).
		Msg("Dependency wiring completed")
	return c, nil
}

// wireCaches selects the fast store. Dev mode runs without Redis.
func wireCaches(c *Container, cfg *config.Config, log zerolog.Logger) error {
	if cfg.DevMode {
		c.UserCache = cache.NewMemoryUserCache()
		c.PositionCache = cache.NewMemoryPositionCache()
		return nil
	}

	c.redisUsers = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.UserDB,
	})
	c.redisPositions = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.PositionDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.redisUsers.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
	}

	c.UserCache = cache.NewRedisUserCache(c.redisUsers, log)
	c.PositionCache = cache.NewRedisPositionCache(c.redisPositions, log)
	return nil
}

// wireQuotes builds the polling client and, when a push feed is
// configured, layers the websocket streamer over it.
func wireQuotes(c *Container, cfg *config.Config, log zerolog.Logger) {
	client := quotes.NewClient(cfg.Quotes.Endpoint, cfg.Quotes.RequestTimeout, log)
	c.Quotes = client

	if cfg.Quotes.StreamURL != "" {
		c.Streamer = quotes.NewStreamer(cfg.Quotes.StreamURL, client, log)
		c.Quotes = c.Streamer
	}
}

func wireRepositories(c *Container, log zerolog.Logger) {
	conn := c.DB.Conn()
	c.Users = accounts.NewUserRepository(conn, log)
	c.Orders = orders.NewOrderRepository(conn, log)
	c.Positions = positions.NewPositionRepository(conn, log)
	c.Statements = statements.NewStatementRepository(conn, log)
	c.Records = records.NewAssetsRecordRepository(conn, log)
	c.Dividends = dividends.NewDividendRepository(conn, log)
}

func wireEngines(c *Container, log zerolog.Logger) {
	c.UserEngine = engine.NewUserEngine(
		c.Bus, c.Users, c.Positions, c.Records,
		c.UserCache, c.PositionCache, c.Quotes, log,
	)
	c.MarketEngine = engine.NewMarketEngine(
		c.Bus, entrust.NewQueue(), c.Quotes, c.UserEngine, c.Session, log,
	)
	c.MainEngine = engine.NewMainEngine(
		c.Bus, c.MarketEngine, c.UserEngine, c.Session,
		c.Orders, c.Statements, c.Users, c.UserCache, log,
	)
	c.DividendService = dividends.NewService(
		c.Users, c.Positions, c.Statements, c.Dividends,
		c.UserCache, c.PositionCache, log,
	)
}

// StartScheduler takes the advisory lock and, when held, registers and
// starts the session timers. A second instance sharing the database
// serves HTTP only.
func (c *Container) StartScheduler() error {
	held, err := c.SchedulerLock.TryAcquire()
	if err != nil {
		return fmt.Errorf("failed to probe scheduler lock: %w", err)
	}
	if !held {
		c.Log.Info().
			Str("lock", c.SchedulerLock.Path()).
			Msg("Scheduler lock held elsewhere, session timers disabled")
		return nil
	}
	c.lockHeld = true

	syncJob := scheduler.NewSyncUserAssetsJob(c.Session, c.UserEngine, c.UserCache, c.Log)
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{scheduler.ScheduleMorningOpen, scheduler.NewMatchmakingStartJob(c.MarketEngine)},
		{scheduler.ScheduleMorningClose, scheduler.NewMatchmakingStopJob(c.MarketEngine)},
		{scheduler.ScheduleAfternoonOpen, scheduler.NewMatchmakingStartJob(c.MarketEngine)},
		{scheduler.ScheduleAfternoonClose, scheduler.NewMatchmakingStopJob(c.MarketEngine)},
		{scheduler.ScheduleMarketClose, scheduler.NewMarketCloseJob(c.Bus, c.Session)},
		{scheduler.ScheduleSyncUserAssets, syncJob},
		{scheduler.ScheduleDividend, scheduler.NewDividendJob(c.DividendService, c.Session)},
		{scheduler.ScheduleDividendTax, scheduler.NewDividendTaxJob(c.DividendService, c.Session)},
		{scheduler.ScheduleDividendFlow, scheduler.NewDividendFlowJob(c.DividendService, c.Session)},
	}
	if c.Config.Backup.Enabled {
		jobs = append(jobs, struct {
			schedule string
			job      scheduler.Job
		}{scheduler.ScheduleBackup, scheduler.NewBackupJob(c.BackupService)})
	}

	for _, entry := range jobs {
		if err := c.Scheduler.AddJob(entry.schedule, entry.job); err != nil {
			return fmt.Errorf("failed to register job %s: %w", entry.job.Name(), err)
		}
	}

	c.Scheduler.Start()
	c.schedulerUp = true

	// Catch up immediately when starting mid-session.
	if err := c.Scheduler.RunNow(syncJob); err != nil {
		c.Log.Warn().Err(err).Msg("Initial asset sync failed")
	}
	return nil
}
