package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashare/papertrade/internal/domain"
	"github.com/ashare/papertrade/internal/engine"
	"github.com/ashare/papertrade/internal/events"
)

// Trading-session schedules, market-local time. Matchmaking toggles fire
// one second after the boundary so the session check inside the worker
// agrees with the clock.
const (
	ScheduleMarketClose    = "0 0 15 * * MON-FRI"
	ScheduleMorningOpen    = "1 30 9 * * MON-FRI"
	ScheduleMorningClose   = "1 30 11 * * MON-FRI"
	ScheduleAfternoonOpen  = "1 0 13 * * MON-FRI"
	ScheduleAfternoonClose = "1 0 15 * * MON-FRI"
	ScheduleSyncUserAssets = "*/3 * * * * *"
	ScheduleDividend       = "0 0 4 * * MON-FRI"
	ScheduleDividendTax    = "0 30 4 * * MON-FRI"
	ScheduleDividendFlow   = "0 0 5 * * MON-FRI"
	ScheduleBackup         = "0 0 1 * * *"
)

// MarketCloseJob emits the end-of-day sweep event at 15:00.
type MarketCloseJob struct {
	bus      *events.Bus
	calendar engine.Calendar
}

func NewMarketCloseJob(bus *events.Bus, calendar engine.Calendar) *MarketCloseJob {
	return &MarketCloseJob{bus: bus, calendar: calendar}
}

func (j *MarketCloseJob) Name() string { return "market_close" }

func (j *MarketCloseJob) Run() error {
	j.bus.Emit(events.MarketClose, "scheduler", &events.MarketCloseData{
		Date: j.calendar.Today(time.Now()),
	})
	return nil
}

// MatchmakingStartJob starts the matching worker at session open.
type MatchmakingStartJob struct {
	market *engine.MarketEngine
}

func NewMatchmakingStartJob(market *engine.MarketEngine) *MatchmakingStartJob {
	return &MatchmakingStartJob{market: market}
}

func (j *MatchmakingStartJob) Name() string { return "matchmaking_start" }

func (j *MatchmakingStartJob) Run() error {
	if !j.market.Running() {
		j.market.Startup()
	}
	return nil
}

// MatchmakingStopJob stops the matching worker at session close.
type MatchmakingStopJob struct {
	market *engine.MarketEngine
}

func NewMatchmakingStopJob(market *engine.MarketEngine) *MatchmakingStopJob {
	return &MatchmakingStopJob{market: market}
}

func (j *MatchmakingStopJob) Name() string { return "matchmaking_stop" }

func (j *MatchmakingStopJob) Run() error {
	if j.market.Running() {
		j.market.Shutdown()
	}
	return nil
}

// SyncUserAssetsJob re-marks every cached account against live quotes
// during the session. Refresh flags stay off so in-flight freezes
// survive the pass.
type SyncUserAssetsJob struct {
	calendar   engine.Calendar
	userEngine *engine.UserEngine
	userCache  domain.UserCache
	log        zerolog.Logger
}

func NewSyncUserAssetsJob(
	calendar engine.Calendar,
	userEngine *engine.UserEngine,
	userCache domain.UserCache,
	log zerolog.Logger,
) *SyncUserAssetsJob {
	return &SyncUserAssetsJob{
		calendar:   calendar,
		userEngine: userEngine,
		userCache:  userCache,
		log:        log.With().Str("component", "sync_user_assets").Logger(),
	}
}

func (j *SyncUserAssetsJob) Name() string { return "sync_user_assets" }

func (j *SyncUserAssetsJob) Run() error {
	if !j.calendar.IsTradingTime(time.Now()) {
		return nil
	}

	ctx := context.Background()
	users, err := j.userCache.All(ctx)
	if err != nil {
		return err
	}

	for i := range users {
		id := users[i].ID
		if err := j.userEngine.LiquidateUserPosition(ctx, id, false); err != nil {
			j.log.Error().Err(err).Str("user_id", id).Msg("Position re-mark failed")
			continue
		}
		if err := j.userEngine.LiquidateUserProfit(ctx, id, false); err != nil {
			j.log.Error().Err(err).Str("user_id", id).Msg("Profit re-mark failed")
		}
	}
	return nil
}

// DividendService is the slice of the dividends module the overnight
// jobs call.
type DividendService interface {
	LiquidateDividend(ctx context.Context, day string) error
	LiquidateDividendTax(ctx context.Context, day string) error
	LiquidateDividendFlow(ctx context.Context, day string) error
}

// DividendJob applies ex-date share and cash entitlements before open.
type DividendJob struct {
	svc      DividendService
	calendar engine.Calendar
}

func NewDividendJob(svc DividendService, calendar engine.Calendar) *DividendJob {
	return &DividendJob{svc: svc, calendar: calendar}
}

func (j *DividendJob) Name() string { return "dividend_liquidation" }

func (j *DividendJob) Run() error {
	return j.svc.LiquidateDividend(context.Background(), j.calendar.Today(time.Now()))
}

// DividendTaxJob settles holding-period dividend tax on closed lots.
type DividendTaxJob struct {
	svc      DividendService
	calendar engine.Calendar
}

func NewDividendTaxJob(svc DividendService, calendar engine.Calendar) *DividendTaxJob {
	return &DividendTaxJob{svc: svc, calendar: calendar}
}

func (j *DividendTaxJob) Name() string { return "dividend_tax" }

func (j *DividendTaxJob) Run() error {
	return j.svc.LiquidateDividendTax(context.Background(), j.calendar.Today(time.Now()))
}

// DividendFlowJob pays cash dividends whose payment date has arrived.
type DividendFlowJob struct {
	svc      DividendService
	calendar engine.Calendar
}

func NewDividendFlowJob(svc DividendService, calendar engine.Calendar) *DividendFlowJob {
	return &DividendFlowJob{svc: svc, calendar: calendar}
}

func (j *DividendFlowJob) Name() string { return "dividend_flow" }

func (j *DividendFlowJob) Run() error {
	return j.svc.LiquidateDividendFlow(context.Background(), j.calendar.Today(time.Now()))
}

// BackupRunner is the slice of the backup service the nightly job calls.
type BackupRunner interface {
	Run(ctx context.Context) error
}

// BackupJob snapshots the database overnight.
type BackupJob struct {
	backup BackupRunner
}

func NewBackupJob(backup BackupRunner) *BackupJob {
	return &BackupJob{backup: backup}
}

func (j *BackupJob) Name() string { return "database_backup" }

func (j *BackupJob) Run() error {
	return j.backup.Run(context.Background())
}
