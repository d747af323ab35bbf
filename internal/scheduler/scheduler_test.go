package scheduler

import (
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ashare/papertrade/internal/clients/quotes"
	"github.com/ashare/papertrade/internal/engine"
	"github.com/ashare/papertrade/internal/entrust"
	"github.com/ashare/papertrade/internal/events"
)

type countingJob struct {
	runs int64
	err  error
}

func (j *countingJob) Run() error {
	atomic.AddInt64(&j.runs, 1)
	return j.err
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) count() int64 { return atomic.LoadInt64(&j.runs) }

type fixedCalendar struct {
	open bool
}

func (c fixedCalendar) IsTradingTime(time.Time) bool { return c.open }
func (c fixedCalendar) Today(t time.Time) string     { return t.Format("2006-01-02") }

func TestSchedulerRunsJob(t *testing.T) {
	s := New(time.Local, zerolog.Nop())
	job := &countingJob{}
	require.NoError(t, s.AddJob("@every 100ms", job))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return job.count() >= 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := New(time.Local, zerolog.Nop())
	require.Error(t, s.AddJob("not a schedule", &countingJob{}))
}

func TestRunNowPropagatesError(t *testing.T) {
	s := New(time.Local, zerolog.Nop())
	wantErr := errors.New("boom")

	require.NoError(t, s.RunNow(&countingJob{}))
	require.ErrorIs(t, s.RunNow(&countingJob{err: wantErr}), wantErr)
}

func TestMarketCloseJobEmitsSweepEvent(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	received := make(chan string, 1)
	_ = bus.Subscribe(events.MarketClose, func(event *events.Event) error {
		data := event.Data.(*events.MarketCloseData)
		received <- data.Date
		return nil
	})
	bus.Startup()
	defer bus.Shutdown()

	job := NewMarketCloseJob(bus, fixedCalendar{open: true})
	require.Equal(t, "market_close", job.Name())
	require.NoError(t, job.Run())

	select {
	case date := <-received:
		require.Equal(t, time.Now().Format("2006-01-02"), date)
	case <-time.After(3 * time.Second):
		t.Fatal("market close event not delivered")
	}
}

func TestMatchmakingToggleJobs(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	bus.Startup()
	defer bus.Shutdown()

	market := engine.NewMarketEngine(
		bus, entrust.NewQueue(), quotes.NewMemoryProvider(), nil,
		fixedCalendar{open: true}, zerolog.Nop(),
	)

	start := NewMatchmakingStartJob(market)
	stop := NewMatchmakingStopJob(market)

	require.NoError(t, start.Run())
	require.True(t, market.Running())

	// Idempotent while already running.
	require.NoError(t, start.Run())
	require.True(t, market.Running())

	require.NoError(t, stop.Run())
	require.False(t, market.Running())
	require.NoError(t, stop.Run())
}

func TestSyncUserAssetsSkipsClosedSession(t *testing.T) {
	job := NewSyncUserAssetsJob(fixedCalendar{open: false}, nil, nil, zerolog.Nop())
	require.NoError(t, job.Run())
}

func TestLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "papertrade.lock")

	first := NewLock(path)
	ok, err := first.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	second := NewLock(path)
	ok, err = second.TryAcquire()
	require.NoError(t, err)
	require.False(t, ok, "second holder must not acquire the lock")

	require.NoError(t, first.Release())
	ok, err = second.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, second.Release())
}
