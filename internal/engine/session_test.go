package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsTradingTimeBoundaries(t *testing.T) {
	session, err := NewSession("Asia/Shanghai")
	require.NoError(t, err)
	loc := session.Location()

	// 2026-08-24 is a Monday.
	at := func(hour, min int) time.Time {
		return time.Date(2026, 8, 24, hour, min, 0, 0, loc)
	}

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"before open", at(9, 29), false},
		{"morning open", at(9, 30), true},
		{"morning close", at(11, 30), false},
		{"lunch break", at(12, 0), false},
		{"afternoon open", at(13, 0), true},
		{"last minute", at(14, 59), true},
		{"market close", at(15, 0), false},
		{"saturday", time.Date(2026, 8, 22, 10, 0, 0, 0, loc), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, session.IsTradingTime(tc.t))
		})
	}
}

func TestIsTradingTimeConvertsTimezone(t *testing.T) {
	session, err := NewSession("Asia/Shanghai")
	require.NoError(t, err)

	// 02:30 UTC on a Monday is 10:30 in Shanghai, mid-session.
	require.True(t, session.IsTradingTime(time.Date(2026, 8, 24, 2, 30, 0, 0, time.UTC)))
}

func TestTodayUsesMarketTimezone(t *testing.T) {
	session, err := NewSession("Asia/Shanghai")
	require.NoError(t, err)

	// 20:00 UTC is already past midnight in Shanghai.
	evening := time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC)
	require.Equal(t, "2026-08-25", session.Today(evening))
}

func TestNewSessionRejectsUnknownTimezone(t *testing.T) {
	_, err := NewSession("Mars/Olympus")
	require.Error(t, err)
}
