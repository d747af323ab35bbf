// Package engine implements the trading core: the user engine (funds and
// positions), the market engine (matchmaking) and the main engine that
// composes them around the event bus.
package engine

import (
	"fmt"
	"time"
)

// sessionPeriod is one continuous trading interval, in minutes since
// local midnight.
type sessionPeriod struct {
	open  int
	close int
}

// A-share continuous trading: 09:30-11:30 and 13:00-15:00, weekdays.
var tradingPeriods = []sessionPeriod{
	{open: 9*60 + 30, close: 11*60 + 30},
	{open: 13 * 60, close: 15 * 60},
}

// dayFormat is the layout of trading-day strings.
const dayFormat = "2006-01-02"

// Calendar answers session questions for the engines. *Session is the
// production implementation.
type Calendar interface {
	IsTradingTime(t time.Time) bool
	Today(t time.Time) string
}

// Session is the trading calendar. All session decisions are made in the
// market's timezone regardless of where the process runs.
type Session struct {
	loc *time.Location
}

// NewSession creates a session calendar for the given timezone name.
func NewSession(timezone string) (*Session, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid market timezone %q: %w", timezone, err)
	}
	return &Session{loc: loc}, nil
}

// IsTradingTime reports whether t falls inside a trading period. The
// open minute is included, the close minute is not: at 15:00 sharp the
// session is over and the close sweep may run.
func (s *Session) IsTradingTime(t time.Time) bool {
	local := t.In(s.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	for _, p := range tradingPeriods {
		if minutes >= p.open && minutes < p.close {
			return true
		}
	}
	return false
}

// Today returns the trading-day string for t in the market timezone.
func (s *Session) Today(t time.Time) string {
	return t.In(s.loc).Format(dayFormat)
}

// Location returns the market timezone.
func (s *Session) Location() *time.Location {
	return s.loc
}
