package world

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DayListener receives one call per simulated day.
type DayListener interface {
	OnDay(ctx context.Context, day int, date time.Time) error
}

// DayFunc adapts a function to DayListener.
type DayFunc func(ctx context.Context, day int, date time.Time) error

// OnDay implements DayListener.
func (f DayFunc) OnDay(ctx context.Context, day int, date time.Time) error {
	return f(ctx, day, date)
}

// Clock steps simulated dates over [start, end) one day at a time and is the
// only writer of the current date. Listeners run in registration order.
type Clock struct {
	start     time.Time
	end       time.Time
	days      int
	today     int
	listeners []DayListener
	logger    *zap.Logger
}

// NewClock creates a clock for the horizon [start, end).
func NewClock(start, end time.Time, logger *zap.Logger) (*Clock, error) {
	start, end = truncate(start), truncate(end)
	if !end.After(start) {
		return nil, fmt.Errorf("horizon end %s must be after start %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clock{
		start:  start,
		end:    end,
		days:   int(end.Sub(start) / (24 * time.Hour)),
		logger: logger,
	}, nil
}

// AddListener registers a day listener.
func (c *Clock) AddListener(l DayListener) {
	c.listeners = append(c.listeners, l)
}

// Days returns the number of days in the horizon.
func (c *Clock) Days() int { return c.days }

// Day returns the index of the current day.
func (c *Clock) Day() int { return c.today }

// Date returns the current simulated date.
func (c *Clock) Date() time.Time { return c.start.AddDate(0, 0, c.today) }

// Run advances through the whole horizon. It stops at the first listener
// error or when ctx is done.
func (c *Clock) Run(ctx context.Context) error {
	c.logger.Debug("clock started",
		zap.Time("start", c.start),
		zap.Time("end", c.end),
		zap.Int("listeners", len(c.listeners)))

	for c.today = 0; c.today < c.days; c.today++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		date := c.Date()
		for _, l := range c.listeners {
			if err := l.OnDay(ctx, c.today, date); err != nil {
				return err
			}
		}
	}

	c.logger.Debug("clock finished", zap.Int("days", c.days))
	return nil
}

func truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
