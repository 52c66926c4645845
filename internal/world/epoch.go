package world

import (
	"context"
	"time"
)

// EpochFunc is called on every decision epoch with its ordinal.
type EpochFunc func(ctx context.Context, epoch int, date time.Time) error

// EpochTrigger is a DayListener that fires on day offset + k*interval.
type EpochTrigger struct {
	interval int
	offset   int
	fired    int
	fn       EpochFunc
}

// NewEpochTrigger creates a trigger. interval must be positive.
func NewEpochTrigger(intervalDays, offsetDays int, fn EpochFunc) *EpochTrigger {
	return &EpochTrigger{interval: intervalDays, offset: offsetDays, fn: fn}
}

// IsEpoch reports whether day is a decision epoch.
func (e *EpochTrigger) IsEpoch(day int) bool {
	return day >= e.offset && (day-e.offset)%e.interval == 0
}

// Fired returns how many epochs have run.
func (e *EpochTrigger) Fired() int { return e.fired }

// OnDay implements DayListener.
func (e *EpochTrigger) OnDay(ctx context.Context, day int, date time.Time) error {
	if !e.IsEpoch(day) {
		return nil
	}
	epoch := e.fired
	e.fired++
	return e.fn(ctx, epoch, date)
}
