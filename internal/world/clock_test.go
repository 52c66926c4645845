package world

import (
	"context"
	"errors"
	"testing"
	"time"
)

var horizonStart = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

func TestClockOrder(t *testing.T) {
	c, err := NewClock(horizonStart, horizonStart.AddDate(0, 0, 3), nil)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	c.AddListener(DayFunc(func(_ context.Context, day int, _ time.Time) error {
		got = append(got, "a")
		return nil
	}))
	c.AddListener(DayFunc(func(_ context.Context, day int, date time.Time) error {
		got = append(got, date.Format("02"))
		return nil
	}))
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"a", "01", "a", "02", "a", "03"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestClockStopsOnError(t *testing.T) {
	c, _ := NewClock(horizonStart, horizonStart.AddDate(0, 0, 10), nil)
	boom := errors.New("boom")
	calls := 0
	c.AddListener(DayFunc(func(_ context.Context, day int, _ time.Time) error {
		calls++
		if day == 4 {
			return boom
		}
		return nil
	}))
	if err := c.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if calls != 5 {
		t.Errorf("got %d calls, want 5", calls)
	}
}

func TestClockCancel(t *testing.T) {
	c, _ := NewClock(horizonStart, horizonStart.AddDate(1, 0, 0), nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.AddListener(DayFunc(func(_ context.Context, day int, _ time.Time) error {
		if day == 2 {
			cancel()
		}
		return nil
	}))
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestNewClockRejectsEmptyHorizon(t *testing.T) {
	if _, err := NewClock(horizonStart, horizonStart, nil); err == nil {
		t.Fatal("expected empty horizon to be rejected")
	}
}

func TestEpochTrigger(t *testing.T) {
	var epochs []int
	var days []int
	trig := NewEpochTrigger(365, 10, func(_ context.Context, epoch int, date time.Time) error {
		epochs = append(epochs, epoch)
		days = append(days, int(date.Sub(horizonStart).Hours()/24))
		return nil
	})
	c, _ := NewClock(horizonStart, horizonStart.AddDate(0, 0, 700), nil)
	c.AddListener(trig)
	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(days) != 2 || days[0] != 10 || days[1] != 375 {
		t.Fatalf("got epoch days %v, want [10 375]", days)
	}
	if epochs[1] != 1 || trig.Fired() != 2 {
		t.Errorf("got epochs %v fired %d", epochs, trig.Fired())
	}
}
