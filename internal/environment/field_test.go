package environment

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var day0 = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestField(t *testing.T) *Field {
	t.Helper()
	f, err := NewBuilder(day0, 10, 3, 2).
		Fill(VarForage, func(d int, loc Location) float64 { return float64(10*d + loc.X) }).
		Gap(VarForage, 5, Location{X: 1, Y: 1}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return f
}

func TestValueAt(t *testing.T) {
	f := newTestField(t)

	v, err := f.ValueAt(Location{X: 2, Y: 0}, day0.AddDate(0, 0, 3), VarForage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 32 {
		t.Errorf("got %v, want 32", v)
	}
}

func TestValueAtGaps(t *testing.T) {
	f := newTestField(t)

	cases := []struct {
		name   string
		loc    Location
		date   time.Time
		vari   string
		reason GapReason
	}{
		{"before extent", Location{}, day0.AddDate(0, 0, -1), VarForage, GapOutsideExtent},
		{"after extent", Location{}, day0.AddDate(0, 0, 10), VarForage, GapOutsideExtent},
		{"outside grid", Location{X: 3}, day0, VarForage, GapOutsideGrid},
		{"unknown variable", Location{}, day0, "salinity", GapUnknownVariable},
		{"missing sample", Location{X: 1, Y: 1}, day0.AddDate(0, 0, 5), VarForage, GapMissingSample},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ValueAt(tc.loc, tc.date, tc.vari)
			var gap *DataGapError
			if !errors.As(err, &gap) {
				t.Fatalf("got %v, want *DataGapError", err)
			}
			if gap.Reason != tc.reason {
				t.Errorf("got reason %s, want %s", gap.Reason, tc.reason)
			}
		})
	}
}

func TestCoversAndOverlaps(t *testing.T) {
	f := newTestField(t)

	if !f.Covers(day0, day0.AddDate(0, 0, 10)) {
		t.Error("expected full extent to be covered")
	}
	if f.Covers(day0, day0.AddDate(0, 0, 11)) {
		t.Error("horizon past the extent must not be covered")
	}
	if !f.Overlaps(day0.AddDate(0, 0, 5), day0.AddDate(0, 0, 30)) {
		t.Error("expected partial overlap")
	}
	if f.Overlaps(day0.AddDate(0, 0, 10), day0.AddDate(0, 0, 30)) {
		t.Error("disjoint horizon must not overlap")
	}
}

func TestSamplerCarryForward(t *testing.T) {
	f := newTestField(t)
	s := NewSampler(f, GapPolicy{Mode: GapCarryForward, Default: -1})
	loc := Location{X: 1, Y: 1}

	if _, err := s.At(loc, day0.AddDate(0, 0, 4), VarForage); err != nil {
		t.Fatalf("day 4: %v", err)
	}
	got, err := s.At(loc, day0.AddDate(0, 0, 5), VarForage)
	if err != nil {
		t.Fatalf("day 5: %v", err)
	}
	if !got.Fallback || got.Value != 41 {
		t.Errorf("got %+v, want carried-forward 41", got)
	}
}

func TestSamplerCarryForwardWithoutHistory(t *testing.T) {
	f := newTestField(t)
	s := NewSampler(f, GapPolicy{Mode: GapCarryForward, Default: 0.25})

	got, err := s.At(Location{X: 1, Y: 1}, day0.AddDate(0, 0, 5), VarForage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != 0.25 {
		t.Errorf("got %v, want default 0.25", got.Value)
	}
}

func TestSamplerPropagate(t *testing.T) {
	f := newTestField(t)
	s := NewSampler(f, GapPolicy{Mode: GapPropagate})

	_, err := s.At(Location{X: 1, Y: 1}, day0.AddDate(0, 0, 5), VarForage)
	var gap *DataGapError
	if !errors.As(err, &gap) {
		t.Fatalf("got %v, want *DataGapError", err)
	}
}

func TestProbeDoesNotRemember(t *testing.T) {
	f := newTestField(t)
	s := NewSampler(f, GapPolicy{Mode: GapCarryForward})

	if _, err := s.Probe(Location{X: 2}, day0, VarForage); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if _, ok := s.Last(VarForage); ok {
		t.Error("probe must not update carry-forward state")
	}
}

func TestLoadCSV(t *testing.T) {
	data := `date,x,y,variable,value
2001-03-01,0,0,forage,0.5
2001-03-02,1,0,forage,NA
2001-03-03,1,0,forage,0.7
2001-03-03,0,0,water,1
`
	f, err := LoadCSV(strings.NewReader(data), LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if f.Days() != 3 || f.Width() != 2 || f.Height() != 1 {
		t.Fatalf("got extent days=%d %dx%d, want 3 2x1", f.Days(), f.Width(), f.Height())
	}
	if _, err := f.ValueAt(Location{X: 1}, time.Date(2001, 3, 2, 0, 0, 0, 0, time.UTC), VarForage); err == nil {
		t.Error("expected NA sample to be a gap")
	}
	v, err := f.ValueAt(Location{X: 1}, time.Date(2001, 3, 3, 0, 0, 0, 0, time.UTC), VarForage)
	if err != nil || v != 0.7 {
		t.Errorf("got %v, %v; want 0.7", v, err)
	}
}

func TestSynthetic(t *testing.T) {
	f, err := Synthetic(SyntheticConfig{
		Start:           day0,
		Days:            400,
		Width:           4,
		Height:          4,
		ForageMean:      1,
		ForageAmplitude: 0.5,
		Gradient:        0.5,
		WaterCells:      []Location{{X: 2, Y: 2}},
	})
	if err != nil {
		t.Fatalf("synthetic: %v", err)
	}
	west, _ := f.ValueAt(Location{X: 0}, day0, VarForage)
	east, _ := f.ValueAt(Location{X: 3}, day0, VarForage)
	if west <= east {
		t.Errorf("expected forage to decline eastwards: west=%v east=%v", west, east)
	}
	water, _ := f.ValueAt(Location{X: 2, Y: 2}, day0.AddDate(0, 0, 100), VarWater)
	if water != 1 {
		t.Errorf("got water %v, want 1", water)
	}
	if f.Has(VarHazard) {
		t.Error("hazard must be absent when not configured")
	}
}
