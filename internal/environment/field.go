package environment

import (
	"math"
	"sort"
	"time"
)

// Standard variable names. A field may carry any other named variable too.
const (
	VarForage = "forage"
	VarWater  = "water"
	VarHazard = "hazard"
)

const day = 24 * time.Hour

// Location is a grid cell coordinate.
type Location struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Field is an immutable, time-indexed spatial surface loaded once per run.
// A NaN sample marks missing data.
type Field struct {
	start  time.Time
	days   int
	width  int
	height int
	vars   map[string][]float64
	names  []string
}

// Date truncates t to a UTC calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole number of days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Date(b).Sub(Date(a)) / day)
}

// Start returns the first date covered by the field.
func (f *Field) Start() time.Time { return f.start }

// End returns the first date after the loaded extent.
func (f *Field) End() time.Time { return f.start.AddDate(0, 0, f.days) }

// Days returns the number of loaded days.
func (f *Field) Days() int { return f.days }

// Width returns the number of grid columns.
func (f *Field) Width() int { return f.width }

// Height returns the number of grid rows.
func (f *Field) Height() int { return f.height }

// Variables returns the variable names in sorted order.
func (f *Field) Variables() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Has reports whether the field carries the named variable.
func (f *Field) Has(variable string) bool {
	_, ok := f.vars[variable]
	return ok
}

// InBounds reports whether loc lies on the grid.
func (f *Field) InBounds(loc Location) bool {
	return loc.X >= 0 && loc.X < f.width && loc.Y >= 0 && loc.Y < f.height
}

// Covers reports whether every day in [start, end) is inside the loaded extent.
func (f *Field) Covers(start, end time.Time) bool {
	first := DaysBetween(f.start, start)
	last := DaysBetween(f.start, end)
	return first >= 0 && last <= f.days
}

// Overlaps reports whether at least one day in [start, end) is loaded.
func (f *Field) Overlaps(start, end time.Time) bool {
	first := DaysBetween(f.start, start)
	last := DaysBetween(f.start, end)
	return first < f.days && last > 0 && first < last
}

// ValueAt returns the value of variable at loc on date. It fails with a
// *DataGapError when the query falls outside the loaded data or the stored
// sample is missing.
func (f *Field) ValueAt(loc Location, date time.Time, variable string) (float64, error) {
	values, ok := f.vars[variable]
	if !ok {
		return 0, &DataGapError{Location: loc, Date: Date(date), Variable: variable, Reason: GapUnknownVariable}
	}
	d := DaysBetween(f.start, date)
	if d < 0 || d >= f.days {
		return 0, &DataGapError{Location: loc, Date: Date(date), Variable: variable, Reason: GapOutsideExtent}
	}
	if !f.InBounds(loc) {
		return 0, &DataGapError{Location: loc, Date: Date(date), Variable: variable, Reason: GapOutsideGrid}
	}
	v := values[f.index(d, loc)]
	if math.IsNaN(v) {
		return 0, &DataGapError{Location: loc, Date: Date(date), Variable: variable, Reason: GapMissingSample}
	}
	return v, nil
}

func (f *Field) index(d int, loc Location) int {
	return (d*f.height+loc.Y)*f.width + loc.X
}

func sortedNames(vars map[string][]float64) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
