package environment

import (
	"fmt"
	"math"
	"time"
)

// Builder assembles a Field. Build hands the data over to the field, so a
// builder must not be reused afterwards.
type Builder struct {
	start  time.Time
	days   int
	width  int
	height int
	vars   map[string][]float64
	err    error
}

// NewBuilder starts a field covering days days from start on a width x height grid.
func NewBuilder(start time.Time, days, width, height int) *Builder {
	b := &Builder{
		start:  Date(start),
		days:   days,
		width:  width,
		height: height,
		vars:   make(map[string][]float64),
	}
	if days <= 0 || width <= 0 || height <= 0 {
		b.err = fmt.Errorf("invalid field extent: days=%d width=%d height=%d", days, width, height)
	}
	return b
}

// Variable declares a variable with every sample set to fill. Use math.NaN()
// to start from an all-missing surface.
func (b *Builder) Variable(name string, fill float64) *Builder {
	if b.err != nil {
		return b
	}
	values := make([]float64, b.days*b.width*b.height)
	for i := range values {
		values[i] = fill
	}
	b.vars[name] = values
	return b
}

// Fill sets every sample of a variable from fn.
func (b *Builder) Fill(name string, fn func(day int, loc Location) float64) *Builder {
	if b.err != nil {
		return b
	}
	if _, ok := b.vars[name]; !ok {
		b.Variable(name, math.NaN())
	}
	values := b.vars[name]
	for d := 0; d < b.days; d++ {
		for y := 0; y < b.height; y++ {
			for x := 0; x < b.width; x++ {
				loc := Location{X: x, Y: y}
				values[(d*b.height+y)*b.width+x] = fn(d, loc)
			}
		}
	}
	return b
}

// Set assigns one sample.
func (b *Builder) Set(name string, day int, loc Location, v float64) *Builder {
	if b.err != nil {
		return b
	}
	values, ok := b.vars[name]
	if !ok {
		b.err = fmt.Errorf("set %s: variable not declared", name)
		return b
	}
	if day < 0 || day >= b.days || loc.X < 0 || loc.X >= b.width || loc.Y < 0 || loc.Y >= b.height {
		b.err = fmt.Errorf("set %s: day %d at (%d,%d) outside extent", name, day, loc.X, loc.Y)
		return b
	}
	values[(day*b.height+loc.Y)*b.width+loc.X] = v
	return b
}

// Gap marks one sample as missing.
func (b *Builder) Gap(name string, day int, loc Location) *Builder {
	return b.Set(name, day, loc, math.NaN())
}

// Build returns the immutable field.
func (b *Builder) Build() (*Field, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.vars) == 0 {
		return nil, fmt.Errorf("field has no variables")
	}
	f := &Field{
		start:  b.start,
		days:   b.days,
		width:  b.width,
		height: b.height,
		vars:   b.vars,
		names:  sortedNames(b.vars),
	}
	b.vars = nil
	b.err = fmt.Errorf("builder already used")
	return f, nil
}
