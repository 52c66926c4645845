package environment

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// LoadOptions describes the grid an archive is mapped onto.
type LoadOptions struct {
	Width  int
	Height int
}

type csvRow struct {
	date     time.Time
	loc      Location
	variable string
	value    float64
}

// LoadCSV reads rows of date,x,y,variable,value (header required). Empty or
// NA values are stored as missing samples; the extent spans the first to
// the last date present.
func LoadCSV(r io.Reader, opts LoadOptions) (*Field, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 5 || strings.ToLower(header[0]) != "date" {
		return nil, fmt.Errorf("unexpected header %v, want date,x,y,variable,value", header)
	}

	var rows []csvRow
	var first, last time.Time
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if opts.Width > 0 && (row.loc.X < 0 || row.loc.X >= opts.Width) ||
			opts.Height > 0 && (row.loc.Y < 0 || row.loc.Y >= opts.Height) {
			return nil, fmt.Errorf("line %d: cell (%d,%d) outside %dx%d grid", line, row.loc.X, row.loc.Y, opts.Width, opts.Height)
		}
		if first.IsZero() || row.date.Before(first) {
			first = row.date
		}
		if last.IsZero() || row.date.After(last) {
			last = row.date
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data rows")
	}

	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		for _, row := range rows {
			width = max(width, row.loc.X+1)
			height = max(height, row.loc.Y+1)
		}
	}

	b := NewBuilder(first, DaysBetween(first, last)+1, width, height)
	for _, row := range rows {
		if !b.has(row.variable) {
			b.Variable(row.variable, math.NaN())
		}
		b.Set(row.variable, DaysBetween(first, row.date), row.loc, row.value)
	}
	return b.Build()
}

func (b *Builder) has(name string) bool {
	_, ok := b.vars[name]
	return ok
}

func parseRow(rec []string) (csvRow, error) {
	if len(rec) < 5 {
		return csvRow{}, fmt.Errorf("want 5 columns, got %d", len(rec))
	}
	date, err := time.Parse(time.DateOnly, rec[0])
	if err != nil {
		return csvRow{}, fmt.Errorf("parse date %q: %w", rec[0], err)
	}
	x, err := strconv.Atoi(rec[1])
	if err != nil {
		return csvRow{}, fmt.Errorf("parse x %q: %w", rec[1], err)
	}
	y, err := strconv.Atoi(rec[2])
	if err != nil {
		return csvRow{}, fmt.Errorf("parse y %q: %w", rec[2], err)
	}
	value := math.NaN()
	if raw := strings.TrimSpace(rec[4]); raw != "" && !strings.EqualFold(raw, "NA") {
		value, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return csvRow{}, fmt.Errorf("parse value %q: %w", raw, err)
		}
	}
	return csvRow{date: date, loc: Location{X: x, Y: y}, variable: rec[3], value: value}, nil
}

// SyntheticConfig describes a seasonal forage surface used when no archive
// is supplied.
type SyntheticConfig struct {
	Start           time.Time  `json:"-" yaml:"-"`
	Days            int        `json:"-" yaml:"-"`
	Width           int        `json:"width" yaml:"width"`
	Height          int        `json:"height" yaml:"height"`
	ForageMean      float64    `json:"forage_mean" yaml:"forage_mean"`
	ForageAmplitude float64    `json:"forage_amplitude" yaml:"forage_amplitude"`
	PeriodDays      float64    `json:"period_days" yaml:"period_days"`
	Gradient        float64    `json:"gradient" yaml:"gradient"`
	WaterCells      []Location `json:"water_cells" yaml:"water_cells"`
	Hazard          float64    `json:"hazard" yaml:"hazard"`
}

// Synthetic builds a deterministic field: forage follows a yearly cosine
// around ForageMean and declines west to east by Gradient; water is 1 on
// WaterCells; hazard is constant when positive.
func Synthetic(cfg SyntheticConfig) (*Field, error) {
	period := cfg.PeriodDays
	if period <= 0 {
		period = 365.25
	}
	b := NewBuilder(cfg.Start, cfg.Days, cfg.Width, cfg.Height)
	b.Fill(VarForage, func(d int, loc Location) float64 {
		season := 1 + cfg.ForageAmplitude*math.Cos(2*math.Pi*float64(d)/period)
		slope := 1.0
		if cfg.Width > 1 {
			slope = 1 - cfg.Gradient*float64(loc.X)/float64(cfg.Width-1)
		}
		return math.Max(0, cfg.ForageMean*season*slope)
	})
	b.Variable(VarWater, 0)
	for _, loc := range cfg.WaterCells {
		for d := 0; d < cfg.Days; d++ {
			b.Set(VarWater, d, loc, 1)
		}
	}
	if cfg.Hazard > 0 {
		b.Variable(VarHazard, cfg.Hazard)
	}
	return b.Build()
}
