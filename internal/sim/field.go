package sim

import (
	"fmt"
	"os"

	"github.com/nidhogg/pastoralscape/internal/config"
	"github.com/nidhogg/pastoralscape/internal/environment"
)

// LoadField builds the environment a parameter set asks for: the CSV
// archive when one is configured, otherwise a synthetic field spanning the
// horizon. An archive takes its extent from environment.grid, or from the
// rows themselves when no grid is set.
func LoadField(p *config.Params) (*environment.Field, error) {
	if p.Environment.CSV != "" {
		f, err := os.Open(p.Environment.CSV)
		if err != nil {
			return nil, fmt.Errorf("open environment %s: %w", p.Environment.CSV, err)
		}
		defer f.Close()
		field, err := environment.LoadCSV(f, environment.LoadOptions{
			Width:  p.Environment.Grid.Width,
			Height: p.Environment.Grid.Height,
		})
		if err != nil {
			return nil, fmt.Errorf("load environment %s: %w", p.Environment.CSV, err)
		}
		return field, nil
	}

	cfg := p.Environment.Synthetic
	cfg.Start = p.Start()
	cfg.Days = p.HorizonDays()
	field, err := environment.Synthetic(cfg)
	if err != nil {
		return nil, fmt.Errorf("synthetic environment: %w", err)
	}
	return field, nil
}
