package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultParamsValid(t *testing.T) {
	p := DefaultParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("default params rejected: %v", err)
	}
	if p.HorizonDays() != 3652 {
		t.Errorf("got %d horizon days, want 3652", p.HorizonDays())
	}
}

func TestParseParamsOverlay(t *testing.T) {
	doc := `
seed: 7
horizon: {start: "2001-01-01", end: "2003-01-01"}
agents:
  - id: 1
    rationality: .inf
    vaccines: [lifelong]
    position: {x: 2, y: 3}
`
	p, err := ParseParams(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Seed != 7 {
		t.Errorf("got seed %d, want 7", p.Seed)
	}
	if len(p.Agents) != 1 || !math.IsInf(*p.Agents[0].Rationality, 1) {
		t.Fatalf("got agents %+v, want one with infinite rationality", p.Agents)
	}
	if p.Memory.Capacity != 5 {
		t.Errorf("unset sections must keep defaults, got capacity %d", p.Memory.Capacity)
	}
}

func TestParseParamsRejectsUnknownKeys(t *testing.T) {
	_, err := ParseParams(strings.NewReader("seeed: 3\n"))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want *ConfigurationError", err)
	}
}

func TestValidateProblems(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
		want   string
	}{
		{"zero capacity", func(p *Params) { p.Memory.Capacity = 0 }, "memory.capacity"},
		{"interval beyond horizon", func(p *Params) { p.Epoch.IntervalDays = 5000 }, "exceeds"},
		{"bad date", func(p *Params) { p.Horizon.Start = "01/01/2001" }, "horizon.start"},
		{"unknown kind", func(p *Params) { p.Vaccines[0].Kind = "monthly" }, "unknown vaccine kind"},
		{"booster without window", func(p *Params) { p.Vaccines[1].ProtectionDays = 0 }, "protection_days"},
		{"undefined disease", func(p *Params) { p.Vaccines[0].Disease = "rinderpest" }, "not defined"},
		{"bad aggregation", func(p *Params) { p.Decision.Aggregation = "median" }, "aggregation"},
		{"nan prior", func(p *Params) { p.Decision.Prior.Decline = math.NaN() }, "prior.decline"},
		{"water outside grid", func(p *Params) {
			p.Environment.Synthetic.Width, p.Environment.Synthetic.Height = 5, 5
		}, "water_cells[0] (5,5) is outside the 5x5 grid"},
		{"empty synthetic grid", func(p *Params) { p.Environment.Synthetic.Width = 0 }, "at least 1x1"},
		{"negative archive grid", func(p *Params) { p.Environment.Grid.Height = -1 }, "environment.grid"},
		{"negative jitter", func(p *Params) { p.Vaccines[1].ProtectionJitterDays = -1 }, "protection_jitter_days"},
		{"death rate", func(p *Params) { p.Herd.DeathRate = -0.1 }, "herd.death_rate"},
		{"public field disease", func(p *Params) {
			p.Decision.PublicField = map[string]float64{"rinderpest": 1}
		}, `public_field: disease "rinderpest"`},
		{"public field value", func(p *Params) {
			p.Decision.PublicField = map[string]float64{"cbpp": math.Inf(1)}
		}, "public_field.cbpp"},
		{"bad gap policy", func(p *Params) { p.Environment.GapPolicy.Mode = "zero" }, "gap_policy"},
		{"stochasticity", func(p *Params) { p.Herd.Stochasticity = 2 }, "stochasticity"},
		{"duplicate agents", func(p *Params) { p.Agents = []AgentParams{{ID: 1}, {ID: 1}} }, "listed twice"},
		{"negative rationality", func(p *Params) {
			l := -1.0
			p.Agents = []AgentParams{{ID: 1, Rationality: &l}}
		}, "rationality"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultParams()
			tc.mutate(&p)
			err := p.Validate()
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("got %v, want *ConfigurationError", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestArchiveSkipsSyntheticChecks(t *testing.T) {
	p := DefaultParams()
	p.Environment.CSV = "field.csv"
	p.Environment.Synthetic.Width, p.Environment.Synthetic.Height = 2, 2
	if err := p.Validate(); err != nil {
		t.Fatalf("synthetic settings should be ignored with an archive: %v", err)
	}
}

func TestHashStable(t *testing.T) {
	a, b := DefaultParams(), DefaultParams()
	if a.Hash() != b.Hash() {
		t.Fatal("equal params must hash equally")
	}
	b.Seed++
	if a.Hash() == b.Hash() {
		t.Fatal("different params must hash differently")
	}
}

func TestDecisionVaccines(t *testing.T) {
	p := DefaultParams()
	p.Vaccines[1].AvailableFrom = "2002-01-01"
	p.Vaccines[1].ProtectionJitterDays = 20
	vs := p.DecisionVaccines()
	if !vs[0].AvailableFrom.Equal(p.Start()) {
		t.Errorf("empty available_from must default to the horizon start, got %s", vs[0].AvailableFrom)
	}
	if vs[1].AvailableFrom.Year() != 2002 {
		t.Errorf("got %s, want 2002", vs[1].AvailableFrom)
	}
	if vs[1].ProtectionJitterDays != 20 {
		t.Errorf("got jitter %v, want 20", vs[1].ProtectionJitterDays)
	}
}

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("PASTORAL_TEST_DSN", "postgres://x")
	path := filepath.Join(t.TempDir(), "pastoral.json")
	doc := `{"server":{"port":9000},"database":{"postgres":{"dsn":"${PASTORAL_TEST_DSN}"},"redis":{"url":"${PASTORAL_TEST_REDIS:redis://localhost:6379}"}}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Postgres.DSN != "postgres://x" {
		t.Errorf("got dsn %q", cfg.Database.Postgres.DSN)
	}
	if cfg.Database.Redis.URL != "redis://localhost:6379" {
		t.Errorf("got redis url %q", cfg.Database.Redis.URL)
	}
	if cfg.Server.Port != 9000 || cfg.Server.MaxConcurrent != 2 {
		t.Errorf("got server %+v", cfg.Server)
	}
}
