package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nidhogg/pastoralscape/internal/decision"
	"github.com/nidhogg/pastoralscape/internal/environment"
	"github.com/nidhogg/pastoralscape/internal/herd"
	"github.com/nidhogg/pastoralscape/internal/memory"
	"github.com/nidhogg/pastoralscape/internal/rationality"
)

// Params fully describes one model run apart from the environment data.
type Params struct {
	Seed              uint64                 `yaml:"seed"`
	Horizon           Horizon                `yaml:"horizon"`
	Epoch             Epoch                  `yaml:"epoch"`
	Workers           int                    `yaml:"workers"`
	SnapshotEveryDays int                    `yaml:"snapshot_every_days"`
	Environment       EnvironmentParams      `yaml:"environment"`
	Vaccines          []VaccineParams        `yaml:"vaccines"`
	Diseases          []herd.Disease         `yaml:"diseases"`
	Rationality       rationality.Population `yaml:"rationality"`
	Memory            MemoryParams           `yaml:"memory"`
	Decision          DecisionParams         `yaml:"decision"`
	Herd              HerdParams             `yaml:"herd"`
	Population        PopulationParams       `yaml:"population"`
	Agents            []AgentParams          `yaml:"agents"`
}

// Horizon is the simulated date range [Start, End), as YYYY-MM-DD.
type Horizon struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type Epoch struct {
	IntervalDays int `yaml:"interval_days"`
	OffsetDays   int `yaml:"offset_days"`
}

type EnvironmentParams struct {
	GapPolicy environment.GapPolicy       `yaml:"gap_policy"`
	Synthetic environment.SyntheticConfig `yaml:"synthetic"`
	CSV       string                      `yaml:"csv"`
	// Grid pins the extent of a CSV archive. Zero infers it from the rows.
	Grid GridParams `yaml:"grid"`
}

type GridParams struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type VaccineParams struct {
	Name                 string  `yaml:"name"`
	Kind                 string  `yaml:"kind"`
	Disease              string  `yaml:"disease"`
	Efficacy             float64 `yaml:"efficacy"`
	Cost                 float64 `yaml:"cost"`
	AvailableFrom        string  `yaml:"available_from"`
	ProtectionDays       int     `yaml:"protection_days"`
	ProtectionJitterDays float64 `yaml:"protection_jitter_days,omitempty"`
}

type MemoryParams struct {
	Capacity int                `yaml:"capacity"`
	Decay    memory.DecayConfig `yaml:"decay"`
}

type Prior struct {
	Vaccinate float64 `yaml:"vaccinate"`
	Decline   float64 `yaml:"decline"`
}

type DecisionParams struct {
	Aggregation     string  `yaml:"aggregation"`
	Prior           Prior   `yaml:"prior"`
	SignalWeight    float64 `yaml:"signal_weight"`
	SocialWeight    float64 `yaml:"social_weight"`
	ConditionWeight float64 `yaml:"condition_weight"`
	LossWeight      float64 `yaml:"loss_weight"`
	// PublicField biases every household toward vaccinating against a disease.
	PublicField map[string]float64 `yaml:"public_field,omitempty"`
}

type HerdParams struct {
	herd.Config      `yaml:",inline"`
	InitialCondition float64 `yaml:"initial_condition"`
	InitialInfected  int     `yaml:"initial_infected"`
}

// PopulationParams generates households when no explicit agents are listed.
type PopulationParams struct {
	Agents        int `yaml:"agents"`
	HerdsPerAgent int `yaml:"herds_per_agent"`
	HerdSizeMin   int `yaml:"herd_size_min"`
	HerdSizeMax   int `yaml:"herd_size_max"`
}

// AgentParams pins one household. Nil fields fall back to population draws.
type AgentParams struct {
	ID          int                   `yaml:"id"`
	Rationality *float64              `yaml:"rationality"`
	Vaccines    []string              `yaml:"vaccines"`
	Position    *environment.Location `yaml:"position"`
	HerdSize    int                   `yaml:"herd_size"`
}

// DefaultParams returns a ten-year, ten-household setup on a synthetic field.
func DefaultParams() Params {
	return Params{
		Seed:              42,
		Horizon:           Horizon{Start: "2001-01-01", End: "2011-01-01"},
		Epoch:             Epoch{IntervalDays: 365},
		Workers:           1,
		SnapshotEveryDays: 30,
		Environment: EnvironmentParams{
			GapPolicy: environment.GapPolicy{Mode: environment.GapCarryForward},
			Synthetic: environment.SyntheticConfig{
				Width:           10,
				Height:          10,
				ForageMean:      1,
				ForageAmplitude: 0.5,
				PeriodDays:      365.25,
				Gradient:        0.3,
				WaterCells:      []environment.Location{{X: 5, Y: 5}},
			},
		},
		Vaccines: []VaccineParams{
			{Name: "lifelong", Kind: string(decision.OnceForLife), Disease: "cbpp", Efficacy: 0.9, Cost: 1},
			{Name: "booster", Kind: string(decision.AnnualBooster), Disease: "cbpp", Efficacy: 0.95, Cost: 0.3, ProtectionDays: 365},
		},
		Diseases: []herd.Disease{{
			Name:      "cbpp",
			Model:     herd.PressureHarmonic,
			Harmonic:  herd.Harmonic{Constant: math.Log(0.002), Cos: 0.5, PeriodDays: 365.25},
			PTransmit: 0.05,
			PRecover:  0.02,
			PDeath:    0.01,
		}},
		Rationality: rationality.Population{Kind: rationality.DistFixed, Value: 2},
		Memory:      MemoryParams{Capacity: 5, Decay: memory.DefaultDecayConfig()},
		Decision: DecisionParams{
			Aggregation:     string(rationality.RuleMean),
			SignalWeight:    1,
			ConditionWeight: 1,
			LossWeight:      2,
		},
		Herd: HerdParams{
			Config:           herd.DefaultConfig(),
			InitialCondition: 0.7,
		},
		Population: PopulationParams{Agents: 10, HerdsPerAgent: 1, HerdSizeMin: 20, HerdSizeMax: 50},
	}
}

// LoadParams reads and validates a YAML (or JSON) parameter file.
func LoadParams(path string) (*Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open params %s: %w", path, err)
	}
	defer f.Close()
	p, err := ParseParams(f)
	if err != nil {
		return nil, fmt.Errorf("params %s: %w", path, err)
	}
	return p, nil
}

// ParseParams overlays the document in r on DefaultParams and validates the
// result. Unknown keys are rejected.
func ParseParams(r io.Reader) (*Params, error) {
	p := DefaultParams()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigurationError{Problems: []string{"parse: " + err.Error()}}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Start returns the first simulated day. Call Validate first.
func (p *Params) Start() time.Time {
	t, _ := time.Parse(time.DateOnly, p.Horizon.Start)
	return t
}

// End returns the first day after the horizon. Call Validate first.
func (p *Params) End() time.Time {
	t, _ := time.Parse(time.DateOnly, p.Horizon.End)
	return t
}

// HorizonDays returns the number of simulated days.
func (p *Params) HorizonDays() int {
	return environment.DaysBetween(p.Start(), p.End())
}

// Hash is a stable digest of the parameter set, used for run identity.
func (p *Params) Hash() string {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	_ = enc.Encode(p)
	_ = enc.Close()
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// DecisionVaccines converts the vaccine table. Call Validate first.
func (p *Params) DecisionVaccines() []decision.Vaccine {
	out := make([]decision.Vaccine, 0, len(p.Vaccines))
	for _, v := range p.Vaccines {
		kind, _ := decision.ParseKind(v.Kind)
		from := p.Start()
		if v.AvailableFrom != "" {
			from, _ = time.Parse(time.DateOnly, v.AvailableFrom)
		}
		out = append(out, decision.Vaccine{
			Name:                 v.Name,
			Kind:                 kind,
			Disease:              v.Disease,
			Efficacy:             v.Efficacy,
			Cost:                 v.Cost,
			AvailableFrom:        from,
			ProtectionDays:       v.ProtectionDays,
			ProtectionJitterDays: v.ProtectionJitterDays,
		})
	}
	return out
}

// ConfigurationError lists every problem found in a parameter set. It is
// fatal; values are never clamped into range.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the whole parameter set and returns a *ConfigurationError.
func (p *Params) Validate() error {
	v := &validator{}

	start, errS := time.Parse(time.DateOnly, p.Horizon.Start)
	end, errE := time.Parse(time.DateOnly, p.Horizon.End)
	v.check(errS == nil, "horizon.start %q is not YYYY-MM-DD", p.Horizon.Start)
	v.check(errE == nil, "horizon.end %q is not YYYY-MM-DD", p.Horizon.End)
	days := 0
	if errS == nil && errE == nil {
		days = environment.DaysBetween(start, end)
		v.check(days > 0, "horizon.end must be after horizon.start")
	}

	v.check(p.Epoch.IntervalDays > 0, "epoch.interval_days must be > 0, got %d", p.Epoch.IntervalDays)
	v.check(p.Epoch.OffsetDays >= 0, "epoch.offset_days must be >= 0, got %d", p.Epoch.OffsetDays)
	if days > 0 {
		v.check(p.Epoch.IntervalDays <= days, "epoch.interval_days %d exceeds the %d-day horizon", p.Epoch.IntervalDays, days)
		v.check(p.Epoch.OffsetDays < days, "epoch.offset_days %d is outside the %d-day horizon", p.Epoch.OffsetDays, days)
	}
	v.check(p.Workers >= 0, "workers must be >= 0, got %d", p.Workers)
	v.check(p.SnapshotEveryDays >= 0, "snapshot_every_days must be >= 0, got %d", p.SnapshotEveryDays)
	v.wrap("environment.gap_policy", p.Environment.GapPolicy.Validate())
	env := p.Environment
	v.check(env.Grid.Width >= 0 && env.Grid.Height >= 0, "environment.grid must not be negative, got %dx%d", env.Grid.Width, env.Grid.Height)
	if env.CSV == "" {
		syn := env.Synthetic
		v.check(syn.Width >= 1 && syn.Height >= 1, "environment.synthetic grid must be at least 1x1, got %dx%d", syn.Width, syn.Height)
		for i, c := range syn.WaterCells {
			v.check(c.X >= 0 && c.X < syn.Width && c.Y >= 0 && c.Y < syn.Height,
				"environment.synthetic.water_cells[%d] (%d,%d) is outside the %dx%d grid", i, c.X, c.Y, syn.Width, syn.Height)
		}
	}

	diseases := make(map[string]bool, len(p.Diseases))
	for i, d := range p.Diseases {
		v.wrap(fmt.Sprintf("diseases[%d]", i), d.Validate())
		v.check(!diseases[d.Name], "disease %q defined twice", d.Name)
		diseases[d.Name] = true
	}

	v.check(len(p.Vaccines) > 0, "at least one vaccine is required")
	vaccines := make(map[string]bool, len(p.Vaccines))
	for i, vac := range p.Vaccines {
		field := fmt.Sprintf("vaccines[%d]", i)
		v.check(vac.Name != "", "%s.name is required", field)
		v.check(!vaccines[vac.Name], "vaccine %q defined twice", vac.Name)
		vaccines[vac.Name] = true
		kind, err := decision.ParseKind(vac.Kind)
		v.wrap(field, err)
		if kind == decision.AnnualBooster {
			v.check(vac.ProtectionDays > 0, "%s.protection_days must be > 0 for a booster", field)
		}
		v.check(vac.Disease == "" || diseases[vac.Disease], "%s.disease %q is not defined", field, vac.Disease)
		v.check(vac.Efficacy >= 0 && vac.Efficacy <= 1, "%s.efficacy must be in [0,1], got %v", field, vac.Efficacy)
		v.check(finite(vac.Cost), "%s.cost must be finite", field)
		v.check(vac.ProtectionJitterDays >= 0 && finite(vac.ProtectionJitterDays),
			"%s.protection_jitter_days must be finite and >= 0, got %v", field, vac.ProtectionJitterDays)
		if vac.AvailableFrom != "" {
			_, err := time.Parse(time.DateOnly, vac.AvailableFrom)
			v.check(err == nil, "%s.available_from %q is not YYYY-MM-DD", field, vac.AvailableFrom)
		}
	}

	v.wrap("rationality", p.Rationality.Validate())
	v.check(p.Memory.Capacity >= 1, "memory.capacity must be >= 1, got %d", p.Memory.Capacity)
	v.wrap("memory.decay", p.Memory.Decay.Validate())

	_, err := rationality.ParseRule(p.Decision.Aggregation)
	v.wrap("decision.aggregation", err)
	for _, w := range []struct {
		name  string
		value float64
	}{
		{"decision.prior.vaccinate", p.Decision.Prior.Vaccinate},
		{"decision.prior.decline", p.Decision.Prior.Decline},
		{"decision.signal_weight", p.Decision.SignalWeight},
		{"decision.social_weight", p.Decision.SocialWeight},
		{"decision.condition_weight", p.Decision.ConditionWeight},
		{"decision.loss_weight", p.Decision.LossWeight},
	} {
		v.check(finite(w.value), "%s must be finite, got %v", w.name, w.value)
	}
	for _, name := range slices.Sorted(maps.Keys(p.Decision.PublicField)) {
		v.check(diseases[name], "decision.public_field: disease %q is not defined", name)
		v.check(finite(p.Decision.PublicField[name]), "decision.public_field.%s must be finite", name)
	}

	h := p.Herd
	v.check(h.StepCells >= 0, "herd.step_cells must be >= 0, got %d", h.StepCells)
	v.check(h.Stochasticity >= 0 && h.Stochasticity <= 1, "herd.stochasticity must be in [0,1], got %v", h.Stochasticity)
	v.check(h.ForageNeed >= 0, "herd.forage_need must be >= 0, got %v", h.ForageNeed)
	v.check(h.HealthFed >= 0 && h.HealthStarve >= 0, "herd.health_fed and herd.health_starve must be >= 0")
	v.check(h.BirthRate >= 0 && finite(h.BirthRate), "herd.birth_rate must be finite and >= 0, got %v", h.BirthRate)
	v.check(h.DeathRate >= 0 && h.DeathRate <= 365, "herd.death_rate must be in [0,365], got %v", h.DeathRate)
	v.check(h.InitialCondition >= 0 && h.InitialCondition <= 1, "herd.initial_condition must be in [0,1], got %v", h.InitialCondition)
	v.check(h.InitialInfected >= 0, "herd.initial_infected must be >= 0, got %d", h.InitialInfected)
	v.check(finite(h.MoveThreshold) && finite(h.WaterBonus) && finite(h.DistanceCost), "herd movement weights must be finite")

	pop := p.Population
	v.check(pop.HerdsPerAgent >= 1, "population.herds_per_agent must be >= 1, got %d", pop.HerdsPerAgent)
	v.check(pop.HerdSizeMin >= 1 && pop.HerdSizeMax >= pop.HerdSizeMin,
		"population herd sizes need 1 <= min <= max, got [%d, %d]", pop.HerdSizeMin, pop.HerdSizeMax)
	if len(p.Agents) == 0 {
		v.check(pop.Agents >= 1, "population.agents must be >= 1 when no agents are listed, got %d", pop.Agents)
	}
	ids := make(map[int]bool, len(p.Agents))
	for i, a := range p.Agents {
		field := fmt.Sprintf("agents[%d]", i)
		v.check(a.ID >= 1, "%s.id must be >= 1, got %d", field, a.ID)
		v.check(!ids[a.ID], "agent id %d listed twice", a.ID)
		ids[a.ID] = true
		if a.Rationality != nil {
			v.check(!math.IsNaN(*a.Rationality) && *a.Rationality >= 0, "%s.rationality must be >= 0, got %v", field, *a.Rationality)
		}
		for _, name := range a.Vaccines {
			v.check(vaccines[name], "%s.vaccines: %q is not defined", field, name)
		}
		v.check(a.HerdSize >= 0, "%s.herd_size must be >= 0, got %d", field, a.HerdSize)
	}

	return v.err()
}

type validator struct {
	problems []string
}

func (v *validator) check(ok bool, format string, args ...any) {
	if !ok {
		v.problems = append(v.problems, fmt.Sprintf(format, args...))
	}
}

func (v *validator) wrap(field string, err error) {
	if err != nil {
		v.problems = append(v.problems, field+": "+err.Error())
	}
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return &ConfigurationError{Problems: v.problems}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
