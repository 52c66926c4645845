package herd

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nidhogg/pastoralscape/internal/environment"
)

// Config holds movement, feeding and demography parameters.
type Config struct {
	StepCells     int     `json:"step_cells" yaml:"step_cells"`
	Stochasticity float64 `json:"stochasticity" yaml:"stochasticity"`
	MoveThreshold float64 `json:"move_threshold" yaml:"move_threshold"`
	WaterBonus    float64 `json:"water_bonus" yaml:"water_bonus"`
	DistanceCost  float64 `json:"distance_cost" yaml:"distance_cost"`
	ForageNeed    float64 `json:"forage_need" yaml:"forage_need"`
	HealthFed     float64 `json:"health_fed" yaml:"health_fed"`
	HealthStarve  float64 `json:"health_starve" yaml:"health_starve"`
	BirthRate     float64 `json:"birth_rate" yaml:"birth_rate"`
	DeathRate     float64 `json:"death_rate" yaml:"death_rate"` // yearly background mortality per animal
}

// DefaultConfig returns a herd that looks one cell around when forage runs short.
func DefaultConfig() Config {
	return Config{
		StepCells:     1,
		Stochasticity: 0.1,
		MoveThreshold: 0.5,
		WaterBonus:    0.2,
		DistanceCost:  0.05,
		ForageNeed:    1,
		HealthFed:     0.02,
		HealthStarve:  0.05,
	}
}

// Mover advances herds by one day against a read-only field.
type Mover struct {
	cfg      Config
	diseases []Disease
	field    *environment.Field
	start    time.Time
	logger   *zap.Logger
}

// NewMover creates a mover. start is the first day of the run and anchors
// seasonal disease pressure.
func NewMover(cfg Config, diseases []Disease, field *environment.Field, start time.Time, logger *zap.Logger) *Mover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mover{
		cfg:      cfg,
		diseases: diseases,
		field:    field,
		start:    environment.Date(start),
		logger:   logger,
	}
}

// Diseases returns the diseases in index order.
func (m *Mover) Diseases() []Disease { return m.diseases }

// Step moves, feeds and exposes h for date. protection[i] is the fraction of
// disease i's pressure removed by the owner's vaccination status. Only a
// data gap under the propagate policy makes Step fail.
func (m *Mover) Step(h *Herd, date time.Time, protection []float64) error {
	forage, err := m.sample(h, date, environment.VarForage)
	if err != nil {
		return err
	}

	if forage < m.cfg.MoveThreshold && m.cfg.StepCells > 0 {
		if next, moved := m.choose(h, date); moved {
			dist := chebyshev(h.Pos, next)
			h.Pos = next
			h.Epoch.Distance += dist
			h.Total.Distance += dist
			if forage, err = m.sample(h, date, environment.VarForage); err != nil {
				return err
			}
		}
	}

	m.feed(h, forage)
	if err := m.infect(h, date, protection); err != nil {
		return err
	}
	m.cull(h)
	m.breed(h)

	h.Epoch.ConditionSum += h.Condition
	h.Epoch.Days++
	return nil
}

func (m *Mover) sample(h *Herd, date time.Time, variable string) (float64, error) {
	s, err := h.sampler.At(h.Pos, date, variable)
	if err != nil {
		return 0, fmt.Errorf("herd %d: %w", h.ID, err)
	}
	if s.Fallback {
		h.Epoch.GapsFilled++
		m.logger.Debug("data gap filled",
			zap.Int("herd", h.ID),
			zap.String("variable", variable),
			zap.Time("date", date),
			zap.Float64("value", s.Value))
	}
	return s.Value, nil
}

// choose scores every cell within StepCells of the herd. The current cell
// wins ties, then row-major order. Candidates whose forage cannot be read
// are skipped.
func (m *Mover) choose(h *Herd, date time.Time) (environment.Location, bool) {
	r := m.cfg.StepCells
	candidates := []environment.Location{h.Pos}
	for y := h.Pos.Y - r; y <= h.Pos.Y+r; y++ {
		for x := h.Pos.X - r; x <= h.Pos.X+r; x++ {
			loc := environment.Location{X: x, Y: y}
			if loc == h.Pos || !m.field.InBounds(loc) {
				continue
			}
			candidates = append(candidates, loc)
		}
	}

	type scored struct {
		loc   environment.Location
		score float64
	}
	usable := make([]scored, 0, len(candidates))
	for _, loc := range candidates {
		f, err := h.sampler.Probe(loc, date, environment.VarForage)
		if err != nil {
			continue
		}
		score := f.Value - m.cfg.DistanceCost*float64(chebyshev(h.Pos, loc))
		if m.field.Has(environment.VarWater) {
			if w, err := h.sampler.Probe(loc, date, environment.VarWater); err == nil {
				score += m.cfg.WaterBonus * w.Value
			}
		}
		usable = append(usable, scored{loc: loc, score: score})
	}
	if len(usable) == 0 {
		return h.Pos, false
	}

	if m.cfg.Stochasticity > 0 && h.rng.Float64() < m.cfg.Stochasticity {
		pick := usable[h.rng.IntN(len(usable))].loc
		return pick, pick != h.Pos
	}
	best := usable[0]
	for _, c := range usable[1:] {
		if c.score > best.score {
			best = c
		}
	}
	return best.loc, best.loc != h.Pos
}

func (m *Mover) feed(h *Herd, forage float64) {
	frac := 1.0
	if m.cfg.ForageNeed > 0 {
		frac = clamp01(forage / m.cfg.ForageNeed)
	}
	h.Condition = clamp01(h.Condition + m.cfg.HealthFed*frac - m.cfg.HealthStarve*(1-frac))
	if h.Condition == 0 && h.Size > 0 {
		h.Size--
		h.Epoch.StarvationDeaths++
		h.Total.StarvationDeaths++
		if h.Size == 0 {
			clear(h.Infected)
		}
		for i := range h.Infected {
			h.Infected[i] = min(h.Infected[i], h.Size)
		}
	}
}

func (m *Mover) infect(h *Herd, date time.Time, protection []float64) error {
	day := environment.DaysBetween(m.start, date)
	hazard := math.NaN()
	if m.field.Has(environment.VarHazard) {
		v, err := m.sample(h, date, environment.VarHazard)
		if err != nil {
			return err
		}
		hazard = clamp01(v)
	}

	for i, d := range m.diseases {
		p := hazard
		if math.IsNaN(p) {
			p = d.Pressure(day)
		}
		h.Epoch.Exposure[i] += p
		if h.Size == 0 {
			continue
		}
		if i < len(protection) {
			p *= 1 - clamp01(protection[i])
		}

		infected := h.Infected[i]
		susceptible := h.Size - infected
		dead := m.binomial(h, infected, d.PDeath)
		recovered := m.binomial(h, infected-dead, d.PRecover)
		pInfect := clamp01(p + d.PTransmit*float64(infected)/float64(h.Size))
		fresh := m.binomial(h, susceptible, pInfect)

		h.Size -= dead
		h.Infected[i] = infected - dead - recovered + fresh
		h.Epoch.DiseaseDeaths += dead
		h.Total.DiseaseDeaths += dead
		for j := range h.Infected {
			h.Infected[j] = min(h.Infected[j], h.Size)
		}
	}
	return nil
}

// cull removes animals dying of old age. Lifespans are not tracked, so the
// hazard is the same for every animal.
func (m *Mover) cull(h *Herd) {
	if m.cfg.DeathRate <= 0 || h.Size == 0 {
		return
	}
	dead := m.binomial(h, h.Size, m.cfg.DeathRate/365)
	if dead == 0 {
		return
	}
	h.Size -= dead
	h.Epoch.OldAgeDeaths += dead
	h.Total.OldAgeDeaths += dead
	for i := range h.Infected {
		h.Infected[i] = min(h.Infected[i], h.Size)
	}
}

func (m *Mover) breed(h *Herd) {
	if m.cfg.BirthRate <= 0 || h.Size == 0 {
		return
	}
	born := m.binomial(h, h.Size, m.cfg.BirthRate/365*h.Condition)
	h.Size += born
	h.Epoch.Births += born
	h.Total.Births += born
}

func (m *Mover) binomial(h *Herd, n int, p float64) int {
	switch {
	case n <= 0 || p <= 0:
		return 0
	case p >= 1:
		return n
	}
	b := distuv.Binomial{N: float64(n), P: p, Src: h.src}
	return int(math.Round(b.Rand()))
}

func chebyshev(a, b environment.Location) int {
	dx, dy := a.X-b.X, a.Y-b.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return max(dx, dy)
}
