package herd

import (
	"fmt"
	"math"
)

// PressureModel selects how a disease's spontaneous infection pressure
// varies over the year when the field carries no hazard surface.
type PressureModel string

const (
	PressureHarmonic PressureModel = "harmonic"
	PressureUniform  PressureModel = "uniform"
)

// Disease is a herd-level SIS infection with seasonal spontaneous pressure.
type Disease struct {
	Name         string        `json:"name" yaml:"name"`
	Model        PressureModel `json:"model" yaml:"model"`
	PSpontaneous float64       `json:"p_spontaneous" yaml:"p_spontaneous"`
	Harmonic     Harmonic      `json:"harmonic" yaml:"harmonic"`
	PTransmit    float64       `json:"p_transmit" yaml:"p_transmit"`
	PRecover     float64       `json:"p_recover" yaml:"p_recover"`
	PDeath       float64       `json:"p_death" yaml:"p_death"`
}

// Harmonic is exp(Constant + Cos*cos(2*pi*d/PeriodDays) + Sin*sin(2*pi*d/PeriodDays)).
type Harmonic struct {
	Constant   float64 `json:"constant" yaml:"constant"`
	Cos        float64 `json:"cos" yaml:"cos"`
	Sin        float64 `json:"sin" yaml:"sin"`
	PeriodDays float64 `json:"period_days" yaml:"period_days"`
}

// Validate checks probabilities and the pressure model.
func (d Disease) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("disease name is required")
	}
	switch d.Model {
	case PressureUniform:
		if err := probability("p_spontaneous", d.PSpontaneous); err != nil {
			return err
		}
	case PressureHarmonic:
		if !(d.Harmonic.PeriodDays > 0) {
			return fmt.Errorf("harmonic period_days must be > 0, got %v", d.Harmonic.PeriodDays)
		}
	default:
		return fmt.Errorf("unknown pressure model %q", d.Model)
	}
	if err := probability("p_transmit", d.PTransmit); err != nil {
		return err
	}
	if err := probability("p_recover", d.PRecover); err != nil {
		return err
	}
	return probability("p_death", d.PDeath)
}

// Pressure returns the daily spontaneous infection probability on run day d.
func (d Disease) Pressure(day int) float64 {
	switch d.Model {
	case PressureHarmonic:
		w := 2 * math.Pi * float64(day) / d.Harmonic.PeriodDays
		return clamp01(math.Exp(d.Harmonic.Constant + d.Harmonic.Cos*math.Cos(w) + d.Harmonic.Sin*math.Sin(w)))
	default:
		return clamp01(d.PSpontaneous)
	}
}

func probability(name string, p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%s must be in [0,1], got %v", name, p)
	}
	return nil
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
