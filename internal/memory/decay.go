package memory

import (
	"fmt"
	"math"
	"time"
)

// DecayMode selects the shape of the salience decay curve.
type DecayMode string

const (
	DecayExponential DecayMode = "exponential"
	DecayLinear      DecayMode = "linear"
	DecayNone        DecayMode = "none"
)

// DecayConfig controls how quickly remembered outcomes lose salience.
type DecayConfig struct {
	Mode         DecayMode `json:"mode" yaml:"mode"`
	HalfLifeDays float64   `json:"half_life_days" yaml:"half_life_days"` // exponential: age at which decay halves
	RatePerDay   float64   `json:"rate_per_day" yaml:"rate_per_day"`     // linear: decay lost per day of age
	MinSalience  float64   `json:"min_salience" yaml:"min_salience"`     // records below this are forgotten
}

// DefaultDecayConfig returns a one-year half-life with a small forgetting floor.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		Mode:         DecayExponential,
		HalfLifeDays: 365,
		RatePerDay:   1.0 / 1825,
		MinSalience:  0.05,
	}
}

// Validate rejects unknown modes and parameters that would make the curve
// increase with age.
func (c DecayConfig) Validate() error {
	switch c.Mode {
	case DecayExponential:
		if !(c.HalfLifeDays > 0) {
			return fmt.Errorf("half_life_days must be > 0, got %v", c.HalfLifeDays)
		}
	case DecayLinear:
		if !(c.RatePerDay >= 0) {
			return fmt.Errorf("rate_per_day must be >= 0, got %v", c.RatePerDay)
		}
	case DecayNone:
	default:
		return fmt.Errorf("unknown decay mode %q", c.Mode)
	}
	if !(c.MinSalience >= 0) || math.IsInf(c.MinSalience, 0) {
		return fmt.Errorf("min_salience must be finite and >= 0, got %v", c.MinSalience)
	}
	return nil
}

// Decay returns the multiplier in [0, 1] for a record ageDays old.
// Negative ages count as zero.
func (c DecayConfig) Decay(ageDays float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	switch c.Mode {
	case DecayExponential:
		// activation * 2^(-age / half_life)
		return math.Exp2(-ageDays / c.HalfLifeDays)
	case DecayLinear:
		return math.Max(0, 1-c.RatePerDay*ageDays)
	default:
		return 1
	}
}

// Weight is the recency weight of r at asOf: the bare decay multiplier for
// its age, independent of the outcome's magnitude.
func (c DecayConfig) Weight(r Record, asOf time.Time) float64 {
	return c.Decay(asOf.Sub(r.Date).Hours() / 24)
}

// Salience weights a record by the magnitude of its outcome and its age at asOf.
func (c DecayConfig) Salience(r Record, asOf time.Time) float64 {
	age := asOf.Sub(r.Date).Hours() / 24
	return (1 + math.Abs(r.Outcome)) * c.Decay(age)
}
