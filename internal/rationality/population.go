package rationality

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// DistributionKind names how household rationality varies across a population.
type DistributionKind string

const (
	DistFixed   DistributionKind = "fixed"
	DistUniform DistributionKind = "uniform"
	DistNormal  DistributionKind = "normal"
)

// Population describes the spread of Lambda across households.
// Normal draws are clipped at zero.
type Population struct {
	Kind  DistributionKind `json:"kind" yaml:"kind"`
	Value float64          `json:"value" yaml:"value"`
	Min   float64          `json:"min" yaml:"min"`
	Max   float64          `json:"max" yaml:"max"`
	Mean  float64          `json:"mean" yaml:"mean"`
	Std   float64          `json:"std" yaml:"std"`
}

// Validate checks the parameters of the selected kind.
func (p Population) Validate() error {
	switch p.Kind {
	case DistFixed:
		if math.IsNaN(p.Value) || p.Value < 0 {
			return fmt.Errorf("fixed lambda must be >= 0, got %v", p.Value)
		}
	case DistUniform:
		if math.IsNaN(p.Min) || math.IsNaN(p.Max) || p.Min < 0 || p.Max < p.Min || math.IsInf(p.Max, 0) {
			return fmt.Errorf("uniform lambda needs 0 <= min <= max < inf, got [%v, %v]", p.Min, p.Max)
		}
	case DistNormal:
		if math.IsNaN(p.Mean) || math.IsInf(p.Mean, 0) || math.IsNaN(p.Std) || p.Std < 0 || math.IsInf(p.Std, 0) {
			return fmt.Errorf("normal lambda needs finite mean and std >= 0, got mean=%v std=%v", p.Mean, p.Std)
		}
	default:
		return fmt.Errorf("unknown rationality distribution %q", p.Kind)
	}
	return nil
}

// Draw returns one household's Lambda.
func (p Population) Draw(rng *rand.Rand) float64 {
	switch p.Kind {
	case DistUniform:
		return p.Min + rng.Float64()*(p.Max-p.Min)
	case DistNormal:
		return math.Max(0, p.Mean+p.Std*rng.NormFloat64())
	default:
		return p.Value
	}
}
