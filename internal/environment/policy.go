package environment

import (
	"errors"
	"fmt"
	"time"
)

// GapMode selects how a Sampler answers a query that hits a data gap.
type GapMode string

const (
	// GapPropagate returns the DataGapError to the caller.
	GapPropagate GapMode = "propagate"
	// GapCarryForward reuses the last value observed by the same sampler,
	// or Default when nothing has been observed yet.
	GapCarryForward GapMode = "carry_forward"
	// GapDefault substitutes Default.
	GapDefault GapMode = "default"
)

// GapPolicy is the configured fallback rule for data gaps.
type GapPolicy struct {
	Mode    GapMode `json:"mode" yaml:"mode"`
	Default float64 `json:"default" yaml:"default"`
}

// Validate checks that the mode is known.
func (p GapPolicy) Validate() error {
	switch p.Mode {
	case GapPropagate, GapCarryForward, GapDefault:
		return nil
	default:
		return fmt.Errorf("unknown gap policy %q", p.Mode)
	}
}

// Sample is the result of a policy-aware query.
type Sample struct {
	Value    float64
	Fallback bool
	Gap      *DataGapError
}

// Sampler applies a GapPolicy on top of a Field. Each herd owns one
// sampler so carry-forward state never crosses herds.
type Sampler struct {
	field  *Field
	policy GapPolicy
	last   map[string]float64
}

// NewSampler creates a sampler bound to one field and policy.
func NewSampler(field *Field, policy GapPolicy) *Sampler {
	return &Sampler{
		field:  field,
		policy: policy,
		last:   make(map[string]float64),
	}
}

// At samples the owner's own cell and remembers successful reads for
// carry-forward.
func (s *Sampler) At(loc Location, date time.Time, variable string) (Sample, error) {
	v, err := s.field.ValueAt(loc, date, variable)
	if err == nil {
		s.last[variable] = v
		return Sample{Value: v}, nil
	}
	return s.fallback(variable, err)
}

// Probe samples a candidate cell without updating carry-forward state.
func (s *Sampler) Probe(loc Location, date time.Time, variable string) (Sample, error) {
	v, err := s.field.ValueAt(loc, date, variable)
	if err == nil {
		return Sample{Value: v}, nil
	}
	return s.fallback(variable, err)
}

// Last returns the remembered value for variable, if any.
func (s *Sampler) Last(variable string) (float64, bool) {
	v, ok := s.last[variable]
	return v, ok
}

func (s *Sampler) fallback(variable string, err error) (Sample, error) {
	var gap *DataGapError
	if !errors.As(err, &gap) {
		return Sample{}, err
	}
	switch s.policy.Mode {
	case GapCarryForward:
		if v, ok := s.last[variable]; ok {
			return Sample{Value: v, Fallback: true, Gap: gap}, nil
		}
		return Sample{Value: s.policy.Default, Fallback: true, Gap: gap}, nil
	case GapDefault:
		return Sample{Value: s.policy.Default, Fallback: true, Gap: gap}, nil
	default:
		return Sample{}, gap
	}
}
