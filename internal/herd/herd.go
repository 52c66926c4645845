package herd

import (
	"math/rand/v2"

	"github.com/nidhogg/pastoralscape/internal/environment"
)

// Accumulators collect what a herd went through since the last epoch.
type Accumulators struct {
	StartSize        int
	Exposure         []float64 // summed daily pressure, per disease
	DiseaseDeaths    int
	StarvationDeaths int
	OldAgeDeaths     int
	Births           int
	ConditionSum     float64
	Days             int
	Distance         int
	GapsFilled       int
}

// MeanCondition is the average daily condition over the epoch so far.
func (a Accumulators) MeanCondition() float64 {
	if a.Days == 0 {
		return 0
	}
	return a.ConditionSum / float64(a.Days)
}

// LossFraction is disease and starvation deaths over the herd size at the
// start of the epoch. Background deaths are not a household's loss.
func (a Accumulators) LossFraction() float64 {
	if a.StartSize == 0 {
		return 0
	}
	return float64(a.DiseaseDeaths+a.StarvationDeaths) / float64(a.StartSize)
}

// Totals are whole-run counters kept next to the epoch accumulators.
type Totals struct {
	DiseaseDeaths    int
	StarvationDeaths int
	OldAgeDeaths     int
	Births           int
	Distance         int
}

// Herd is one household's cattle. Only the mover mutates it, and only
// through its own sampler and random stream.
type Herd struct {
	ID        int
	Owner     int
	Pos       environment.Location
	Size      int
	Infected  []int // per disease
	Condition float64
	Epoch     Accumulators
	Total     Totals

	sampler *environment.Sampler
	rng     *rand.Rand
	src     *rand.PCG
}

// New creates a herd with its own sampler and random stream.
func New(id, owner int, pos environment.Location, size int, condition float64, diseases int,
	sampler *environment.Sampler, src *rand.PCG) *Herd {
	h := &Herd{
		ID:        id,
		Owner:     owner,
		Pos:       pos,
		Size:      size,
		Infected:  make([]int, diseases),
		Condition: condition,
		sampler:   sampler,
		rng:       rand.New(src),
		src:       src,
	}
	h.ResetEpoch()
	return h
}

// ResetEpoch starts a new accumulation window.
func (h *Herd) ResetEpoch() {
	h.Epoch = Accumulators{
		StartSize: h.Size,
		Exposure:  make([]float64, len(h.Infected)),
	}
}

// Rand returns the herd's random stream.
func (h *Herd) Rand() *rand.Rand { return h.rng }

// InfectedTotal sums infected animals across diseases.
func (h *Herd) InfectedTotal() int {
	n := 0
	for _, v := range h.Infected {
		n += v
	}
	return n
}
