package rationality

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Model is a logit (quantal response) choice rule. Lambda = 0 chooses
// uniformly at random; Lambda = +Inf always picks the best option.
type Model struct {
	Lambda float64
}

// Distribution maps utilities to choice probabilities,
// p_i = exp(lambda*(u_i-max u) - logsumexp(lambda*(u-max u))).
// Shifted terms are <= 0, so a huge finite Lambda underflows toward the
// argmax instead of overflowing. Ties under an infinite Lambda share the
// mass equally.
func (m Model) Distribution(utilities []float64) ([]float64, error) {
	if len(utilities) == 0 {
		return nil, &NumericInstabilityError{Lambda: m.Lambda, Reason: "no options"}
	}
	if math.IsNaN(m.Lambda) || m.Lambda < 0 {
		return nil, &NumericInstabilityError{Lambda: m.Lambda, Utilities: utilities, Reason: "lambda must be >= 0"}
	}
	for _, u := range utilities {
		if math.IsNaN(u) || math.IsInf(u, 0) {
			return nil, &NumericInstabilityError{Lambda: m.Lambda, Utilities: utilities, Reason: "non-finite utility"}
		}
	}

	probs := make([]float64, len(utilities))
	if math.IsInf(m.Lambda, 1) {
		best := floats.Max(utilities)
		n := 0
		for i, u := range utilities {
			if u == best {
				probs[i] = 1
				n++
			}
		}
		floats.Scale(1/float64(n), probs)
		return probs, nil
	}

	if m.Lambda == 0 {
		for i := range probs {
			probs[i] = 1 / float64(len(probs))
		}
		return probs, nil
	}

	copy(probs, utilities)
	floats.AddConst(-floats.Max(utilities), probs)
	for i, d := range probs {
		probs[i] = shifted(m.Lambda, d)
	}
	lse := floats.LogSumExp(probs)
	for i := range probs {
		probs[i] = math.Exp(probs[i] - lse)
	}
	sum := floats.Sum(probs)
	if math.IsNaN(sum) || math.IsInf(sum, 0) || sum <= 0 {
		return nil, &NumericInstabilityError{Lambda: m.Lambda, Utilities: utilities, Reason: "probabilities do not normalize"}
	}
	floats.Scale(1/sum, probs)
	return probs, nil
}

// shifted is lambda*d for d <= 0, with the max itself kept at exactly zero.
func shifted(lambda, d float64) float64 {
	if d == 0 {
		return 0
	}
	return lambda * d
}

// Choose draws an index from probs by inverse CDF with u in [0, 1).
func Choose(probs []float64, u float64) int {
	acc := 0.0
	last := 0
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		last = i
		acc += p
		if u < acc {
			return i
		}
	}
	return last
}
