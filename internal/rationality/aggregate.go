package rationality

import (
	"fmt"
	"math"
)

// Rule turns remembered outcomes into one expected utility.
type Rule string

const (
	RuleMean            Rule = "mean"
	RuleRecencyWeighted Rule = "recency_weighted"
	RuleMax             Rule = "max"
)

// ParseRule validates a configured aggregation rule.
func ParseRule(s string) (Rule, error) {
	switch r := Rule(s); r {
	case RuleMean, RuleRecencyWeighted, RuleMax:
		return r, nil
	default:
		return "", fmt.Errorf("unknown aggregation rule %q", s)
	}
}

// Sample is one recalled outcome and its recency weight, the memory decay
// multiplier for the record's age.
type Sample struct {
	Outcome float64
	Weight  float64
}

// Aggregate folds samples under rule. With no samples it returns prior, so
// an agent with an empty memory still has a defined utility.
func Aggregate(rule Rule, samples []Sample, prior float64) float64 {
	if len(samples) == 0 {
		return prior
	}
	switch rule {
	case RuleMax:
		best := math.Inf(-1)
		for _, s := range samples {
			best = math.Max(best, s.Outcome)
		}
		return best
	case RuleRecencyWeighted:
		var num, den float64
		for _, s := range samples {
			num += s.Weight * s.Outcome
			den += s.Weight
		}
		if den > 0 {
			return num / den
		}
		fallthrough
	default:
		var sum float64
		for _, s := range samples {
			sum += s.Outcome
		}
		return sum / float64(len(samples))
	}
}
