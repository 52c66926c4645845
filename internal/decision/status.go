package decision

import (
	"fmt"
	"time"
)

// VaccineKind is the renewal rule of a vaccine product.
type VaccineKind string

const (
	// OnceForLife protection never lapses once administered.
	OnceForLife VaccineKind = "once_for_life"
	// AnnualBooster protection lapses unless renewed within its protection window.
	AnnualBooster VaccineKind = "annual_booster"
)

// ParseKind validates a configured vaccine kind.
func ParseKind(s string) (VaccineKind, error) {
	switch k := VaccineKind(s); k {
	case OnceForLife, AnnualBooster:
		return k, nil
	default:
		return "", fmt.Errorf("unknown vaccine kind %q", s)
	}
}

// Status is a household's vaccination state for one topic.
type Status string

const (
	Unvaccinated         Status = "unvaccinated"
	OnceForLifeProtected Status = "once_for_life_protected"
	BoosterProtected     Status = "booster_protected"
	BoosterLapsed        Status = "booster_lapsed"
)

// Terminal reports whether no further decision is taken on the topic.
func (s Status) Terminal() bool { return s == OnceForLifeProtected }

// Protected reports whether herds currently benefit from the vaccine.
func (s Status) Protected() bool {
	return s == OnceForLifeProtected || s == BoosterProtected
}

// Action is the outcome of one topic decision.
type Action string

const (
	Decline   Action = "decline"
	Vaccinate Action = "vaccinate"
	// None is recorded for a topic that is already terminal.
	None Action = "none"
)

// Actions returns the actions available from status, in the fixed order
// utilities and probabilities are reported in.
func Actions(status Status) []Action {
	if status.Terminal() {
		return []Action{None}
	}
	return []Action{Decline, Vaccinate}
}

// Transition applies action to status under the renewal rule of kind.
func Transition(kind VaccineKind, status Status, action Action) (Status, error) {
	switch kind {
	case OnceForLife:
		switch status {
		case OnceForLifeProtected:
			if action != None {
				return status, fmt.Errorf("once-for-life topic is terminal, got action %s", action)
			}
			return status, nil
		case Unvaccinated:
			switch action {
			case Vaccinate:
				return OnceForLifeProtected, nil
			case Decline:
				return Unvaccinated, nil
			}
		}
	case AnnualBooster:
		switch status {
		case Unvaccinated, BoosterProtected, BoosterLapsed:
			switch action {
			case Vaccinate:
				return BoosterProtected, nil
			case Decline:
				return status, nil
			}
		}
	default:
		return status, fmt.Errorf("unknown vaccine kind %q", kind)
	}
	return status, fmt.Errorf("invalid transition for %s: %s --%s-->", kind, status, action)
}

// Expire lapses booster protection once date reaches expiresAt. Other
// kinds and states are returned unchanged.
func Expire(kind VaccineKind, status Status, expiresAt, date time.Time) Status {
	switch kind {
	case AnnualBooster:
		if status == BoosterProtected && !date.Before(expiresAt) {
			return BoosterLapsed
		}
	case OnceForLife:
	}
	return status
}

// ExpiresAt returns when protection granted on date ends. Once-for-life
// protection never ends and yields the zero time.
func ExpiresAt(kind VaccineKind, date time.Time, protectionDays int) time.Time {
	switch kind {
	case AnnualBooster:
		return date.AddDate(0, 0, protectionDays)
	default:
		return time.Time{}
	}
}
