package rationality

import "fmt"

// NumericInstabilityError reports utilities or a rationality parameter that
// cannot produce a valid probability distribution. The decision engine fills
// in the agent and date before returning it.
type NumericInstabilityError struct {
	AgentID   int
	Epoch     string
	Lambda    float64
	Utilities []float64
	Reason    string
}

func (e *NumericInstabilityError) Error() string {
	if e.AgentID != 0 {
		return fmt.Sprintf("numeric instability for agent %d at %s: %s (lambda=%v utilities=%v)",
			e.AgentID, e.Epoch, e.Reason, e.Lambda, e.Utilities)
	}
	return fmt.Sprintf("numeric instability: %s (lambda=%v utilities=%v)", e.Reason, e.Lambda, e.Utilities)
}
