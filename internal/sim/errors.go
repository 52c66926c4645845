package sim

import (
	"fmt"
	"time"
)

// RunError wraps every error that aborts a run with the point at which it
// happened. errors.As reaches the underlying DataGapError,
// ConfigurationError or NumericInstabilityError.
type RunError struct {
	Seed    uint64
	Date    time.Time
	AgentID int
	Err     error
}

func (e *RunError) Error() string {
	switch {
	case e.Date.IsZero():
		return fmt.Sprintf("run seed=%d: %v", e.Seed, e.Err)
	case e.AgentID == 0:
		return fmt.Sprintf("run seed=%d date=%s: %v", e.Seed, e.Date.Format(time.DateOnly), e.Err)
	default:
		return fmt.Sprintf("run seed=%d date=%s agent=%d: %v", e.Seed, e.Date.Format(time.DateOnly), e.AgentID, e.Err)
	}
}

func (e *RunError) Unwrap() error { return e.Err }
