package environment

import (
	"fmt"
	"time"
)

// GapReason explains why a query could not be answered.
type GapReason string

const (
	GapOutsideExtent   GapReason = "outside_extent"
	GapOutsideGrid     GapReason = "outside_grid"
	GapUnknownVariable GapReason = "unknown_variable"
	GapMissingSample   GapReason = "missing_sample"
)

// DataGapError reports an environment query outside the loaded data coverage.
type DataGapError struct {
	Location Location
	Date     time.Time
	Variable string
	Reason   GapReason
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap: %s at (%d,%d) on %s: %s",
		e.Variable, e.Location.X, e.Location.Y, e.Date.Format(time.DateOnly), e.Reason)
}
