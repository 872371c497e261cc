package compiler

import (
	"fmt"
)

// InferenceDivergedError is returned when the blob descriptions of a job don't reach a fixed point within
// the configured number of inference sweeps.
type InferenceDivergedError struct {
	Job        string
	Iterations int

	// Changed lists the blobs that still changed in the last sweep.
	Changed []string
}

// Error implements error.
func (e *InferenceDivergedError) Error() string {
	return fmt.Sprintf("inference of job %q didn't converge after %d iterations, blobs still changing: %q",
		e.Job, e.Iterations, e.Changed)
}
