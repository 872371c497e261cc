package sbp

import (
	"fmt"
)

// UnsupportedDistributionError is returned when a proposed signature is not among the candidates an
// operator supports, or when an operator has no candidates at all.
type UnsupportedDistributionError struct {
	OpName     string
	Proposal   Signature
	Candidates SignatureList
}

// Error implements error.
func (e *UnsupportedDistributionError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("operator %q supports no SBP signature", e.OpName)
	}
	return fmt.Sprintf("operator %q doesn't support SBP signature {%s}: %d candidate(s) available",
		e.OpName, e.Proposal, len(e.Candidates))
}

// UnsatisfiableDistributionError is returned when no candidate signature of an operator can be reached
// from how its inputs are distributed: Edge is the input binding whose producer distribution can't be
// converted into what the consumer requires.
type UnsatisfiableDistributionError struct {
	OpName   string
	Edge     string
	Producer Parallel
	Consumer Parallel
}

// Error implements error.
func (e *UnsatisfiableDistributionError) Error() string {
	return fmt.Sprintf("operator %q: no SBP signature satisfiable, input %q is distributed as %s and can't be "+
		"converted to %s", e.OpName, e.Edge, e.Producer, e.Consumer)
}
