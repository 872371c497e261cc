package sbp

import (
	"fmt"

	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Convertible returns whether a blob distributed as from can be redistributed to to by a boxing operator.
// Everything converts except producing a PartialSum out of anything other than a PartialSum.
func Convertible(from, to Parallel) bool {
	if to.IsPartialSum() {
		return from.IsPartialSum()
	}
	return true
}

// CostModel estimates the communication volume, in bytes, of converting one blob from one distribution to
// another across parallelNum replicas. It is only called for convertible pairs.
type CostModel interface {
	Volume(from, to Parallel, logical shapes.Shape, parallelNum int) int64
}

// DefaultCostModel counts the bytes moved by each conversion:
//
//	S -> B: size*(n-1)         P -> B: 2*size*(n-1)
//	S(i) -> S(j): size*(n-1)/n P -> S: size*(n-1)/n
//	B -> S: 0                  same distribution: 0
type DefaultCostModel struct{}

// Volume implements CostModel.
func (DefaultCostModel) Volume(from, to Parallel, logical shapes.Shape, parallelNum int) int64 {
	if from == to || parallelNum <= 1 {
		return 0
	}
	size := int64(logical.Memory())
	n := int64(parallelNum)
	switch {
	case from.IsSplit() && to.IsBroadcast():
		return size * (n - 1)
	case from.IsPartialSum() && to.IsBroadcast():
		return 2 * size * (n - 1)
	case from.IsBroadcast() && to.IsSplit():
		return 0
	case (from.IsSplit() || from.IsPartialSum()) && to.IsSplit():
		return size * (n - 1) / n
	}
	return 0
}

// TieBreak selects how candidates needing the same number of boxing operators are ordered.
type TieBreak int

const (
	// TieBreakByVolume prefers the lower communication volume, then the lower candidate index.
	TieBreakByVolume TieBreak = iota

	// TieBreakByIndex ignores the volume and takes the lower candidate index.
	TieBreakByIndex
)

// String implements fmt.Stringer.
func (t TieBreak) String() string {
	switch t {
	case TieBreakByVolume:
		return "volume"
	case TieBreakByIndex:
		return "index"
	}
	return fmt.Sprintf("TieBreak(%d)", int(t))
}

// InputEdge describes one input of the operator being resolved.
// ProducerParallel is nil if the producer's distribution is not fixed yet, in which case the edge is free.
type InputEdge struct {
	Binding          string
	Producer         string
	ProducerParallel *Parallel
	LogicalShape     shapes.Shape
}

// Request to resolve the signature of one operator.
type Request struct {
	OpName      string
	Candidates  SignatureList
	Inputs      []InputEdge
	ParallelNum int
}

// Cost of a candidate, compared lexicographically.
type Cost struct {
	Boxing int
	Volume int64
	Index  int
}

// Less compares costs for the given tie-break policy.
func (c Cost) Less(other Cost, tieBreak TieBreak) bool {
	if c.Boxing != other.Boxing {
		return c.Boxing < other.Boxing
	}
	if tieBreak == TieBreakByVolume && c.Volume != other.Volume {
		return c.Volume < other.Volume
	}
	return c.Index < other.Index
}

// Resolution is the result of Resolver.Resolve.
type Resolution struct {
	Signature Signature
	Cost      Cost

	// Boxing lists the input bindings whose producer distribution differs from the chosen signature, in the
	// order of Request.Inputs. Each needs a boxing operator.
	Boxing []string
}

// Resolver picks, among an operator's candidate signatures, the one that requires the fewest boxing
// operators given the fixed distribution of its inputs.
type Resolver struct {
	CostModel CostModel
	TieBreak  TieBreak
}

// NewResolver returns a resolver with the DefaultCostModel and TieBreakByVolume.
func NewResolver() *Resolver {
	return &Resolver{CostModel: DefaultCostModel{}, TieBreak: TieBreakByVolume}
}

// Resolve returns the lowest cost candidate.
//
// It returns an *UnsupportedDistributionError if the request has no candidates, and an
// *UnsatisfiableDistributionError if no candidate can be reached from the inputs' distributions.
// Resolving is deterministic and idempotent: resolving again with the inputs fixed to the chosen
// signature's parallels returns the same signature.
func (r *Resolver) Resolve(req Request) (Resolution, error) {
	if len(req.Candidates) == 0 {
		return Resolution{}, &UnsupportedDistributionError{OpName: req.OpName}
	}
	costModel := r.CostModel
	if costModel == nil {
		costModel = DefaultCostModel{}
	}
	var (
		best       Resolution
		found      bool
		firstUnsat *UnsatisfiableDistributionError
	)
	for idx, candidate := range req.Candidates {
		cost := Cost{Index: idx}
		var boxing []string
		var unsat *UnsatisfiableDistributionError
		for _, edge := range req.Inputs {
			required, ok := candidate[edge.Binding]
			if !ok {
				return Resolution{}, errors.Errorf("operator %q: candidate SBP signature #%d {%s} doesn't define input %q",
					req.OpName, idx, candidate, edge.Binding)
			}
			if edge.ProducerParallel == nil || *edge.ProducerParallel == required {
				continue
			}
			if !Convertible(*edge.ProducerParallel, required) {
				unsat = &UnsatisfiableDistributionError{
					OpName: req.OpName, Edge: edge.Binding, Producer: *edge.ProducerParallel, Consumer: required}
				break
			}
			cost.Boxing++
			cost.Volume += costModel.Volume(*edge.ProducerParallel, required, edge.LogicalShape, req.ParallelNum)
			boxing = append(boxing, edge.Binding)
		}
		if unsat != nil {
			if firstUnsat == nil {
				firstUnsat = unsat
			}
			klog.V(3).Infof("sbp: %s candidate #%d {%s} unsatisfiable: %v", req.OpName, idx, candidate, unsat)
			continue
		}
		if !found || cost.Less(best.Cost, r.TieBreak) {
			best = Resolution{Signature: candidate, Cost: cost, Boxing: boxing}
			found = true
		}
	}
	if !found {
		return Resolution{}, firstUnsat
	}
	klog.V(2).Infof("sbp: %s resolved to {%s} (boxing=%d, volume=%d)", req.OpName, best.Signature,
		best.Cost.Boxing, best.Cost.Volume)
	best.Signature = best.Signature.Clone()
	return best, nil
}

// Validate checks that the proposal is one of the candidates, returning an *UnsupportedDistributionError
// otherwise.
func Validate(opName string, proposal Signature, candidates SignatureList) error {
	if candidates.Contains(proposal) < 0 {
		return &UnsupportedDistributionError{OpName: opName, Proposal: proposal, Candidates: candidates}
	}
	return nil
}
