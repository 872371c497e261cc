// Package sbp defines the split-broadcast-partial (SBP) distribution of a logical blob over the replicas of
// an operator, the per-operator signatures (one distribution per input/output binding) and the resolver
// that picks a signature given how the inputs are already distributed.
//
// A blob distributed as:
//
//   - Split(axis): each replica holds a slice of the blob along axis.
//   - Broadcast: each replica holds a full copy.
//   - PartialSum: each replica holds a full-shaped blob, and the logical value is the sum of all of them.
package sbp

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Kind of distribution.
type Kind int

const (
	KindInvalid Kind = iota
	KindSplit
	KindBroadcast
	KindPartialSum
)

// Parallel describes how one blob is distributed among the replicas of an operator.
// Axis is only used for KindSplit.
type Parallel struct {
	Kind Kind
	Axis int
}

// Split returns a Parallel that splits the blob along the given axis.
func Split(axis int) Parallel { return Parallel{Kind: KindSplit, Axis: axis} }

// Broadcast returns a Parallel that replicates the blob on every replica.
func Broadcast() Parallel { return Parallel{Kind: KindBroadcast} }

// PartialSum returns a Parallel where the logical blob is the sum of the replicas' blobs.
func PartialSum() Parallel { return Parallel{Kind: KindPartialSum} }

// IsSplit returns whether p is a split.
func (p Parallel) IsSplit() bool { return p.Kind == KindSplit }

// IsBroadcast returns whether p is a broadcast.
func (p Parallel) IsBroadcast() bool { return p.Kind == KindBroadcast }

// IsPartialSum returns whether p is a partial-sum.
func (p Parallel) IsPartialSum() bool { return p.Kind == KindPartialSum }

// String implements fmt.Stringer, with the forms "S(<axis>)", "B" and "P".
func (p Parallel) String() string {
	switch p.Kind {
	case KindSplit:
		return fmt.Sprintf("S(%d)", p.Axis)
	case KindBroadcast:
		return "B"
	case KindPartialSum:
		return "P"
	default:
		return fmt.Sprintf("Invalid(%d)", p.Kind)
	}
}

// ParseParallel parses the text form produced by Parallel.String.
func ParseParallel(text string) (Parallel, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "B":
		return Broadcast(), nil
	case text == "P":
		return PartialSum(), nil
	case strings.HasPrefix(text, "S(") && strings.HasSuffix(text, ")"):
		axis, err := strconv.Atoi(text[2 : len(text)-1])
		if err != nil || axis < 0 {
			return Parallel{}, errors.Errorf("invalid split axis in SBP parallel %q", text)
		}
		return Split(axis), nil
	}
	return Parallel{}, errors.Errorf("invalid SBP parallel %q, expected \"S(<axis>)\", \"B\" or \"P\"", text)
}

// LocalShape returns the shape of the slice of a blob with the given logical shape held by the replica
// ctx.ParallelID. For splits the axis is divided as evenly as possible, with the first replicas taking the
// remainder.
func (p Parallel) LocalShape(logical shapes.Shape, ctx placement.ParallelContext) (shapes.Shape, error) {
	if !p.IsSplit() || ctx.ParallelNum <= 1 {
		return logical.Clone(), nil
	}
	if p.Axis >= logical.Rank() {
		return shapes.Shape{}, errors.Errorf("cannot split axis %d of shape %s with rank %d", p.Axis, logical, logical.Rank())
	}
	dim := logical.Dimensions[p.Axis]
	if dim < ctx.ParallelNum {
		return shapes.Shape{}, errors.Errorf("cannot split axis %d of shape %s (dimension %d) across %d replicas",
			p.Axis, logical, dim, ctx.ParallelNum)
	}
	local := dim / ctx.ParallelNum
	if ctx.ParallelID < dim%ctx.ParallelNum {
		local++
	}
	return logical.WithDim(p.Axis, local), nil
}

// Signature maps each binding name of an operator ("x_0", "z_0", ...) to its distribution.
type Signature map[string]Parallel

// Get returns the parallel for the binding, and whether it was defined.
func (s Signature) Get(binding string) (Parallel, bool) {
	p, found := s[binding]
	return p, found
}

// Bindings returns the sorted list of bindings in the signature.
func (s Signature) Bindings() []string {
	return slices.Sorted(maps.Keys(s))
}

// Clone returns a copy of the signature.
func (s Signature) Clone() Signature {
	return maps.Clone(s)
}

// Equal returns whether both signatures define exactly the same bindings with the same parallels.
func (s Signature) Equal(other Signature) bool {
	return maps.Equal(s, other)
}

// String implements fmt.Stringer, with bindings sorted: "x_0:S(0), z_0:S(0)".
func (s Signature) String() string {
	parts := make([]string, 0, len(s))
	for _, binding := range s.Bindings() {
		parts = append(parts, binding+":"+s[binding].String())
	}
	return strings.Join(parts, ", ")
}

// ParseSignature parses the text form produced by Signature.String.
func ParseSignature(text string) (Signature, error) {
	sig := make(Signature)
	if strings.TrimSpace(text) == "" {
		return sig, nil
	}
	for _, part := range strings.Split(text, ",") {
		binding, parallelText, found := strings.Cut(part, ":")
		binding = strings.TrimSpace(binding)
		if !found || binding == "" {
			return nil, errors.Errorf("invalid SBP signature entry %q, expected \"<binding>:<parallel>\"", part)
		}
		p, err := ParseParallel(parallelText)
		if err != nil {
			return nil, errors.WithMessagef(err, "in SBP signature entry %q", part)
		}
		if _, dup := sig[binding]; dup {
			return nil, errors.Errorf("binding %q defined more than once in SBP signature %q", binding, text)
		}
		sig[binding] = p
	}
	return sig, nil
}

// SignatureList is an ordered list of candidate signatures: the order is used as the last tie-break
// when resolving.
type SignatureList []Signature

// Contains returns the index of the signature in the list, or -1 if not found.
func (l SignatureList) Contains(sig Signature) int {
	return slices.IndexFunc(l, sig.Equal)
}

// Builder is an ergonomic way of building a Signature.
type Builder struct {
	sig Signature
	err error
}

// Build starts a new signature.
//
// Example:
//
//	sig, err := sbp.Build().Split(0, "x_0", "z_0").Broadcast("w_0").Done()
func Build() *Builder {
	return &Builder{sig: make(Signature)}
}

func (b *Builder) set(p Parallel, bindings []string) *Builder {
	for _, binding := range bindings {
		if _, found := b.sig[binding]; found && b.err == nil {
			b.err = errors.Errorf("binding %q set more than once in SBP signature", binding)
		}
		b.sig[binding] = p
	}
	return b
}

// Split sets the bindings as split along axis.
func (b *Builder) Split(axis int, bindings ...string) *Builder {
	if axis < 0 && b.err == nil {
		b.err = errors.Errorf("negative split axis %d for bindings %q", axis, bindings)
	}
	return b.set(Split(axis), bindings)
}

// Broadcast sets the bindings as broadcast.
func (b *Builder) Broadcast(bindings ...string) *Builder { return b.set(Broadcast(), bindings) }

// PartialSum sets the bindings as partial-sum.
func (b *Builder) PartialSum(bindings ...string) *Builder { return b.set(PartialSum(), bindings) }

// Done returns the signature built, or the first error found.
func (b *Builder) Done() (Signature, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.sig, nil
}

// AllBroadcast returns a signature with every binding broadcast.
func AllBroadcast(bindings ...string) Signature {
	sig := make(Signature, len(bindings))
	for _, binding := range bindings {
		sig[binding] = Broadcast()
	}
	return sig
}

// AllSplit returns a signature with every binding split on the same axis.
func AllSplit(axis int, bindings ...string) Signature {
	sig := make(Signature, len(bindings))
	for _, binding := range bindings {
		sig[binding] = Split(axis)
	}
	return sig
}

// MustDone is like Done, but panics on error.
func (b *Builder) MustDone() Signature {
	sig, err := b.Done()
	if err != nil {
		panic(err)
	}
	return sig
}
