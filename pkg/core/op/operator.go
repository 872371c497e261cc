package op

import (
	"fmt"
	"slices"
	"sort"

	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	"github.com/pkg/errors"
)

// Operator is one node of a job: its configuration bound against the definition of its type, plus the
// metadata derived during compilation (blob descriptions, batch axes and SBP signature).
//
// Blobs are referred to by name only; the blob descriptions of the job are owned by the job graph and
// handed to the operator through a BlobLookup.
type Operator struct {
	def        *Def
	conf       Conf
	inputs     []Binding
	outputs    []Binding
	numOutputs map[string]int

	// descs caches the last inferred logical descriptions of the outputs, by binding name.
	descs        map[string]BlobDesc
	sbpSignature sbp.Signature
}

// New creates an operator from a configuration of a registered type.
func New(conf Conf) (*Operator, error) {
	o := &Operator{}
	if err := o.InitFromConfig(conf); err != nil {
		return nil, err
	}
	return o, nil
}

// InitFromConfig binds the configuration against its registered type definition: required inputs must be
// present, optional inputs may be absent and unknown arguments are rejected. It keeps a deep copy of conf.
// Errors are of type *ConfigError.
func (o *Operator) InitFromConfig(conf Conf) error {
	if conf.Name == "" {
		return configErrorf(&conf, "operator name can't be empty")
	}
	def, found := Lookup(conf.Type)
	if !found {
		return configErrorf(&conf, "unknown operator type")
	}
	o.def = def
	o.conf = conf.Clone()
	o.inputs = nil
	o.outputs = nil
	o.numOutputs = make(map[string]int)
	o.descs = make(map[string]BlobDesc)
	o.sbpSignature = nil

	for arg := range o.conf.Inputs {
		if _, found := def.Input(arg); !found {
			return configErrorf(&o.conf, "unknown input argument %q", arg)
		}
	}
	for _, arg := range def.Inputs {
		lbns := o.conf.Inputs[arg.Name]
		if len(lbns) == 0 && !arg.Optional {
			return configErrorf(&o.conf, "missing required input %q", arg.Name)
		}
		if len(lbns) > 1 && !arg.Repeated {
			return configErrorf(&o.conf, "input %q takes one blob, got %d", arg.Name, len(lbns))
		}
		for idx, lbn := range lbns {
			if _, _, err := SplitLBN(lbn); err != nil {
				return configErrorf(&o.conf, "input %s: %v", BindingName(arg.Name, idx), err)
			}
			o.inputs = append(o.inputs, Binding{Arg: arg.Name, Index: idx, LBN: lbn})
		}
	}

	for arg := range o.conf.Outputs {
		if _, found := def.Output(arg); !found {
			return configErrorf(&o.conf, "unknown output argument %q", arg)
		}
	}
	for _, arg := range def.Outputs {
		count, set := o.conf.Outputs[arg.Name]
		if !set && !arg.Optional {
			count = 1
		}
		if count < 0 || (count == 0 && !arg.Optional) || (count > 1 && !arg.Repeated) {
			return configErrorf(&o.conf, "invalid number of blobs (%d) for output %q", count, arg.Name)
		}
		o.numOutputs[arg.Name] = count
		for idx := range count {
			o.outputs = append(o.outputs, Binding{Arg: arg.Name, Index: idx, LBN: MakeLBN(o.conf.Name, arg.Name, idx)})
		}
	}

	if def.Validate != nil {
		if err := runCapability(o, "Validate", func() error { return def.Validate(&o.conf) }); err != nil {
			var cfgErr *ConfigError
			if errors.As(err, &cfgErr) {
				return err
			}
			return configErrorf(&o.conf, "%v", err)
		}
	}
	return nil
}

// Name of the operator.
func (o *Operator) Name() string { return o.conf.Name }

// Type of the operator.
func (o *Operator) Type() string { return o.conf.Type }

// Def returns the definition of the operator's type.
func (o *Operator) Def() *Def { return o.def }

// Conf returns a deep copy of the operator's configuration.
func (o *Operator) Conf() Conf { return o.conf.Clone() }

// Placement returns the name of the placement group configured for the operator, possibly empty.
func (o *Operator) Placement() string { return o.conf.Placement }

// Trainable returns whether the operator is configured as trainable.
func (o *Operator) Trainable() bool { return o.conf.Trainable }

// InputBindings returns the input bindings, in definition order.
func (o *Operator) InputBindings() []Binding { return slices.Clone(o.inputs) }

// OutputBindings returns the output bindings, in definition order.
func (o *Operator) OutputBindings() []Binding { return slices.Clone(o.outputs) }

// InputLBNs returns the LBNs consumed by the operator, in binding order. The same LBN may appear more than once.
func (o *Operator) InputLBNs() []string {
	lbns := make([]string, len(o.inputs))
	for i, b := range o.inputs {
		lbns[i] = b.LBN
	}
	return lbns
}

// OutputLBNs returns the LBNs produced by the operator, in binding order.
func (o *Operator) OutputLBNs() []string {
	lbns := make([]string, len(o.outputs))
	for i, b := range o.outputs {
		lbns[i] = b.LBN
	}
	return lbns
}

// InputLBN returns the LBN bound to the idx-th blob of input arg.
func (o *Operator) InputLBN(arg string, idx int) (string, bool) {
	lbns := o.conf.Inputs[arg]
	if idx < 0 || idx >= len(lbns) {
		return "", false
	}
	return lbns[idx], true
}

// OutputLBN returns the LBN of the idx-th blob of output arg.
func (o *Operator) OutputLBN(arg string, idx int) (string, bool) {
	if idx < 0 || idx >= o.numOutputs[arg] {
		return "", false
	}
	return MakeLBN(o.conf.Name, arg, idx), true
}

// ReplaceInput rebinds every input bound to oldLBN to newLBN. It returns the number of bindings changed.
func (o *Operator) ReplaceInput(oldLBN, newLBN string) int {
	count := 0
	for i, b := range o.inputs {
		if b.LBN == oldLBN {
			o.inputs[i].LBN = newLBN
			o.conf.Inputs[b.Arg][b.Index] = newLBN
			count++
		}
	}
	return count
}

// ReplaceInputBinding rebinds one input binding to newLBN.
func (o *Operator) ReplaceInputBinding(binding, newLBN string) error {
	for i, b := range o.inputs {
		if b.Name() == binding {
			o.inputs[i].LBN = newLBN
			o.conf.Inputs[b.Arg][b.Index] = newLBN
			return nil
		}
	}
	return errors.Errorf("operator %q has no input binding %q", o.Name(), binding)
}

// Clone returns a deep copy of the operator.
func (o *Operator) Clone() *Operator {
	clone := &Operator{
		def:          o.def,
		conf:         o.conf.Clone(),
		inputs:       slices.Clone(o.inputs),
		outputs:      slices.Clone(o.outputs),
		numOutputs:   make(map[string]int, len(o.numOutputs)),
		descs:        make(map[string]BlobDesc, len(o.descs)),
		sbpSignature: o.sbpSignature.Clone(),
	}
	for k, v := range o.numOutputs {
		clone.numOutputs[k] = v
	}
	for k, v := range o.descs {
		clone.descs[k] = v.Clone()
	}
	return clone
}

// InferLogicalBlobDescs infers the logical descriptions of the outputs from the inputs', returned by LBN.
// The batch axes returned are the ones last inferred by InferBatchAxis.
func (o *Operator) InferLogicalBlobDescs(lookup BlobLookup) (map[string]BlobDesc, error) {
	ctx, err := o.newContext(lookup)
	if err != nil {
		return nil, err
	}
	err = runCapability(o, "InferBlobDescs", func() error {
		if o.def.InferBlobDescs != nil {
			return o.def.InferBlobDescs(ctx)
		}
		return unchangedBlobDescs(ctx)
	})
	if err != nil {
		var shapeErr *ShapeInferenceError
		if !errors.As(err, &shapeErr) {
			err = errors.WithStack(&ShapeInferenceError{OpName: o.Name(), Shapes: ctx.InputShapes(), Reason: err.Error()})
		}
		return nil, err
	}
	results := make(map[string]BlobDesc, len(o.outputs))
	for _, b := range o.outputs {
		desc := *ctx.outputs[b.Name()]
		if !desc.Shape.Ok() {
			return nil, ctx.Errorf("output %s was not inferred", b.Name())
		}
		o.descs[b.Name()] = desc.Clone()
		results[b.LBN] = desc
	}
	return results, nil
}

// InferBlobDescs infers the output descriptions as seen by the replica parallelCtx.ParallelID: outputs
// split by the operator's SBP signature have the split axis divided among the replicas.
func (o *Operator) InferBlobDescs(lookup BlobLookup, parallelCtx placement.ParallelContext) (map[string]BlobDesc, error) {
	logical, err := o.InferLogicalBlobDescs(lookup)
	if err != nil {
		return nil, err
	}
	if err := parallelCtx.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "operator %q", o.Name())
	}
	if parallelCtx.ParallelNum == 1 || o.sbpSignature == nil {
		return logical, nil
	}
	for _, b := range o.outputs {
		p, found := o.sbpSignature[b.Name()]
		if !found {
			continue
		}
		desc := logical[b.LBN]
		desc.Shape, err = p.LocalShape(desc.Shape, parallelCtx)
		if err != nil {
			return nil, errors.WithStack(&ShapeInferenceError{OpName: o.Name(), Reason: err.Error()})
		}
		logical[b.LBN] = desc
	}
	return logical, nil
}

// OutputDesc returns the last inferred logical description of an output, by binding name.
func (o *Operator) OutputDesc(binding string) (BlobDesc, bool) {
	desc, found := o.descs[binding]
	return desc, found
}

// InferBatchAxis infers the batch axis of each output, returned by LBN. Outputs left undecided by the
// operator type are marked as having no batch axis.
func (o *Operator) InferBatchAxis(lookup BlobLookup) (map[string]BatchAxis, error) {
	ctx, err := o.newContext(lookup)
	if err != nil {
		return nil, err
	}
	for _, desc := range ctx.outputs {
		desc.BatchAxis = UnknownBatchAxis
	}
	err = runCapability(o, "InferBatchAxis", func() error {
		if o.def.InferBatchAxis != nil {
			return o.def.InferBatchAxis(ctx)
		}
		return NaiveInferBatchAxis(ctx)
	})
	if err != nil {
		return nil, err
	}
	results := make(map[string]BatchAxis, len(o.outputs))
	for _, b := range o.outputs {
		desc := ctx.outputs[b.Name()]
		if !desc.BatchAxis.IsKnown() {
			desc.BatchAxis = NoBatchAxis()
		}
		if desc.Shape.Ok() {
			if err := desc.BatchAxis.ValidFor(desc.Shape); err != nil {
				return nil, ctx.Errorf("output %s: %v", b.Name(), err)
			}
		}
		cached := o.descs[b.Name()]
		cached.BatchAxis = desc.BatchAxis
		o.descs[b.Name()] = cached
		results[b.LBN] = desc.BatchAxis
	}
	return results, nil
}

// GetSbpSignatures returns the candidate SBP signatures of the operator given its inputs' logical
// descriptions. Every candidate defines every input and output binding.
func (o *Operator) GetSbpSignatures(lookup BlobLookup) (sbp.SignatureList, error) {
	ctx, err := o.newContext(lookup)
	if err != nil {
		return nil, err
	}
	var candidates sbp.SignatureList
	err = runCapability(o, "GetSbpSignatures", func() error {
		if o.def.GetSbpSignatures == nil {
			candidates = sbp.SignatureList{sbp.AllBroadcast(ctx.Bindings()...)}
			return nil
		}
		var err error
		candidates, err = o.def.GetSbpSignatures(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	bindings := ctx.Bindings()
	for idx, candidate := range candidates {
		for _, binding := range bindings {
			if _, found := candidate[binding]; !found {
				return nil, errors.Errorf("operator %q (type %q) SBP candidate #%d {%s} misses binding %q",
					o.Name(), o.Type(), idx, candidate, binding)
			}
		}
	}
	return candidates, nil
}

// InferSbpSignature validates the proposal against the candidate signatures and sets it as the operator's
// signature. It returns an *sbp.UnsupportedDistributionError if it is not one of the candidates.
func (o *Operator) InferSbpSignature(proposal sbp.Signature, lookup BlobLookup) error {
	candidates, err := o.GetSbpSignatures(lookup)
	if err != nil {
		return err
	}
	if err := sbp.Validate(o.Name(), proposal, candidates); err != nil {
		return errors.WithStack(err)
	}
	o.sbpSignature = proposal.Clone()
	return nil
}

// SetSbpSignature sets the operator's signature without validation.
func (o *Operator) SetSbpSignature(sig sbp.Signature) { o.sbpSignature = sig.Clone() }

// SbpSignature returns the operator's signature, nil if not set yet.
func (o *Operator) SbpSignature() sbp.Signature { return o.sbpSignature }

// GenerateBackwardOps defines the operators computing the gradients of the inputs from the gradients of the
// outputs. Operator types marked NoGrad generate nothing.
func (o *Operator) GenerateBackwardOps(ctx GradContext) error {
	if o.def.NoGrad {
		return nil
	}
	if o.def.GenBackward == nil {
		return errors.Errorf("operator %q: gradients of operator type %q are not supported", o.Name(), o.Type())
	}
	return runCapability(o, "GenerateBackwardOps", func() error { return o.def.GenBackward(o, ctx) })
}

// String implements fmt.Stringer.
func (o *Operator) String() string {
	return fmt.Sprintf("%s(%s)", o.Type(), o.Name())
}

// SortedAttrNames returns the configured attribute names, sorted.
func (o *Operator) SortedAttrNames() []string {
	names := make([]string, 0, len(o.conf.Attrs))
	for name := range o.conf.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
