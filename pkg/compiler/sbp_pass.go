package compiler

import (
	"fmt"

	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	"github.com/gomlx/jobflow/pkg/ops"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SbpPass picks the SBP signature of every operator, in topological order, and inserts a boxing operator on
// every input edge where the producer's distribution differs from the one the consumer requires, or where
// producer and consumer are placed on different groups.
//
// Boxing operators keep the signature they were inserted with. Operators placed on a single device take the
// first candidate whose inputs are all satisfied: with one replica all distributions hold the same data.
type SbpPass struct{}

// Name implements Pass.
func (SbpPass) Name() string { return "sbp" }

// Run implements Pass.
func (SbpPass) Run(state *State) error {
	order, err := state.Job.TopologicalOrder()
	if err != nil {
		return err
	}
	inserted := 0
	for _, o := range order {
		count, err := resolveSbp(state, o)
		if err != nil {
			return err
		}
		inserted += count
	}
	state.Publish("boxing_ops", inserted)
	return nil
}

// BoxingOpName returns the name of the boxing operator inserted on the input binding of consumer.
func BoxingOpName(consumer, binding string) string {
	return fmt.Sprintf("%s-boxing-%s", consumer, binding)
}

// resolveSbp sets the signature of o and inserts the boxing operators it needs. It returns the number of
// boxing operators inserted.
func resolveSbp(state *State, o *op.Operator) (int, error) {
	j := state.Job
	if o.Type() == ops.TypeBoxing && o.SbpSignature() != nil {
		return 0, nil
	}
	group, found := j.OpPlacement(o.Name())
	if !found {
		return 0, errors.Errorf("operator %q has no placement, the placement pass must run before the SBP pass", o.Name())
	}
	candidates, err := o.GetSbpSignatures(j.Lookup())
	if err != nil {
		return 0, err
	}
	singleDevice := group.ParallelNum() == 1

	type edge struct {
		binding    string
		lbn        string
		producer   sbp.Parallel
		crossGroup bool
	}
	var edges []edge
	req := sbp.Request{OpName: o.Name(), Candidates: candidates, ParallelNum: group.ParallelNum()}
	for _, b := range o.InputBindings() {
		producer, found := j.Producer(b.LBN)
		if !found {
			return 0, errors.Errorf("operator %q input %s: blob %q has no producer", o.Name(), b.Name(), b.LBN)
		}
		desc, _ := j.BlobDesc(b.LBN)
		_, producerBinding, err := op.SplitLBN(b.LBN)
		if err != nil {
			return 0, err
		}
		producerParallel, found := producer.SbpSignature().Get(producerBinding)
		if !found {
			return 0, errors.Errorf("operator %q input %s: producer %q has no SBP signature", o.Name(), b.Name(),
				producer.Name())
		}
		producerGroup, _ := j.OpPlacement(producer.Name())
		e := edge{binding: b.Name(), lbn: b.LBN, producer: producerParallel,
			crossGroup: producerGroup != group}
		edges = append(edges, e)
		inputEdge := sbp.InputEdge{Binding: b.Name(), Producer: producer.Name(), LogicalShape: desc.Shape}
		if !singleDevice || e.crossGroup {
			inputEdge.ProducerParallel = &producerParallel
		}
		req.Inputs = append(req.Inputs, inputEdge)
	}

	resolution, err := state.resolver.Resolve(req)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if err := j.SetSbpSignature(o.Name(), resolution.Signature); err != nil {
		return 0, err
	}

	inserted := 0
	for _, e := range edges {
		required := resolution.Signature[e.binding]
		if !e.crossGroup && (singleDevice || e.producer == required) {
			continue
		}
		if !sbp.Convertible(e.producer, required) {
			return 0, errors.WithStack(&sbp.UnsatisfiableDistributionError{
				OpName: o.Name(), Edge: e.binding, Producer: e.producer, Consumer: required})
		}
		name := BoxingOpName(o.Name(), e.binding)
		conf := ops.BoxingConf(name, e.lbn, e.producer, required)
		conf.Placement = group.Name()
		if _, err := j.AddOp(conf); err != nil {
			return 0, err
		}
		if err := j.SetOpPlacement(name, group.Name()); err != nil {
			return 0, err
		}
		if err := j.SetSbpSignature(name, sbp.Signature{"in_0": e.producer, "out_0": required}); err != nil {
			return 0, err
		}
		boxing, _ := j.Op(name)
		if _, err := inferOp(j, boxing); err != nil {
			return 0, err
		}
		if err := j.RebindInput(o.Name(), e.binding, op.MakeLBN(name, "out", 0)); err != nil {
			return 0, err
		}
		klog.V(2).Infof("sbp: inserted %s converting %s from %s to %s", name, e.lbn, e.producer, required)
		state.boxingOps.Inc()
		inserted++
	}
	return inserted, nil
}
