package compiler

import (
	"github.com/gomlx/jobflow/pkg/core/job"
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InferencePass infers the logical description (shape, dtype and batch axis) of every blob. It sweeps the
// operators in topological order until a sweep changes nothing, up to Config.MaxInferenceIterations sweeps.
type InferencePass struct{}

// Name implements Pass.
func (InferencePass) Name() string { return "inference" }

// Run implements Pass.
func (InferencePass) Run(state *State) error {
	iterations, err := inferToFixedPoint(state.Job, state.Config.MaxInferenceIterations)
	if err != nil {
		return err
	}
	state.Publish("iterations", iterations)
	return nil
}

// inferToFixedPoint sweeps the job inferring every operator, until nothing changes.
func inferToFixedPoint(j *job.Job, maxIterations int) (iterations int, err error) {
	order, err := j.TopologicalOrder()
	if err != nil {
		return 0, err
	}
	var changed []string
	for iterations = 1; iterations <= maxIterations; iterations++ {
		changed = changed[:0]
		for _, o := range order {
			opChanged, err := inferOp(j, o)
			if err != nil {
				return iterations, err
			}
			changed = append(changed, opChanged...)
		}
		klog.V(2).Infof("inference: job %q sweep %d changed %d blobs", j.Name(), iterations, len(changed))
		if len(changed) == 0 {
			return iterations, nil
		}
	}
	return maxIterations, errors.WithStack(&InferenceDivergedError{
		Job: j.Name(), Iterations: maxIterations, Changed: changed})
}

// inferOp infers the outputs of one operator and stores them in the job. It returns the blobs that changed.
func inferOp(j *job.Job, o *op.Operator) (changed []string, err error) {
	descs, err := o.InferLogicalBlobDescs(j.Lookup())
	if err != nil {
		return nil, err
	}
	axes, err := o.InferBatchAxis(j.Lookup())
	if err != nil {
		return nil, err
	}
	for _, lbn := range o.OutputLBNs() {
		desc := op.BlobDesc{Shape: descs[lbn].Shape, BatchAxis: axes[lbn]}
		if previous, found := j.BlobDesc(lbn); found && previous.Equal(desc) {
			continue
		}
		if err := j.SetBlobDesc(lbn, desc); err != nil {
			return nil, err
		}
		changed = append(changed, lbn)
	}
	return changed, nil
}
