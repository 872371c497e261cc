package runtime

import (
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/tensors"
	"github.com/gomlx/jobflow/pkg/kernel"
	"github.com/gomlx/jobflow/pkg/plan"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Actor executes the operator of one task. Its state is only touched by the thread owning the task.
//
// A passive actor stands for a task that was routed to this machine without being registered: it
// acknowledges construction but never computes anything.
type Actor struct {
	id     plan.TaskID
	task   *plan.Task
	kctx   *kernel.Context
	kernel kernel.Kernel

	inputs  []op.Binding
	outputs []op.Binding

	// received inputs by binding name.
	received map[string]*tensors.Tensor
	fired    atomic.Bool
}

func newActor(task *plan.Task, kernels *kernel.Registry) (*Actor, error) {
	o, err := op.New(task.Op)
	if err != nil {
		return nil, err
	}
	kctx, err := kernel.NewContext(task.Op, task.DeviceType, task.ParallelContext(), task.BlobDesc)
	if err != nil {
		return nil, err
	}
	k, err := kernels.New(kctx)
	if err != nil {
		return nil, err
	}
	return &Actor{
		id:       task.TaskID,
		task:     task,
		kctx:     kctx,
		kernel:   k,
		inputs:   o.InputBindings(),
		outputs:  o.OutputBindings(),
		received: make(map[string]*tensors.Tensor),
	}, nil
}

func newPassiveActor(id plan.TaskID) *Actor {
	return &Actor{id: id}
}

// ID of the task of the actor.
func (a *Actor) ID() plan.TaskID { return a.id }

// Task executed by the actor, nil for passive actors.
func (a *Actor) Task() *plan.Task { return a.task }

// IsPassive returns whether the actor stands for an unregistered task.
func (a *Actor) IsPassive() bool { return a.task == nil }

// IsSource returns whether the actor has no inputs, and is fired by CmdStart.
func (a *Actor) IsSource() bool { return !a.IsPassive() && len(a.inputs) == 0 }

// Fired returns whether the actor already computed its outputs.
func (a *Actor) Fired() bool { return a.fired.Load() }

// receive stores the blobs the actor consumes and returns whether all its inputs are now available.
func (a *Actor) receive(blobs map[string]*tensors.Tensor) bool {
	for _, b := range a.inputs {
		if t, found := blobs[b.LBN]; found {
			a.received[b.Name()] = t
		}
	}
	return a.ready()
}

func (a *Actor) ready() bool {
	return len(a.received) == len(a.inputs)
}

// fire runs the kernel on the received inputs and returns the outputs by LBN. Outputs whose LBN is in feeds
// are replaced by the fed tensor.
func (a *Actor) fire(feeds map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	if !a.fired.CompareAndSwap(false, true) {
		return nil, errors.Errorf("actor of task %s fired twice", a.id)
	}
	byBinding, err := a.kernel.Compute(a.kctx, a.received)
	if err != nil {
		return nil, errors.WithMessagef(err, "actor of task %s (%q)", a.id, a.task.Op.Name)
	}
	outputs := make(map[string]*tensors.Tensor, len(a.outputs))
	for _, b := range a.outputs {
		if fed, found := feeds[b.LBN]; found {
			want := a.kctx.Outputs[b.Name()].Shape
			if !fed.Shape().Equal(want) {
				return nil, errors.Errorf("blob %q fed with shape %s, task %s expects %s",
					b.LBN, fed.Shape(), a.id, want)
			}
			outputs[b.LBN] = fed
			continue
		}
		if t, found := byBinding[b.Name()]; found {
			outputs[b.LBN] = t
		}
	}
	a.received = make(map[string]*tensors.Tensor)
	return outputs, nil
}
