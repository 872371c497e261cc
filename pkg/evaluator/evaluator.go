// Package evaluator checks that the actor of one task of a plan can be constructed on this machine.
//
// All tasks of the machine are routed a construct command, but only the selected one is registered: the
// others get passive actors that only acknowledge. The evaluation succeeds once every task of the machine
// acknowledged.
package evaluator

import (
	"context"
	"strconv"
	"time"

	"github.com/gomlx/jobflow/pkg/kernel"
	"github.com/gomlx/jobflow/pkg/plan"
	"github.com/gomlx/jobflow/pkg/plan/planio"
	"github.com/gomlx/jobflow/pkg/runtime"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// Options of an evaluation.
type Options struct {
	// MachineID whose tasks are evaluated.
	MachineID int

	ConstructTimeout time.Duration
	Kernels          *kernel.Registry
	Registerer       prometheus.Registerer
}

// Evaluate constructs the actor of task actorID, along with passive actors for the other tasks of the
// machine, in a new runtime session that is torn down before returning.
func Evaluate(ctx context.Context, p *plan.Plan, actorID plan.TaskID, opts Options) (err error) {
	session, err := runtime.NewSession(runtime.Options{
		MachineID:        opts.MachineID,
		ConstructTimeout: opts.ConstructTimeout,
		Kernels:          opts.Kernels,
		Registerer:       opts.Registerer,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()
	return ConstructActors(ctx, session, p, actorID)
}

// ConstructActors seeds the ConstructingActorCnt counter of session with the number of tasks of its machine,
// registers task actorID and sends the construct command to all of them. Once every actor acknowledged,
// the machine moves to running and then to completed: constructing the actors is the whole evaluation.
func ConstructActors(ctx context.Context, session *runtime.Session, p *plan.Plan, actorID plan.TaskID) error {
	if err := p.Validate(); err != nil {
		return err
	}
	machine := session.MachineID()
	var selected []*plan.Task
	var machineTasks []plan.TaskID
	for i := range p.Tasks {
		task := &p.Tasks[i]
		if task.MachineID != machine {
			continue
		}
		if task.TaskID == actorID {
			selected = append(selected, task)
		}
		machineTasks = append(machineTasks, task.TaskID)
	}
	if len(selected) == 0 {
		klog.Warningf("task %d is not in plan %q for machine %d: all actors will be passive",
			actorID, p.JobName, machine)
	}
	klog.V(1).Infof("evaluating task %d: %d tasks on machine %d", actorID, len(machineTasks), machine)
	if err := session.Construct(ctx, p, selected, machineTasks); err != nil {
		return err
	}
	klog.Info("All actor on this machine are constructed")
	if err := session.Transition(runtime.StateRunning); err != nil {
		return err
	}
	return session.Transition(runtime.StateCompleted)
}

// Run loads the plan at planPath from fs and evaluates the task actorID, given in decimal.
func Run(ctx context.Context, fs afero.Fs, planPath, actorID string, opts Options) error {
	klog.Info("Evaluation Starting Up")
	id, err := strconv.ParseInt(actorID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid actor id %q", actorID)
	}
	klog.Info("Parse Plan File")
	p, err := planio.ParseFromText(fs, planPath)
	if err != nil {
		return err
	}
	if err := Evaluate(ctx, p, plan.TaskID(id), opts); err != nil {
		return err
	}
	klog.Info("Evaluation Shutting Down")
	return nil
}
