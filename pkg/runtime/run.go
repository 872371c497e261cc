package runtime

import (
	"context"
	"maps"

	"github.com/gomlx/jobflow/pkg/core/tensors"
	"github.com/gomlx/jobflow/pkg/plan"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RunPlan opens a session with opts, runs the plan once on it and closes it.
func RunPlan(ctx context.Context, p *plan.Plan, opts Options, feeds map[string]*tensors.Tensor) (
	results map[string]*tensors.Tensor, err error) {
	s, err := NewSession(opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := s.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()
	return s.Run(ctx, p, feeds)
}

// Run constructs the actors of all tasks of the session's machine, starts the source actors and waits
// until every local actor fired once.
//
// feeds replace the blobs, by LBN, computed by the tasks that produce them. It returns the outputs of the
// tasks without consumers, by LBN.
func (s *Session) Run(ctx context.Context, p *plan.Plan, feeds map[string]*tensors.Tensor) (
	map[string]*tensors.Tensor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := checkFanIn(p); err != nil {
		return nil, err
	}
	local := p.TasksOfMachine(s.MachineID())
	ids := make([]plan.TaskID, len(local))
	for i, task := range local {
		ids[i] = task.TaskID
	}
	klog.V(1).Infof("runtime: running plan %q: %d tasks on machine %d", p.JobName, len(local), s.MachineID())

	// Stop waiting as soon as a thread fails.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.threads.ctx, cancel)
	defer stop()

	if err := s.Construct(ctx, p, local, ids); err != nil {
		return nil, s.threadFailure(err)
	}
	if err := s.state.Transition(StateRunning); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.feeds = maps.Clone(feeds)
	s.results = make(map[string]*tensors.Tensor)
	s.mu.Unlock()
	if err := s.counters.New(RunningActorCnt, len(local)); err != nil {
		return nil, err
	}
	var sources []plan.TaskID
	for _, task := range local {
		if isSource(task) {
			sources = append(sources, task.TaskID)
		}
	}
	if err := s.SendCmdMsg(ctx, sources, CmdStart); err != nil {
		return nil, err
	}
	if err := s.WaitUntilCntEqualZero(ctx, RunningActorCnt, 0); err != nil {
		return nil, s.threadFailure(err)
	}
	if err := s.state.Transition(StateCompleted); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.results), nil
}

// threadFailure returns the error of a failed thread in place of err, if there is one.
func (s *Session) threadFailure(err error) error {
	select {
	case <-s.threads.Done():
	default:
		return err
	}
	if failures := s.Failures(); len(failures) > 0 {
		return failures[len(failures)-1]
	}
	return err
}

func isSource(task *plan.Task) bool {
	for _, lbns := range task.Op.Inputs {
		if len(lbns) > 0 {
			return false
		}
	}
	return true
}

// checkFanIn rejects plans where a task receives the same blob from more than one producer, as happens
// when replicas of an operator feed every replica of their consumer.
func checkFanIn(p *plan.Plan) error {
	for consumer, producers := range p.Producers() {
		ops := make(map[string]plan.TaskID, len(producers))
		for _, id := range producers {
			producer, _ := p.Task(id)
			if other, found := ops[producer.Op.Name]; found {
				return errors.Errorf("plan %q: task %s receives the outputs of %q from both tasks %s and %s, "+
					"which is not supported", p.JobName, consumer, producer.Op.Name, other, id)
			}
			ops[producer.Op.Name] = id
		}
	}
	return nil
}
