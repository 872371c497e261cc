// Package runtime executes the tasks of a plan with actors.
//
// A Session holds the runtime of one machine: its named counters, its threads (one goroutine each, owning
// a disjoint subset of the tasks) and its lifecycle state. Actors are constructed on command, each thread
// acknowledging a construction by decreasing the ConstructingActorCnt counter, and fire once all their
// inputs are available.
package runtime

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/gomlx/jobflow/pkg/core/tensors"
	"github.com/gomlx/jobflow/pkg/kernel"
	"github.com/gomlx/jobflow/pkg/plan"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"k8s.io/klog/v2"
)

// DefaultConstructTimeout bounds the wait for the construction of the actors.
const DefaultConstructTimeout = 5 * time.Minute

// Options of a runtime session.
type Options struct {
	// MachineID is the machine this session runs.
	MachineID int

	// ConstructTimeout bounds the wait for actors to be constructed. Defaults to DefaultConstructTimeout.
	ConstructTimeout time.Duration

	// Transport for messages to other machines. Defaults to one that rejects them.
	Transport Transport

	// Registerer, if set, is where the runtime registers its metrics.
	Registerer prometheus.Registerer

	// Kernels used by the actors. Defaults to kernel.Default.
	Kernels *kernel.Registry
}

// ErrSessionActive is returned by NewSession while another session is open.
var ErrSessionActive = errors.New("a runtime session is already open in this process")

var sessionOpen atomic.Bool

// Session is the runtime of one machine. Only one session can be open per process at a time.
type Session struct {
	id       uuid.UUID
	opts     Options
	metrics  *metrics
	state    stateMachine
	counters *Counters
	threads  *ThreadManager

	mu       sync.Mutex
	failures []error
	routes   map[plan.TaskID]route
	feeds    map[string]*tensors.Tensor
	results  map[string]*tensors.Tensor

	closeOnce sync.Once
	closeErr  error
}

// NewSession opens the runtime session of a machine. It must be closed with Close.
func NewSession(opts Options) (*Session, error) {
	if opts.MachineID < 0 {
		return nil, errors.Errorf("invalid machine id %d", opts.MachineID)
	}
	if !sessionOpen.CompareAndSwap(false, true) {
		return nil, errors.WithStack(ErrSessionActive)
	}
	if opts.ConstructTimeout <= 0 {
		opts.ConstructTimeout = DefaultConstructTimeout
	}
	if opts.Transport == nil {
		opts.Transport = localTransport{}
	}
	if opts.Kernels == nil {
		opts.Kernels = kernel.Default
	}
	s := &Session{
		id:      uuid.New(),
		opts:    opts,
		metrics: newMetrics(opts.Registerer),
	}
	s.state.onChange = func(state MachineState) { s.metrics.machineState.Set(float64(state)) }
	s.metrics.machineState.Set(float64(StateUninitialized))
	s.counters = newCounters()
	s.threads = newThreadManager(s)
	klog.V(1).Infof("runtime: session %s opened for machine %d", s.id, opts.MachineID)
	return s, nil
}

// Close stops the threads and releases the counters, in the reverse order of their creation. It can be
// called more than once, and returns the first error of a thread.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.threads.close()
		s.counters.close()
		if err := s.state.Transition(StateTornDown); err != nil {
			klog.Warningf("runtime: session %s: %v", s.id, err)
		}
		sessionOpen.Store(false)
		klog.V(1).Infof("runtime: session %s closed", s.id)
	})
	return s.closeErr
}

// ID of the session.
func (s *Session) ID() uuid.UUID { return s.id }

// MachineID run by the session.
func (s *Session) MachineID() int { return s.opts.MachineID }

// State of the machine.
func (s *Session) State() MachineState { return s.state.Load() }

// Transition moves the machine to the given state.
func (s *Session) Transition(to MachineState) error { return s.state.Transition(to) }

// Counters of the session.
func (s *Session) Counters() *Counters { return s.counters }

// Threads of the session.
func (s *Session) Threads() *ThreadManager { return s.threads }

// Failures recorded so far: actors that failed to construct or to run.
func (s *Session) Failures() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.failures...)
}

func (s *Session) recordFailure(err error) {
	klog.Errorf("runtime: %v", err)
	s.metrics.failures.Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

// WaitUntilCntEqualZero blocks until the counter name reaches zero. If ctx is done or the timeout
// (if > 0) elapses first, it returns a *ConstructionTimeoutError.
func (s *Session) WaitUntilCntEqualZero(ctx context.Context, name string, timeout time.Duration) error {
	remaining, err := s.counters.WaitUntilZero(ctx, name, timeout)
	if err == nil {
		return nil
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	return errors.WithStack(&ConstructionTimeoutError{
		Counter:   name,
		Remaining: remaining,
		Timeout:   timeout,
		Cause:     err,
		Failures:  s.Failures(),
	})
}

// SendCmdMsg sends cmd to the actors of the given tasks.
func (s *Session) SendCmdMsg(ctx context.Context, taskIDs []plan.TaskID, cmd Cmd) error {
	for _, id := range taskIDs {
		if err := s.send(ctx, Msg{Kind: MsgKindCmd, Dst: id, Cmd: cmd}); err != nil {
			return err
		}
	}
	return nil
}

// Deliver hands a message arriving from another machine to the thread of its task.
func (s *Session) Deliver(msg Msg) error {
	r, err := s.route(msg.Dst)
	if err != nil {
		return errors.WithMessagef(err, "%s delivered to machine %d", msg, s.opts.MachineID)
	}
	if r.machine != s.opts.MachineID {
		return errors.Errorf("%s delivered to machine %d, but the task runs on machine %d",
			msg, s.opts.MachineID, r.machine)
	}
	return s.send(context.Background(), msg)
}

// route of a task: the machine and thread it runs on, as given by the plan being constructed.
type route struct {
	machine, thread int
}

// setRoutes indexes the tasks of p by id. Messages can only be sent to tasks of p.
func (s *Session) setRoutes(p *plan.Plan) {
	routes := make(map[plan.TaskID]route, len(p.Tasks))
	for _, task := range p.Tasks {
		routes[task.TaskID] = route{machine: task.MachineID, thread: task.ThreadID}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = routes
}

func (s *Session) route(id plan.TaskID) (route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, found := s.routes[id]
	if !found {
		return route{}, errors.Errorf("no route for task %s: it is not in the plan", id)
	}
	return r, nil
}

func (s *Session) send(ctx context.Context, msg Msg) error {
	r, err := s.route(msg.Dst)
	if err != nil {
		return errors.WithMessagef(err, "sending %s", msg)
	}
	if r.machine != s.opts.MachineID {
		msg.DstMachine = r.machine
		s.metrics.messages.WithLabelValues(msg.Kind.String(), "remote").Inc()
		return errors.WithMessagef(s.opts.Transport.Send(ctx, msg), "machine %d", s.opts.MachineID)
	}
	t, err := s.threads.Thread(r.thread)
	if err != nil {
		return err
	}
	s.metrics.messages.WithLabelValues(msg.Kind.String(), "local").Inc()
	t.enqueue(msg)
	return nil
}

// Construct registers the given tasks of p on their threads, sends CmdConstructActor to every task in routed
// and waits for all of them to acknowledge. Routed tasks that were not registered get a passive actor.
//
// Messages are routed to the machine and thread each task of p is assigned to.
func (s *Session) Construct(ctx context.Context, p *plan.Plan, registered []*plan.Task, routed []plan.TaskID) error {
	if err := s.state.Transition(StateConstructing); err != nil {
		return err
	}
	s.setRoutes(p)
	if err := s.counters.New(ConstructingActorCnt, len(routed)); err != nil {
		return err
	}
	for _, task := range registered {
		if err := s.threads.AddTask(task); err != nil {
			return err
		}
	}
	if err := s.SendCmdMsg(ctx, routed, CmdConstructActor); err != nil {
		return err
	}
	return s.WaitUntilCntEqualZero(ctx, ConstructingActorCnt, s.opts.ConstructTimeout)
}

// fire runs a ready actor, forwards its outputs to its consumers and acknowledges it.
func (s *Session) fire(ctx context.Context, actor *Actor) error {
	s.mu.Lock()
	feeds := s.feeds
	s.mu.Unlock()
	outputs, err := actor.fire(feeds)
	if err != nil {
		return err
	}
	s.metrics.fired.Inc()
	task := actor.Task()
	klog.V(2).Infof("runtime: actor %s (%q) fired, %d consumers", task.TaskID, task.Op.Name, len(task.Consumers))
	for _, consumer := range task.Consumers {
		msg := Msg{Kind: MsgKindData, Src: task.TaskID, Dst: consumer, Blobs: outputs}
		if err := s.send(ctx, msg); err != nil {
			return err
		}
	}
	if len(task.Consumers) == 0 {
		s.mu.Lock()
		maps.Copy(s.results, outputs)
		s.mu.Unlock()
	}
	return s.counters.Decrease(RunningActorCnt)
}
