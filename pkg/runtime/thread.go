package runtime

import (
	"context"
	"slices"
	"sync"

	"github.com/gomlx/jobflow/pkg/plan"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Thread owns a disjoint subset of the tasks of a machine, and processes the messages addressed to them
// in its own goroutine.
type Thread struct {
	id      int
	session *Session

	mu    sync.Mutex
	tasks map[plan.TaskID]*plan.Task
	queue []Msg

	notify chan struct{}

	// actors are only accessed by the thread's goroutine.
	actors map[plan.TaskID]*Actor
}

// ID of the thread within its machine.
func (t *Thread) ID() int { return t.id }

// AddTask registers a task to be constructed by this thread. It must be called before the CmdConstructActor
// of the task is sent.
func (t *Thread) AddTask(task *plan.Task) error {
	if task.ThreadID != t.id {
		return errors.Errorf("task %s belongs to thread %d, not %d", task.TaskID, task.ThreadID, t.id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, found := t.tasks[task.TaskID]; found {
		return errors.Errorf("task %s added twice to thread %d", task.TaskID, t.id)
	}
	t.tasks[task.TaskID] = task
	return nil
}

func (t *Thread) registered(id plan.TaskID) (*plan.Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, found := t.tasks[id]
	return task, found
}

func (t *Thread) enqueue(msg Msg) {
	t.mu.Lock()
	t.queue = append(t.queue, msg)
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *Thread) drain() []Msg {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.queue
	t.queue = nil
	return msgs
}

// run processes messages until ctx is done. An error stops the thread, and with it the session's other
// threads.
func (t *Thread) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.notify:
		}
		for _, msg := range t.drain() {
			if err := t.handle(ctx, msg); err != nil {
				return errors.WithMessagef(err, "thread %d", t.id)
			}
		}
	}
}

func (t *Thread) handle(ctx context.Context, msg Msg) error {
	s := t.session
	if msg.Kind == MsgKindCmd && msg.Cmd == CmdConstructActor {
		t.construct(msg.Dst)
		return nil
	}
	actor, found := t.actors[msg.Dst]
	if !found {
		return errors.Errorf("%s: actor of task %s not constructed", msg, msg.Dst)
	}
	if actor.IsPassive() {
		klog.V(2).Infof("runtime: passive actor %s dropped %s", actor.ID(), msg)
		return nil
	}
	switch msg.Kind {
	case MsgKindCmd:
		if msg.Cmd != CmdStart {
			return errors.Errorf("%s: unknown command", msg)
		}
		if !actor.IsSource() {
			return errors.Errorf("%s: actor is not a source", msg)
		}
	case MsgKindData:
		if !actor.receive(msg.Blobs) {
			return nil
		}
	}
	return s.fire(ctx, actor)
}

// construct builds the actor of task id and acknowledges it. Failures are recorded and not acknowledged.
func (t *Thread) construct(id plan.TaskID) {
	s := t.session
	if _, found := t.actors[id]; found {
		s.recordFailure(errors.Errorf("actor of task %s constructed twice", id))
		return
	}
	var actor *Actor
	task, found := t.registered(id)
	if !found {
		actor = newPassiveActor(id)
		s.metrics.constructed.WithLabelValues("passive").Inc()
	} else {
		var err error
		actor, err = newActor(task, s.opts.Kernels)
		if err != nil {
			s.recordFailure(errors.WithMessagef(err, "constructing actor of task %s", id))
			return
		}
		s.metrics.constructed.WithLabelValues("kernel").Inc()
	}
	t.actors[id] = actor
	klog.V(2).Infof("runtime: thread %d constructed actor %s (passive=%v)", t.id, id, actor.IsPassive())
	if err := s.counters.Decrease(ConstructingActorCnt); err != nil {
		s.recordFailure(errors.WithMessagef(err, "acknowledging actor of task %s", id))
	}
}

// ThreadManager creates the threads of a machine on demand, each running in its own goroutine.
type ThreadManager struct {
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group

	mu      sync.Mutex
	threads map[int]*Thread
	closed  bool
}

func newThreadManager(s *Session) *ThreadManager {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &ThreadManager{
		session: s,
		ctx:     ctx,
		cancel:  cancel,
		group:   group,
		threads: make(map[int]*Thread),
	}
}

// Thread returns the thread with the given id, starting it if needed.
func (m *ThreadManager) Thread(id int) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.Errorf("thread manager is closed, can't get thread %d", id)
	}
	if t, found := m.threads[id]; found {
		return t, nil
	}
	t := &Thread{
		id:      id,
		session: m.session,
		tasks:   make(map[plan.TaskID]*plan.Task),
		notify:  make(chan struct{}, 1),
		actors:  make(map[plan.TaskID]*Actor),
	}
	m.threads[id] = t
	m.group.Go(func() error {
		err := t.run(m.ctx)
		if err != nil {
			m.session.recordFailure(err)
		}
		return err
	})
	klog.V(1).Infof("runtime: started thread %d of machine %d", id, m.session.MachineID())
	return t, nil
}

// AddTask registers the task on the thread given by its ThreadID.
func (m *ThreadManager) AddTask(task *plan.Task) error {
	if task.MachineID != m.session.MachineID() {
		return errors.Errorf("task %s of machine %d can't be added to machine %d",
			task.TaskID, task.MachineID, m.session.MachineID())
	}
	if task.ThreadID < 0 {
		return errors.Errorf("task %s has invalid thread id %d", task.TaskID, task.ThreadID)
	}
	t, err := m.Thread(task.ThreadID)
	if err != nil {
		return err
	}
	return t.AddTask(task)
}

// IDs returns the sorted ids of the started threads.
func (m *ThreadManager) IDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.threads))
	for id := range m.threads {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Done is closed when the threads stop, either because one failed or because the manager was closed.
func (m *ThreadManager) Done() <-chan struct{} { return m.ctx.Done() }

// close stops the threads and waits for them. It returns the first error of a thread.
func (m *ThreadManager) close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	return m.group.Wait()
}
