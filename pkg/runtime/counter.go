package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gomlx/jobflow/pkg/support/xsync"
	"github.com/pkg/errors"
)

// Names of the counters used by the runtime.
const (
	// ConstructingActorCnt counts the actor construction acknowledgements still expected.
	ConstructingActorCnt = "constructing_actor_cnt"

	// RunningActorCnt counts the local actors that haven't fired yet.
	RunningActorCnt = "running_actor_cnt"
)

// Counters is the registry of the named counters of a session, used to synchronize on actor events.
type Counters struct {
	mu       sync.Mutex
	counters map[string]*counter
}

type counter struct {
	*xsync.DynamicWaitGroup
	initial int64
}

func newCounters() *Counters {
	return &Counters{counters: make(map[string]*counter)}
}

// New creates the counter name with the given value. A counter can only be recreated once it reached zero.
func (c *Counters) New(name string, value int) error {
	if value < 0 {
		return errors.Errorf("counter %q can't start negative (%d)", name, value)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters == nil {
		return errors.Errorf("counters are closed, can't create %q", name)
	}
	if existing, found := c.counters[name]; found && existing.Count() > 0 {
		return errors.Errorf("counter %q already exists with value %d", name, existing.Count())
	}
	wg := xsync.NewDynamicWaitGroup()
	wg.Add(value)
	c.counters[name] = &counter{DynamicWaitGroup: wg, initial: int64(value)}
	return nil
}

func (c *Counters) get(name string) (*counter, error) {
	wg, found := c.counters[name]
	if !found {
		return nil, errors.Errorf("unknown counter %q", name)
	}
	return wg, nil
}

// Decrease counter name by one. It fails if the counter is already zero.
func (c *Counters) Decrease(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wg, err := c.get(name)
	if err != nil {
		return err
	}
	if wg.Count() <= 0 {
		return errors.Errorf("counter %q decreased below zero", name)
	}
	wg.Done()
	return nil
}

// Increase counter name by one.
func (c *Counters) Increase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wg, err := c.get(name)
	if err != nil {
		return err
	}
	wg.Add(1)
	return nil
}

// Value of counter name.
func (c *Counters) Value(name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wg, err := c.get(name)
	if err != nil {
		return 0, err
	}
	return wg.Count(), nil
}

// Initial value of counter name, as given to New.
func (c *Counters) Initial(name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wg, err := c.get(name)
	if err != nil {
		return 0, err
	}
	return wg.initial, nil
}

// WaitUntilZero blocks until counter name reaches zero, ctx is done or timeout (if > 0) elapses.
// It returns the value left when it gave up.
func (c *Counters) WaitUntilZero(ctx context.Context, name string, timeout time.Duration) (int64, error) {
	c.mu.Lock()
	wg, err := c.get(name)
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return wg.WaitContext(ctx, timeout)
}

func (c *Counters) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = nil
}

// ConstructionTimeoutError is returned when a counter doesn't reach zero in time, typically because some
// actors failed to construct.
type ConstructionTimeoutError struct {
	Counter   string
	Remaining int64
	Timeout   time.Duration

	// Cause is the context error that ended the wait.
	Cause error

	// Failures recorded by the session so far.
	Failures []error
}

// Error implements error.
func (e *ConstructionTimeoutError) Error() string {
	msg := fmt.Sprintf("counter %q still at %d after waiting", e.Counter, e.Remaining)
	if e.Timeout > 0 {
		msg = fmt.Sprintf("%s %s", msg, e.Timeout)
	}
	msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	if len(e.Failures) > 0 {
		msg = fmt.Sprintf("%s; %d failure(s), first: %v", msg, len(e.Failures), e.Failures[0])
	}
	return msg
}

// Unwrap returns the context error that ended the wait.
func (e *ConstructionTimeoutError) Unwrap() error { return e.Cause }
