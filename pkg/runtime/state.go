package runtime

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// MachineState is the lifecycle state of the runtime of one machine.
type MachineState int32

//go:generate go tool enumer -type MachineState -trimprefix=State -output=gen_machinestate_enumer.go state.go

const (
	StateUninitialized MachineState = iota
	StateConstructing
	StateRunning
	StateCompleted
	StateTornDown
)

var stateTransitions = map[MachineState][]MachineState{
	StateUninitialized: {StateConstructing, StateTornDown},
	StateConstructing:  {StateRunning, StateTornDown},
	StateRunning:       {StateCompleted, StateTornDown},
	StateCompleted:     {StateTornDown},
}

// CanTransitionTo returns whether the machine can move from s to the given state. StateTornDown is terminal.
func (s MachineState) CanTransitionTo(to MachineState) bool {
	return slices.Contains(stateTransitions[s], to)
}

// IllegalTransitionError is returned when the machine is asked to move to a state it can't reach from
// its current one.
type IllegalTransitionError struct {
	From, To MachineState
}

// Error implements error.
func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal machine state transition from %s to %s", e.From, e.To)
}

// stateMachine holds the MachineState, safe for concurrent use.
type stateMachine struct {
	state    atomic.Int32
	onChange func(MachineState)
}

func (m *stateMachine) Load() MachineState {
	return MachineState(m.state.Load())
}

// Transition moves the machine to the given state, or returns an *IllegalTransitionError.
func (m *stateMachine) Transition(to MachineState) error {
	for {
		from := m.Load()
		if !from.CanTransitionTo(to) {
			return errors.WithStack(&IllegalTransitionError{From: from, To: to})
		}
		if m.state.CompareAndSwap(int32(from), int32(to)) {
			if m.onChange != nil {
				m.onChange(to)
			}
			return nil
		}
	}
}
