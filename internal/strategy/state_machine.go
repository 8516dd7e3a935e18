package strategy

import (
	"fmt"
	"sync"
)

var transitions = map[Lifecycle][]Lifecycle{
	StateIdle:       {StateEvaluating, StateActive, StateDegraded},
	StateEvaluating: {StateIdle, StateEntering},
	StateEntering:   {StateActive, StateDegraded, StateIdle},
	StateActive:     {StateMonitoring, StateExiting, StateDegraded, StateIdle},
	StateMonitoring: {StateActive, StateExiting, StateDegraded},
	StateExiting:    {StateIdle, StateDegraded},
	StateDegraded:   {StateIdle, StateActive},
}

// CanTransition reports whether the lifecycle allows moving from one state to another.
// IDLE -> ACTIVE and DEGRADED -> * exist only for reconciliation against live reads.
// ENTERING -> IDLE is taken only when no leg was submitted.
func CanTransition(from, to Lifecycle) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type StateMachine struct {
	mu    sync.Mutex
	state Lifecycle
}

func NewStateMachine(initial Lifecycle) *StateMachine {
	if initial == "" {
		initial = StateIdle
	}
	return &StateMachine{state: initial}
}

func (s *StateMachine) State() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) Transition(to Lifecycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == to {
		return nil
	}
	if !CanTransition(s.state, to) {
		return fmt.Errorf("illegal lifecycle transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

// Restore sets the state without checking the transition table. It is reserved for
// reconciliation, where live venue reads decide the state.
func (s *StateMachine) Restore(to Lifecycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = to
}
