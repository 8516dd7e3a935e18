package strategy

import "testing"

func TestStateMachineFullCycle(t *testing.T) {
	sm := NewStateMachine("")
	if sm.State() != StateIdle {
		t.Fatalf("expected %s, got %s", StateIdle, sm.State())
	}
	for _, next := range []Lifecycle{StateEvaluating, StateEntering, StateActive, StateMonitoring, StateActive, StateExiting, StateIdle} {
		if err := sm.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
		if sm.State() != next {
			t.Fatalf("expected %s, got %s", next, sm.State())
		}
	}
}

func TestStateMachineRejectsIllegalEdges(t *testing.T) {
	cases := []struct{ from, to Lifecycle }{
		{StateIdle, StateEntering},
		{StateIdle, StateExiting},
		{StateEvaluating, StateActive},
		{StateEntering, StateEvaluating},
		{StateExiting, StateActive},
		{StateDegraded, StateEntering},
		{StateDegraded, StateExiting},
	}
	for _, tc := range cases {
		sm := NewStateMachine(tc.from)
		if err := sm.Transition(tc.to); err == nil {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
		if sm.State() != tc.from {
			t.Fatalf("rejected transition changed state to %s", sm.State())
		}
	}
}

func TestStateMachineSelfTransitionIsNoop(t *testing.T) {
	sm := NewStateMachine(StateDegraded)
	if err := sm.Transition(StateDegraded); err != nil {
		t.Fatalf("self transition: %v", err)
	}
}

func TestDegradedReachability(t *testing.T) {
	for _, s := range []Lifecycle{StateIdle, StateEntering, StateActive, StateMonitoring, StateExiting} {
		if !CanTransition(s, StateDegraded) {
			t.Fatalf("%s must be able to degrade", s)
		}
	}
	if CanTransition(StateEvaluating, StateDegraded) {
		t.Fatalf("evaluating has no venue exposure and returns to idle instead")
	}
}

func TestEnteringCanFallBackToIdle(t *testing.T) {
	sm := NewStateMachine(StateEntering)
	if err := sm.Transition(StateIdle); err != nil {
		t.Fatalf("entering with nothing submitted must return to idle: %v", err)
	}
}

func TestRestoreBypassesTable(t *testing.T) {
	sm := NewStateMachine(StateIdle)
	sm.Restore(StateMonitoring)
	if sm.State() != StateMonitoring {
		t.Fatalf("expected restored state %s, got %s", StateMonitoring, sm.State())
	}
}
