package workflow

import "fmt"

// Lifecycle is an immutable transition table. It holds no current state:
// callers pass the persisted status and receive the next one.
type Lifecycle struct {
	name        string
	states      map[State]bool
	transitions map[State]map[Trigger]State
}

// Name returns the lifecycle name
func (l *Lifecycle) Name() string {
	return l.name
}

// IsValid reports whether s belongs to the lifecycle
func (l *Lifecycle) IsValid(s State) bool {
	return l.states[s]
}

// IsTerminal reports whether s has no outgoing transitions
func (l *Lifecycle) IsTerminal(s State) bool {
	return l.states[s] && len(l.transitions[s]) == 0
}

// CanFire reports whether trigger is permitted from s
func (l *Lifecycle) CanFire(s State, trigger Trigger) bool {
	_, ok := l.transitions[s][trigger]
	return ok
}

// Fire returns the state reached by applying trigger to from
func (l *Lifecycle) Fire(from State, trigger Trigger) (State, error) {
	if !l.states[from] {
		return "", fmt.Errorf("%w: %s state %q", ErrInvalidState, l.name, from)
	}
	to, ok := l.transitions[from][trigger]
	if !ok {
		return "", fmt.Errorf("%w: %s cannot fire %s from %s", ErrInvalidTransition, l.name, trigger, from)
	}
	return to, nil
}

// PermittedTriggers returns all triggers that can be fired from s
func (l *Lifecycle) PermittedTriggers(s State) []Trigger {
	triggers := make([]Trigger, 0, len(l.transitions[s]))
	for trigger := range l.transitions[s] {
		triggers = append(triggers, trigger)
	}
	return triggers
}

// RequestLifecycle: pending -> {approved, rejected, cancelled, escalated}, all terminal
var RequestLifecycle = func() *Lifecycle {
	b := NewBuilder("request", RequestPending, RequestApproved, RequestRejected, RequestEscalated, RequestCancelled)
	b.Configure(RequestPending).
		Permit(TriggerApprove, RequestApproved).
		Permit(TriggerReject, RequestRejected).
		Permit(TriggerCancel, RequestCancelled).
		Permit(TriggerEscalate, RequestEscalated)
	return b.Build()
}()

// TaskLifecycle: pending -> {approved, rejected, cancelled}, all terminal
var TaskLifecycle = func() *Lifecycle {
	b := NewBuilder("task", TaskPending, TaskApproved, TaskRejected, TaskCancelled)
	b.Configure(TaskPending).
		Permit(TriggerApprove, TaskApproved).
		Permit(TriggerReject, TaskRejected).
		Permit(TriggerCancel, TaskCancelled)
	return b.Build()
}()
