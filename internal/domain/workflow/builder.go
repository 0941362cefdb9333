package workflow

import "fmt"

// Builder collects transitions for a Lifecycle
type Builder struct {
	name        string
	states      map[State]bool
	transitions map[State]map[Trigger]State
}

// StateConfiguration configures transitions leaving one state
type StateConfiguration struct {
	builder *Builder
	from    State
}

// NewBuilder creates a builder for a lifecycle with the given states
func NewBuilder(name string, states ...State) *Builder {
	b := &Builder{
		name:        name,
		states:      make(map[State]bool, len(states)),
		transitions: make(map[State]map[Trigger]State),
	}
	for _, s := range states {
		b.states[s] = true
	}
	return b
}

// Configure returns the configuration for transitions leaving state
func (b *Builder) Configure(state State) *StateConfiguration {
	b.mustKnow(state)
	if _, ok := b.transitions[state]; !ok {
		b.transitions[state] = make(map[Trigger]State)
	}
	return &StateConfiguration{builder: b, from: state}
}

// Permit allows trigger to move the configured state to toState
func (c *StateConfiguration) Permit(trigger Trigger, toState State) *StateConfiguration {
	c.builder.mustKnow(toState)
	c.builder.transitions[c.from][trigger] = toState
	return c
}

// Build freezes the configuration. States without outgoing transitions are terminal.
func (b *Builder) Build() *Lifecycle {
	transitions := make(map[State]map[Trigger]State, len(b.transitions))
	for from, byTrigger := range b.transitions {
		copied := make(map[Trigger]State, len(byTrigger))
		for trigger, to := range byTrigger {
			copied[trigger] = to
		}
		transitions[from] = copied
	}

	states := make(map[State]bool, len(b.states))
	for s := range b.states {
		states[s] = true
	}

	return &Lifecycle{name: b.name, states: states, transitions: transitions}
}

func (b *Builder) mustKnow(s State) {
	if !b.states[s] {
		panic(fmt.Sprintf("%s: unknown state %q", b.name, s))
	}
}
