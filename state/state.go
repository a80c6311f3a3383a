package state

import (
	"errors"
	"fmt"
)

// Phase is a lifecycle state of an auction room.
type Phase int

const (
	Open Phase = iota
	Started
	Finished
)

func (p Phase) String() string {
	switch p {
	case Open:
		return "open"
	case Started:
		return "started"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// Machine is a table-driven state machine. Only registered transitions are
// accepted. Machine does no locking: the owner serializes every call, and
// enter hooks run inside the caller's critical section.
type Machine struct {
	current     Phase
	transitions map[Phase]map[Phase]func() bool // fromState -> toState -> condition
	onEnter     map[Phase]func(from Phase)
}

func NewMachine(initial Phase) *Machine {
	return &Machine{
		current:     initial,
		transitions: make(map[Phase]map[Phase]func() bool),
		onEnter:     make(map[Phase]func(from Phase)),
	}
}

// NewAuctionLifecycle returns a machine that only moves Open -> Started -> Finished.
func NewAuctionLifecycle() *Machine {
	m := NewMachine(Open)
	m.AddTransition(Open, Started, nil)
	m.AddTransition(Started, Finished, nil)
	return m
}

// AddTransition registers from -> to. A nil condition always allows it.
func (m *Machine) AddTransition(from, to Phase, condition func() bool) {
	if _, exists := m.transitions[from]; !exists {
		m.transitions[from] = make(map[Phase]func() bool)
	}
	m.transitions[from][to] = condition
}

// OnEnter sets the hook run after the machine enters p.
func (m *Machine) OnEnter(p Phase, hook func(from Phase)) {
	m.onEnter[p] = hook
}

func (m *Machine) Current() Phase {
	return m.current
}

// Can reports whether ChangeState(to) would succeed now.
func (m *Machine) Can(to Phase) bool {
	conditions, exists := m.transitions[m.current]
	if !exists {
		return false
	}
	condition, exists := conditions[to]
	if !exists {
		return false
	}
	return condition == nil || condition()
}

func (m *Machine) ChangeState(to Phase) error {
	if !m.Can(to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, m.current, to)
	}
	from := m.current
	m.current = to
	if hook := m.onEnter[to]; hook != nil {
		hook(from)
	}
	return nil
}
