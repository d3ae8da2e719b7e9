package statemachine

import (
	"sync"
)

// StateFn is a state expressed as a function: each invocation performs the
// state's work and returns the next state function, or nil to terminate.
type StateFn[T any] func(*T) StateFn[T]

// Machine drives an entity through StateFn transitions. It is safe for
// concurrent inspection; transitions themselves are expected to be serialized
// by the caller.
type Machine[T any] struct {
	entity  *T
	stateFn StateFn[T]
	mu      sync.RWMutex
}

// New creates a machine for entity starting at initial.
func New[T any](entity *T, initial StateFn[T]) *Machine[T] {
	return &Machine[T]{entity: entity, stateFn: initial}
}

// Dispatch sets the current state to stateFn, runs it once and records the
// state it returns.
func (m *Machine[T]) Dispatch(stateFn StateFn[T]) {
	m.mu.Lock()
	m.stateFn = stateFn
	m.mu.Unlock()

	if stateFn == nil {
		return
	}

	next := stateFn(m.entity)

	m.mu.Lock()
	m.stateFn = next
	m.mu.Unlock()
}

// Current returns the current state function.
func (m *Machine[T]) Current() StateFn[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateFn
}

// Set replaces the current state without running it.
func (m *Machine[T]) Set(stateFn StateFn[T]) {
	m.mu.Lock()
	m.stateFn = stateFn
	m.mu.Unlock()
}
