package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type counter struct {
	n int
}

func stateEven(c *counter) StateFn[counter] {
	c.n++
	return stateOdd
}

func stateOdd(c *counter) StateFn[counter] {
	c.n++
	return stateEven
}

func stateHalt(c *counter) StateFn[counter] {
	return nil
}

func TestDispatchFollowsReturnedState(t *testing.T) {
	c := &counter{}
	m := New(c, stateEven)
	m.Dispatch(stateEven)
	m.Dispatch(m.Current())
	assert.Equal(t, 2, c.n)
}

func TestSetReplacesWithoutRunning(t *testing.T) {
	c := &counter{}
	m := New(c, stateEven)
	m.Set(stateHalt)
	assert.Equal(t, 0, c.n)
	m.Dispatch(m.Current())
	assert.Nil(t, m.Current())
}
