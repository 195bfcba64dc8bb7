package voker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminator_RunsInReverseOrder(t *testing.T) {
	term := NewTerminator()

	var order []int
	term.Register(func() error { order = append(order, 1); return nil })
	term.Register(func() error { order = append(order, 2); return nil })
	term.Register(func() error { order = append(order, 3); return nil })

	require.NoError(t, term.Run())
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestTerminator_AggregatesErrors(t *testing.T) {
	term := NewTerminator()

	errA := errors.New("a failed")
	errB := errors.New("b failed")

	term.Register(func() error { return errA })
	term.Register(func() error { return nil })
	term.Register(func() error { return errB })

	err := term.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestTerminator_Deregister_SkipsHook(t *testing.T) {
	term := NewTerminator()

	var ran bool
	deregister := term.Register(func() error { ran = true; return nil })
	deregister()

	require.NoError(t, term.Run())
	assert.False(t, ran)
}

func TestTerminator_EmptyRegistry_Succeeds(t *testing.T) {
	term := NewTerminator()
	assert.NoError(t, term.Run())
}
