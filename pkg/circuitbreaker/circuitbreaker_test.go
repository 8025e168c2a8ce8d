package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failure")

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("llm", Settings{FailureThreshold: 2})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return errUpstream }), errUpstream)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	clock := time.Now()
	var transitions []State
	b := New("llm", Settings{
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
		OnStateChange:    func(_ string, _, to State) { transitions = append(transitions, to) },
	})
	b.now = func() time.Time { return clock }

	_ = b.Execute(func() error { return errUpstream })
	require.Equal(t, StateOpen, b.State())

	clock = clock.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	b := New("llm", Settings{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errUpstream) },
	})
	_ = b.Execute(func() error { return errUpstream })
	assert.Equal(t, StateClosed, b.State())
}

func TestCall(t *testing.T) {
	b := New("llm", Settings{})
	got, err := Call(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}
