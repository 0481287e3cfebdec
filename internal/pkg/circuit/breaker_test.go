package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	b := New("test", 2, time.Minute)
	b.now = func() time.Time { return now }
	boom := errors.New("boom")

	assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, b.State())

	called := false
	assert.ErrorIs(t, b.Do(func() error { called = true; return nil }), ErrOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, b.State(), "failed half-open call reopens")

	now = now.Add(2 * time.Minute)
	assert.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b := New("test", 1, time.Minute)
	assert.ErrorIs(t, b.Do(func() error { return context.Canceled }), context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}
