package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(Config{
		FailureThreshold: threshold,
		OpenTimeout:      time.Minute,
		MaxOpenTimeout:   5 * time.Minute,
	})
	b.now = clock.now
	return b, clock
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(2)
	ctx := context.Background()

	assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(2)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	require.NoError(t, b.Execute(ctx, succeed))
	_ = b.Execute(ctx, fail)

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.advance(time.Minute)

	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, time.Minute, b.Stats().OpenTimeout)
}

func TestBreaker_EscalatesOpenTimeout(t *testing.T) {
	b, clock := newTestBreaker(1)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	assert.Equal(t, time.Minute, b.Stats().OpenTimeout)

	want := []time.Duration{2 * time.Minute, 4 * time.Minute, 5 * time.Minute, 5 * time.Minute}
	for _, timeout := range want {
		clock.advance(b.Stats().OpenTimeout)
		assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
		assert.Equal(t, StateOpen, b.State())
		assert.Equal(t, timeout, b.Stats().OpenTimeout)

		clock.advance(timeout - time.Second)
		assert.ErrorIs(t, b.Execute(ctx, succeed), ErrCircuitOpen)
		clock.advance(-(timeout - time.Second))
	}

	clock.advance(5 * time.Minute)
	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, time.Minute, b.Stats().OpenTimeout)
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	b, _ := newTestBreaker(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	b := New(Config{
		FailureThreshold: 1,
		OpenTimeout:      time.Minute,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(context.Background(), fail)

	assert.Equal(t, []string{"closed->open"}, transitions)
}
