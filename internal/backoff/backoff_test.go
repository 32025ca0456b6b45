package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSequence(t *testing.T) {
	b := New(Config{Initial: time.Second, Max: 10 * time.Second, Jitter: -1})

	var got []time.Duration
	for range 6 {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}, got)
	assert.Equal(t, 6, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, time.Second, b.Current())
}

func TestBackoffJitterBounds(t *testing.T) {
	b := New(Config{Initial: 100 * time.Millisecond, Max: time.Second, Jitter: 0.5})
	b.rand = func() float64 { return 1 }

	assert.Equal(t, 150*time.Millisecond, b.Next())
	assert.Equal(t, 300*time.Millisecond, b.Next())
}

func TestBackoffDefaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, DefaultInitial, b.Current())
	assert.Equal(t, DefaultMax, b.max)
	assert.Equal(t, DefaultMultiplier, b.multiplier)
	assert.Equal(t, DefaultJitter, b.jitter)

	// Max below Initial is raised to Initial.
	b = New(Config{Initial: 5 * time.Second, Max: time.Second, Jitter: -1})
	b.Next()
	assert.Equal(t, 5*time.Second, b.Current())
}

func TestBackoffWait(t *testing.T) {
	b := New(Config{Initial: time.Millisecond, Jitter: -1})
	require.NoError(t, b.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b = New(Config{Initial: time.Hour, Jitter: -1})
	assert.ErrorIs(t, b.Wait(ctx), context.Canceled)
}
