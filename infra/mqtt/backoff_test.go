package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectBackOffIsMonotonicAndCapped(t *testing.T) {
	jitter := 0.5
	cfg := Config{ReconnectMinMS: 10, ReconnectMaxMS: 200, ReconnectJitter: &jitter}
	b := NewReconnectBackOff(cfg)

	first := b.NextBackOff()
	assert.GreaterOrEqual(t, first, 5*time.Millisecond)
	assert.LessOrEqual(t, first, 15*time.Millisecond)

	prev := first
	for i := 0; i < 60; i++ {
		d := b.NextBackOff()
		require.GreaterOrEqual(t, d, prev, "interval %d shrank", i)
		require.LessOrEqual(t, d, 200*time.Millisecond, "interval %d above cap", i)
		prev = d
	}
	assert.Equal(t, 200*time.Millisecond, prev)

	b.Reset()
	assert.LessOrEqual(t, b.NextBackOff(), 15*time.Millisecond)
}

func TestReconnectBackOffWithoutJitterDoubles(t *testing.T) {
	cfg := Config{ReconnectMinMS: 10, ReconnectMaxMS: 50}
	b := NewReconnectBackOff(cfg)
	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
		50 * time.Millisecond,
	}, got)
}

func TestReconnectJitterCanBeDisabled(t *testing.T) {
	none := 0.0
	cfg := Config{Broker: "tcp://x:1", ReconnectMinMS: 10, ReconnectMaxMS: 50, ReconnectJitter: &none}
	cfg.SetDefaults()
	require.NotNil(t, cfg.ReconnectJitter)
	assert.Zero(t, *cfg.ReconnectJitter)
	require.NoError(t, cfg.Validate())

	b := NewReconnectBackOff(cfg)
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, b.NextBackOff())

	unset := Config{Broker: "tcp://x:1"}
	unset.SetDefaults()
	require.NotNil(t, unset.ReconnectJitter)
	assert.Equal(t, 0.2, *unset.ReconnectJitter)

	bad := 1.5
	unset.ReconnectJitter = &bad
	assert.Error(t, unset.Validate())
}
