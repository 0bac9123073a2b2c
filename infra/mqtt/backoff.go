package mqtt

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// monotonicBackOff clamps a jittered exponential backoff so that successive
// intervals never shrink and never exceed max.
type monotonicBackOff struct {
	inner backoff.BackOff
	max   time.Duration
	last  time.Duration
}

func (m *monotonicBackOff) NextBackOff() time.Duration {
	d := m.inner.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if d > m.max {
		d = m.max
	}
	if d < m.last {
		d = m.last
	}
	m.last = d
	return d
}

func (m *monotonicBackOff) Reset() {
	m.inner.Reset()
	m.last = 0
}

// NewReconnectBackOff returns the reconnect policy of cfg: exponential from
// ReconnectMinMS, doubling, randomized by ReconnectJitter, capped at
// ReconnectMaxMS and non-decreasing.
func NewReconnectBackOff(cfg Config) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(cfg.ReconnectMinMS) * time.Millisecond
	eb.Multiplier = 2
	eb.MaxInterval = time.Duration(cfg.ReconnectMaxMS) * time.Millisecond
	eb.RandomizationFactor = cfg.jitter()
	eb.MaxElapsedTime = time.Duration(cfg.ReconnectMaxElapsedMS) * time.Millisecond
	eb.Reset()
	return &monotonicBackOff{inner: eb, max: eb.MaxInterval}
}
