package client

import (
	"time"

	"github.com/kilianp07/vda5050/core/metrics"
	"github.com/kilianp07/vda5050/core/monitoring"
	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/core/validation"
	"github.com/kilianp07/vda5050/infra/journal"
	"github.com/kilianp07/vda5050/infra/logger"
)

type options struct {
	log       logger.Logger
	monitor   monitoring.Monitor
	metrics   metrics.MetricsSink
	journal   journal.Store
	validator *validation.Validator
	kinds     protocol.KindTable
	now       func() time.Time
}

// Option customizes a client.
type Option func(*options)

// WithLogger replaces the component logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = logger.OrNop(l) }
}

// WithMonitor reports handler failures to m.
func WithMonitor(m monitoring.Monitor) Option {
	return func(o *options) { o.monitor = m }
}

// WithMetrics records deliveries, publishes and drops to s.
func WithMetrics(s metrics.MetricsSink) Option {
	return func(o *options) { o.metrics = s }
}

// WithJournal appends every sent and accepted message to s.
func WithJournal(s journal.Store) Option {
	return func(o *options) { o.journal = s }
}

// WithValidator overrides the validator built from Config.
func WithValidator(v *validation.Validator) Option {
	return func(o *options) { o.validator = v }
}

// WithKindTable replaces the VDA5050 2.x kind table.
func WithKindTable(t protocol.KindTable) Option {
	return func(o *options) { o.kinds = t }
}

// WithClock sets the time source for header timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
