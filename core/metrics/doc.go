// Package metrics defines the events the protocol engine emits about its
// traffic and lifecycle, and the recorder interfaces sinks implement. Sinks
// are created by name through the factory registry; several configured sinks
// are combined into a MultiSink. Concrete sinks live in infra/metrics.
package metrics
