package metrics

import (
	"time"

	"github.com/kilianp07/vda5050/core/protocol"
)

// DeliveryEvent describes one inbound message handed to the dispatcher lanes.
type DeliveryEvent struct {
	Kind         protocol.MessageKind
	Manufacturer string
	SerialNumber string
	HeaderID     uint32
	Retained     bool
	// Latency is the time between the sender's header timestamp and arrival.
	Latency time.Duration
	Time    time.Time
}

// PublishEvent describes one outbound publish attempt.
type PublishEvent struct {
	Kind         protocol.MessageKind
	Manufacturer string
	SerialNumber string
	HeaderID     uint32
	Retained     bool
	Bytes        int
	Success      bool
	Duration     time.Duration
	Time         time.Time
}

// MetricsSink records protocol traffic for observability purposes.
type MetricsSink interface {
	RecordDelivery(ev DeliveryEvent) error
	RecordPublish(ev PublishEvent) error
}

// DropEvent records an inbound delivery that never reached a handler.
type DropEvent struct {
	Kind   protocol.MessageKind
	Reason string
	Time   time.Time
}

// DropRecorder records dropped deliveries.
type DropRecorder interface {
	RecordDrop(ev DropEvent) error
}

// HandlerFailureEvent records a handler that returned an error or panicked.
type HandlerFailureEvent struct {
	Kind  protocol.MessageKind
	Panic bool
	Time  time.Time
}

// HandlerFailureRecorder records handler failures.
type HandlerFailureRecorder interface {
	RecordHandlerFailure(ev HandlerFailureEvent) error
}

// TransportEvent records a connection state transition. Attempt is the
// reconnect attempt number, zero outside of reconnection.
type TransportEvent struct {
	From    string
	To      string
	Attempt int
	Backoff time.Duration
	Time    time.Time
}

// TransportRecorder records transport lifecycle events.
type TransportRecorder interface {
	RecordTransport(ev TransportEvent) error
}

// VehicleStateEvent summarizes one state document received from a vehicle.
type VehicleStateEvent struct {
	Manufacturer  string
	SerialNumber  string
	OrderID       string
	LastNodeID    string
	Driving       bool
	BatteryCharge float64
	Errors        int
	Time          time.Time
}

// VehicleStateRecorder keeps a history of vehicle states.
type VehicleStateRecorder interface {
	RecordVehicleState(ev VehicleStateEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordDelivery(DeliveryEvent) error              { return nil }
func (NopSink) RecordPublish(PublishEvent) error                { return nil }
func (NopSink) RecordDrop(DropEvent) error                      { return nil }
func (NopSink) RecordHandlerFailure(HandlerFailureEvent) error  { return nil }
func (NopSink) RecordTransport(TransportEvent) error            { return nil }
func (NopSink) RecordVehicleState(VehicleStateEvent) error      { return nil }
