package mqtt

import (
	"context"
	"time"
)

// QoS is the MQTT delivery guarantee level.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

// Delivery is one message received from the broker.
type Delivery struct {
	Topic     string
	Payload   []byte
	QoS       QoS
	Retained  bool
	Duplicate bool
	Received  time.Time
}

// DeliveryHandler consumes deliveries in the order the transport provides
// them. It should return quickly; long work belongs to the dispatcher lanes.
type DeliveryHandler func(Delivery)

// Transport is the publish/subscribe capability the protocol engine needs.
// The connection handle is owned by the implementation; publish calls from
// multiple goroutines are serialized internally.
type Transport interface {
	// Connect performs a single connection attempt. A failure is returned as
	// *protocol.ConnectionError and is not retried.
	Connect(ctx context.Context) error

	// Disconnect cancels any reconnection in progress, removes every
	// subscription and closes the session. No background activity of the
	// transport survives its return.
	Disconnect(ctx context.Context) error

	// Publish sends payload to topic. It fails with protocol.ErrNotConnected
	// unless the transport is Connected; nothing is queued.
	Publish(ctx context.Context, topic string, payload []byte, qos QoS, retain bool) error

	// Subscribe registers interest in pattern. The subscription survives
	// reconnects until Disconnect.
	Subscribe(ctx context.Context, pattern string, qos QoS, h DeliveryHandler) error

	// State reports the current connection state.
	State() ConnectionState

	// OnStateChange registers an observer called on every transition.
	OnStateChange(func(from, to ConnectionState))
}

// WillConfigurer is implemented by transports that support an MQTT last
// will. SetWill takes effect on the next Connect.
type WillConfigurer interface {
	SetWill(topic string, payload []byte, qos QoS, retain bool)
}
