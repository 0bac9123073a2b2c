package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/kilianp07/vda5050/core/mqtt"
	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/core/topic"
)

var errBrokerDown = errors.New("broker unavailable")

type subscription struct {
	pattern string
	qos     mqtt.QoS
	handler mqtt.DeliveryHandler
}

// Transport is a session on an in-process Broker. It implements
// mqtt.Transport and mqtt.WillConfigurer.
type Transport struct {
	broker   *Broker
	clientID string

	mu    sync.Mutex
	state mqtt.ConnectionState
	subs  []subscription
	will  *Publication

	// inMu keeps deliveries to this session in routing order.
	inMu sync.Mutex

	obsMu     sync.RWMutex
	observers []func(from, to mqtt.ConnectionState)
}

var (
	_ mqtt.Transport      = (*Transport)(nil)
	_ mqtt.WillConfigurer = (*Transport)(nil)
)

// State reports the session state.
func (t *Transport) State() mqtt.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnStateChange registers fn for every transition.
func (t *Transport) OnStateChange(fn func(from, to mqtt.ConnectionState)) {
	t.obsMu.Lock()
	t.observers = append(t.observers, fn)
	t.obsMu.Unlock()
}

func (t *Transport) transition(to mqtt.ConnectionState) mqtt.ConnectionState {
	t.mu.Lock()
	from := t.state
	t.state = to
	t.mu.Unlock()
	if from != to {
		t.obsMu.RLock()
		obs := t.observers
		t.obsMu.RUnlock()
		for _, fn := range obs {
			fn(from, to)
		}
	}
	return from
}

// SetWill sets the publication the broker routes when the session is
// dropped with Drop.
func (t *Transport) SetWill(topic string, payload []byte, qos mqtt.QoS, retain bool) {
	t.mu.Lock()
	t.will = &Publication{ClientID: t.clientID, Topic: topic, Payload: payload, QoS: qos, Retained: retain}
	t.mu.Unlock()
}

// Connect attaches the session to the broker.
func (t *Transport) Connect(context.Context) error {
	if s := t.State(); s != mqtt.Disconnected {
		return mqtt.ErrAlreadyConnected
	}
	t.transition(mqtt.Connecting)
	if err := t.broker.attach(t); err != nil {
		t.transition(mqtt.Disconnected)
		return err
	}
	t.transition(mqtt.Connected)
	return nil
}

// Disconnect detaches the session without publishing the will.
func (t *Transport) Disconnect(context.Context) error {
	from := t.State()
	if from == mqtt.Disconnected {
		return nil
	}
	t.transition(mqtt.Disconnecting)
	t.broker.detach(t)
	t.mu.Lock()
	t.subs = nil
	t.mu.Unlock()
	t.transition(mqtt.Disconnected)
	return nil
}

// Drop simulates an unexpected connection loss: the session moves to
// Reconnecting and the broker publishes its will.
func (t *Transport) Drop() {
	if t.State() != mqtt.Connected {
		return
	}
	t.broker.detach(t)
	t.transition(mqtt.Reconnecting)
	t.mu.Lock()
	w := t.will
	t.mu.Unlock()
	if w != nil {
		t.broker.route(*w)
	}
}

// Restore reattaches a dropped session and replays retained messages for
// its subscriptions, like a clean-session reconnect with resubscribe.
func (t *Transport) Restore() error {
	if t.State() != mqtt.Reconnecting {
		return errors.New("broker: session is not reconnecting")
	}
	if err := t.broker.attach(t); err != nil {
		return err
	}
	t.transition(mqtt.Connected)
	t.mu.Lock()
	subs := append([]subscription(nil), t.subs...)
	t.mu.Unlock()
	for _, s := range subs {
		t.replay(s)
	}
	return nil
}

// Publish routes payload through the broker.
func (t *Transport) Publish(_ context.Context, tp string, payload []byte, qos mqtt.QoS, retain bool) error {
	if t.State() != mqtt.Connected {
		return protocol.ErrNotConnected
	}
	t.broker.route(Publication{
		ClientID: t.clientID,
		Topic:    tp,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retained: retain,
	})
	return nil
}

// Subscribe registers h for pattern and delivers matching retained
// messages to it with the Retained flag set.
func (t *Transport) Subscribe(_ context.Context, pattern string, qos mqtt.QoS, h mqtt.DeliveryHandler) error {
	if t.State() != mqtt.Connected {
		return protocol.ErrNotConnected
	}
	s := subscription{pattern: pattern, qos: qos, handler: h}
	t.mu.Lock()
	replaced := false
	for i := range t.subs {
		if t.subs[i].pattern == pattern {
			t.subs[i] = s
			replaced = true
		}
	}
	if !replaced {
		t.subs = append(t.subs, s)
	}
	t.mu.Unlock()
	t.replay(s)
	return nil
}

func (t *Transport) replay(s subscription) {
	t.inMu.Lock()
	defer t.inMu.Unlock()
	for _, p := range t.broker.retainedFor(s.pattern) {
		s.handler(mqtt.Delivery{Topic: p.Topic, Payload: p.Payload, QoS: minQoS(p.QoS, s.qos), Retained: true})
	}
}

func (t *Transport) deliver(d mqtt.Delivery) {
	t.mu.Lock()
	var matched []subscription
	for _, s := range t.subs {
		if topic.Matches(s.pattern, d.Topic) {
			matched = append(matched, s)
		}
	}
	t.mu.Unlock()
	if len(matched) == 0 {
		return
	}
	t.inMu.Lock()
	defer t.inMu.Unlock()
	for _, s := range matched {
		out := d
		out.QoS = minQoS(d.QoS, s.qos)
		s.handler(out)
	}
}

func minQoS(a, b mqtt.QoS) mqtt.QoS {
	if a < b {
		return a
	}
	return b
}
