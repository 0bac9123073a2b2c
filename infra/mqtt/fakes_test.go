package mqtt

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/vda5050/core/topic"
)

// fakeBroker hands out mockClients and scripts their connect results.
type fakeBroker struct {
	mu          sync.Mutex
	connectErrs []error
	failAlways  error
	connects    int
	clients     []*mockClient
	lastOpts    *paho.ClientOptions
}

func useFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	fb := &fakeBroker{}
	prev := newMQTTClient
	newMQTTClient = func(o *paho.ClientOptions) pahoClient {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		fb.lastOpts = o
		c := &mockClient{broker: fb, opts: o}
		fb.clients = append(fb.clients, c)
		return c
	}
	t.Cleanup(func() { newMQTTClient = prev })
	return fb
}

func (fb *fakeBroker) connectCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.connects
}

func (fb *fakeBroker) latest() *mockClient {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.clients[len(fb.clients)-1]
}

func (fb *fakeBroker) options() *paho.ClientOptions {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.lastOpts
}

type subRecord struct {
	topic   string
	qos     byte
	handler paho.MessageHandler
}

type pubRecord struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// mockClient implements pahoClient for tests.
type mockClient struct {
	broker *fakeBroker
	opts   *paho.ClientOptions

	mu             sync.Mutex
	connected      bool
	subscribed     []subRecord
	unsubscribed   []string
	published      []pubRecord
	publishErr     error
	unsubscribeErr error

	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockClient) Connect() paho.Token {
	fb := m.broker
	fb.mu.Lock()
	fb.connects++
	var err error
	switch {
	case fb.failAlways != nil:
		err = fb.failAlways
	case len(fb.connectErrs) > 0:
		err = fb.connectErrs[0]
		fb.connectErrs = fb.connectErrs[1:]
	}
	fb.mu.Unlock()
	if err != nil {
		return &dummyToken{err: err}
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return &dummyToken{}
}

func (m *mockClient) Disconnect(uint) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	if m.inFlight.Add(1) > 1 {
		m.overlap.Store(true)
	}
	time.Sleep(50 * time.Microsecond)
	m.inFlight.Add(-1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, pubRecord{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return &dummyToken{err: m.publishErr}
}

func (m *mockClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, subRecord{topic: topic, qos: qos, handler: cb})
	return &dummyToken{}
}

func (m *mockClient) Unsubscribe(topics ...string) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topics...)
	return &dummyToken{err: m.unsubscribeErr}
}

func (m *mockClient) subscriptions() []subRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]subRecord(nil), m.subscribed...)
}

func (m *mockClient) publishes() []pubRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pubRecord(nil), m.published...)
}

// deliver pushes a message to every matching subscription, like the broker.
func (m *mockClient) deliver(t string, payload []byte, retained bool) {
	for _, s := range m.subscriptions() {
		if topic.Matches(s.topic, t) {
			s.handler(nil, mockMessage{topic: t, p: payload, retained: retained, qos: s.qos})
		}
	}
}

// lose simulates a dropped connection.
func (m *mockClient) lose(err error) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.opts.OnConnectionLost(nil, err)
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct {
	topic    string
	p        []byte
	retained bool
	qos      byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return m.qos }
func (m mockMessage) Retained() bool    { return m.retained }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}
