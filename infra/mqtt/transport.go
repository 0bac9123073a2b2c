package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/vda5050/auth"
	"github.com/kilianp07/vda5050/core/metrics"
	"github.com/kilianp07/vda5050/core/monitoring"
	coremqtt "github.com/kilianp07/vda5050/core/mqtt"
	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/infra/logger"
)

// pahoClient is the subset of paho.Client the transport uses.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

const disconnectQuiesceMS = 250

type subscription struct {
	pattern string
	qos     coremqtt.QoS
	handler coremqtt.DeliveryHandler
}

type will struct {
	topic   string
	payload []byte
	qos     coremqtt.QoS
	retain  bool
}

// Option customizes a Transport.
type Option func(*Transport)

// WithWill sets the MQTT last will published by the broker when the
// connection drops without a clean disconnect.
func WithWill(topic string, payload []byte, qos coremqtt.QoS, retain bool) Option {
	return func(t *Transport) {
		t.will = &will{topic: topic, payload: payload, qos: qos, retain: retain}
	}
}

// WithLogger replaces the default component logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Transport) { t.log = logger.OrNop(l) }
}

// WithMonitor reports connection faults to m.
func WithMonitor(m monitoring.Monitor) Option {
	return func(t *Transport) {
		if m != nil {
			t.monitor = m
		}
	}
}

// WithRecorder reports state transitions and reconnect attempts.
func WithRecorder(r metrics.TransportRecorder) Option {
	return func(t *Transport) { t.recorder = r }
}

// WithBackOff overrides the reconnect policy built from Config.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(t *Transport) { t.newBackOff = f }
}

// Transport implements core/mqtt.Transport on top of Eclipse Paho.
type Transport struct {
	cfg        Config
	will       *will
	log        logger.Logger
	monitor    monitoring.Monitor
	recorder   metrics.TransportRecorder
	newBackOff func() backoff.BackOff
	creds      *auth.ClientCred

	// mu guards state transitions, the client handle and the reconnect
	// loop. state is also readable without it.
	mu         sync.Mutex
	state      atomic.Int32
	client     pahoClient
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	pubMu sync.Mutex

	subMu sync.Mutex
	subs  []subscription

	obsMu     sync.RWMutex
	observers []func(from, to coremqtt.ConnectionState)
}

var (
	_ coremqtt.Transport      = (*Transport)(nil)
	_ coremqtt.WillConfigurer = (*Transport)(nil)
)

// NewTransport creates a disconnected transport. Defaults are applied to a
// copy of cfg.
func NewTransport(cfg Config, opts ...Option) (*Transport, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		cfg:     cfg,
		log:     logger.New("mqtt_transport"),
		monitor: monitoring.NopMonitor{},
	}
	for _, o := range opts {
		o(t)
	}
	if t.newBackOff == nil {
		t.newBackOff = func() backoff.BackOff { return NewReconnectBackOff(t.cfg) }
	}
	if cfg.AuthMethod == "oauth2" {
		t.creds = auth.NewClientCred(cfg.OAuth2)
	}
	return t, nil
}

// State reports the current connection state.
func (t *Transport) State() coremqtt.ConnectionState {
	return coremqtt.ConnectionState(t.state.Load())
}

// OnStateChange registers fn for every transition. fn runs on the goroutine
// causing the transition and must not block.
func (t *Transport) OnStateChange(fn func(from, to coremqtt.ConnectionState)) {
	if fn == nil {
		return
	}
	t.obsMu.Lock()
	t.observers = append(t.observers, fn)
	t.obsMu.Unlock()
}

// setState must be called with t.mu held.
func (t *Transport) setState(to coremqtt.ConnectionState) coremqtt.ConnectionState {
	return coremqtt.ConnectionState(t.state.Swap(int32(to)))
}

func (t *Transport) notify(from, to coremqtt.ConnectionState, attempt int, wait time.Duration) {
	if from == to && attempt == 0 {
		return
	}
	if t.recorder != nil {
		_ = t.recorder.RecordTransport(metrics.TransportEvent{
			From: from.String(), To: to.String(), Attempt: attempt, Backoff: wait, Time: time.Now(),
		})
	}
	if from == to {
		return
	}
	t.log.Debugf("mqtt state %s -> %s", from, to)
	t.obsMu.RLock()
	obs := t.observers
	t.obsMu.RUnlock()
	for _, fn := range obs {
		fn(from, to)
	}
}

// SetWill replaces the last will used by the next connection attempt,
// including reconnects.
func (t *Transport) SetWill(topic string, payload []byte, qos coremqtt.QoS, retain bool) {
	t.mu.Lock()
	t.will = &will{topic: topic, payload: payload, qos: qos, retain: retain}
	t.mu.Unlock()
}

func (t *Transport) clientOptions() (*paho.ClientOptions, error) {
	opts, err := NewClientOptions(t.cfg)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	w := t.will
	t.mu.Unlock()
	if w != nil {
		opts.SetBinaryWill(w.topic, w.payload, byte(w.qos), w.retain)
	}
	opts.SetConnectionLostHandler(t.onConnectionLost)
	return opts, nil
}

// Connect performs one connection attempt. Failures are returned as
// *protocol.ConnectionError and leave the transport Disconnected.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.State() != coremqtt.Disconnected {
		t.mu.Unlock()
		return coremqtt.ErrAlreadyConnected
	}
	t.setState(coremqtt.Connecting)
	t.mu.Unlock()
	t.notify(coremqtt.Disconnected, coremqtt.Connecting, 0, 0)

	cli, err := t.dial(ctx)
	t.mu.Lock()
	if err != nil {
		t.setState(coremqtt.Disconnected)
		t.mu.Unlock()
		t.notify(coremqtt.Connecting, coremqtt.Disconnected, 0, 0)
		t.log.Errorf("connect to %s failed: %v", t.cfg.Broker, err)
		return &protocol.ConnectionError{Broker: t.cfg.Broker, Err: err}
	}
	if t.State() != coremqtt.Connecting {
		// Disconnect was called while the attempt was in flight.
		t.mu.Unlock()
		cli.Disconnect(0)
		return &protocol.ConnectionError{Broker: t.cfg.Broker, Err: context.Canceled}
	}
	t.client = cli
	t.setState(coremqtt.Connected)
	t.mu.Unlock()
	t.log.Infof("MQTT connected to %s", t.cfg.Broker)
	t.notify(coremqtt.Connecting, coremqtt.Connected, 0, 0)
	return nil
}

func (t *Transport) dial(ctx context.Context) (pahoClient, error) {
	opts, err := t.clientOptions()
	if err != nil {
		return nil, err
	}
	if t.creds != nil {
		tok, err := t.creds.GetToken(ctx)
		if err != nil {
			return nil, err
		}
		opts.SetPassword(tok)
	}
	cli := newMQTTClient(opts)
	if err := waitToken(ctx, cli.Connect(), t.cfg.connectTimeout()); err != nil {
		cli.Disconnect(0)
		return nil, err
	}
	return cli, nil
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	if t.State() != coremqtt.Connected {
		t.mu.Unlock()
		return
	}
	t.setState(coremqtt.Reconnecting)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.loopCancel = cancel
	t.loopDone = done
	t.mu.Unlock()

	t.log.Errorf("connection lost: %v", err)
	t.monitor.CaptureException(&protocol.ConnectionError{Broker: t.cfg.Broker, Err: err}, map[string]string{"component": "mqtt_transport"})
	t.notify(coremqtt.Connected, coremqtt.Reconnecting, 0, 0)
	go t.reconnect(ctx, done)
}

// reconnect retries until it succeeds, the policy gives up or ctx is
// canceled by Disconnect.
func (t *Transport) reconnect(ctx context.Context, done chan struct{}) {
	defer close(done)
	b := backoff.WithContext(t.newBackOff(), ctx)
	for attempt := 1; ; attempt++ {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				return
			}
			t.giveUp()
			return
		}
		t.notify(coremqtt.Reconnecting, coremqtt.Reconnecting, attempt, wait)
		t.log.Warnf("reconnecting to %s in %s (attempt %d)", t.cfg.Broker, wait, attempt)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		cli, err := t.dial(ctx)
		if err != nil {
			t.log.Warnf("reconnect attempt %d failed: %v", attempt, err)
			continue
		}
		if err := t.resubscribe(ctx, cli); err != nil {
			t.log.Warnf("resubscribe after reconnect failed: %v", err)
			cli.Disconnect(0)
			continue
		}
		t.mu.Lock()
		if ctx.Err() != nil {
			t.mu.Unlock()
			cli.Disconnect(0)
			return
		}
		t.client = cli
		t.setState(coremqtt.Connected)
		t.mu.Unlock()
		t.log.Infof("MQTT reconnected to %s after %d attempts", t.cfg.Broker, attempt)
		t.notify(coremqtt.Reconnecting, coremqtt.Connected, 0, 0)
		return
	}
}

func (t *Transport) giveUp() {
	t.mu.Lock()
	if t.State() != coremqtt.Reconnecting {
		t.mu.Unlock()
		return
	}
	t.client = nil
	t.setState(coremqtt.Disconnected)
	t.mu.Unlock()
	t.clearSubscriptions()
	t.log.Errorf("giving up reconnecting to %s", t.cfg.Broker)
	t.notify(coremqtt.Reconnecting, coremqtt.Disconnected, 0, 0)
}

func (t *Transport) resubscribe(ctx context.Context, cli pahoClient) error {
	t.subMu.Lock()
	subs := append([]subscription(nil), t.subs...)
	t.subMu.Unlock()
	for _, s := range subs {
		tok := cli.Subscribe(s.pattern, byte(s.qos), messageHandler(s.handler))
		if err := waitToken(ctx, tok, t.cfg.writeTimeout()); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.pattern, err)
		}
	}
	return nil
}

func (t *Transport) connectedClient() (pahoClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State() != coremqtt.Connected || t.client == nil {
		return nil, protocol.ErrNotConnected
	}
	return t.client, nil
}

// Publish sends payload to topic. Concurrent calls are serialized.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, qos coremqtt.QoS, retain bool) error {
	cli, err := t.connectedClient()
	if err != nil {
		return err
	}
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	if err := waitToken(ctx, cli.Publish(topic, byte(qos), retain, payload), t.cfg.writeTimeout()); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h for pattern. The subscription is restored after
// every reconnect until Disconnect.
func (t *Transport) Subscribe(ctx context.Context, pattern string, qos coremqtt.QoS, h coremqtt.DeliveryHandler) error {
	cli, err := t.connectedClient()
	if err != nil {
		return err
	}
	if err := waitToken(ctx, cli.Subscribe(pattern, byte(qos), messageHandler(h)), t.cfg.writeTimeout()); err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for i, s := range t.subs {
		if s.pattern == pattern {
			t.subs[i] = subscription{pattern: pattern, qos: qos, handler: h}
			return nil
		}
	}
	t.subs = append(t.subs, subscription{pattern: pattern, qos: qos, handler: h})
	return nil
}

func (t *Transport) clearSubscriptions() []string {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	patterns := make([]string, 0, len(t.subs))
	for _, s := range t.subs {
		patterns = append(patterns, s.pattern)
	}
	t.subs = nil
	return patterns
}

// Disconnect stops the reconnect loop, unsubscribes every pattern and
// closes the session. It returns after the loop goroutine has exited, even
// when unsubscribing fails.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	from := t.State()
	if from == coremqtt.Disconnected || from == coremqtt.Disconnecting {
		t.mu.Unlock()
		return nil
	}
	t.setState(coremqtt.Disconnecting)
	cancel, done := t.loopCancel, t.loopDone
	t.loopCancel, t.loopDone = nil, nil
	t.mu.Unlock()
	t.notify(from, coremqtt.Disconnecting, 0, 0)

	if cancel != nil {
		cancel()
		<-done
	}

	// The loop may have installed a client before observing cancellation.
	t.mu.Lock()
	cli := t.client
	t.client = nil
	t.mu.Unlock()

	var errs []error
	patterns := t.clearSubscriptions()
	if cli != nil {
		if cli.IsConnected() && len(patterns) > 0 {
			if err := waitToken(ctx, cli.Unsubscribe(patterns...), t.cfg.writeTimeout()); err != nil {
				errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
			}
		}
		cli.Disconnect(disconnectQuiesceMS)
	}

	t.mu.Lock()
	t.setState(coremqtt.Disconnected)
	t.mu.Unlock()
	t.notify(coremqtt.Disconnecting, coremqtt.Disconnected, 0, 0)
	t.log.Infof("MQTT disconnected from %s", t.cfg.Broker)
	return errors.Join(errs...)
}

func messageHandler(h coremqtt.DeliveryHandler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		h(coremqtt.Delivery{
			Topic:     m.Topic(),
			Payload:   m.Payload(),
			QoS:       coremqtt.QoS(m.Qos()),
			Retained:  m.Retained(),
			Duplicate: m.Duplicate(),
			Received:  time.Now(),
		})
	}
}

// waitToken waits for tok, the context or the timeout, whichever is first.
// A zero timeout waits without limit.
func waitToken(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return coremqtt.ErrTimeout
	}
}
