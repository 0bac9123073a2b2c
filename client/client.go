// Package client implements the VDA5050 protocol client shared by both
// roles, and the agent and controller specializations built on it.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/vda5050/core/dispatch"
	"github.com/kilianp07/vda5050/core/metrics"
	"github.com/kilianp07/vda5050/core/monitoring"
	"github.com/kilianp07/vda5050/core/mqtt"
	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/core/topic"
	"github.com/kilianp07/vda5050/core/validation"
	"github.com/kilianp07/vda5050/infra/journal"
	"github.com/kilianp07/vda5050/infra/logger"
	"github.com/kilianp07/vda5050/internal/eventbus"
)

// ErrClosed is returned by Connect after Disconnect completed.
var ErrClosed = errors.New("client closed")

// StateChange is a transport connection state transition.
type StateChange struct {
	From mqtt.ConnectionState
	To   mqtt.ConnectionState
	Time time.Time
}

// hooks are the role-specific steps around the connection lifecycle.
type hooks struct {
	// pattern returns the subscription filter for an inbound kind.
	pattern func(k protocol.MessageKind) (string, error)
	// beforeConnect runs before every transport connect.
	beforeConnect func()
	// online runs after the client connected or the transport reconnected.
	online func(ctx context.Context)
	// offline runs before a connected client disconnects.
	offline func(ctx context.Context)
}

// Client is the protocol engine shared by both roles: header sequencing,
// the send pipeline and inbound dispatch over one transport.
type Client struct {
	id        protocol.Identity
	role      protocol.Role
	cfg       Config
	kinds     protocol.KindTable
	transport mqtt.Transport
	validator *validation.Validator
	disp      *dispatch.Dispatcher
	log       logger.Logger
	metrics   metrics.MetricsSink
	journal   journal.Store
	now       func() time.Time
	seqs      map[protocol.MessageKind]*headerSeq
	hooks     hooks
	states    *eventbus.TypedBus[StateChange]

	lifeMu  sync.Mutex
	started bool
	closed  bool

	// bgMu guards bg against Add after Disconnect started waiting.
	bgMu    sync.Mutex
	bg      sync.WaitGroup
	closing bool
}

func newClient(cfg Config, role protocol.Role, tr mqtt.Transport, opts ...Option) (*Client, error) {
	if tr == nil {
		return nil, errors.New("client: nil transport")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{
		log:     logger.New(role.String() + "_client"),
		monitor: monitoring.NopMonitor{},
		metrics: metrics.NopSink{},
		kinds:   protocol.DefaultKindTable(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.kinds.IsZero() {
		return nil, errors.New("client: empty kind table")
	}
	if o.metrics == nil {
		o.metrics = metrics.NopSink{}
	}
	if o.validator == nil {
		v, err := cfg.NewValidator()
		if err != nil {
			return nil, err
		}
		o.validator = v
	}

	c := &Client{
		id:        cfg.Identity(),
		role:      role,
		cfg:       cfg,
		kinds:     o.kinds,
		transport: tr,
		validator: o.validator,
		log:       o.log,
		metrics:   o.metrics,
		journal:   o.journal,
		now:       o.now,
		seqs:      newSequences(cfg.HeaderIDOffset),
		states:    eventbus.NewTyped[StateChange](),
	}
	c.disp = dispatch.New(dispatch.Options{
		Self:      c.id,
		Validator: c.validator,
		QueueSize: cfg.QueueSize,
		Logger:    c.log,
		Monitor:   o.monitor,
		Metrics:   c.metrics,
		Tap:       c.journalInbound,
	})
	tr.OnStateChange(c.onTransportState)
	return c, nil
}

// Identity returns the client's own identity.
func (c *Client) Identity() protocol.Identity { return c.id }

// Role returns the role the client plays.
func (c *Client) Role() protocol.Role { return c.role }

// State reports the transport connection state.
func (c *Client) State() mqtt.ConnectionState { return c.transport.State() }

// IsConnected reports whether messages can be sent right now.
func (c *Client) IsConnected() bool { return c.transport.State() == mqtt.Connected }

// StateChanges returns a channel of transport transitions. Events are
// dropped for a subscriber that does not keep up.
func (c *Client) StateChanges() <-chan StateChange { return c.states.Subscribe() }

// Errors returns a channel of inbound dispatch failures.
func (c *Client) Errors() <-chan dispatch.DispatchError { return c.disp.Errors() }

// OnError registers fn for every inbound dispatch failure.
func (c *Client) OnError(fn func(dispatch.DispatchError)) { c.disp.OnError(fn) }

// Register adds a handler for inbound messages of kind k. Only kinds the
// role subscribes to are ever delivered.
func (c *Client) Register(k protocol.MessageKind, filter dispatch.IdentityFilter, h dispatch.Handler) *dispatch.Registration {
	return c.disp.Register(k, filter, h)
}

// Connect connects the transport, starts dispatching and subscribes to
// every kind the role consumes. It is a no-op when already connected. A
// failed connect may be retried by calling Connect again.
func (c *Client) Connect(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.transport.State() == mqtt.Connected {
		return nil
	}
	if c.hooks.beforeConnect != nil {
		c.hooks.beforeConnect()
	}
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	if !c.started {
		if err := c.disp.Start(context.Background()); err != nil {
			return err
		}
		c.started = true
	}
	if err := c.subscribe(ctx); err != nil {
		if derr := c.transport.Disconnect(ctx); derr != nil {
			c.log.Warnf("disconnect after failed subscribe: %v", derr)
		}
		return err
	}
	c.log.Infof("%s client %s connected", c.role, c.id)
	if c.hooks.online != nil {
		c.hooks.online(ctx)
	}
	return nil
}

func (c *Client) subscribe(ctx context.Context) error {
	for _, k := range c.kinds.Subscribed(c.role) {
		pattern, err := c.hooks.pattern(k)
		if err != nil {
			return err
		}
		if err := c.transport.Subscribe(ctx, pattern, c.cfg.qos(), c.disp.Deliver); err != nil {
			return fmt.Errorf("subscribe %s: %w", k, err)
		}
		c.log.Debugf("subscribed to %s", pattern)
	}
	return nil
}

// Disconnect is the single cancellation point of the client: it publishes
// the role's sign-off, stops the transport including any reconnect loop,
// then drains the dispatcher within the configured stop timeout. The
// client cannot be connected again afterwards.
func (c *Client) Disconnect(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.closed {
		return nil
	}
	if !c.started && c.transport.State() == mqtt.Disconnected {
		return nil
	}
	c.closed = true

	c.bgMu.Lock()
	c.closing = true
	c.bgMu.Unlock()
	c.bg.Wait()

	if c.hooks.offline != nil && c.IsConnected() {
		c.hooks.offline(ctx)
	}
	var errs []error
	if err := c.transport.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("transport: %w", err))
	}
	if err := c.disp.Stop(c.cfg.stopTimeout()); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher: %w", err))
	}
	c.states.Close()
	c.log.Infof("%s client %s disconnected", c.role, c.id)
	return errors.Join(errs...)
}

func (c *Client) onTransportState(from, to mqtt.ConnectionState) {
	c.states.Publish(StateChange{From: from, To: to, Time: c.now()})
	if from != mqtt.Reconnecting || to != mqtt.Connected || c.hooks.online == nil {
		return
	}
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.closing {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.hooks.online(context.Background())
	}()
}

// NextHeaderID reports the headerId the next send of k will carry.
func (c *Client) NextHeaderID(k protocol.MessageKind) (uint32, error) {
	seq, ok := c.seqs[k]
	if !ok {
		return 0, fmt.Errorf("unknown message kind %d", k)
	}
	seq.mu.Lock()
	defer seq.mu.Unlock()
	return seq.peek()
}

// Send publishes payload as a message of kind k from the client's own
// identity. See SendTo.
func (c *Client) Send(ctx context.Context, k protocol.MessageKind, payload any) (protocol.Header, error) {
	env, err := c.send(ctx, c.id, k, payload)
	return env.Header, err
}

// SendTo publishes payload as a message of kind k addressed to target's
// manufacturer and serial number. The header fields of payload are
// overwritten; the retain flag comes from the kind table.
//
// The headerId is consumed once the message is handed to the transport,
// even when the publish then fails. Sends rejected earlier (role, payload,
// validation, not connected) leave the counter untouched.
func (c *Client) SendTo(ctx context.Context, target protocol.Identity, k protocol.MessageKind, payload any) (protocol.Header, error) {
	env, err := c.send(ctx, c.id.WithTarget(target.Manufacturer, target.SerialNumber), k, payload)
	return env.Header, err
}

func (c *Client) send(ctx context.Context, target protocol.Identity, k protocol.MessageKind, payload any) (protocol.Envelope, error) {
	seq, ok := c.seqs[k]
	if !ok {
		return protocol.Envelope{}, fmt.Errorf("unknown message kind %d", k)
	}
	if c.kinds.Publisher(k) != c.role {
		return protocol.Envelope{}, fmt.Errorf("%w: %s by %s", protocol.ErrKindNotPublishable, k, c.role)
	}
	tp, err := topic.Build(target, k)
	if err != nil {
		return protocol.Envelope{}, err
	}
	doc, err := encodePayload(payload)
	if err != nil {
		return protocol.Envelope{}, err
	}
	if !c.IsConnected() {
		return protocol.Envelope{}, protocol.ErrNotConnected
	}

	seq.mu.Lock()
	defer seq.mu.Unlock()
	id, err := seq.peek()
	if err != nil {
		return protocol.Envelope{}, err
	}
	env := protocol.Envelope{
		Kind: k,
		Header: protocol.Header{
			HeaderID:     id,
			Timestamp:    c.now().UTC().Truncate(time.Millisecond),
			Version:      c.id.ProtocolVersion,
			Manufacturer: target.Manufacturer,
			SerialNumber: target.SerialNumber,
		},
		Target:   target,
		Topic:    tp,
		Retained: c.kinds.Retained(k),
	}
	if env.Payload, err = stampHeader(doc, env.Header); err != nil {
		return env, err
	}
	if c.validator.Enabled() {
		if err := c.validator.Check(k, c.id.ProtocolVersion, env.Payload); err != nil {
			return env, err
		}
	}

	seq.next++
	start := time.Now()
	err = c.transport.Publish(ctx, tp, env.Payload, c.cfg.qos(), env.Retained)
	c.recordPublish(env, err == nil, time.Since(start))
	if err != nil {
		c.log.Errorw("publish failed", map[string]any{"kind": k.String(), "topic": tp, "header_id": id, "error": err.Error()})
		return env, fmt.Errorf("send %s: %w", k, err)
	}
	c.log.Debugw("published", map[string]any{"kind": k.String(), "topic": tp, "header_id": id, "retained": env.Retained})
	return env, nil
}

func (c *Client) recordPublish(env protocol.Envelope, ok bool, took time.Duration) {
	_ = c.metrics.RecordPublish(metrics.PublishEvent{
		Kind:         env.Kind,
		Manufacturer: env.Target.Manufacturer,
		SerialNumber: env.Target.SerialNumber,
		HeaderID:     env.Header.HeaderID,
		Retained:     env.Retained,
		Bytes:        len(env.Payload),
		Success:      ok,
		Duration:     took,
		Time:         env.Header.Timestamp,
	})
	if ok && c.journal != nil {
		if err := c.journal.Append(context.Background(), journal.FromEnvelope(env, env.Header.Timestamp)); err != nil {
			c.log.Warnf("journal outbound %s: %v", env.Kind, err)
		}
	}
}

func (c *Client) journalInbound(msg dispatch.Message) {
	if c.journal == nil {
		return
	}
	rec := journal.Record{
		Time:         msg.Received,
		Direction:    journal.Inbound,
		Kind:         msg.Kind.Token(),
		Manufacturer: msg.Identity.Manufacturer,
		SerialNumber: msg.Identity.SerialNumber,
		HeaderID:     msg.Header.HeaderID,
		Topic:        msg.Topic,
		Retained:     msg.Retained,
		Payload:      msg.Payload,
	}
	if err := c.journal.Append(context.Background(), rec); err != nil {
		c.log.Warnf("journal inbound %s: %v", msg.Kind, err)
	}
}
