package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/vda5050/core/logger"
	"github.com/kilianp07/vda5050/core/metrics"
	"github.com/kilianp07/vda5050/core/monitoring"
	"github.com/kilianp07/vda5050/core/mqtt"
	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/core/topic"
	"github.com/kilianp07/vda5050/core/validation"
	"github.com/kilianp07/vda5050/internal/eventbus"
)

// DefaultQueueSize is the per-kind lane capacity.
const DefaultQueueSize = 64

// Message is an inbound document that passed topic parsing and, when
// enabled, schema validation.
type Message struct {
	Kind protocol.MessageKind
	// Identity is the vehicle named by the topic and carries the topic
	// major version. Filters match on it alone.
	Identity protocol.Identity
	// Header holds the fields read from the payload. Header.Version selects
	// the schema when present.
	Header   protocol.Header
	Payload  []byte
	Topic    string
	Retained bool
	Received time.Time
}

// Options configure a Dispatcher. Zero values select no-op collaborators.
type Options struct {
	// Self is the identity Self() filters compare against.
	Self      protocol.Identity
	Validator *validation.Validator
	QueueSize int
	Logger    logger.Logger
	Monitor   monitoring.Monitor
	Metrics   metrics.MetricsSink
	// Tap sees every accepted message before it is queued.
	Tap func(Message)
}

// Dispatcher owns the handler registry and the per-kind lanes.
type Dispatcher struct {
	self      protocol.Identity
	validator *validation.Validator
	log       logger.Logger
	monitor   monitoring.Monitor
	metrics   metrics.MetricsSink
	tap       func(Message)

	mu     sync.RWMutex
	regs   map[protocol.MessageKind][]*Registration
	nextID uint64

	lanes map[protocol.MessageKind]chan Message
	quit  chan struct{}

	lifeMu  sync.Mutex
	started bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	bus       *eventbus.TypedBus[DispatchError]
	obsMu     sync.RWMutex
	observers []func(DispatchError)
}

// New creates a dispatcher. Deliveries are queued right away but handlers
// only run after Start.
func New(opts Options) *Dispatcher {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Dispatcher{
		self:      opts.Self,
		validator: opts.Validator,
		log:       opts.Logger,
		monitor:   opts.Monitor,
		metrics:   opts.Metrics,
		tap:       opts.Tap,
		regs:      make(map[protocol.MessageKind][]*Registration),
		lanes:     make(map[protocol.MessageKind]chan Message, len(protocol.Kinds())),
		quit:      make(chan struct{}),
		bus:       eventbus.NewTypedWithBuffer[DispatchError](size),
	}
	if d.log == nil {
		d.log = logger.NopLogger{}
	}
	if d.monitor == nil {
		d.monitor = monitoring.NopMonitor{}
	}
	if d.metrics == nil {
		d.metrics = metrics.NopSink{}
	}
	if d.validator == nil {
		d.validator = validation.Disabled()
	}
	for _, k := range protocol.Kinds() {
		d.lanes[k] = make(chan Message, size)
	}
	return d
}

// Register adds h for messages of kind k passing filter.
func (d *Dispatcher) Register(k protocol.MessageKind, filter IdentityFilter, h Handler) *Registration {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	r := &Registration{d: d, id: d.nextID, kind: k, filter: filter, handler: h}
	d.regs[k] = append(d.regs[k], r)
	return r
}

func (d *Dispatcher) unregister(r *Registration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.regs[r.kind]
	for i, existing := range list {
		if existing == r {
			next := make([]*Registration, 0, len(list)-1)
			next = append(next, list[:i]...)
			d.regs[r.kind] = append(next, list[i+1:]...)
			return
		}
	}
}

// Handlers returns how many handlers are registered for k.
func (d *Dispatcher) Handlers(k protocol.MessageKind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs[k])
}

// Errors returns a channel of dispatch failures. Events are dropped for a
// subscriber that does not keep up.
func (d *Dispatcher) Errors() <-chan DispatchError { return d.bus.Subscribe() }

// OnError registers fn to be called synchronously for every failure.
func (d *Dispatcher) OnError(fn func(DispatchError)) {
	if fn == nil {
		return
	}
	d.obsMu.Lock()
	d.observers = append(d.observers, fn)
	d.obsMu.Unlock()
}

// Start launches one lane per kind. The lanes stop when ctx is canceled or
// Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true

	laneCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	g, gctx := errgroup.WithContext(laneCtx)
	for _, k := range protocol.Kinds() {
		g.Go(func() error {
			d.runLane(gctx, d.lanes[k])
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(d.done)
	}()
	return nil
}

// Stop refuses further deliveries, lets every lane drain its queue and
// waits up to timeout. On timeout the lane context is canceled, running
// handlers are abandoned and ErrStopTimeout is returned. Channels returned
// by Errors are closed once Stop returns.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if d.stopped.Swap(true) {
		return nil
	}
	close(d.quit)
	defer d.bus.Close()
	if !d.started {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-timer.C:
		d.cancel()
		d.log.Warnf("dispatcher stop: handlers still running after %s", timeout)
		return ErrStopTimeout
	}
}

// Deliver runs the inbound pipeline for one transport delivery: topic
// parsing, optional validation, then queuing on the kind's lane. It blocks
// while that lane is full. Failures are reported, never returned.
func (d *Dispatcher) Deliver(del mqtt.Delivery) {
	if d.stopped.Load() {
		d.log.Debugf("dispatcher stopped, ignoring delivery on %s", del.Topic)
		return
	}
	received := del.Received
	if received.IsZero() {
		received = time.Now()
	}

	id, kind, err := topic.Parse(del.Topic)
	if err != nil {
		d.log.Warnw("dropping delivery with unparsable topic", map[string]any{"topic": del.Topic, "error": err.Error()})
		d.report(DispatchError{Stage: StageTopic, Topic: del.Topic, Err: err, Time: received})
		return
	}

	header := readHeader(del.Payload)
	version := header.Version
	if version == "" {
		version = id.ProtocolVersion
	}

	if d.validator.Enabled() {
		res, err := d.validator.Validate(kind, version, del.Payload)
		if err != nil {
			var snf *protocol.SchemaNotFoundError
			stage := StageValidation
			if errors.As(err, &snf) {
				stage = StageSchema
			}
			d.log.Errorw("cannot validate delivery", map[string]any{"topic": del.Topic, "kind": kind.String(), "error": err.Error()})
			d.report(DispatchError{Stage: stage, Topic: del.Topic, Kind: kind, Identity: id, Err: err, Time: received})
			return
		}
		if !res.Valid {
			verr := &validation.Error{Kind: kind, Result: res}
			d.log.Warnw("dropping invalid delivery", map[string]any{"topic": del.Topic, "kind": kind.String(), "error": verr.Error()})
			d.report(DispatchError{Stage: StageValidation, Topic: del.Topic, Kind: kind, Identity: id, Err: verr, Fields: res.Errors, Time: received})
			return
		}
	}

	msg := Message{
		Kind:     kind,
		Identity: id,
		Header:   header,
		Payload:  del.Payload,
		Topic:    del.Topic,
		Retained: del.Retained,
		Received: received,
	}
	if d.tap != nil {
		d.tap(msg)
	}
	var latency time.Duration
	if !header.Timestamp.IsZero() {
		latency = received.Sub(header.Timestamp)
	}
	_ = d.metrics.RecordDelivery(metrics.DeliveryEvent{
		Kind:         kind,
		Manufacturer: id.Manufacturer,
		SerialNumber: id.SerialNumber,
		HeaderID:     header.HeaderID,
		Retained:     del.Retained,
		Latency:      latency,
		Time:         received,
	})

	select {
	case d.lanes[kind] <- msg:
	case <-d.quit:
		d.log.Debugf("dispatcher stopping, dropped %s message from %s", kind, id)
	}
}

func (d *Dispatcher) runLane(ctx context.Context, lane <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-lane:
			d.handle(ctx, msg)
		case <-d.quit:
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-lane:
					d.handle(ctx, msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg Message) {
	// Register appends and unregister copies, so the snapshot is stable and
	// in registration order.
	d.mu.RLock()
	regs := d.regs[msg.Kind]
	d.mu.RUnlock()

	for _, r := range regs {
		if !r.filter.Match(d.self, msg.Identity) {
			continue
		}
		ran, err := r.invoke(ctx, msg)
		if !ran || err == nil {
			continue
		}
		var perr *monitoring.PanicError
		isPanic := errors.As(err, &perr)
		d.log.Errorw("handler failed", map[string]any{
			"kind":   msg.Kind.String(),
			"sender": msg.Identity.String(),
			"panic":  isPanic,
			"error":  err.Error(),
		})
		d.monitor.CaptureException(err, map[string]string{
			"kind":   msg.Kind.String(),
			"sender": msg.Identity.String(),
		})
		if rec, ok := d.metrics.(metrics.HandlerFailureRecorder); ok {
			_ = rec.RecordHandlerFailure(metrics.HandlerFailureEvent{Kind: msg.Kind, Panic: isPanic, Time: time.Now()})
		}
		d.report(DispatchError{Stage: StageHandler, Topic: msg.Topic, Kind: msg.Kind, Identity: msg.Identity, Err: err, Time: time.Now()})
	}
}

func (d *Dispatcher) report(e DispatchError) {
	if e.Stage != StageHandler {
		if rec, ok := d.metrics.(metrics.DropRecorder); ok {
			_ = rec.RecordDrop(metrics.DropEvent{Kind: e.Kind, Reason: string(e.Stage), Time: e.Time})
		}
	}
	d.bus.Publish(e)
	d.obsMu.RLock()
	obs := d.observers
	d.obsMu.RUnlock()
	for _, fn := range obs {
		d.notify(fn, e)
	}
}

func (d *Dispatcher) notify(fn func(DispatchError), e DispatchError) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Errorf("error observer panicked: %v", rec)
		}
	}()
	fn(e)
}

// readHeader extracts the common header fields. Missing or malformed fields
// are left zero; validation is responsible for rejecting them.
func readHeader(payload []byte) protocol.Header {
	res := gjson.GetManyBytes(payload, "headerId", "timestamp", "version", "manufacturer", "serialNumber")
	h := protocol.Header{
		HeaderID:     uint32(res[0].Uint()),
		Version:      res[2].String(),
		Manufacturer: res[3].String(),
		SerialNumber: res[4].String(),
	}
	if ts := res[1].String(); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			h.Timestamp = t.UTC()
		}
	}
	return h
}
