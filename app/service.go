package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/vda5050/api/vehicles"
	"github.com/kilianp07/vda5050/client"
	"github.com/kilianp07/vda5050/config"
	"github.com/kilianp07/vda5050/core/dispatch"
	coremetrics "github.com/kilianp07/vda5050/core/metrics"
	coremon "github.com/kilianp07/vda5050/core/monitoring"
	coremqtt "github.com/kilianp07/vda5050/core/mqtt"
	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/core/vehiclestatus"
	"github.com/kilianp07/vda5050/infra/journal"
	"github.com/kilianp07/vda5050/infra/logger"
	"github.com/kilianp07/vda5050/infra/metrics"
	"github.com/kilianp07/vda5050/infra/monitoring"
	inframqtt "github.com/kilianp07/vda5050/infra/mqtt"
	"github.com/kilianp07/vda5050/internal/simulator"
	"github.com/kilianp07/vda5050/model"
)

// TransportFactory opens the broker session of one client.
type TransportFactory func(clientID string) (coremqtt.Transport, error)

// Option customizes a Service.
type Option func(*Service)

// WithTransportFactory replaces the Paho transport.
func WithTransportFactory(f TransportFactory) Option {
	return func(s *Service) { s.newTransport = f }
}

// WithLogger replaces the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = logger.OrNop(l) }
}

// Service owns the collaborators shared by every client of the process.
type Service struct {
	cfg          *config.Config
	log          logger.Logger
	monitor      coremon.Monitor
	sink         coremetrics.MetricsSink
	journal      journal.Store
	fleet        *vehiclestatus.MemoryStore
	newTransport TransportFactory
}

// New builds the monitor, the metrics sink and the journal described by cfg.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{cfg: cfg, log: logger.New("service"), fleet: vehiclestatus.NewMemoryStore()}
	for _, o := range opts {
		o(s)
	}
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	s.monitor = mon
	coremon.Init(mon)

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	s.sink = sink

	store, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	s.journal = store

	if s.newTransport == nil {
		s.newTransport = s.pahoTransport
	}
	return s, nil
}

func (s *Service) pahoTransport(clientID string) (coremqtt.Transport, error) {
	mc := s.cfg.MQTT
	mc.ClientID = clientID
	opts := []inframqtt.Option{
		inframqtt.WithLogger(logger.New("mqtt")),
		inframqtt.WithMonitor(s.monitor),
	}
	if rec, ok := s.sink.(coremetrics.TransportRecorder); ok {
		opts = append(opts, inframqtt.WithRecorder(rec))
	}
	return inframqtt.NewTransport(mc, opts...)
}

// ClientOptions returns the options every protocol client is built with.
func (s *Service) ClientOptions(component string) []client.Option {
	opts := []client.Option{
		client.WithLogger(logger.New(component)),
		client.WithMonitor(s.monitor),
		client.WithMetrics(s.sink),
	}
	if s.journal != nil {
		opts = append(opts, client.WithJournal(s.journal))
	}
	return opts
}

// Fleet returns the registry the controller keeps up to date.
func (s *Service) Fleet() vehiclestatus.Store { return s.fleet }

// ServeMetrics exposes Prometheus metrics and routes until ctx is done. It
// is a no-op when no address is configured.
func (s *Service) ServeMetrics(ctx context.Context, routes ...metrics.Route) {
	addr := s.cfg.Metrics.PrometheusAddr
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.StartPromServer(ctx, addr, routes...); err != nil {
			s.log.Errorf("prom server: %v", err)
		}
	}()
}

// RunAgents simulates the configured fleet until ctx is done.
func (s *Service) RunAgents(ctx context.Context) error {
	tf := func(serial string) (coremqtt.Transport, error) {
		id := s.cfg.MQTT.ClientID
		if id == "" {
			id = s.cfg.Client.Manufacturer
		}
		return s.newTransport(id + "-" + serial)
	}
	r, err := simulator.NewRunner(s.cfg.Simulator, s.cfg.Client, tf, logger.New("simulator"), s.ClientOptions("agent")...)
	if err != nil {
		return err
	}
	s.ServeMetrics(ctx)
	return r.Run(ctx)
}

// RunController observes the fleet until ctx is done. Connection changes
// and states update the fleet registry, which is served next to the
// metrics. States are also recorded when the sink keeps a vehicle history.
func (s *Service) RunController(ctx context.Context) error {
	id := s.cfg.MQTT.ClientID
	if id == "" {
		id = "controller-" + uuid.NewString()[:8]
	}
	tr, err := s.newTransport(id)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	ctrl, err := client.NewController(s.cfg.Client, tr, s.ClientOptions("controller")...)
	if err != nil {
		return err
	}
	o := &observer{log: logger.New("fleet"), fleet: s.fleet}
	if rec, ok := s.sink.(coremetrics.VehicleStateRecorder); ok {
		o.rec = rec
	}
	ctrl.OnConnection(o.onConnection)
	ctrl.OnState(o.onState)
	ctrl.OnFactsheet(o.onFactsheet)
	ctrl.OnError(func(e dispatch.DispatchError) {
		o.log.Warnw("delivery dropped", map[string]any{"stage": string(e.Stage), "topic": e.Topic, "error": e.Err.Error()})
	})

	if err := ctrl.Connect(ctx); err != nil {
		return err
	}
	s.log.Infof("observing %s", ctrl.Filter())
	s.ServeMetrics(ctx, metrics.Route{Pattern: vehicles.StatusPath, Handler: vehicles.NewStatusHandler(s.fleet)})
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ctrl.Disconnect(stopCtx)
}

// Close flushes the monitor and releases the journal and the sink, in
// reverse order of creation.
func (s *Service) Close() error {
	var errs []error
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	s.monitor.Flush(2 * time.Second)
	return errors.Join(errs...)
}

type observer struct {
	log   logger.Logger
	fleet vehiclestatus.Store
	rec   coremetrics.VehicleStateRecorder
}

func (o *observer) seenAt(msg dispatch.Message) time.Time {
	if !msg.Header.Timestamp.IsZero() {
		return msg.Header.Timestamp
	}
	return msg.Received
}

func (o *observer) onConnection(_ context.Context, msg dispatch.Message) error {
	c, err := model.Decode[protocol.ConnectionPayload](msg.Payload)
	if err != nil {
		return err
	}
	o.log.Infof("%s/%s is %s", msg.Identity.Manufacturer, msg.Identity.SerialNumber, c.ConnectionState)
	o.fleet.SetConnection(msg.Identity, c.ConnectionState, o.seenAt(msg))
	return nil
}

func (o *observer) onState(_ context.Context, msg dispatch.Message) error {
	st, err := model.Decode[model.State](msg.Payload)
	if err != nil {
		return err
	}
	o.log.Debugw("state", map[string]any{
		"serial_number": msg.Identity.SerialNumber,
		"header_id":     msg.Header.HeaderID,
		"order_id":      st.OrderID,
		"last_node_id":  st.LastNodeID,
		"driving":       st.Driving,
	})
	if st.HasFatalError() {
		o.log.Errorw("vehicle reports fatal error", map[string]any{"serial_number": msg.Identity.SerialNumber, "errors": len(st.Errors)})
	}
	at := o.seenAt(msg)
	o.fleet.UpdateState(msg.Identity, msg.Header, st, at)
	if o.rec == nil {
		return nil
	}
	return o.rec.RecordVehicleState(coremetrics.VehicleStateEvent{
		Manufacturer:  msg.Identity.Manufacturer,
		SerialNumber:  msg.Identity.SerialNumber,
		OrderID:       st.OrderID,
		LastNodeID:    st.LastNodeID,
		Driving:       st.Driving,
		BatteryCharge: st.BatteryState.BatteryCharge,
		Errors:        len(st.Errors),
		Time:          at,
	})
}

func (o *observer) onFactsheet(_ context.Context, msg dispatch.Message) error {
	fs, err := model.Decode[model.Factsheet](msg.Payload)
	if err != nil {
		return err
	}
	o.log.Infof("factsheet %s/%s series %q", msg.Identity.Manufacturer, msg.Identity.SerialNumber, fs.TypeSpecification.SeriesName)
	return nil
}
