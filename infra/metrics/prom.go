package metrics

import (
	"strconv"

	coremetrics "github.com/kilianp07/vda5050/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records protocol traffic in Prometheus metrics.
type PromSink struct {
	delivered  *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	published  *prometheus.CounterVec
	publishDur *prometheus.HistogramVec
	dropped    *prometheus.CounterVec
	failures   *prometheus.CounterVec
	reconnects prometheus.Counter
	state      *prometheus.GaugeVec
	battery    *prometheus.GaugeVec
	driving    *prometheus.GaugeVec
}

// NewPromSink registers protocol metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vda5050_messages_received_total",
			Help: "Inbound messages handed to handlers",
		}, []string{"kind", "manufacturer", "serial_number"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vda5050_message_latency_seconds",
			Help:    "Time between header timestamp and arrival",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vda5050_messages_published_total",
			Help: "Outbound publish attempts",
		}, []string{"kind", "success"}),
		publishDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vda5050_publish_duration_seconds",
			Help:    "Time spent in transport publish",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vda5050_messages_dropped_total",
			Help: "Inbound messages dropped before dispatch",
		}, []string{"kind", "reason"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vda5050_handler_failures_total",
			Help: "Handler invocations that failed or panicked",
		}, []string{"kind", "panic"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vda5050_reconnect_attempts_total",
			Help: "Reconnect attempts made by the transport",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vda5050_transport_state",
			Help: "1 for the current transport state, 0 otherwise",
		}, []string{"state"}),
		battery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vda5050_vehicle_battery_charge_percent",
			Help: "Battery charge last reported by each vehicle",
		}, []string{"manufacturer", "serial_number"}),
		driving: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vda5050_vehicle_driving",
			Help: "1 while the vehicle reports driving",
		}, []string{"manufacturer", "serial_number"}),
	}

	var err error
	if s.delivered, err = register(reg, s.delivered); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, s.latency); err != nil {
		return nil, err
	}
	if s.published, err = register(reg, s.published); err != nil {
		return nil, err
	}
	if s.publishDur, err = register(reg, s.publishDur); err != nil {
		return nil, err
	}
	if s.dropped, err = register(reg, s.dropped); err != nil {
		return nil, err
	}
	if s.failures, err = register(reg, s.failures); err != nil {
		return nil, err
	}
	if s.reconnects, err = register(reg, s.reconnects); err != nil {
		return nil, err
	}
	if s.state, err = register(reg, s.state); err != nil {
		return nil, err
	}
	if s.battery, err = register(reg, s.battery); err != nil {
		return nil, err
	}
	if s.driving, err = register(reg, s.driving); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordDelivery counts the delivery and observes its latency when known.
func (s *PromSink) RecordDelivery(ev coremetrics.DeliveryEvent) error {
	kind := ev.Kind.String()
	s.delivered.WithLabelValues(kind, ev.Manufacturer, ev.SerialNumber).Inc()
	if ev.Latency > 0 {
		s.latency.WithLabelValues(kind).Observe(ev.Latency.Seconds())
	}
	return nil
}

// RecordPublish counts the attempt and observes the publish duration.
func (s *PromSink) RecordPublish(ev coremetrics.PublishEvent) error {
	kind := ev.Kind.String()
	s.published.WithLabelValues(kind, strconv.FormatBool(ev.Success)).Inc()
	s.publishDur.WithLabelValues(kind).Observe(ev.Duration.Seconds())
	return nil
}

func (s *PromSink) RecordDrop(ev coremetrics.DropEvent) error {
	s.dropped.WithLabelValues(ev.Kind.String(), ev.Reason).Inc()
	return nil
}

func (s *PromSink) RecordHandlerFailure(ev coremetrics.HandlerFailureEvent) error {
	s.failures.WithLabelValues(ev.Kind.String(), strconv.FormatBool(ev.Panic)).Inc()
	return nil
}

// RecordTransport tracks the current state and counts reconnect attempts.
func (s *PromSink) RecordTransport(ev coremetrics.TransportEvent) error {
	if ev.From != "" {
		s.state.WithLabelValues(ev.From).Set(0)
	}
	s.state.WithLabelValues(ev.To).Set(1)
	if ev.Attempt > 0 {
		s.reconnects.Inc()
	}
	return nil
}

// RecordVehicleState updates the per-vehicle gauges.
func (s *PromSink) RecordVehicleState(ev coremetrics.VehicleStateEvent) error {
	s.battery.WithLabelValues(ev.Manufacturer, ev.SerialNumber).Set(ev.BatteryCharge)
	driving := 0.0
	if ev.Driving {
		driving = 1
	}
	s.driving.WithLabelValues(ev.Manufacturer, ev.SerialNumber).Set(driving)
	return nil
}
