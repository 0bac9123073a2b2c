package metrics

import "errors"

// MultiSink fans events out to several sinks. Every sink sees every event;
// errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordDelivery(ev DeliveryEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordDelivery(ev))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordPublish(ev PublishEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordPublish(ev))
	}
	return errors.Join(errs...)
}

// RecordDrop forwards to sinks implementing DropRecorder.
func (m *MultiSink) RecordDrop(ev DropEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(DropRecorder); ok {
			errs = append(errs, rec.RecordDrop(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordHandlerFailure forwards to sinks implementing HandlerFailureRecorder.
func (m *MultiSink) RecordHandlerFailure(ev HandlerFailureEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(HandlerFailureRecorder); ok {
			errs = append(errs, rec.RecordHandlerFailure(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordTransport forwards to sinks implementing TransportRecorder.
func (m *MultiSink) RecordTransport(ev TransportEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(TransportRecorder); ok {
			errs = append(errs, rec.RecordTransport(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordVehicleState forwards to sinks implementing VehicleStateRecorder.
func (m *MultiSink) RecordVehicleState(ev VehicleStateEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(VehicleStateRecorder); ok {
			errs = append(errs, rec.RecordVehicleState(ev))
		}
	}
	return errors.Join(errs...)
}
