package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/vda5050/core/metrics"
	"github.com/kilianp07/vda5050/infra/logger"
)

// InfluxSink writes protocol traffic to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDelivery writes one message_received point.
func (s *InfluxSink) RecordDelivery(ev coremetrics.DeliveryEvent) error {
	p := write.NewPointWithMeasurement("message_received").
		AddTag("kind", ev.Kind.String()).
		AddTag("manufacturer", ev.Manufacturer).
		AddTag("serial_number", ev.SerialNumber).
		AddField("header_id", int64(ev.HeaderID)).
		AddField("retained", ev.Retained).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordPublish writes one message_published point.
func (s *InfluxSink) RecordPublish(ev coremetrics.PublishEvent) error {
	p := write.NewPointWithMeasurement("message_published").
		AddTag("kind", ev.Kind.String()).
		AddTag("manufacturer", ev.Manufacturer).
		AddTag("serial_number", ev.SerialNumber).
		AddField("header_id", int64(ev.HeaderID)).
		AddField("retained", ev.Retained).
		AddField("bytes", ev.Bytes).
		AddField("success", ev.Success).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordDrop(ev coremetrics.DropEvent) error {
	p := write.NewPointWithMeasurement("message_dropped").
		AddTag("kind", ev.Kind.String()).
		AddField("reason", ev.Reason).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordTransport writes a connection state transition.
func (s *InfluxSink) RecordTransport(ev coremetrics.TransportEvent) error {
	p := write.NewPointWithMeasurement("transport_state").
		AddTag("from", ev.From).
		AddTag("to", ev.To).
		AddField("attempt", ev.Attempt).
		AddField("backoff_ms", round3(ev.Backoff.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordVehicleState writes one vehicle_state point per received state.
func (s *InfluxSink) RecordVehicleState(ev coremetrics.VehicleStateEvent) error {
	p := write.NewPointWithMeasurement("vehicle_state").
		AddTag("manufacturer", ev.Manufacturer).
		AddTag("serial_number", ev.SerialNumber).
		AddField("order_id", ev.OrderID).
		AddField("last_node_id", ev.LastNodeID).
		AddField("driving", ev.Driving).
		AddField("battery_charge", round3(ev.BatteryCharge)).
		AddField("errors", ev.Errors).
		SetTime(ev.Time)
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
