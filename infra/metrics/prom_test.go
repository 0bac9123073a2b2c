package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/vda5050/core/metrics"
	"github.com/kilianp07/vda5050/core/protocol"
)

func TestPromSink_RecordDelivery(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	ev := coremetrics.DeliveryEvent{
		Kind:         protocol.KindState,
		Manufacturer: "m",
		SerialNumber: "s1",
		Latency:      150 * time.Millisecond,
	}
	require.NoError(t, sink.RecordDelivery(ev))
	require.NoError(t, sink.RecordDelivery(ev))

	expected := `
# HELP vda5050_messages_received_total Inbound messages handed to handlers
# TYPE vda5050_messages_received_total counter
vda5050_messages_received_total{kind="state",manufacturer="m",serial_number="s1"} 2
`
	require.NoError(t, testutil.CollectAndCompare(sink.delivered, strings.NewReader(expected)))
	require.NotZero(t, testutil.CollectAndCount(sink.latency))
}

func TestPromSink_PublishDropFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordPublish(coremetrics.PublishEvent{Kind: protocol.KindOrder, Success: false}))
	require.NoError(t, sink.RecordDrop(coremetrics.DropEvent{Kind: protocol.KindOrder, Reason: "validation"}))
	require.NoError(t, sink.RecordHandlerFailure(coremetrics.HandlerFailureEvent{Kind: protocol.KindOrder, Panic: true}))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.published.WithLabelValues("order", "false")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.dropped.WithLabelValues("order", "validation")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.failures.WithLabelValues("order", "true")))
}

func TestPromSink_RecordTransport(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordTransport(coremetrics.TransportEvent{From: "connected", To: "reconnecting", Attempt: 1}))
	require.NoError(t, sink.RecordTransport(coremetrics.TransportEvent{From: "reconnecting", To: "connected"}))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.reconnects))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.state.WithLabelValues("connected")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.state.WithLabelValues("reconnecting")))
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	second, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, first.RecordDrop(coremetrics.DropEvent{Kind: protocol.KindState, Reason: "queue"}))
	require.Equal(t, 1.0, testutil.ToFloat64(second.dropped.WithLabelValues("state", "queue")))
}

func TestPromSink_RecordVehicleState(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordVehicleState(coremetrics.VehicleStateEvent{Manufacturer: "m", SerialNumber: "s1", BatteryCharge: 64.5, Driving: true}))
	require.Equal(t, 64.5, testutil.ToFloat64(sink.battery.WithLabelValues("m", "s1")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.driving.WithLabelValues("m", "s1")))

	require.NoError(t, sink.RecordVehicleState(coremetrics.VehicleStateEvent{Manufacturer: "m", SerialNumber: "s1", BatteryCharge: 60}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.driving.WithLabelValues("m", "s1")))
}
