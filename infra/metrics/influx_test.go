package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/vda5050/core/metrics"
	"github.com/kilianp07/vda5050/core/protocol"
)

type bodyRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (b *bodyRecorder) handler(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.bodies = append(b.bodies, strings.TrimSpace(string(data)))
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *bodyRecorder) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bodies...)
}

func TestInfluxSink_RecordDelivery(t *testing.T) {
	rec := &bodyRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	ev := coremetrics.DeliveryEvent{
		Kind:         protocol.KindState,
		Manufacturer: "RobotCompany",
		SerialNumber: "001",
		HeaderID:     7,
		Latency:      250 * time.Millisecond,
		Time:         now,
	}
	if err := sink.RecordDelivery(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("message_received").
		AddTag("kind", "state").
		AddTag("manufacturer", "RobotCompany").
		AddTag("serial_number", "001").
		AddField("header_id", int64(7)).
		AddField("retained", false).
		AddField("latency_ms", 250.0).
		SetTime(now)
	expected := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	bodies := rec.all()
	if len(bodies) != 1 || bodies[0] != expected {
		t.Errorf("unexpected bodies: %#v", bodies)
	}
}

func TestInfluxSink_RecordPublishAndTransport(t *testing.T) {
	rec := &bodyRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL+"/api/v2/write", "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	if err := sink.RecordPublish(coremetrics.PublishEvent{
		Kind: protocol.KindOrder, Manufacturer: "m", SerialNumber: "s",
		HeaderID: 3, Bytes: 120, Success: true, Time: now,
	}); err != nil {
		t.Fatalf("record publish: %v", err)
	}
	if err := sink.RecordTransport(coremetrics.TransportEvent{
		From: "reconnecting", To: "connected", Attempt: 2, Time: now,
	}); err != nil {
		t.Fatalf("record transport: %v", err)
	}
	bodies := rec.all()
	if len(bodies) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(bodies))
	}
	if !strings.HasPrefix(bodies[0], "message_published,kind=order") {
		t.Errorf("unexpected publish line: %s", bodies[0])
	}
	if !strings.Contains(bodies[0], "bytes=120i") {
		t.Errorf("bytes field missing: %s", bodies[0])
	}
	if !strings.HasPrefix(bodies[1], "transport_state,from=reconnecting,to=connected") {
		t.Errorf("unexpected transport line: %s", bodies[1])
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}

func TestInfluxSink_RecordVehicleState(t *testing.T) {
	rec := &bodyRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	if err := sink.RecordVehicleState(coremetrics.VehicleStateEvent{
		Manufacturer: "acme", SerialNumber: "agv1", OrderID: "o1", LastNodeID: "n2",
		Driving: true, BatteryCharge: 81.25, Errors: 1, Time: time.Now(),
	}); err != nil {
		t.Fatalf("record state: %v", err)
	}
	bodies := rec.all()
	if len(bodies) != 1 {
		t.Fatalf("expected 1 write, got %d", len(bodies))
	}
	if !strings.HasPrefix(bodies[0], "vehicle_state,manufacturer=acme,serial_number=agv1") {
		t.Errorf("unexpected line: %s", bodies[0])
	}
	for _, field := range []string{`order_id="o1"`, "battery_charge=81.25", "driving=true", "errors=1i"} {
		if !strings.Contains(bodies[0], field) {
			t.Errorf("field %s missing: %s", field, bodies[0])
		}
	}
}
