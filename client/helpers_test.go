package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilianp07/vda5050/core/dispatch"
	"github.com/kilianp07/vda5050/core/mqtt"
	"github.com/kilianp07/vda5050/infra/logger"
	"github.com/kilianp07/vda5050/internal/broker"
)

const waitFor = 2 * time.Second

func boolPtr(b bool) *bool { return &b }

func agentConfig(serial string) Config {
	return Config{Manufacturer: "acme", SerialNumber: serial}
}

func controllerConfig() Config {
	return Config{Manufacturer: "fleet", SerialNumber: "mc1"}
}

func newAgent(t *testing.T, b *broker.Broker, cfg Config, opts ...Option) *AgentClient {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NopLogger{})}, opts...)
	a, err := NewAgent(cfg, b.NewTransport("agent-"+cfg.SerialNumber), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Disconnect(context.Background()) })
	return a
}

func newController(t *testing.T, b *broker.Broker, cfg Config, opts ...Option) *ControllerClient {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NopLogger{})}, opts...)
	c, err := NewController(cfg, b.NewTransport("controller-"+cfg.SerialNumber), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

// inbox collects messages delivered to a handler.
type inbox struct {
	mu   sync.Mutex
	msgs []dispatch.Message
}

func (in *inbox) handler(_ context.Context, m dispatch.Message) error {
	in.mu.Lock()
	in.msgs = append(in.msgs, m)
	in.mu.Unlock()
	return nil
}

func (in *inbox) all() []dispatch.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]dispatch.Message(nil), in.msgs...)
}

func (in *inbox) len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.msgs)
}

func validState(orderID string) map[string]any {
	return map[string]any{
		"orderId":            orderID,
		"orderUpdateId":      0,
		"lastNodeId":         "n0",
		"lastNodeSequenceId": 0,
		"driving":            false,
		"nodeStates":         []any{},
		"edgeStates":         []any{},
		"actionStates":       []any{},
		"batteryState":       map[string]any{"batteryCharge": 80.0, "charging": false},
		"operatingMode":      "AUTOMATIC",
		"errors":             []any{},
		"safetyState":        map[string]any{"eStop": "NONE", "fieldViolation": false},
	}
}

func validFactsheet() map[string]any {
	return map[string]any{
		"typeSpecification": map[string]any{
			"seriesName":        "S1",
			"agvKinematic":      "DIFF",
			"agvClass":          "CARRIER",
			"maxLoadMass":       500,
			"localizationTypes": []string{"NATURAL"},
			"navigationTypes":   []string{"AUTONOMOUS"},
		},
		"physicalParameters": map[string]any{
			"speedMin": 0.0, "speedMax": 2.0, "accelerationMax": 1.0, "decelerationMax": 1.0,
			"heightMax": 1.5, "width": 0.8, "length": 1.2,
		},
	}
}

func validOrder(orderID string) map[string]any {
	return map[string]any{
		"orderId":       orderID,
		"orderUpdateId": 0,
		"nodes": []any{
			map[string]any{"nodeId": "n1", "sequenceId": 0, "released": true, "actions": []any{}},
		},
		"edges": []any{},
	}
}

// flakyTransport fails the next publish when armed.
type flakyTransport struct {
	mqtt.Transport
	mu   sync.Mutex
	fail bool
}

func (f *flakyTransport) failNext() {
	f.mu.Lock()
	f.fail = true
	f.mu.Unlock()
}

func (f *flakyTransport) Publish(ctx context.Context, topic string, payload []byte, qos mqtt.QoS, retain bool) error {
	f.mu.Lock()
	fail := f.fail
	f.fail = false
	f.mu.Unlock()
	if fail {
		return errors.New("broker refused")
	}
	return f.Transport.Publish(ctx, topic, payload, qos, retain)
}
