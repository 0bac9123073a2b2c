package scenarios

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilianp07/vda5050/client"
	"github.com/kilianp07/vda5050/core/dispatch"
	"github.com/kilianp07/vda5050/core/mqtt"
	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/core/vehiclestatus"
	"github.com/kilianp07/vda5050/infra/logger"
	"github.com/kilianp07/vda5050/internal/broker"
	"github.com/kilianp07/vda5050/internal/simulator"
	"github.com/kilianp07/vda5050/model"
)

const (
	manufacturer = "qa"
	waitTimeout  = 3 * time.Second
)

// RunScenario starts the simulated fleet and a controller, plays the steps
// and checks the expectations against the controller's fleet view.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	b := broker.New()
	runner, err := simulator.NewRunner(
		simulator.Config{Vehicles: sc.Vehicles, SerialPrefix: sc.SerialPrefix, StepIntervalMS: 5, StateIntervalMS: 20},
		client.Config{Manufacturer: manufacturer},
		func(serial string) (mqtt.Transport, error) { return b.NewTransport(serial), nil },
		logger.NopLogger{},
		client.WithLogger(logger.NopLogger{}),
	)
	require.NoError(t, err)

	fleet := vehiclestatus.NewMemoryStore()
	ctrl := newObserver(t, b, fleet)
	defer func() { _ = ctrl.Disconnect(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			require.NoError(t, <-done)
		})
	}
	defer stop()

	for _, serial := range simulator.Serials(sc.SerialPrefix, sc.Vehicles) {
		waitFor(t, fleet, Expect{Vehicle: serial, Connection: string(protocol.ConnectionOnline)})
	}

	for i, st := range sc.Steps {
		switch {
		case st.Order != nil:
			_, err := ctrl.SendOrder(context.Background(), target(st.Order.Vehicle), st.Order.ToModel())
			require.NoError(t, err, "step %d", i)
		case st.Instant != nil:
			ia := model.InstantActions{Actions: []model.Action{{
				ActionType:   st.Instant.Type,
				ActionID:     fmt.Sprintf("%s-%d", sc.Name, i),
				BlockingType: model.BlockingNone,
			}}}
			_, err := ctrl.SendInstantActions(context.Background(), target(st.Instant.Vehicle), ia)
			require.NoError(t, err, "step %d", i)
		case st.WaitFor != nil:
			waitFor(t, fleet, *st.WaitFor)
		case st.Stop:
			stop()
		}
	}
	for _, e := range sc.Expected {
		waitFor(t, fleet, e)
	}
}

func target(serial string) protocol.Identity {
	return protocol.Identity{Manufacturer: manufacturer, SerialNumber: serial}
}

func newObserver(t *testing.T, b *broker.Broker, fleet vehiclestatus.Store) *client.ControllerClient {
	t.Helper()
	ctrl, err := client.NewController(
		client.Config{Manufacturer: "qa-control", SerialNumber: "mc"},
		b.NewTransport("mc"),
		client.WithLogger(logger.NopLogger{}),
	)
	require.NoError(t, err)
	ctrl.OnConnection(func(_ context.Context, msg dispatch.Message) error {
		c, err := model.Decode[protocol.ConnectionPayload](msg.Payload)
		if err != nil {
			return err
		}
		fleet.SetConnection(msg.Identity, c.ConnectionState, msg.Received)
		return nil
	})
	ctrl.OnState(func(_ context.Context, msg dispatch.Message) error {
		st, err := model.Decode[model.State](msg.Payload)
		if err != nil {
			return err
		}
		fleet.UpdateState(msg.Identity, msg.Header, st, msg.Received)
		return nil
	})
	require.NoError(t, ctrl.Connect(context.Background()))
	return ctrl
}

func lookup(fleet vehiclestatus.Store, serial string) (vehiclestatus.Status, bool) {
	for _, st := range fleet.List(vehiclestatus.Filter{Manufacturer: manufacturer}) {
		if st.SerialNumber == serial {
			return st, true
		}
	}
	return vehiclestatus.Status{}, false
}

func (e Expect) match(st vehiclestatus.Status) bool {
	if e.Connection != "" && string(st.Connection) != e.Connection {
		return false
	}
	if e.OrderID != "" && st.OrderID != e.OrderID {
		return false
	}
	if e.LastNodeID != "" && st.LastNodeID != e.LastNodeID {
		return false
	}
	if e.Driving != nil && st.Driving != *e.Driving {
		return false
	}
	if e.Paused != nil && st.Paused != *e.Paused {
		return false
	}
	return st.Errors >= e.MinErrors
}

func waitFor(t *testing.T, fleet vehiclestatus.Store, e Expect) {
	t.Helper()
	var last vehiclestatus.Status
	ok := assertEventually(func() bool {
		st, found := lookup(fleet, e.Vehicle)
		last = st
		return found && e.match(st)
	})
	if !ok {
		t.Fatalf("vehicle %s never matched %+v, last status %+v", e.Vehicle, e, last)
	}
}

func assertEventually(cond func() bool) bool {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
