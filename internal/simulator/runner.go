package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/vda5050/client"
	"github.com/kilianp07/vda5050/core/dispatch"
	"github.com/kilianp07/vda5050/core/mqtt"
	"github.com/kilianp07/vda5050/infra/logger"
	"github.com/kilianp07/vda5050/model"
)

// Config holds parameters for the simulated fleet.
type Config struct {
	Vehicles        int    `json:"vehicles"`
	SerialPrefix    string `json:"serial_prefix"`
	Battery         string `json:"battery"`
	StepIntervalMS  int    `json:"step_interval_ms"`
	StateIntervalMS int    `json:"state_interval_ms"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Vehicles <= 0 {
		c.Vehicles = 1
	}
	if c.SerialPrefix == "" {
		c.SerialPrefix = "agv"
	}
	if c.StepIntervalMS <= 0 {
		c.StepIntervalMS = 1_000
	}
	if c.StateIntervalMS <= 0 {
		c.StateIntervalMS = 30_000
	}
}

// Validate checks the fleet parameters.
func (c Config) Validate() error {
	var errs []error
	if c.Vehicles < 0 {
		errs = append(errs, errors.New("vehicles must not be negative"))
	}
	switch c.Battery {
	case "", "small", "medium", "large":
	default:
		errs = append(errs, fmt.Errorf("unknown battery profile %q", c.Battery))
	}
	return errors.Join(errs...)
}

// TransportFactory returns the transport one vehicle connects with.
type TransportFactory func(serial string) (mqtt.Transport, error)

// Runner connects one agent client per simulated vehicle.
type Runner struct {
	cfg          Config
	base         client.Config
	newTransport TransportFactory
	log          logger.Logger
	opts         []client.Option
}

// NewRunner prepares a fleet. base is copied for every vehicle with the
// serial number replaced.
func NewRunner(cfg Config, base client.Config, tf TransportFactory, log logger.Logger, opts ...client.Option) (*Runner, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tf == nil {
		return nil, errors.New("simulator: nil transport factory")
	}
	return &Runner{cfg: cfg, base: base, newTransport: tf, log: logger.OrNop(log), opts: opts}, nil
}

// Run drives every vehicle until ctx is done, then disconnects them. It
// fails if any vehicle cannot connect.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, serial := range Serials(r.cfg.SerialPrefix, r.cfg.Vehicles) {
		g.Go(func() error { return r.runVehicle(ctx, serial) })
	}
	return g.Wait()
}

func (r *Runner) runVehicle(ctx context.Context, serial string) error {
	tr, err := r.newTransport(serial)
	if err != nil {
		return fmt.Errorf("%s: transport: %w", serial, err)
	}
	cfg := r.base
	cfg.SerialNumber = serial
	agent, err := client.NewAgent(cfg, tr, r.opts...)
	if err != nil {
		return fmt.Errorf("%s: %w", serial, err)
	}
	v := NewVehicle(serial, BatteryProfile(r.cfg.Battery))
	d := &driver{agent: agent, vehicle: v, log: r.log}
	agent.OnOrder(d.onOrder)
	agent.OnInstantActions(d.onInstantActions)

	if err := agent.Connect(ctx); err != nil {
		return fmt.Errorf("%s: %w", serial, err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := agent.Disconnect(stopCtx); err != nil {
			r.log.Warnf("%s: disconnect: %v", serial, err)
		}
	}()

	if _, err := agent.SendFactsheet(ctx, v.Factsheet()); err != nil {
		r.log.Errorf("%s: factsheet: %v", serial, err)
	}
	d.publishState(ctx)

	step := time.NewTicker(time.Duration(r.cfg.StepIntervalMS) * time.Millisecond)
	defer step.Stop()
	state := time.NewTicker(time.Duration(r.cfg.StateIntervalMS) * time.Millisecond)
	defer state.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-step.C:
			changed := v.Step(now.Sub(last))
			last = now
			if changed {
				d.publishState(ctx)
			}
		case <-state.C:
			d.publishState(ctx)
		}
	}
}

// driver connects the protocol handlers of one agent to its vehicle.
type driver struct {
	agent   *client.AgentClient
	vehicle *Vehicle
	log     logger.Logger
}

func (d *driver) onOrder(ctx context.Context, msg dispatch.Message) error {
	o, err := model.Decode[model.Order](msg.Payload)
	if err != nil {
		return err
	}
	if err := d.vehicle.AcceptOrder(o); err != nil {
		d.log.Warnw("order rejected", map[string]any{"serial": d.vehicle.Serial(), "order_id": o.OrderID, "error": err.Error()})
	} else {
		d.log.Infof("%s accepted order %s/%d", d.vehicle.Serial(), o.OrderID, o.OrderUpdateID)
	}
	d.publishState(ctx)
	return nil
}

func (d *driver) onInstantActions(ctx context.Context, msg dispatch.Message) error {
	ia, err := model.Decode[model.InstantActions](msg.Payload)
	if err != nil {
		return err
	}
	fx := d.vehicle.HandleInstantActions(ia)
	if fx.FactsheetRequested {
		if _, err := d.agent.SendFactsheet(ctx, d.vehicle.Factsheet()); err != nil {
			d.log.Errorf("%s: factsheet: %v", d.vehicle.Serial(), err)
		}
	}
	d.publishState(ctx)
	return nil
}

func (d *driver) publishState(ctx context.Context) {
	if _, err := d.agent.SendState(ctx, d.vehicle.State()); err != nil {
		d.log.Warnf("%s: state: %v", d.vehicle.Serial(), err)
	}
}
