package client

import (
	"context"

	"github.com/kilianp07/vda5050/core/dispatch"
	"github.com/kilianp07/vda5050/core/mqtt"
	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/core/topic"
)

// ControllerClient is the fleet control side: it sends orders and instant
// actions to explicit vehicles and observes every vehicle, or every
// vehicle of Config.ManufacturerScope, through wildcard subscriptions.
type ControllerClient struct {
	*Client
	filter dispatch.IdentityFilter
}

// NewController creates a controller-role client on tr.
func NewController(cfg Config, tr mqtt.Transport, opts ...Option) (*ControllerClient, error) {
	c, err := newClient(cfg, protocol.RoleController, tr, opts...)
	if err != nil {
		return nil, err
	}
	ctrl := &ControllerClient{Client: c, filter: dispatch.Any()}
	if scope := c.cfg.ManufacturerScope; scope != "" {
		ctrl.filter = dispatch.Manufacturer(scope)
	}
	partial := protocol.Identity{
		InterfaceName:   c.id.InterfaceName,
		ProtocolVersion: c.id.ProtocolVersion,
		Manufacturer:    c.cfg.ManufacturerScope,
	}
	c.hooks = hooks{
		pattern: func(k protocol.MessageKind) (string, error) { return topic.WildcardPattern(partial, k) },
	}
	return ctrl, nil
}

// Filter returns the identity filter used by the On* registrations.
func (c *ControllerClient) Filter() dispatch.IdentityFilter { return c.filter }

// SendOrder publishes an order to target.
func (c *ControllerClient) SendOrder(ctx context.Context, target protocol.Identity, payload any) (protocol.Header, error) {
	return c.SendTo(ctx, target, protocol.KindOrder, payload)
}

// SendInstantActions publishes instant actions to target.
func (c *ControllerClient) SendInstantActions(ctx context.Context, target protocol.Identity, payload any) (protocol.Header, error) {
	return c.SendTo(ctx, target, protocol.KindInstantActions, payload)
}

// OnState registers h for state messages of observed vehicles.
func (c *ControllerClient) OnState(h dispatch.Handler) *dispatch.Registration {
	return c.Register(protocol.KindState, c.filter, h)
}

// OnConnection registers h for connection messages of observed vehicles.
func (c *ControllerClient) OnConnection(h dispatch.Handler) *dispatch.Registration {
	return c.Register(protocol.KindConnection, c.filter, h)
}

// OnFactsheet registers h for factsheets of observed vehicles.
func (c *ControllerClient) OnFactsheet(h dispatch.Handler) *dispatch.Registration {
	return c.Register(protocol.KindFactsheet, c.filter, h)
}

// OnVisualization registers h for visualization messages of observed
// vehicles.
func (c *ControllerClient) OnVisualization(h dispatch.Handler) *dispatch.Registration {
	return c.Register(protocol.KindVisualization, c.filter, h)
}
