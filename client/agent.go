package client

import (
	"context"
	"sync"

	"github.com/kilianp07/vda5050/core/dispatch"
	"github.com/kilianp07/vda5050/core/mqtt"
	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/core/topic"
)

// AgentClient is the vehicle side: it publishes connection, factsheet,
// state and visualization and receives orders and instant actions
// addressed to itself.
//
// On connect it publishes ONLINE and the last factsheet sent, before
// disconnect it publishes OFFLINE, and when the transport supports a last
// will the broker publishes CONNECTIONBROKEN on its behalf.
type AgentClient struct {
	*Client

	mu        sync.Mutex
	factsheet []byte
}

// NewAgent creates an agent-role client on tr.
func NewAgent(cfg Config, tr mqtt.Transport, opts ...Option) (*AgentClient, error) {
	c, err := newClient(cfg, protocol.RoleAgent, tr, opts...)
	if err != nil {
		return nil, err
	}
	a := &AgentClient{Client: c}
	c.hooks = hooks{
		pattern:       func(k protocol.MessageKind) (string, error) { return topic.Build(c.id, k) },
		beforeConnect: a.armWill,
		online:        a.announce,
		offline:       a.signOff,
	}
	return a, nil
}

// OnOrder registers h for orders addressed to this vehicle.
func (a *AgentClient) OnOrder(h dispatch.Handler) *dispatch.Registration {
	return a.Register(protocol.KindOrder, dispatch.Self(), h)
}

// OnInstantActions registers h for instant actions addressed to this
// vehicle.
func (a *AgentClient) OnInstantActions(h dispatch.Handler) *dispatch.Registration {
	return a.Register(protocol.KindInstantActions, dispatch.Self(), h)
}

// UpdateConnection publishes the connection state.
func (a *AgentClient) UpdateConnection(ctx context.Context, state protocol.ConnectionState) (protocol.Header, error) {
	return a.Send(ctx, protocol.KindConnection, protocol.ConnectionPayload{ConnectionState: state})
}

// SendFactsheet publishes the factsheet and keeps it for republishing
// after every (re)connect.
func (a *AgentClient) SendFactsheet(ctx context.Context, payload any) (protocol.Header, error) {
	doc, err := encodePayload(payload)
	if err != nil {
		return protocol.Header{}, err
	}
	a.mu.Lock()
	a.factsheet = doc
	a.mu.Unlock()
	return a.Send(ctx, protocol.KindFactsheet, doc)
}

// SendState publishes a state update.
func (a *AgentClient) SendState(ctx context.Context, payload any) (protocol.Header, error) {
	return a.Send(ctx, protocol.KindState, payload)
}

// SendVisualization publishes a visualization update.
func (a *AgentClient) SendVisualization(ctx context.Context, payload any) (protocol.Header, error) {
	return a.Send(ctx, protocol.KindVisualization, payload)
}

// armWill installs a CONNECTIONBROKEN connection message as the last will.
// It reserves a connection headerId.
func (a *AgentClient) armWill() {
	wc, ok := a.transport.(mqtt.WillConfigurer)
	if !ok {
		return
	}
	tp, err := topic.Build(a.id, protocol.KindConnection)
	if err != nil {
		a.log.Errorf("will topic: %v", err)
		return
	}
	seq := a.seqs[protocol.KindConnection]
	seq.mu.Lock()
	defer seq.mu.Unlock()
	id, err := seq.peek()
	if err != nil {
		a.log.Warnf("no headerId left for the last will: %v", err)
		return
	}
	doc, err := stampHeader([]byte(`{"connectionState":"CONNECTIONBROKEN"}`), protocol.Header{
		HeaderID:     id,
		Timestamp:    a.now().UTC(),
		Version:      a.id.ProtocolVersion,
		Manufacturer: a.id.Manufacturer,
		SerialNumber: a.id.SerialNumber,
	})
	if err != nil {
		a.log.Errorf("will payload: %v", err)
		return
	}
	seq.next++
	wc.SetWill(tp, doc, a.cfg.qos(), a.kinds.Retained(protocol.KindConnection))
}

func (a *AgentClient) announce(ctx context.Context) {
	if _, err := a.UpdateConnection(ctx, protocol.ConnectionOnline); err != nil {
		a.log.Errorf("publish ONLINE: %v", err)
	}
	a.mu.Lock()
	fs := a.factsheet
	a.mu.Unlock()
	if fs == nil {
		return
	}
	if _, err := a.Send(ctx, protocol.KindFactsheet, fs); err != nil {
		a.log.Errorf("republish factsheet: %v", err)
	}
}

func (a *AgentClient) signOff(ctx context.Context) {
	if _, err := a.UpdateConnection(ctx, protocol.ConnectionOffline); err != nil {
		a.log.Errorf("publish OFFLINE: %v", err)
	}
}
