// Package broker is an in-process MQTT broker used by tests and local runs.
// It keeps retained messages, matches '+' and '#' filters and publishes the
// last will of a session that is dropped without Disconnect.
package broker

import (
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/vda5050/core/mqtt"
	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/core/topic"
)

// Publication is one accepted publish, recorded in arrival order.
type Publication struct {
	ClientID string
	Topic    string
	Payload  []byte
	QoS      mqtt.QoS
	Retained bool
}

// Broker routes publications between the transports it created.
type Broker struct {
	mu       sync.Mutex
	retained map[string]Publication
	sessions map[*Transport]struct{}
	history  []Publication
	down     bool
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{
		retained: make(map[string]Publication),
		sessions: make(map[*Transport]struct{}),
	}
}

// SetDown makes every following Connect fail until called with false.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// Retained returns the retained publication for t, if any.
func (b *Broker) Retained(t string) (Publication, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[t]
	return p, ok
}

// History returns every publication accepted so far.
func (b *Broker) History() []Publication {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Publication(nil), b.history...)
}

// HistoryFor returns the publications whose topic matches pattern.
func (b *Broker) HistoryFor(pattern string) []Publication {
	var out []Publication
	for _, p := range b.History() {
		if topic.Matches(pattern, p.Topic) {
			out = append(out, p)
		}
	}
	return out
}

func (b *Broker) attach(t *Transport) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return &protocol.ConnectionError{Broker: "inproc", Err: errBrokerDown}
	}
	b.sessions[t] = struct{}{}
	return nil
}

func (b *Broker) detach(t *Transport) {
	b.mu.Lock()
	delete(b.sessions, t)
	b.mu.Unlock()
}

// route stores and fans out p. Handlers run on the caller's goroutine after
// the broker lock is released so they may publish themselves.
func (b *Broker) route(p Publication) {
	b.mu.Lock()
	b.history = append(b.history, p)
	if p.Retained {
		if len(p.Payload) == 0 {
			delete(b.retained, p.Topic)
		} else {
			b.retained[p.Topic] = p
		}
	}
	targets := make([]*Transport, 0, len(b.sessions))
	for s := range b.sessions {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	del := mqtt.Delivery{Topic: p.Topic, Payload: p.Payload, QoS: p.QoS, Received: time.Now()}
	for _, s := range targets {
		s.deliver(del)
	}
}

// retainedFor returns the retained publications matching pattern, ordered
// by topic.
func (b *Broker) retainedFor(pattern string) []Publication {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Publication
	for t, p := range b.retained {
		if topic.Matches(pattern, t) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// NewTransport creates a disconnected session on b.
func (b *Broker) NewTransport(clientID string) *Transport {
	return &Transport{broker: b, clientID: clientID}
}
