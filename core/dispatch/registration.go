package dispatch

import (
	"context"
	"sync"

	"github.com/kilianp07/vda5050/core/monitoring"
	"github.com/kilianp07/vda5050/core/protocol"
)

// Handler consumes one inbound message. A returned error is reported but
// never stops the lane.
type Handler func(ctx context.Context, msg Message) error

// Registration is the revocation handle returned by Register.
type Registration struct {
	d       *Dispatcher
	id      uint64
	kind    protocol.MessageKind
	filter  IdentityFilter
	handler Handler

	// mu is held for reading during an invocation and for writing by Revoke.
	mu      sync.RWMutex
	revoked bool
}

// Kind returns the message kind the handler is registered for.
func (r *Registration) Kind() protocol.MessageKind { return r.kind }

// Filter returns the identity filter of the registration.
func (r *Registration) Filter() IdentityFilter { return r.filter }

// Revoke removes the handler. When Revoke returns, no invocation of this
// handler is running and none will start. It waits for an invocation in
// progress, so it must not be called from inside the same handler; use a
// separate goroutine there. Revoke is idempotent.
func (r *Registration) Revoke() {
	r.d.unregister(r)
	r.mu.Lock()
	r.revoked = true
	r.mu.Unlock()
}

// invoke runs the handler unless it was revoked. Panics are returned as
// *monitoring.PanicError.
func (r *Registration) invoke(ctx context.Context, msg Message) (ran bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.revoked {
		return false, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = &monitoring.PanicError{Value: rec}
		}
	}()
	return true, r.handler(ctx, msg)
}
