package dispatch

import "github.com/kilianp07/vda5050/core/protocol"

type filterMode uint8

const (
	modeSelf filterMode = iota + 1
	modeAny
	modeManufacturer
)

// IdentityFilter selects which senders a handler accepts.
type IdentityFilter struct {
	mode         filterMode
	manufacturer string
}

// Self accepts messages addressed to the dispatcher's own identity.
func Self() IdentityFilter { return IdentityFilter{mode: modeSelf} }

// Any accepts messages from every sender.
func Any() IdentityFilter { return IdentityFilter{mode: modeAny} }

// Manufacturer accepts messages from every vehicle of manufacturer m.
func Manufacturer(m string) IdentityFilter {
	return IdentityFilter{mode: modeManufacturer, manufacturer: m}
}

// Match reports whether a message concerning sender passes the filter for
// a dispatcher owned by self.
func (f IdentityFilter) Match(self, sender protocol.Identity) bool {
	switch f.mode {
	case modeSelf:
		return self.SameVehicle(sender)
	case modeAny:
		return true
	case modeManufacturer:
		return sender.Manufacturer == f.manufacturer
	default:
		return false
	}
}

// Scope returns the manufacturer the filter is restricted to, if any.
func (f IdentityFilter) Scope() string { return f.manufacturer }

func (f IdentityFilter) String() string {
	switch f.mode {
	case modeSelf:
		return "self"
	case modeAny:
		return "any"
	case modeManufacturer:
		return "manufacturer:" + f.manufacturer
	default:
		return "none"
	}
}
