package protocol

import "fmt"

// MessageKind is one of the six VDA5050 topics.
type MessageKind uint8

const (
	KindConnection MessageKind = iota + 1
	KindFactsheet
	KindState
	KindOrder
	KindInstantActions
	KindVisualization
)

// Kinds lists every message kind in a stable order.
func Kinds() []MessageKind {
	return []MessageKind{
		KindConnection,
		KindFactsheet,
		KindState,
		KindOrder,
		KindInstantActions,
		KindVisualization,
	}
}

// Token returns the topic suffix of the kind.
func (k MessageKind) Token() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindFactsheet:
		return "factsheet"
	case KindState:
		return "state"
	case KindOrder:
		return "order"
	case KindInstantActions:
		return "instantActions"
	case KindVisualization:
		return "visualization"
	default:
		return ""
	}
}

func (k MessageKind) String() string {
	if t := k.Token(); t != "" {
		return t
	}
	return fmt.Sprintf("MessageKind(%d)", uint8(k))
}

// Valid reports whether k is one of the declared kinds.
func (k MessageKind) Valid() bool { return k.Token() != "" }

// ParseKind maps a topic token back to its kind.
func ParseKind(token string) (MessageKind, bool) {
	switch token {
	case "connection":
		return KindConnection, true
	case "factsheet":
		return KindFactsheet, true
	case "state":
		return KindState, true
	case "order":
		return KindOrder, true
	case "instantActions":
		return KindInstantActions, true
	case "visualization":
		return KindVisualization, true
	default:
		return 0, false
	}
}

// Role is the side of the protocol a client plays.
type Role uint8

const (
	RoleAgent Role = iota + 1
	RoleController
)

func (r Role) String() string {
	switch r {
	case RoleAgent:
		return "agent"
	case RoleController:
		return "controller"
	default:
		return "unknown"
	}
}

// KindProperties are the fixed per-kind publishing rules.
type KindProperties struct {
	Retained  bool
	Publisher Role
}

// KindTable maps every kind to its properties. It is immutable once built;
// clients receive one at construction.
type KindTable struct {
	props map[MessageKind]KindProperties
}

// NewKindTable builds a table. Every kind must be present.
func NewKindTable(props map[MessageKind]KindProperties) (KindTable, error) {
	cp := make(map[MessageKind]KindProperties, len(props))
	for _, k := range Kinds() {
		p, ok := props[k]
		if !ok {
			return KindTable{}, fmt.Errorf("kind table: missing %s", k)
		}
		if p.Publisher != RoleAgent && p.Publisher != RoleController {
			return KindTable{}, fmt.Errorf("kind table: %s has no publisher role", k)
		}
		cp[k] = p
	}
	return KindTable{props: cp}, nil
}

// DefaultKindTable returns the VDA5050 2.x rules: connection and factsheet
// are retained, everything else is not.
func DefaultKindTable() KindTable {
	t, _ := NewKindTable(map[MessageKind]KindProperties{
		KindConnection:     {Retained: true, Publisher: RoleAgent},
		KindFactsheet:      {Retained: true, Publisher: RoleAgent},
		KindState:          {Retained: false, Publisher: RoleAgent},
		KindVisualization:  {Retained: false, Publisher: RoleAgent},
		KindOrder:          {Retained: false, Publisher: RoleController},
		KindInstantActions: {Retained: false, Publisher: RoleController},
	})
	return t
}

// Retained reports the retain flag for k.
func (t KindTable) Retained(k MessageKind) bool { return t.props[k].Retained }

// Publisher reports which role publishes k.
func (t KindTable) Publisher(k MessageKind) Role { return t.props[k].Publisher }

// Published returns the kinds published by role r.
func (t KindTable) Published(r Role) []MessageKind {
	var out []MessageKind
	for _, k := range Kinds() {
		if t.props[k].Publisher == r {
			out = append(out, k)
		}
	}
	return out
}

// Subscribed returns the kinds role r consumes, i.e. those published by the
// other side.
func (t KindTable) Subscribed(r Role) []MessageKind {
	var out []MessageKind
	for _, k := range Kinds() {
		if p := t.props[k].Publisher; p != 0 && p != r {
			out = append(out, k)
		}
	}
	return out
}

// IsZero reports whether the table was never built.
func (t KindTable) IsZero() bool { return t.props == nil }
