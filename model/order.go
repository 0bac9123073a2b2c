// Package model holds typed VDA5050 2.x documents. Header fields are left
// out: the client stamps them on every send.
package model

import (
	"errors"
	"fmt"
)

// BlockingType says whether an action may run while driving or alongside
// other actions.
type BlockingType string

const (
	BlockingNone BlockingType = "NONE"
	BlockingSoft BlockingType = "SOFT"
	BlockingHard BlockingType = "HARD"
)

// ActionParameter is one key/value argument of an action.
type ActionParameter struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Action is a task attached to a node, an edge or sent as instant action.
type Action struct {
	ActionType        string            `json:"actionType"`
	ActionID          string            `json:"actionId"`
	ActionDescription string            `json:"actionDescription,omitempty"`
	BlockingType      BlockingType      `json:"blockingType"`
	ActionParameters  []ActionParameter `json:"actionParameters,omitempty"`
}

// Param returns the value of the parameter named key.
func (a Action) Param(key string) (any, bool) {
	for _, p := range a.ActionParameters {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// NodePosition places a node on a map.
type NodePosition struct {
	X                     float64  `json:"x"`
	Y                     float64  `json:"y"`
	Theta                 *float64 `json:"theta,omitempty"`
	AllowedDeviationXY    *float64 `json:"allowedDeviationXY,omitempty"`
	AllowedDeviationTheta *float64 `json:"allowedDeviationTheta,omitempty"`
	MapID                 string   `json:"mapId"`
}

// Node is a point of the order graph. Sequence ids of nodes are even.
type Node struct {
	NodeID       string        `json:"nodeId"`
	SequenceID   int           `json:"sequenceId"`
	Released     bool          `json:"released"`
	NodePosition *NodePosition `json:"nodePosition,omitempty"`
	Actions      []Action      `json:"actions"`
}

// Edge connects two nodes. Sequence ids of edges are odd.
type Edge struct {
	EdgeID      string   `json:"edgeId"`
	SequenceID  int      `json:"sequenceId"`
	Released    bool     `json:"released"`
	StartNodeID string   `json:"startNodeId"`
	EndNodeID   string   `json:"endNodeId"`
	MaxSpeed    *float64 `json:"maxSpeed,omitempty"`
	Actions     []Action `json:"actions"`
}

// Order is sent by the master control to one vehicle.
type Order struct {
	OrderID       string `json:"orderId"`
	OrderUpdateID uint32 `json:"orderUpdateId"`
	ZoneSetID     string `json:"zoneSetId,omitempty"`
	Nodes         []Node `json:"nodes"`
	Edges         []Edge `json:"edges"`
}

// ErrInvalidOrder is wrapped by every Order.Validate failure.
var ErrInvalidOrder = errors.New("invalid order")

// Validate checks the graph invariants the schema cannot express: node and
// edge sequence ids alternate starting at an even node, and every edge joins
// the nodes around it.
func (o Order) Validate() error {
	if o.OrderID == "" {
		return fmt.Errorf("%w: empty orderId", ErrInvalidOrder)
	}
	if len(o.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidOrder)
	}
	if len(o.Edges) != len(o.Nodes)-1 {
		return fmt.Errorf("%w: %d nodes need %d edges, got %d", ErrInvalidOrder, len(o.Nodes), len(o.Nodes)-1, len(o.Edges))
	}
	for i, n := range o.Nodes {
		if n.NodeID == "" {
			return fmt.Errorf("%w: node %d has no id", ErrInvalidOrder, i)
		}
		if n.SequenceID%2 != 0 {
			return fmt.Errorf("%w: node %s has odd sequenceId %d", ErrInvalidOrder, n.NodeID, n.SequenceID)
		}
		if i > 0 && n.SequenceID != o.Nodes[i-1].SequenceID+2 {
			return fmt.Errorf("%w: node %s sequenceId %d does not follow %d", ErrInvalidOrder, n.NodeID, n.SequenceID, o.Nodes[i-1].SequenceID)
		}
	}
	for i, e := range o.Edges {
		if e.SequenceID != o.Nodes[i].SequenceID+1 {
			return fmt.Errorf("%w: edge %s sequenceId %d not between its nodes", ErrInvalidOrder, e.EdgeID, e.SequenceID)
		}
		if e.StartNodeID != o.Nodes[i].NodeID || e.EndNodeID != o.Nodes[i+1].NodeID {
			return fmt.Errorf("%w: edge %s does not join %s and %s", ErrInvalidOrder, e.EdgeID, o.Nodes[i].NodeID, o.Nodes[i+1].NodeID)
		}
	}
	return nil
}

// Released returns the nodes the vehicle may drive to.
func (o Order) Released() []Node {
	var out []Node
	for _, n := range o.Nodes {
		if !n.Released {
			break
		}
		out = append(out, n)
	}
	return out
}

// InstantActions are executed immediately, outside of any order.
type InstantActions struct {
	Actions []Action `json:"actions"`
}
