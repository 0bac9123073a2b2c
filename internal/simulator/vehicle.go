package simulator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/vda5050/model"
)

var (
	// ErrStaleOrder is returned for an update older than the current order.
	ErrStaleOrder = errors.New("stale order update")
	// ErrOrderActive is returned for a new order while another one runs.
	ErrOrderActive = errors.New("vehicle is executing another order")
	// ErrUpdateMismatch is returned when an update does not start at the
	// node the vehicle last reached.
	ErrUpdateMismatch = errors.New("order update does not start at the last reached node")
)

// Instant action types understood by the vehicle.
const (
	ActionCancelOrder      = "cancelOrder"
	ActionStartPause       = "startPause"
	ActionStopPause        = "stopPause"
	ActionStartCharging    = "startCharging"
	ActionStopCharging     = "stopCharging"
	ActionFactsheetRequest = "factsheetRequest"
	ActionStateRequest     = "stateRequest"
)

// Effects tells the caller what to publish after instant actions ran.
type Effects struct {
	FactsheetRequested bool
}

// Vehicle executes orders node by node. It is safe for concurrent use.
type Vehicle struct {
	serial    string
	mapID     string
	factsheet model.Factsheet

	mu       sync.Mutex
	battery  Battery
	order    model.Order
	hasOrder bool
	next     int // index into the released nodes of the next node to reach
	lastNode model.Node
	paused   bool
	charging bool
	pos      model.AgvPosition
	actions  []model.ActionState
	errs     []model.Error
}

// NewVehicle returns an idle vehicle standing at the origin of map "map1".
func NewVehicle(serial string, battery Battery) *Vehicle {
	return &Vehicle{
		serial:  serial,
		mapID:   "map1",
		battery: battery,
		pos:     model.AgvPosition{MapID: "map1", PositionInitialized: true},
		factsheet: model.Factsheet{
			TypeSpecification: model.TypeSpecification{
				SeriesName:        "sim",
				SeriesDescription: "simulated vehicle " + serial,
				AgvKinematic:      "DIFF",
				AgvClass:          "CARRIER",
				MaxLoadMass:       500,
				LocalizationTypes: []string{"NATURAL"},
				NavigationTypes:   []string{"AUTONOMOUS"},
			},
			PhysicalParameters: model.PhysicalParameters{
				SpeedMax:        1.5,
				AccelerationMax: 0.5,
				DecelerationMax: 0.8,
				HeightMax:       0.4,
				Width:           0.8,
				Length:          1.2,
			},
		},
	}
}

// Serial returns the vehicle serial number.
func (v *Vehicle) Serial() string { return v.serial }

// Factsheet returns the vehicle factsheet.
func (v *Vehicle) Factsheet() model.Factsheet { return v.factsheet }

// AcceptOrder starts a new order or applies an update to the current one.
// A rejected order is also reported in the state errors.
func (v *Vehicle) AcceptOrder(o model.Order) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := o.Validate(); err != nil {
		v.reportOrderError("validationError", o, err)
		return err
	}
	if v.hasOrder && o.OrderID == v.order.OrderID {
		switch {
		case o.OrderUpdateID < v.order.OrderUpdateID:
			err := fmt.Errorf("%w: %d < %d", ErrStaleOrder, o.OrderUpdateID, v.order.OrderUpdateID)
			v.reportOrderError("orderUpdateError", o, err)
			return err
		case o.OrderUpdateID == v.order.OrderUpdateID:
			return nil
		}
		if o.Nodes[0].NodeID != v.lastNode.NodeID || o.Nodes[0].SequenceID != v.lastNode.SequenceID {
			err := fmt.Errorf("%w: starts at %s, vehicle at %s", ErrUpdateMismatch, o.Nodes[0].NodeID, v.lastNode.NodeID)
			v.reportOrderError("orderUpdateError", o, err)
			return err
		}
		v.load(o, true)
		return nil
	}
	if v.active() {
		err := fmt.Errorf("%w: %s", ErrOrderActive, v.order.OrderID)
		v.reportOrderError("orderUpdateError", o, err)
		return err
	}
	v.load(o, false)
	return nil
}

func (v *Vehicle) load(o model.Order, update bool) {
	v.order = o
	v.hasOrder = true
	v.errs = nil
	if !update {
		v.actions = nil
	}
	for i, n := range o.Nodes {
		if update && i == 0 {
			continue
		}
		v.queueActions(n.Actions)
	}
	for _, e := range o.Edges {
		v.queueActions(e.Actions)
	}
	if !update {
		v.arrive(o.Nodes[0])
	}
	v.next = 1
}

func (v *Vehicle) queueActions(actions []model.Action) {
	for _, a := range actions {
		if v.known(a.ActionID) {
			continue
		}
		v.actions = append(v.actions, model.ActionState{ActionID: a.ActionID, ActionType: a.ActionType, ActionStatus: model.ActionWaiting})
	}
}

func (v *Vehicle) known(id string) bool {
	for _, a := range v.actions {
		if a.ActionID == id {
			return true
		}
	}
	return false
}

func (v *Vehicle) arrive(n model.Node) {
	v.lastNode = n
	if n.NodePosition != nil {
		v.pos.X, v.pos.Y = n.NodePosition.X, n.NodePosition.Y
		if n.NodePosition.Theta != nil {
			v.pos.Theta = *n.NodePosition.Theta
		}
		v.pos.MapID = n.NodePosition.MapID
	}
	v.finish(n.Actions)
}

func (v *Vehicle) finish(actions []model.Action) {
	for _, a := range actions {
		v.setStatus(a.ActionID, model.ActionFinished)
	}
}

func (v *Vehicle) setStatus(id string, st model.ActionStatus) {
	for i := range v.actions {
		if v.actions[i].ActionID == id {
			v.actions[i].ActionStatus = st
			return
		}
	}
}

// active reports whether released nodes remain to be reached.
func (v *Vehicle) active() bool {
	return v.hasOrder && v.next < len(v.order.Released())
}

func (v *Vehicle) driving() bool {
	return v.active() && !v.paused && !v.charging && !v.battery.Empty()
}

// Step advances the simulation by dt: the battery charges or drains and a
// driving vehicle reaches its next node. It reports whether the published
// state changed.
func (v *Vehicle) Step(dt time.Duration) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.charging {
		v.battery.ApplyPower(-v.battery.ChargeW, dt)
		return true
	}
	if !v.driving() {
		return false
	}
	v.battery.ApplyPower(v.battery.DrainW, dt)
	released := v.order.Released()
	v.finish(v.order.Edges[v.next-1].Actions)
	v.arrive(released[v.next])
	v.next++
	return true
}

// HandleInstantActions runs every action immediately and records its
// outcome in the action states.
func (v *Vehicle) HandleInstantActions(ia model.InstantActions) Effects {
	v.mu.Lock()
	defer v.mu.Unlock()

	var fx Effects
	for _, a := range ia.Actions {
		st := model.ActionFinished
		switch a.ActionType {
		case ActionCancelOrder:
			if !v.cancel() {
				st = model.ActionFailed
				v.report("noOrderToCancel", model.LevelWarning, "no order to cancel", nil)
			}
		case ActionStartPause:
			v.paused = true
		case ActionStopPause:
			v.paused = false
		case ActionStartCharging:
			if v.driving() {
				st = model.ActionFailed
				v.report("chargingError", model.LevelWarning, "cannot charge while driving", nil)
			} else {
				v.charging = true
			}
		case ActionStopCharging:
			v.charging = false
		case ActionFactsheetRequest:
			fx.FactsheetRequested = true
		case ActionStateRequest:
		default:
			st = model.ActionFailed
			v.report("unknownAction", model.LevelWarning, "unsupported instant action "+a.ActionType,
				[]model.ErrorReference{{ReferenceKey: "actionId", ReferenceValue: a.ActionID}})
		}
		v.actions = append(v.actions, model.ActionState{ActionID: a.ActionID, ActionType: a.ActionType, ActionStatus: st})
	}
	return fx
}

// cancel drops the unreached part of the order and fails its pending
// actions.
func (v *Vehicle) cancel() bool {
	if !v.active() {
		return false
	}
	for i := range v.actions {
		if !v.actions[i].ActionStatus.Done() {
			v.actions[i].ActionStatus = model.ActionFailed
		}
	}
	v.order.Nodes = v.order.Nodes[:v.next]
	v.order.Edges = v.order.Edges[:v.next-1]
	return true
}

func (v *Vehicle) report(kind string, level model.ErrorLevel, desc string, refs []model.ErrorReference) {
	v.errs = append(v.errs, model.Error{ErrorType: kind, ErrorLevel: level, ErrorDescription: desc, ErrorReferences: refs})
}

func (v *Vehicle) reportOrderError(kind string, o model.Order, err error) {
	v.report(kind, model.LevelWarning, err.Error(), []model.ErrorReference{
		{ReferenceKey: "orderId", ReferenceValue: o.OrderID},
		{ReferenceKey: "orderUpdateId", ReferenceValue: fmt.Sprint(o.OrderUpdateID)},
	})
}

// State renders the current state document.
func (v *Vehicle) State() model.State {
	v.mu.Lock()
	defer v.mu.Unlock()

	paused := v.paused
	pos := v.pos
	st := model.State{
		OrderID:            v.order.OrderID,
		OrderUpdateID:      v.order.OrderUpdateID,
		LastNodeID:         v.lastNode.NodeID,
		LastNodeSequenceID: v.lastNode.SequenceID,
		Driving:            v.driving(),
		Paused:             &paused,
		NodeStates:         []model.NodeState{},
		EdgeStates:         []model.EdgeState{},
		AgvPosition:        &pos,
		ActionStates:       append([]model.ActionState{}, v.actions...),
		BatteryState: model.BatteryState{
			BatteryCharge: v.battery.Percent(),
			Charging:      v.charging,
		},
		OperatingMode: model.ModeAutomatic,
		Errors:        append([]model.Error{}, v.errs...),
		SafetyState:   model.SafetyState{EStop: model.EStopNone},
	}
	if v.hasOrder {
		for _, n := range v.order.Nodes[min(v.next, len(v.order.Nodes)):] {
			st.NodeStates = append(st.NodeStates, model.NodeState{NodeID: n.NodeID, SequenceID: n.SequenceID, Released: n.Released, NodePosition: n.NodePosition})
		}
		for _, e := range v.order.Edges[min(v.next-1, len(v.order.Edges)):] {
			st.EdgeStates = append(st.EdgeStates, model.EdgeState{EdgeID: e.EdgeID, SequenceID: e.SequenceID, Released: e.Released})
		}
	}
	return st
}
