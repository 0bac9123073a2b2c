package model

// ActionStatus is the progress of one action.
type ActionStatus string

const (
	ActionWaiting      ActionStatus = "WAITING"
	ActionInitializing ActionStatus = "INITIALIZING"
	ActionRunning      ActionStatus = "RUNNING"
	ActionPaused       ActionStatus = "PAUSED"
	ActionFinished     ActionStatus = "FINISHED"
	ActionFailed       ActionStatus = "FAILED"
)

// Done reports whether the status is final.
func (s ActionStatus) Done() bool { return s == ActionFinished || s == ActionFailed }

// OperatingMode of the vehicle.
type OperatingMode string

const (
	ModeAutomatic     OperatingMode = "AUTOMATIC"
	ModeSemiAutomatic OperatingMode = "SEMIAUTOMATIC"
	ModeManual        OperatingMode = "MANUAL"
	ModeService       OperatingMode = "SERVICE"
	ModeTeachIn       OperatingMode = "TEACHIN"
)

// ErrorLevel of a reported error.
type ErrorLevel string

const (
	LevelWarning ErrorLevel = "WARNING"
	LevelFatal   ErrorLevel = "FATAL"
)

// EStop is the emergency stop type currently active.
type EStop string

const (
	EStopAutoAck EStop = "AUTOACK"
	EStopManual  EStop = "MANUAL"
	EStopRemote  EStop = "REMOTE"
	EStopNone    EStop = "NONE"
)

type NodeState struct {
	NodeID       string        `json:"nodeId"`
	SequenceID   int           `json:"sequenceId"`
	Released     bool          `json:"released"`
	NodePosition *NodePosition `json:"nodePosition,omitempty"`
}

type EdgeState struct {
	EdgeID     string `json:"edgeId"`
	SequenceID int    `json:"sequenceId"`
	Released   bool   `json:"released"`
}

type ActionState struct {
	ActionID     string       `json:"actionId"`
	ActionType   string       `json:"actionType,omitempty"`
	ActionStatus ActionStatus `json:"actionStatus"`
	ResultDesc   string       `json:"resultDescription,omitempty"`
}

type BatteryState struct {
	BatteryCharge  float64  `json:"batteryCharge"`
	BatteryVoltage *float64 `json:"batteryVoltage,omitempty"`
	Charging       bool     `json:"charging"`
	Reach          *float64 `json:"reach,omitempty"`
}

type ErrorReference struct {
	ReferenceKey   string `json:"referenceKey"`
	ReferenceValue string `json:"referenceValue"`
}

// Error is a problem the vehicle reports in its state.
type Error struct {
	ErrorType        string           `json:"errorType"`
	ErrorLevel       ErrorLevel       `json:"errorLevel"`
	ErrorDescription string           `json:"errorDescription,omitempty"`
	ErrorReferences  []ErrorReference `json:"errorReferences,omitempty"`
}

type SafetyState struct {
	EStop          EStop `json:"eStop"`
	FieldViolation bool  `json:"fieldViolation"`
}

// AgvPosition is the localized pose of the vehicle.
type AgvPosition struct {
	X                   float64 `json:"x"`
	Y                   float64 `json:"y"`
	Theta               float64 `json:"theta"`
	MapID               string  `json:"mapId"`
	PositionInitialized bool    `json:"positionInitialized"`
}

type Velocity struct {
	Vx    float64 `json:"vx"`
	Vy    float64 `json:"vy"`
	Omega float64 `json:"omega"`
}

// State is published by the vehicle on every change and periodically.
type State struct {
	OrderID            string        `json:"orderId"`
	OrderUpdateID      uint32        `json:"orderUpdateId"`
	ZoneSetID          string        `json:"zoneSetId,omitempty"`
	LastNodeID         string        `json:"lastNodeId"`
	LastNodeSequenceID int           `json:"lastNodeSequenceId"`
	Driving            bool          `json:"driving"`
	Paused             *bool         `json:"paused,omitempty"`
	NewBaseRequest     *bool         `json:"newBaseRequest,omitempty"`
	DistanceSinceLast  *float64      `json:"distanceSinceLastNode,omitempty"`
	NodeStates         []NodeState   `json:"nodeStates"`
	EdgeStates         []EdgeState   `json:"edgeStates"`
	AgvPosition        *AgvPosition  `json:"agvPosition,omitempty"`
	Velocity           *Velocity     `json:"velocity,omitempty"`
	ActionStates       []ActionState `json:"actionStates"`
	BatteryState       BatteryState  `json:"batteryState"`
	OperatingMode      OperatingMode `json:"operatingMode"`
	Errors             []Error       `json:"errors"`
	SafetyState        SafetyState   `json:"safetyState"`
}

// ActionStatus returns the status of the action with the given id.
func (s State) ActionStatus(id string) (ActionStatus, bool) {
	for _, a := range s.ActionStates {
		if a.ActionID == id {
			return a.ActionStatus, true
		}
	}
	return "", false
}

// HasFatalError reports whether any error of level FATAL is active.
func (s State) HasFatalError() bool {
	for _, e := range s.Errors {
		if e.ErrorLevel == LevelFatal {
			return true
		}
	}
	return false
}

// Visualization is a high rate position update.
type Visualization struct {
	AgvPosition *AgvPosition `json:"agvPosition,omitempty"`
	Velocity    *Velocity    `json:"velocity,omitempty"`
}
