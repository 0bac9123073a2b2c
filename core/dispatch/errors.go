package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/core/validation"
)

var (
	// ErrStopTimeout is returned by Stop when handlers are still running
	// after the timeout. They are abandoned.
	ErrStopTimeout = errors.New("dispatcher stop timed out")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("dispatcher already started")
)

// Stage names where in the inbound pipeline a delivery failed.
type Stage string

const (
	StageTopic      Stage = "topic"
	StageValidation Stage = "validation"
	StageSchema     Stage = "schema"
	StageHandler    Stage = "handler"
)

// DispatchError describes one delivery that failed or was dropped.
type DispatchError struct {
	Stage    Stage
	Topic    string
	Kind     protocol.MessageKind
	Identity protocol.Identity
	Err      error
	Fields   []validation.FieldError
	Time     time.Time
}

func (e DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s %s: %v", e.Stage, e.Topic, e.Err)
}

func (e DispatchError) Unwrap() error { return e.Err }
