package mqtt

import (
	"errors"
	"fmt"
)

// ConnectionState is the lifecycle state of a Transport.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// ErrAlreadyConnected is returned by Connect outside the Disconnected state.
var ErrAlreadyConnected = errors.New("transport already connected")

// ErrTimeout is returned when a broker operation does not complete in time.
var ErrTimeout = errors.New("mqtt operation timed out")
