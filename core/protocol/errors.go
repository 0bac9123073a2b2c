package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIdentity is returned when an identity field is empty or holds
	// a reserved topic character.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrNotConnected is returned by publish and subscribe outside the
	// Connected state. Nothing is sent or queued.
	ErrNotConnected = errors.New("not connected")

	// ErrHeaderIDExhausted is returned once a kind's header counter reached
	// its maximum value.
	ErrHeaderIDExhausted = errors.New("header id exhausted")

	// ErrKindNotPublishable is returned when a role sends a kind owned by the
	// other role.
	ErrKindNotPublishable = errors.New("kind not publishable by this role")
)

// TopicParseError reports an inbound topic that does not follow the
// template. It is recoverable: the delivery is dropped.
type TopicParseError struct {
	Topic  string
	Reason string
}

func (e *TopicParseError) Error() string {
	return fmt.Sprintf("parse topic %q: %s", e.Topic, e.Reason)
}

// SchemaNotFoundError reports a missing schema for a kind and protocol
// version. It signals misconfiguration rather than a malformed message.
type SchemaNotFoundError struct {
	Kind    MessageKind
	Version string
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("no schema for %s version %q", e.Kind, e.Version)
}

// ConnectionError reports a failed initial connect.
type ConnectionError struct {
	Broker string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Broker, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
