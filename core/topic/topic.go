// Package topic maps identities and message kinds to MQTT topic names and
// back. Topics follow <interface>/v<major>/<manufacturer>/<serial>/<kind>.
// Every function is pure and safe for concurrent use.
package topic

import (
	"strings"

	"github.com/kilianp07/vda5050/core/protocol"
)

const (
	separator = "/"
	// SingleLevelWildcard replaces one identity segment in a subscription.
	SingleLevelWildcard = "+"
	// MultiLevelWildcard matches the remainder of a topic.
	MultiLevelWildcard = "#"
	segments           = 5
)

// Build returns the topic for messages of kind k concerning vehicle id.
func Build(id protocol.Identity, k protocol.MessageKind) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	if !k.Valid() {
		return "", &protocol.TopicParseError{Topic: "", Reason: "unknown kind " + k.String()}
	}
	return join(id.InterfaceName, id.MajorVersion(), id.Manufacturer, id.SerialNumber, k), nil
}

// Parse splits an inbound topic into the sender identity and message kind.
// The identity carries the major protocol version only.
func Parse(t string) (protocol.Identity, protocol.MessageKind, error) {
	parts := strings.Split(t, separator)
	if len(parts) != segments {
		return protocol.Identity{}, 0, &protocol.TopicParseError{Topic: t, Reason: "expected 5 segments"}
	}
	for _, p := range parts {
		if p == "" {
			return protocol.Identity{}, 0, &protocol.TopicParseError{Topic: t, Reason: "empty segment"}
		}
		if p == SingleLevelWildcard || p == MultiLevelWildcard {
			return protocol.Identity{}, 0, &protocol.TopicParseError{Topic: t, Reason: "wildcard in concrete topic"}
		}
	}
	version, ok := strings.CutPrefix(parts[1], "v")
	if !ok || !isDigits(version) {
		return protocol.Identity{}, 0, &protocol.TopicParseError{Topic: t, Reason: "invalid version tag " + parts[1]}
	}
	kind, ok := protocol.ParseKind(parts[4])
	if !ok {
		return protocol.Identity{}, 0, &protocol.TopicParseError{Topic: t, Reason: "unknown kind " + parts[4]}
	}
	id := protocol.Identity{
		InterfaceName:   parts[0],
		ProtocolVersion: version,
		Manufacturer:    parts[2],
		SerialNumber:    parts[3],
	}
	return id, kind, nil
}

// WildcardPattern builds a subscription filter for kind k. An empty
// Manufacturer or SerialNumber in partial is replaced by the single-level
// wildcard, so a controller can listen to every vehicle of one manufacturer
// or of all manufacturers.
func WildcardPattern(partial protocol.Identity, k protocol.MessageKind) (string, error) {
	check := partial
	if check.Manufacturer == "" {
		check.Manufacturer = "x"
	}
	if check.SerialNumber == "" {
		check.SerialNumber = "x"
	}
	if err := check.Validate(); err != nil {
		return "", err
	}
	if !k.Valid() {
		return "", &protocol.TopicParseError{Topic: "", Reason: "unknown kind " + k.String()}
	}
	manufacturer := partial.Manufacturer
	if manufacturer == "" {
		manufacturer = SingleLevelWildcard
	}
	serial := partial.SerialNumber
	if serial == "" {
		serial = SingleLevelWildcard
	}
	return join(partial.InterfaceName, partial.MajorVersion(), manufacturer, serial, k), nil
}

// Matches reports whether topic t is matched by the MQTT filter pattern.
func Matches(pattern, t string) bool {
	ps := strings.Split(pattern, separator)
	ts := strings.Split(t, separator)
	for i, p := range ps {
		if p == MultiLevelWildcard {
			return i == len(ps)-1
		}
		if i >= len(ts) {
			return false
		}
		if p != SingleLevelWildcard && p != ts[i] {
			return false
		}
	}
	return len(ps) == len(ts)
}

func join(iface, major, manufacturer, serial string, k protocol.MessageKind) string {
	var b strings.Builder
	b.WriteString(iface)
	b.WriteString("/v")
	b.WriteString(major)
	b.WriteString(separator)
	b.WriteString(manufacturer)
	b.WriteString(separator)
	b.WriteString(serial)
	b.WriteString(separator)
	b.WriteString(k.Token())
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
