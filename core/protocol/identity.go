package protocol

import (
	"fmt"
	"strings"
)

// reservedChars may not appear in any identity field because they carry
// meaning in MQTT topic names and filters.
const reservedChars = "/+#"

// Identity addresses one participant of the protocol.
type Identity struct {
	InterfaceName   string `json:"interfaceName"`
	ProtocolVersion string `json:"version"`
	Manufacturer    string `json:"manufacturer"`
	SerialNumber    string `json:"serialNumber"`
}

// Validate reports ErrInvalidIdentity when a field is empty or contains a
// topic separator or wildcard character.
func (id Identity) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"interfaceName", id.InterfaceName},
		{"version", id.ProtocolVersion},
		{"manufacturer", id.Manufacturer},
		{"serialNumber", id.SerialNumber},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidIdentity, f.name)
		}
		if strings.ContainsAny(f.value, reservedChars) {
			return fmt.Errorf("%w: %s %q contains one of %q", ErrInvalidIdentity, f.name, f.value, reservedChars)
		}
	}
	return nil
}

// MajorVersion returns the major component of the protocol version,
// e.g. "2" for "2.1.0".
func (id Identity) MajorVersion() string {
	major, _, _ := strings.Cut(id.ProtocolVersion, ".")
	return major
}

// WithTarget returns a copy of the identity addressing another vehicle on
// the same interface and protocol version.
func (id Identity) WithTarget(manufacturer, serialNumber string) Identity {
	id.Manufacturer = manufacturer
	id.SerialNumber = serialNumber
	return id
}

// SameVehicle reports whether both identities name the same vehicle.
// Only the major protocol version is compared since topics carry no more.
func (id Identity) SameVehicle(other Identity) bool {
	return id.InterfaceName == other.InterfaceName &&
		id.MajorVersion() == other.MajorVersion() &&
		id.Manufacturer == other.Manufacturer &&
		id.SerialNumber == other.SerialNumber
}

func (id Identity) String() string {
	return id.Manufacturer + "/" + id.SerialNumber
}
