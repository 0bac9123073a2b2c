package protocol

import "time"

// TimestampLayout is the ISO-8601 form used on the wire, always UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Header is the part every VDA5050 document starts with.
type Header struct {
	HeaderID     uint32    `json:"headerId"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	Manufacturer string    `json:"manufacturer"`
	SerialNumber string    `json:"serialNumber"`
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Envelope is one outbound message before it is handed to the transport.
type Envelope struct {
	Kind     MessageKind
	Header   Header
	Target   Identity
	Topic    string
	Retained bool
	Payload  []byte
}

// ConnectionState is the value of the connectionState field.
type ConnectionState string

const (
	ConnectionOnline  ConnectionState = "ONLINE"
	ConnectionOffline ConnectionState = "OFFLINE"
	ConnectionBroken  ConnectionState = "CONNECTIONBROKEN"
)

// ConnectionPayload is the body of a connection message.
type ConnectionPayload struct {
	ConnectionState ConnectionState `json:"connectionState"`
}
