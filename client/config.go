package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/vda5050/core/dispatch"
	"github.com/kilianp07/vda5050/core/mqtt"
	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/core/validation"
)

// Config holds the protocol settings of one client.
type Config struct {
	InterfaceName   string `json:"interface_name"`
	ProtocolVersion string `json:"protocol_version"`
	Manufacturer    string `json:"manufacturer"`
	SerialNumber    string `json:"serial_number"`

	// ValidateMessages toggles schema validation on both directions.
	// Defaults to true.
	ValidateMessages *bool `json:"validate_messages"`
	// SchemaDir optionally holds <kind>.schema.json files registered for
	// ProtocolVersion on top of the embedded set.
	SchemaDir string `json:"schema_dir"`

	// QoS used for publishes and subscriptions. Defaults to 1.
	QoS            *int   `json:"qos"`
	HeaderIDOffset uint32 `json:"header_id_offset"`
	QueueSize      int    `json:"queue_size"`
	StopTimeoutMS  int    `json:"stop_timeout_ms"`

	// ManufacturerScope restricts a controller's subscriptions to one
	// manufacturer. Empty means all manufacturers.
	ManufacturerScope string `json:"manufacturer_scope"`
}

// SetDefaults applies default values for missing fields.
func (c *Config) SetDefaults() {
	if c.InterfaceName == "" {
		c.InterfaceName = "uagv"
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = "2.0.0"
	}
	if c.ValidateMessages == nil {
		v := true
		c.ValidateMessages = &v
	}
	if c.QoS == nil {
		q := int(mqtt.AtLeastOnce)
		c.QoS = &q
	}
	if c.QueueSize == 0 {
		c.QueueSize = dispatch.DefaultQueueSize
	}
	if c.StopTimeoutMS == 0 {
		c.StopTimeoutMS = 5000
	}
}

// Validate checks the identity and numeric settings.
func (c Config) Validate() error {
	var errs []error
	if err := c.Identity().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.QoS != nil && (*c.QoS < 0 || *c.QoS > 2) {
		errs = append(errs, fmt.Errorf("qos must be 0, 1 or 2, got %d", *c.QoS))
	}
	if c.QueueSize < 0 {
		errs = append(errs, errors.New("queue_size must not be negative"))
	}
	if c.StopTimeoutMS < 0 {
		errs = append(errs, errors.New("stop_timeout_ms must not be negative"))
	}
	return errors.Join(errs...)
}

// Identity returns the participant identity described by the config.
func (c Config) Identity() protocol.Identity {
	return protocol.Identity{
		InterfaceName:   c.InterfaceName,
		ProtocolVersion: c.ProtocolVersion,
		Manufacturer:    c.Manufacturer,
		SerialNumber:    c.SerialNumber,
	}
}

// Validation reports whether schema validation is enabled.
func (c Config) Validation() bool {
	return c.ValidateMessages == nil || *c.ValidateMessages
}

func (c Config) qos() mqtt.QoS {
	if c.QoS == nil {
		return mqtt.AtLeastOnce
	}
	return mqtt.QoS(*c.QoS)
}

func (c Config) stopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutMS) * time.Millisecond
}

// NewValidator builds the validator selected by the config.
func (c Config) NewValidator() (*validation.Validator, error) {
	if !c.Validation() {
		return validation.Disabled(), nil
	}
	v, err := validation.New()
	if err != nil {
		return nil, err
	}
	if c.SchemaDir != "" {
		if err := v.LoadDir(c.ProtocolVersion, c.SchemaDir); err != nil {
			return nil, fmt.Errorf("load schemas: %w", err)
		}
	}
	return v, nil
}
