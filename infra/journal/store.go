// Package journal records VDA5050 traffic seen by a client so it can be
// inspected after the fact.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/vda5050/core/protocol"
)

// Direction tells whether a record was sent or received.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Record is one journaled message.
type Record struct {
	Time         time.Time `json:"time"`
	Direction    Direction `json:"direction"`
	Kind         string    `json:"kind"`
	Manufacturer string    `json:"manufacturer"`
	SerialNumber string    `json:"serial_number"`
	HeaderID     uint32    `json:"header_id"`
	Topic        string    `json:"topic"`
	Retained     bool      `json:"retained"`
	Payload      []byte    `json:"payload"`
}

// FromEnvelope builds an outbound record.
func FromEnvelope(env protocol.Envelope, at time.Time) Record {
	return Record{
		Time:         at,
		Direction:    Outbound,
		Kind:         env.Kind.Token(),
		Manufacturer: env.Target.Manufacturer,
		SerialNumber: env.Target.SerialNumber,
		HeaderID:     env.Header.HeaderID,
		Topic:        env.Topic,
		Retained:     env.Retained,
		Payload:      env.Payload,
	}
}

// Query filters records. Zero fields match everything.
type Query struct {
	Start        time.Time
	End          time.Time
	Direction    Direction
	Kind         string
	SerialNumber string
}

func (q Query) match(r Record) bool {
	if !q.Start.IsZero() && r.Time.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Time.After(q.End) {
		return false
	}
	if q.Direction != "" && r.Direction != q.Direction {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.SerialNumber != "" && r.SerialNumber != q.SerialNumber {
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects a journal backend.
type Config struct {
	// Backend is one of "", "jsonl", "jsonl_rotating" or "sqlite". Empty
	// disables the journal.
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults fills rotation limits.
func (c *Config) SetDefaults() {
	if c.Backend == "jsonl_rotating" {
		if c.MaxSizeMB == 0 {
			c.MaxSizeMB = 10
		}
		if c.MaxBackups == 0 {
			c.MaxBackups = 3
		}
		if c.MaxAgeDays == 0 {
			c.MaxAgeDays = 7
		}
	}
}

// Validate checks the backend name and path.
func (c Config) Validate() error {
	switch c.Backend {
	case "":
		return nil
	case "jsonl", "jsonl_rotating", "sqlite":
		if c.Path == "" {
			return fmt.Errorf("journal: path required for backend %q", c.Backend)
		}
		return nil
	default:
		return fmt.Errorf("journal: unknown backend %q", c.Backend)
	}
}

// Open creates the store described by cfg. It returns nil, nil when the
// journal is disabled.
func Open(cfg Config) (Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case "":
		return nil, nil
	case "jsonl":
		s, err = NewJSONLStore(cfg.Path)
	case "jsonl_rotating":
		s, err = NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		s, err = NewSQLiteStore(cfg.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s journal: %w", cfg.Backend, err)
	}
	return s, nil
}

func timeFromUnixNano(ns int64) time.Time { return time.Unix(0, ns).UTC() }
