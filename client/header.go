package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/kilianp07/vda5050/core/protocol"
)

// ErrInvalidPayload is returned when a payload is not a JSON object.
var ErrInvalidPayload = errors.New("payload must be a JSON object")

// headerSeq is the headerId counter of one kind. Its mutex is held for a
// whole send so ids reach the transport in order.
type headerSeq struct {
	mu   sync.Mutex
	next uint64
}

// peek must be called with s.mu held.
func (s *headerSeq) peek() (uint32, error) {
	if s.next > math.MaxUint32 {
		return 0, protocol.ErrHeaderIDExhausted
	}
	return uint32(s.next), nil
}

func newSequences(offset uint32) map[protocol.MessageKind]*headerSeq {
	seqs := make(map[protocol.MessageKind]*headerSeq, len(protocol.Kinds()))
	for _, k := range protocol.Kinds() {
		seqs[k] = &headerSeq{next: uint64(offset)}
	}
	return seqs
}

// encodePayload turns v into a JSON object document. Byte slices and
// strings are taken as already encoded; nil becomes an empty object.
func encodePayload(v any) ([]byte, error) {
	var doc []byte
	switch p := v.(type) {
	case nil:
		doc = []byte("{}")
	case []byte:
		doc = append([]byte(nil), p...)
	case json.RawMessage:
		doc = append([]byte(nil), p...)
	case string:
		doc = []byte(p)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		doc = b
	}
	if len(doc) == 0 {
		doc = []byte("{}")
	}
	if !gjson.ValidBytes(doc) || !gjson.ParseBytes(doc).IsObject() {
		return nil, ErrInvalidPayload
	}
	return doc, nil
}

// stampHeader overwrites the header fields of doc with h.
func stampHeader(doc []byte, h protocol.Header) ([]byte, error) {
	fields := []struct {
		path  string
		value any
	}{
		{"headerId", h.HeaderID},
		{"timestamp", protocol.FormatTimestamp(h.Timestamp)},
		{"version", h.Version},
		{"manufacturer", h.Manufacturer},
		{"serialNumber", h.SerialNumber},
	}
	var err error
	for _, f := range fields {
		if doc, err = sjson.SetBytes(doc, f.path, f.value); err != nil {
			return nil, fmt.Errorf("stamp %s: %w", f.path, err)
		}
	}
	return doc, nil
}
