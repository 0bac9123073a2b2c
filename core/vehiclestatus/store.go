// Package vehiclestatus keeps the last known status of every agent seen by a
// controller.
package vehiclestatus

import (
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/vda5050/core/protocol"
	"github.com/kilianp07/vda5050/model"
)

// Status captures the current known state of a vehicle.
type Status struct {
	Manufacturer  string                   `json:"manufacturer"`
	SerialNumber  string                   `json:"serial_number"`
	Connection    protocol.ConnectionState `json:"connection,omitempty"`
	OrderID       string                   `json:"order_id,omitempty"`
	OrderUpdateID uint32                   `json:"order_update_id"`
	LastNodeID    string                   `json:"last_node_id,omitempty"`
	Driving       bool                     `json:"driving"`
	Paused        bool                     `json:"paused"`
	BatteryCharge float64                  `json:"battery_charge"`
	Charging      bool                     `json:"charging"`
	Errors        int                      `json:"errors"`
	Fatal         bool                     `json:"fatal"`
	LastHeaderID  uint32                   `json:"last_header_id"`
	LastSeen      time.Time                `json:"last_seen"`
}

type Filter struct {
	Manufacturer string
	Connection   protocol.ConnectionState
}

type Store interface {
	SetConnection(id protocol.Identity, state protocol.ConnectionState, at time.Time)
	UpdateState(id protocol.Identity, h protocol.Header, st model.State, at time.Time)
	List(Filter) []Status
}

type key struct{ manufacturer, serial string }

type entry struct {
	Status
	seen bool
	// resync accepts the next state whatever its header id.
	resync bool
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[key]*entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[key]*entry{}}
}

func (s *MemoryStore) entry(id protocol.Identity) *entry {
	k := key{id.Manufacturer, id.SerialNumber}
	e, ok := s.data[k]
	if !ok {
		e = &entry{Status: Status{Manufacturer: id.Manufacturer, SerialNumber: id.SerialNumber}}
		s.data[k] = e
	}
	return e
}

func (e *entry) touch(at time.Time) {
	if at.After(e.LastSeen) {
		e.LastSeen = at
	}
}

func (s *MemoryStore) SetConnection(id protocol.Identity, state protocol.ConnectionState, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(id)
	e.Connection = state
	e.touch(at)
	if state == protocol.ConnectionOnline {
		e.resync = true
	} else {
		e.Driving = false
	}
}

// UpdateState applies a state message. A state whose header id does not
// exceed the last applied one is a duplicate and ignored, unless the agent
// went ONLINE since, which restarts its sequence.
func (s *MemoryStore) UpdateState(id protocol.Identity, h protocol.Header, vs model.State, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(id)
	if e.seen && !e.resync && h.HeaderID <= e.LastHeaderID {
		return
	}
	e.seen, e.resync = true, false
	e.OrderID = vs.OrderID
	e.OrderUpdateID = vs.OrderUpdateID
	e.LastNodeID = vs.LastNodeID
	e.Driving = vs.Driving
	e.Paused = vs.Paused != nil && *vs.Paused
	e.BatteryCharge = vs.BatteryState.BatteryCharge
	e.Charging = vs.BatteryState.Charging
	e.Errors = len(vs.Errors)
	e.Fatal = vs.HasFatalError()
	e.LastHeaderID = h.HeaderID
	e.touch(at)
}

func (s *MemoryStore) List(f Filter) []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Status, 0, len(s.data))
	for _, e := range s.data {
		if f.Manufacturer != "" && e.Manufacturer != f.Manufacturer {
			continue
		}
		if f.Connection != "" && e.Connection != f.Connection {
			continue
		}
		res = append(res, e.Status)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Manufacturer != res[j].Manufacturer {
			return res[i].Manufacturer < res[j].Manufacturer
		}
		return res[i].SerialNumber < res[j].SerialNumber
	})
	return res
}
