// Package scenarios runs YAML-described fleet scenarios against simulated
// vehicles on an in-process broker.
package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/vda5050/model"
)

// OrderDef describes a linear route sent to one vehicle.
type OrderDef struct {
	Vehicle  string   `yaml:"vehicle"`
	OrderID  string   `yaml:"order_id"`
	UpdateID uint32   `yaml:"update_id"`
	Nodes    []string `yaml:"nodes"`
	// FirstSequence is the sequence id of the first node, for updates that
	// continue from a reached node.
	FirstSequence int `yaml:"first_sequence"`
	// Released counts the released nodes from the start. Zero releases all.
	Released int `yaml:"released"`
}

// ToModel builds the order document.
func (d OrderDef) ToModel() model.Order {
	o := model.Order{OrderID: d.OrderID, OrderUpdateID: d.UpdateID, Nodes: []model.Node{}, Edges: []model.Edge{}}
	released := d.Released
	if released <= 0 || released > len(d.Nodes) {
		released = len(d.Nodes)
	}
	for i, id := range d.Nodes {
		seq := d.FirstSequence + 2*i
		o.Nodes = append(o.Nodes, model.Node{
			NodeID:       id,
			SequenceID:   seq,
			Released:     i < released,
			NodePosition: &model.NodePosition{X: float64(i), MapID: "map1"},
			Actions:      []model.Action{},
		})
		if i > 0 {
			o.Edges = append(o.Edges, model.Edge{
				EdgeID:      d.Nodes[i-1] + "-" + id,
				SequenceID:  seq - 1,
				Released:    i < released,
				StartNodeID: d.Nodes[i-1],
				EndNodeID:   id,
				Actions:     []model.Action{},
			})
		}
	}
	return o
}

// ActionDef is one instant action sent to a vehicle.
type ActionDef struct {
	Vehicle string `yaml:"vehicle"`
	Type    string `yaml:"type"`
}

// Expect is a condition on the controller's view of one vehicle. Empty
// fields are not checked.
type Expect struct {
	Vehicle    string `yaml:"vehicle"`
	Connection string `yaml:"connection,omitempty"`
	OrderID    string `yaml:"order_id,omitempty"`
	LastNodeID string `yaml:"last_node_id,omitempty"`
	Driving    *bool  `yaml:"driving,omitempty"`
	Paused     *bool  `yaml:"paused,omitempty"`
	MinErrors  int    `yaml:"min_errors,omitempty"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Order   *OrderDef  `yaml:"order,omitempty"`
	Instant *ActionDef `yaml:"instant,omitempty"`
	WaitFor *Expect    `yaml:"wait_for,omitempty"`
	// Stop disconnects the whole simulated fleet.
	Stop bool `yaml:"stop,omitempty"`
}

type Scenario struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description,omitempty"`
	Vehicles     int      `yaml:"vehicles"`
	SerialPrefix string   `yaml:"serial_prefix"`
	Steps        []Step   `yaml:"steps"`
	Expected     []Expect `yaml:"expected"`
}

// Validate checks that every step sets exactly one action.
func (sc Scenario) Validate() error {
	if sc.Vehicles <= 0 {
		return fmt.Errorf("scenario %q: vehicles must be positive", sc.Name)
	}
	for i, st := range sc.Steps {
		n := 0
		if st.Order != nil {
			n++
		}
		if st.Instant != nil {
			n++
		}
		if st.WaitFor != nil {
			n++
		}
		if st.Stop {
			n++
		}
		if n != 1 {
			return fmt.Errorf("scenario %q: step %d must set exactly one action", sc.Name, i)
		}
	}
	return nil
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.SerialPrefix == "" {
		sc.SerialPrefix = "qa"
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}
