package domain

import "time"

// Node is what the gateway learned about one node from its traffic.
type Node struct {
	NodeID          uint8
	Presented       bool
	IsRepeater      bool
	ProtocolVersion string
	SketchName      string
	SketchVersion   string
	BatteryLevel    *uint8
	LastHop         uint8
	Sensors         []Sensor
	LastHeardAt     time.Time
	UpdatedAt       time.Time
}

// Sensor is one child sensor a node presented.
type Sensor struct {
	ID          uint8  `json:"id"`
	Type        uint8  `json:"type"`
	Description string `json:"description,omitempty"`
}

// NodeUpdate carries the merged node after an observation.
type NodeUpdate struct {
	Node Node
}
