package domain

import (
	"sort"
	"time"

	"github.com/skobkin/sensornet/internal/message"
)

// ObserveMessage turns one inbound message into a sparse node update. Only
// the fields the message carries are set; the rest merge from what is
// already known. Traffic from the gateway or unassigned nodes is ignored.
func ObserveMessage(msg message.Message, at time.Time) (Node, bool) {
	if msg.Sender == message.GatewayAddress || msg.Sender == message.AutoID {
		return Node{}, false
	}

	n := Node{NodeID: msg.Sender, LastHop: msg.Last, LastHeardAt: at, UpdatedAt: at}
	switch msg.Command {
	case message.CommandPresentation:
		if msg.Sensor == message.NodeSensorID {
			n.Presented = true
			n.IsRepeater = msg.Type == message.SensorRepeaterNode
			n.ProtocolVersion = msg.Text()
			break
		}
		n.Sensors = []Sensor{{ID: msg.Sensor, Type: msg.Type, Description: msg.Text()}}
	case message.CommandInternal:
		if msg.IsAck {
			break
		}
		switch msg.Type {
		case message.InternalSketchName:
			n.SketchName = msg.Text()
		case message.InternalSketchVersion:
			n.SketchVersion = msg.Text()
		case message.InternalBatteryLevel:
			level := msg.Byte()
			n.BatteryLevel = &level
		}
	}

	return n, true
}

// mergeSensors replaces sensors with the same id and keeps the result
// ordered by id.
func mergeSensors(existing, update []Sensor) []Sensor {
	if len(update) == 0 {
		return existing
	}
	out := make([]Sensor, 0, len(existing)+len(update))
	byID := make(map[uint8]int, len(existing)+len(update))
	for _, list := range [][]Sensor{existing, update} {
		for _, s := range list {
			if i, ok := byID[s.ID]; ok {
				out[i] = s
				continue
			}
			byID[s.ID] = len(out)
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}
