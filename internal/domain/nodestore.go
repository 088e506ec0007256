package domain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skobkin/sensornet/internal/bus"
	"github.com/skobkin/sensornet/internal/connectors"
	"github.com/skobkin/sensornet/internal/message"
)

// NodeStore is the gateway's directory of nodes it has heard from.
type NodeStore struct {
	mu      sync.RWMutex
	nodes   map[uint8]Node
	changes chan struct{}
}

func NewNodeStore() *NodeStore {
	return &NodeStore{
		nodes:   make(map[uint8]Node),
		changes: make(chan struct{}, 1),
	}
}

func (s *NodeStore) Load(nodes []Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, node := range nodes {
		s.nodes[node.NodeID] = node
	}
	s.notify()
}

// Start folds every inbound message into the directory and republishes the
// merged node on TopicNodeInfo.
func (s *NodeStore) Start(ctx context.Context, b bus.MessageBus) {
	sub := b.Subscribe(connectors.TopicMessageIn)
	go func() {
		defer b.Unsubscribe(sub, connectors.TopicMessageIn)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				ev, ok := raw.(connectors.MessageEvent)
				if !ok {
					continue
				}
				msg, err := message.Unmarshal(ev.Bytes)
				if err != nil {
					continue
				}
				update, ok := ObserveMessage(msg, ev.At)
				if !ok {
					continue
				}
				b.Publish(connectors.TopicNodeInfo, NodeUpdate{Node: s.Upsert(update)})
			}
		}
	}()
}

// Upsert merges a sparse update into the stored node and returns the result.
func (s *NodeStore) Upsert(node Node) Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.nodes[node.NodeID]
	if ok {
		if !node.Presented {
			node.Presented = existing.Presented
			node.IsRepeater = existing.IsRepeater
			node.ProtocolVersion = existing.ProtocolVersion
		}
		if node.SketchName == "" {
			node.SketchName = existing.SketchName
		}
		if node.SketchVersion == "" {
			node.SketchVersion = existing.SketchVersion
		}
		if node.BatteryLevel == nil {
			node.BatteryLevel = existing.BatteryLevel
		}
		node.Sensors = mergeSensors(existing.Sensors, node.Sensors)
		if node.LastHeardAt.IsZero() || existing.LastHeardAt.After(node.LastHeardAt) {
			node.LastHeardAt = existing.LastHeardAt
			node.LastHop = existing.LastHop
		}
		if existing.UpdatedAt.After(node.UpdatedAt) {
			node.UpdatedAt = existing.UpdatedAt
		}
	}
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = time.Now()
	}
	s.nodes[node.NodeID] = node
	s.notify()

	return node
}

func (s *NodeStore) SnapshotSorted() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastHeardAt.Equal(out[j].LastHeardAt) {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].LastHeardAt.After(out[j].LastHeardAt)
	})

	return out
}

func (s *NodeStore) Get(nodeID uint8) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[nodeID]

	return node, ok
}

func (s *NodeStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *NodeStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[uint8]Node)
	s.notify()
}

func (s *NodeStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
