// Package connectors defines the events exchanged over the in-process bus.
package connectors

import "time"

// Publisher is the write side of the event bus.
type Publisher interface {
	Publish(topic string, msg any)
}

// ConnectionState describes the link lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnStatus is a snapshot of the current link status.
type ConnStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// RawFrame carries one CAN frame for sniffing and debug views.
type RawFrame struct {
	ID  uint32
	Hex string
	Len int
	At  time.Time
}

// MessageEvent is a decoded message seen by a node, inbound or outbound.
type MessageEvent struct {
	NodeID  uint8
	Summary string
	Bytes   []byte
	At      time.Time
}

// NodeStateEvent reports a node engine state transition.
type NodeStateEvent struct {
	NodeID uint8
	From   string
	To     string
	Reason string
	At     time.Time
}

// ReassemblyDrop reports a partially received message evicted from the pool.
type ReassemblyDrop struct {
	Source    uint8
	MessageID uint8
	At        time.Time
}
