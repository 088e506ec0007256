// Package message implements the 7-byte header sensor message and its
// typed payloads.
package message

import (
	"errors"
	"fmt"
)

const (
	HeaderSize     = 7
	MaxMessageSize = 32
	MaxPayload     = MaxMessageSize - HeaderSize

	ProtocolVersion = 2

	GatewayAddress   uint8 = 0
	BroadcastAddress uint8 = 255
	// AutoID marks a node that has no assigned id yet.
	AutoID uint8 = 255
	// NodeSensorID addresses the node itself rather than one of its children.
	NodeSensorID uint8 = 255
)

var (
	ErrShortMessage    = errors.New("message: short buffer")
	ErrInvalidLength   = errors.New("message: payload length exceeds maximum")
	ErrVersionMismatch = errors.New("message: protocol version mismatch")
)

// version_length byte
const (
	versionMask  = 0x03
	signedBit    = 0x04
	lengthOffset = 3
)

// command_ack_payload byte
const (
	commandMask       = 0x07
	requestAckBit     = 0x08
	ackBit            = 0x10
	payloadTypeOffset = 5
)

// Message is one logical sensor network message.
type Message struct {
	Last        uint8
	Sender      uint8
	Destination uint8
	Version     uint8
	Signed      bool
	Command     Command
	RequestAck  bool
	IsAck       bool
	PayloadType PayloadType
	Type        uint8
	Sensor      uint8

	length  uint8
	payload [MaxPayload]byte
}

// Build fills the routing header of a new message. The payload is empty.
func Build(sender, destination, sensor uint8, cmd Command, typ uint8, requestAck bool) Message {
	return Message{
		Sender:      sender,
		Destination: destination,
		Version:     ProtocolVersion,
		Command:     cmd,
		RequestAck:  requestAck,
		Type:        typ,
		Sensor:      sensor,
	}
}

// BuildGateway builds an internal message addressed from and to the gateway.
func BuildGateway(typ uint8) Message {
	return Build(GatewayAddress, GatewayAddress, NodeSensorID, CommandInternal, typ, false)
}

// Echo returns the acknowledgement for m as sent back by self.
func (m Message) Echo(self uint8) Message {
	echo := m
	echo.Sender = self
	echo.Destination = m.Sender
	echo.RequestAck = false
	echo.IsAck = true

	return echo
}

// IsInternal reports whether m is an internal message of type typ.
func (m Message) IsInternal(typ uint8) bool {
	return m.Command == CommandInternal && m.Type == typ
}

func (m Message) Len() int {
	return int(m.length)
}

// Payload returns a copy of the payload bytes.
func (m Message) Payload() []byte {
	out := make([]byte, m.length)
	copy(out, m.payload[:m.length])

	return out
}

// Size is the encoded length of m.
func (m Message) Size() int {
	return HeaderSize + int(m.length)
}

// Marshal encodes m into its wire representation.
func (m Message) Marshal() []byte {
	buf := make([]byte, m.Size())
	m.encodeHeader(buf)
	copy(buf[HeaderSize:], m.payload[:m.length])

	return buf
}

func (m Message) encodeHeader(buf []byte) {
	version := m.Version & versionMask
	if m.Signed {
		version |= signedBit
	}
	flags := uint8(m.Command) & commandMask
	if m.RequestAck {
		flags |= requestAckBit
	}
	if m.IsAck {
		flags |= ackBit
	}
	flags |= uint8(m.PayloadType) << payloadTypeOffset

	buf[0] = m.Last
	buf[1] = m.Sender
	buf[2] = m.Destination
	buf[3] = version | m.length<<lengthOffset
	buf[4] = flags
	buf[5] = m.Type
	buf[6] = m.Sensor
}

// Unmarshal decodes a wire message. Trailing bytes beyond the declared
// payload length are ignored.
func Unmarshal(b []byte) (Message, error) {
	if len(b) < HeaderSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(b))
	}

	m := Message{
		Last:        b[0],
		Sender:      b[1],
		Destination: b[2],
		Version:     b[3] & versionMask,
		Signed:      b[3]&signedBit != 0,
		Command:     Command(b[4] & commandMask),
		RequestAck:  b[4]&requestAckBit != 0,
		IsAck:       b[4]&ackBit != 0,
		PayloadType: PayloadType(b[4] >> payloadTypeOffset),
		Type:        b[5],
		Sensor:      b[6],
	}
	if m.Version != ProtocolVersion {
		return Message{}, fmt.Errorf("%w: got %d want %d", ErrVersionMismatch, m.Version, ProtocolVersion)
	}

	length := int(b[3] >> lengthOffset)
	if length > MaxPayload {
		return Message{}, fmt.Errorf("%w: %d > %d", ErrInvalidLength, length, MaxPayload)
	}
	if len(b) < HeaderSize+length {
		return Message{}, fmt.Errorf("%w: declared %d payload bytes, have %d", ErrShortMessage, length, len(b)-HeaderSize)
	}
	// #nosec G115 -- length is bounded by MaxPayload.
	m.length = uint8(length)
	copy(m.payload[:], b[HeaderSize:HeaderSize+length])

	return m, nil
}

func (m Message) String() string {
	typ := fmt.Sprintf("%d", m.Type)
	if m.Command == CommandInternal {
		typ = InternalName(m.Type)
	}

	return fmt.Sprintf("%d-%d-%d s=%d,c=%s,t=%s,pt=%s,l=%d,sg=%t,rq=%t,ack=%t:%s",
		m.Sender, m.Last, m.Destination, m.Sensor, m.Command, typ, m.PayloadType, m.length, m.Signed, m.RequestAck, m.IsAck, m.Text())
}
