package frame

import (
	"errors"
	"fmt"
)

// Identifier layout, most significant bit first:
//
//	bit 28      extended frame marker, always set
//	bit 27      is-ack
//	bits 24..26 message id
//	bits 20..23 total parts minus one
//	bits 16..19 part index
//	bits 8..15  destination
//	bits 0..7   source
const (
	offsetSource      = 0
	offsetDestination = 8
	offsetPart        = 16
	offsetTotal       = 20
	offsetMessageID   = 24
	offsetAck         = 27
	offsetExtended    = 28

	flagExtended = uint32(1) << offsetExtended
	flagAck      = uint32(1) << offsetAck

	// IDMask covers every bit of a 29-bit extended identifier.
	IDMask = uint32(1)<<29 - 1

	// DataSize is the payload capacity of one physical frame.
	DataSize = 8
	// MaxParts is the largest part count the 4-bit fields can describe.
	MaxParts = 16
	// MaxMessageID is the largest value of the rolling 3-bit message id.
	MaxMessageID = 7
	// MaxPayload is the longest payload a single logical message can carry.
	MaxPayload = MaxParts * DataSize
)

var (
	ErrInvalidHeader   = errors.New("frame: invalid header")
	ErrForeignFrame    = errors.New("frame: foreign identifier")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Header is the decoded form of a 29-bit identifier.
type Header struct {
	Source      uint8
	Destination uint8
	Part        uint8
	Total       uint8
	MessageID   uint8
	IsAck       bool
}

func (h Header) validate() error {
	if h.MessageID > MaxMessageID {
		return fmt.Errorf("%w: message id %d > %d", ErrInvalidHeader, h.MessageID, MaxMessageID)
	}
	if h.Total == 0 || h.Total > MaxParts {
		return fmt.Errorf("%w: total parts %d out of 1..%d", ErrInvalidHeader, h.Total, MaxParts)
	}
	if h.Part >= h.Total {
		return fmt.Errorf("%w: part %d >= total %d", ErrInvalidHeader, h.Part, h.Total)
	}

	return nil
}

// Encode packs h into an extended CAN identifier.
func Encode(h Header) (uint32, error) {
	if err := h.validate(); err != nil {
		return 0, err
	}

	id := flagExtended
	if h.IsAck {
		id |= flagAck
	}
	id |= uint32(h.MessageID) << offsetMessageID
	id |= uint32(h.Total-1) << offsetTotal
	id |= uint32(h.Part) << offsetPart
	id |= uint32(h.Destination) << offsetDestination
	id |= uint32(h.Source) << offsetSource

	return id, nil
}

// MustEncode is Encode for headers known to be valid.
func MustEncode(h Header) uint32 {
	id, err := Encode(h)
	if err != nil {
		panic(err)
	}

	return id
}

// Decode is the inverse of Encode. Identifiers that Encode could not have
// produced are rejected with ErrForeignFrame.
func Decode(id uint32) (Header, error) {
	if id&^IDMask != 0 {
		return Header{}, fmt.Errorf("%w: 0x%08X wider than 29 bits", ErrForeignFrame, id)
	}
	if id&flagExtended == 0 {
		return Header{}, fmt.Errorf("%w: 0x%08X lacks extended marker", ErrForeignFrame, id)
	}

	h := Header{
		Source:      uint8(id >> offsetSource),
		Destination: uint8(id >> offsetDestination),
		Part:        uint8(id>>offsetPart) & 0x0F,
		Total:       uint8(id>>offsetTotal)&0x0F + 1,
		MessageID:   uint8(id>>offsetMessageID) & 0x07,
		IsAck:       id&flagAck != 0,
	}
	if h.Part >= h.Total {
		return Header{}, fmt.Errorf("%w: 0x%08X part %d >= total %d", ErrForeignFrame, id, h.Part, h.Total)
	}

	return h, nil
}

// DestinationOf extracts only the destination byte. Acceptance filtering uses
// it before a full decode.
func DestinationOf(id uint32) uint8 {
	return uint8(id >> offsetDestination)
}

func (h Header) String() string {
	return fmt.Sprintf("from=%d to=%d part=%d/%d id=%d ack=%t", h.Source, h.Destination, h.Part, h.Total, h.MessageID, h.IsAck)
}
