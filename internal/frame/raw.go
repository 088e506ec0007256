package frame

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Raw is one physical CAN frame as seen on the wire.
type Raw struct {
	ID   uint32
	Len  uint8
	Data [DataSize]byte
}

// NewRaw copies at most DataSize bytes of data into a frame.
func NewRaw(id uint32, data []byte) Raw {
	r := Raw{ID: id}
	// #nosec G115 -- copy is bounded by DataSize.
	r.Len = uint8(copy(r.Data[:], data))

	return r
}

func (r Raw) Payload() []byte {
	return r.Data[:r.Len]
}

func (r Raw) Hex() string {
	return strings.ToUpper(hex.EncodeToString(r.Payload()))
}

func (r Raw) String() string {
	return fmt.Sprintf("%08X#%s", r.ID, r.Hex())
}
