package frame

import "fmt"

// PartCount returns how many physical frames a payload of n bytes needs.
// An empty payload still takes one frame.
func PartCount(n int) int {
	if n <= 0 {
		return 1
	}

	return (n + DataSize - 1) / DataSize
}

// Split slices payload into frame-sized parts. The returned slices alias
// payload.
func Split(payload []byte) ([][]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayload)
	}

	count := PartCount(len(payload))
	parts := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * DataSize
		end := min(start+DataSize, len(payload))
		parts = append(parts, payload[start:end])
	}

	return parts, nil
}

// Fragment builds the complete frame sequence for one logical message.
func Fragment(src, dst, msgID uint8, isAck bool, payload []byte) ([]Raw, error) {
	parts, err := Split(payload)
	if err != nil {
		return nil, err
	}

	out := make([]Raw, 0, len(parts))
	for i, part := range parts {
		// #nosec G115 -- len(parts) is bounded by MaxParts.
		id, err := Encode(Header{
			Source:      src,
			Destination: dst,
			Part:        uint8(i),
			Total:       uint8(len(parts)),
			MessageID:   msgID,
			IsAck:       isAck,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, NewRaw(id, part))
	}

	return out, nil
}
