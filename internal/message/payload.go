package message

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

func (m *Message) setPayload(pt PayloadType, b []byte) *Message {
	m.PayloadType = pt
	// #nosec G115 -- copy is bounded by MaxPayload.
	m.length = uint8(copy(m.payload[:], b))

	return m
}

// SetString stores s, cut to at most MaxPayload bytes without splitting a
// UTF-8 sequence.
func (m *Message) SetString(s string) *Message {
	return m.setPayload(PayloadString, []byte(TruncateString(s, MaxPayload)))
}

// TruncateString returns the longest prefix of s that fits in n bytes and
// ends on a rune boundary.
func TruncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}

// SetCustom stores raw bytes, truncated to MaxPayload bytes.
func (m *Message) SetCustom(b []byte) *Message {
	return m.setPayload(PayloadCustom, b)
}

func (m *Message) SetByte(v uint8) *Message {
	return m.setPayload(PayloadByte, []byte{v})
}

func (m *Message) SetBool(v bool) *Message {
	if v {
		return m.SetByte(1)
	}

	return m.SetByte(0)
}

func (m *Message) SetInt16(v int16) *Message {
	var b [2]byte
	// #nosec G115 -- bit pattern is preserved on purpose.
	binary.LittleEndian.PutUint16(b[:], uint16(v))

	return m.setPayload(PayloadInt16, b[:])
}

func (m *Message) SetUint16(v uint16) *Message {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)

	return m.setPayload(PayloadUint16, b[:])
}

func (m *Message) SetInt32(v int32) *Message {
	var b [4]byte
	// #nosec G115 -- bit pattern is preserved on purpose.
	binary.LittleEndian.PutUint32(b[:], uint32(v))

	return m.setPayload(PayloadLong32, b[:])
}

func (m *Message) SetUint32(v uint32) *Message {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)

	return m.setPayload(PayloadUlong32, b[:])
}

// SetFloat stores v together with the number of decimals used when the
// value is rendered as text.
func (m *Message) SetFloat(v float32, decimals uint8) *Message {
	var b [5]byte
	binary.LittleEndian.PutUint32(b[:4], math.Float32bits(v))
	b[4] = decimals

	return m.setPayload(PayloadFloat32, b[:])
}

func (m Message) raw() []byte {
	return m.payload[:m.length]
}

func (m Message) Byte() uint8 {
	switch m.PayloadType {
	case PayloadString:
		v, _ := strconv.ParseUint(strings.TrimSpace(string(m.raw())), 10, 8)
		return uint8(v)
	default:
		if m.length == 0 {
			return 0
		}
		return m.payload[0]
	}
}

func (m Message) Bool() bool {
	return m.Byte() != 0
}

// Int returns the payload as a signed integer, converting from whichever
// payload type is stored.
func (m Message) Int() int32 {
	b := m.raw()
	switch m.PayloadType {
	case PayloadByte:
		if len(b) < 1 {
			return 0
		}
		return int32(b[0])
	case PayloadInt16:
		if len(b) < 2 {
			return 0
		}
		// #nosec G115 -- bit pattern is preserved on purpose.
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case PayloadUint16:
		if len(b) < 2 {
			return 0
		}
		return int32(binary.LittleEndian.Uint16(b))
	case PayloadLong32, PayloadUlong32:
		if len(b) < 4 {
			return 0
		}
		// #nosec G115 -- bit pattern is preserved on purpose.
		return int32(binary.LittleEndian.Uint32(b))
	case PayloadFloat32:
		return int32(m.Float())
	case PayloadString:
		v, _ := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 32)
		return int32(v)
	default:
		return 0
	}
}

func (m Message) Uint() uint32 {
	if m.PayloadType == PayloadUlong32 && m.length >= 4 {
		return binary.LittleEndian.Uint32(m.raw())
	}
	if m.PayloadType == PayloadString {
		v, _ := strconv.ParseUint(strings.TrimSpace(string(m.raw())), 10, 32)
		return uint32(v)
	}
	// #nosec G115 -- bit pattern is preserved on purpose.
	return uint32(m.Int())
}

func (m Message) Float() float32 {
	b := m.raw()
	switch m.PayloadType {
	case PayloadFloat32:
		if len(b) < 4 {
			return 0
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case PayloadString:
		v, _ := strconv.ParseFloat(strings.TrimSpace(string(b)), 32)
		return float32(v)
	default:
		return float32(m.Int())
	}
}

// Text renders the payload the way a controller would display it.
func (m Message) Text() string {
	b := m.raw()
	switch m.PayloadType {
	case PayloadString:
		return string(b)
	case PayloadByte, PayloadInt16, PayloadLong32:
		return strconv.FormatInt(int64(m.Int()), 10)
	case PayloadUint16, PayloadUlong32:
		return strconv.FormatUint(uint64(m.Uint()), 10)
	case PayloadFloat32:
		decimals := 2
		if len(b) >= 5 {
			decimals = int(b[4])
		}
		return strconv.FormatFloat(float64(m.Float()), 'f', decimals, 32)
	default:
		return strings.ToUpper(hex.EncodeToString(b))
	}
}
