package canbus

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/skobkin/sensornet/internal/frame"
)

// SLCAN (Lawicel) ASCII protocol, as spoken by serial CAN adapters and
// their TCP bridges.
const (
	slcanTerminator = '\r'
	slcanBell       = '\a'
	maxSLCANLine    = 1 + 8 + 1 + 2*frame.DataSize
)

var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// ErrMalformedFrame marks a single unparsable line; the stream itself is
// still usable.
var ErrMalformedFrame = errors.New("canbus: malformed slcan frame")

type readByteFunc func() (byte, error)

// slcanOpenSequence closes the channel, sets the bitrate and reopens it.
func slcanOpenSequence(bitrate int) ([]byte, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("unsupported slcan bitrate: %d", bitrate)
	}

	return []byte{'C', slcanTerminator, 'S', code, slcanTerminator, 'O', slcanTerminator}, nil
}

func slcanCloseSequence() []byte {
	return []byte{'C', slcanTerminator}
}

// encodeSLCAN renders f as an extended data frame line.
func encodeSLCAN(f frame.Raw) ([]byte, error) {
	if f.ID&^frame.IDMask != 0 {
		return nil, fmt.Errorf("identifier 0x%X wider than 29 bits", f.ID)
	}
	if f.Len > frame.DataSize {
		return nil, fmt.Errorf("invalid frame length: %d", f.Len)
	}

	line := make([]byte, 0, maxSLCANLine+1)
	line = append(line, 'T')
	line = append(line, fmt.Sprintf("%08X", f.ID)...)
	line = append(line, '0'+f.Len)
	line = append(line, f.Hex()...)
	line = append(line, slcanTerminator)

	return line, nil
}

// readSLCAN returns the next data frame. Acknowledgements, error bells and
// unknown lines are skipped; a line longer than any valid frame is dropped
// and parsing resyncs on the next terminator.
func readSLCAN(readByte readByteFunc) (frame.Raw, error) {
	line := make([]byte, 0, maxSLCANLine)
	overflow := false
	for {
		b, err := readByte()
		if err != nil {
			return frame.Raw{}, fmt.Errorf("read slcan byte: %w", err)
		}
		switch b {
		case slcanBell:
			line = line[:0]
			overflow = false
			continue
		case slcanTerminator, '\n':
			if overflow || len(line) == 0 {
				line = line[:0]
				overflow = false
				continue
			}
			f, ok, err := parseSLCANLine(line)
			line = line[:0]
			if err != nil {
				return frame.Raw{}, err
			}
			if ok {
				return f, nil
			}
			continue
		}
		if len(line) >= maxSLCANLine {
			overflow = true
			continue
		}
		line = append(line, b)
	}
}

func parseSLCANLine(line []byte) (frame.Raw, bool, error) {
	var idLen int
	switch line[0] {
	case 'T':
		idLen = 8
	case 't':
		idLen = 3
	default:
		// status replies such as 'z' or 'Z'
		return frame.Raw{}, false, nil
	}

	if len(line) < 1+idLen+1 {
		return frame.Raw{}, false, fmt.Errorf("%w: short line %q", ErrMalformedFrame, line)
	}
	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return frame.Raw{}, false, fmt.Errorf("%w: id %q: %v", ErrMalformedFrame, line[1:1+idLen], err)
	}
	dlc := int(line[1+idLen] - '0')
	if dlc < 0 || dlc > frame.DataSize {
		return frame.Raw{}, false, fmt.Errorf("%w: dlc %q", ErrMalformedFrame, line[1+idLen])
	}
	data := line[2+idLen:]
	if len(data) < 2*dlc {
		return frame.Raw{}, false, fmt.Errorf("%w: shorter than dlc %d: %q", ErrMalformedFrame, dlc, line)
	}
	payload := make([]byte, dlc)
	if _, err := hex.Decode(payload, data[:2*dlc]); err != nil {
		return frame.Raw{}, false, fmt.Errorf("%w: data: %v", ErrMalformedFrame, err)
	}

	// #nosec G115 -- id was parsed with a 32-bit limit.
	return frame.NewRaw(uint32(id), payload), true, nil
}

func ioReadByteFunc(r io.Reader) readByteFunc {
	var buf [1]byte

	return func() (byte, error) {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}

		return buf[0], nil
	}
}
