// Package capture records CAN traffic to pcap files readable by Wireshark.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/skobkin/sensornet/internal/canbus"
	"github.com/skobkin/sensornet/internal/frame"
)

const (
	// LinkTypeSocketCAN is LINKTYPE_CAN_SOCKETCAN.
	LinkTypeSocketCAN = layers.LinkType(227)

	recordSize   = 16
	snapLen      = 65535
	flagExtended = 0x80000000
	maxStdID     = 0x7FF
)

// Record is one frame read back from a capture.
type Record struct {
	At    time.Time
	Frame frame.Raw
}

// PcapWriter appends every tapped frame to a pcap stream. Write failures are
// remembered and reported by Err and Close; tapping never blocks the bus.
type PcapWriter struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	count  uint64
	err    error
}

var _ canbus.FrameTap = (*PcapWriter)(nil)

func NewPcapWriter(w io.Writer) (*PcapWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, LinkTypeSocketCAN); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}

	return &PcapWriter{w: pw}, nil
}

// Create truncates path and starts a new capture in it.
func Create(path string) (*PcapWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap: %w", err)
	}
	pw, err := NewPcapWriter(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	pw.closer = file

	return pw, nil
}

func (p *PcapWriter) Tap(_ canbus.Direction, f frame.Raw, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}

	data := encodeRecord(f)
	err := p.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     at,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
	if err != nil {
		p.err = fmt.Errorf("write pcap record: %w", err)
		return
	}
	p.count++
}

func (p *PcapWriter) Count() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.count
}

func (p *PcapWriter) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.err
}

func (p *PcapWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closer == nil {
		return p.err
	}
	err := p.closer.Close()
	p.closer = nil

	return errors.Join(p.err, err)
}

// ReadAll decodes every SocketCAN record of a capture.
func ReadAll(r io.Reader) ([]Record, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	if pr.LinkType() != LinkTypeSocketCAN {
		return nil, fmt.Errorf("unexpected link type %d", pr.LinkType())
	}

	var out []Record
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read pcap record: %w", err)
		}
		f, err := decodeRecord(data)
		if err != nil {
			return out, err
		}
		out = append(out, Record{At: ci.Timestamp, Frame: f})
	}
}

// encodeRecord lays f out as a Linux struct can_frame: big-endian id with
// the extended flag, length, three reserved bytes, eight data bytes.
func encodeRecord(f frame.Raw) []byte {
	buf := make([]byte, recordSize)
	id := f.ID
	if id > maxStdID {
		id |= flagExtended
	}
	binary.BigEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	copy(buf[8:], f.Data[:])

	return buf
}

func decodeRecord(data []byte) (frame.Raw, error) {
	if len(data) < recordSize {
		return frame.Raw{}, fmt.Errorf("short socketcan record: %d bytes", len(data))
	}
	id := binary.BigEndian.Uint32(data[0:4]) & frame.IDMask
	n := int(data[4])
	if n > frame.DataSize {
		return frame.Raw{}, fmt.Errorf("invalid socketcan length: %d", n)
	}

	return frame.NewRaw(id, data[8:8+n]), nil
}
