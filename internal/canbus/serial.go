package canbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/skobkin/sensornet/internal/frame"
)

const defaultSerialReadTimeout = 300 * time.Millisecond

// SerialLink drives an SLCAN adapter attached to a serial port.
type SerialLink struct {
	portName string
	baudRate int
	bitrate  int

	mu      sync.Mutex
	port    serial.Port
	writeMu sync.Mutex
}

func NewSerialLink(portName string, baudRate, bitrate int) *SerialLink {
	return &SerialLink{
		portName: portName,
		baudRate: baudRate,
		bitrate:  bitrate,
	}
}

func (l *SerialLink) Name() string {
	return "serial"
}

func (l *SerialLink) StatusTarget() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return fmt.Sprintf("%s@%d", l.portName, l.baudRate)
}

func (l *SerialLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.port != nil
}

func (l *SerialLink) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	logger := linkLogger("serial", "port", l.portName)

	if l.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.portName == "" {
		return errors.New("serial port is empty")
	}
	if l.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", l.baudRate)
	}
	openSeq, err := slcanOpenSequence(l.bitrate)
	if err != nil {
		return err
	}

	port, err := serial.Open(l.portName, &serial.Mode{BaudRate: l.baudRate})
	if err != nil {
		return fmt.Errorf("open serial port %q: %w", l.portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	if err := writeFull(ctx, port, openSeq); err != nil {
		_ = port.Close()
		return fmt.Errorf("open slcan channel: %w", err)
	}
	l.port = port
	logger.Info("connected", "baud", l.baudRate, "bitrate", l.bitrate)

	return nil
}

func (l *SerialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	_, _ = l.port.Write(slcanCloseSequence())
	err := l.port.Close()
	l.port = nil
	linkLogger("serial", "port", l.portName).Info("closed")

	return err
}

func (l *SerialLink) ReadFrame(ctx context.Context) (frame.Raw, error) {
	port, err := l.currentPort()
	if err != nil {
		return frame.Raw{}, err
	}

	var buf [1]byte

	return readSLCAN(func() (byte, error) {
		if err := readFull(ctx, port, buf[:]); err != nil {
			return 0, err
		}

		return buf[0], nil
	})
}

func (l *SerialLink) WriteFrame(ctx context.Context, f frame.Raw) error {
	port, err := l.currentPort()
	if err != nil {
		return err
	}

	line, err := encodeSLCAN(f)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := writeFull(ctx, port, line); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

func (l *SerialLink) currentPort() (serial.Port, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil, ErrNotConnected
	}

	return l.port, nil
}

// readFull keeps reading through serial read timeouts until buf is full or
// ctx ends.
func readFull(ctx context.Context, r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf[read:])
		if err != nil {
			return err
		}
		read += n
	}

	return nil
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}

	return nil
}
