package canbus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/skobkin/sensornet/internal/frame"
)

const defaultIPDialTimeout = 6 * time.Second

// IPLink speaks SLCAN to a TCP bridge in front of a CAN adapter.
type IPLink struct {
	host    string
	port    int
	bitrate int

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

func NewIPLink(host string, port, bitrate int) *IPLink {
	return &IPLink{host: host, port: port, bitrate: bitrate}
}

func (l *IPLink) Name() string {
	return "ip"
}

func (l *IPLink) StatusTarget() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.host == "" {
		return ""
	}

	return net.JoinHostPort(l.host, strconv.Itoa(l.port))
}

func (l *IPLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.conn != nil
}

func (l *IPLink) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	target := ""
	if l.host != "" {
		target = net.JoinHostPort(l.host, strconv.Itoa(l.port))
	}
	logger := linkLogger("ip", "target", target)

	if l.conn != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}
	if l.host == "" {
		logger.Warn("connect failed: host is empty")

		return errors.New("ip host is empty")
	}
	openSeq, err := slcanOpenSequence(l.bitrate)
	if err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: defaultIPDialTimeout}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return fmt.Errorf("dial tcp: %w", err)
	}
	if _, err := conn.Write(openSeq); err != nil {
		_ = conn.Close()
		logger.Warn("open slcan channel failed", "error", err)

		return fmt.Errorf("open slcan channel: %w", err)
	}
	l.conn = conn
	l.reader = bufio.NewReader(conn)
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (l *IPLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	logger := linkLogger("ip", "host", l.host)

	if l.conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}
	_, _ = l.conn.Write(slcanCloseSequence())
	err := l.conn.Close()
	l.conn = nil
	l.reader = nil
	if err != nil {
		logger.Warn("close failed", "error", err)

		return err
	}
	logger.Info("closed")

	return nil
}

func (l *IPLink) ReadFrame(ctx context.Context) (frame.Raw, error) {
	conn, reader, err := l.current()
	if err != nil {
		return frame.Raw{}, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	f, err := readSLCAN(reader.ReadByte)
	if err != nil {
		return frame.Raw{}, err
	}
	linkLogger("ip").Debug("read frame", "frame", f.String())

	return f, nil
}

func (l *IPLink) WriteFrame(ctx context.Context, f frame.Raw) error {
	logger := linkLogger("ip")
	conn, _, err := l.current()
	if err != nil {
		logger.Debug("write frame failed: not connected", "error", err)

		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	line, err := encodeSLCAN(f)
	if err != nil {
		logger.Warn("encode frame failed", "frame", f.String(), "error", err)

		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := conn.Write(line); err != nil {
		logger.Warn("write frame failed", "frame", f.String(), "error", err)

		return fmt.Errorf("write frame: %w", err)
	}
	logger.Debug("write frame", "frame", f.String())

	return nil
}

func (l *IPLink) current() (net.Conn, *bufio.Reader, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil, nil, ErrNotConnected
	}

	return l.conn, l.reader, nil
}
