package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/skobkin/sensornet/internal/canbus"
	"github.com/skobkin/sensornet/internal/config"
)

// NewLink builds the CAN link described by cfg. A loopback link attaches a
// port named portName to loop, creating a private bus when loop is nil.
func NewLink(cfg config.LinkConfig, loop *canbus.LoopbackBus, portName string) (canbus.Link, error) {
	switch cfg.Kind {
	case config.LinkSerial:
		return canbus.NewSerialLink(cfg.SerialPort, cfg.SerialBaud, cfg.Bitrate), nil
	case config.LinkIP:
		return canbus.NewIPLink(cfg.Host, cfg.Port, cfg.Bitrate), nil
	case config.LinkLoopback:
		if loop == nil {
			loop = canbus.NewLoopbackBus()
		}
		return loop.Port(portName), nil
	default:
		return nil, fmt.Errorf("unknown link kind: %q", cfg.Kind)
	}
}

// LinkTarget describes what a link config points at, for status output.
func LinkTarget(cfg config.LinkConfig) string {
	switch cfg.Kind {
	case config.LinkSerial:
		port := strings.TrimSpace(cfg.SerialPort)
		if port == "" {
			return "serial"
		}
		return port + "@" + strconv.Itoa(cfg.SerialBaud)
	case config.LinkIP:
		host := strings.TrimSpace(cfg.Host)
		if host == "" {
			return "ip"
		}
		return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	default:
		return string(cfg.Kind)
	}
}
