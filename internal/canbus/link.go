// Package canbus moves raw CAN frames between the host and a bus adapter.
package canbus

import (
	"context"
	"errors"

	"github.com/skobkin/sensornet/internal/frame"
)

var (
	ErrNotConnected = errors.New("canbus: link is not connected")
	ErrClosed       = errors.New("canbus: link closed")
)

// Link is one physical attachment to a CAN bus.
type Link interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) (frame.Raw, error)
	WriteFrame(ctx context.Context, f frame.Raw) error
}

// StatusTargetResolver is implemented by links that can describe what they
// are attached to, such as a serial device or a TCP endpoint.
type StatusTargetResolver interface {
	StatusTarget() string
}

func statusTarget(l Link) string {
	if r, ok := l.(StatusTargetResolver); ok {
		return r.StatusTarget()
	}

	return ""
}
