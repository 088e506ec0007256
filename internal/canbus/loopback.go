package canbus

import (
	"context"
	"sync"

	"github.com/skobkin/sensornet/internal/frame"
)

const defaultLoopbackQueue = 256

// LoopbackBus is an in-process CAN bus. Every frame written by one port is
// delivered to all other connected ports, like a real shared medium.
type LoopbackBus struct {
	mu    sync.Mutex
	ports []*LoopbackPort
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{}
}

// Port attaches a new participant to the bus.
func (b *LoopbackBus) Port(name string) *LoopbackPort {
	p := &LoopbackPort{
		bus:  b,
		name: name,
		rx:   make(chan frame.Raw, defaultLoopbackQueue),
	}
	b.mu.Lock()
	b.ports = append(b.ports, p)
	b.mu.Unlock()

	return p
}

func (b *LoopbackBus) deliver(from *LoopbackPort, f frame.Raw) {
	b.mu.Lock()
	ports := append([]*LoopbackPort(nil), b.ports...)
	b.mu.Unlock()

	for _, p := range ports {
		if p == from {
			continue
		}
		p.push(f)
	}
}

// LoopbackPort is a Link on a LoopbackBus.
type LoopbackPort struct {
	bus  *LoopbackBus
	name string
	rx   chan frame.Raw

	mu        sync.Mutex
	connected bool
	closed    chan struct{}
	failWrite error
	dropped   uint64
}

func (p *LoopbackPort) Name() string {
	return "loopback"
}

func (p *LoopbackPort) StatusTarget() string {
	return p.name
}

func (p *LoopbackPort) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		p.connected = true
		p.closed = make(chan struct{})
	}

	return nil
}

func (p *LoopbackPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		p.connected = false
		close(p.closed)
	}

	return nil
}

func (p *LoopbackPort) ReadFrame(ctx context.Context) (frame.Raw, error) {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return frame.Raw{}, ErrNotConnected
	}
	closed := p.closed
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return frame.Raw{}, ctx.Err()
	case <-closed:
		return frame.Raw{}, ErrClosed
	case f := <-p.rx:
		return f, nil
	}
}

func (p *LoopbackPort) WriteFrame(ctx context.Context, f frame.Raw) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	connected := p.connected
	failWrite := p.failWrite
	p.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	if failWrite != nil {
		return failWrite
	}
	p.bus.deliver(p, f)

	return nil
}

// FailWrites makes every following WriteFrame return err; nil restores
// normal operation.
func (p *LoopbackPort) FailWrites(err error) {
	p.mu.Lock()
	p.failWrite = err
	p.mu.Unlock()
}

// Inject delivers f to this port as if another node had sent it.
func (p *LoopbackPort) Inject(f frame.Raw) {
	p.push(f)
}

// Dropped reports frames lost because the port's queue was full.
func (p *LoopbackPort) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.dropped
}

func (p *LoopbackPort) push(f frame.Raw) {
	select {
	case p.rx <- f:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
	}
}
