package canbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/sensornet/internal/connectors"
	"github.com/skobkin/sensornet/internal/frame"
)

type readResult struct {
	f   frame.Raw
	err error
}

type scriptedLink struct {
	mu       sync.Mutex
	connects int
	written  []frame.Raw
	reads    chan readResult
}

func newScriptedLink() *scriptedLink {
	return &scriptedLink{reads: make(chan readResult, 16)}
}

func (l *scriptedLink) Name() string { return "scripted" }

func (l *scriptedLink) Connect(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connects++

	return nil
}

func (l *scriptedLink) Close() error { return nil }

func (l *scriptedLink) ReadFrame(ctx context.Context) (frame.Raw, error) {
	select {
	case <-ctx.Done():
		return frame.Raw{}, ctx.Err()
	case r := <-l.reads:
		return r.f, r.err
	}
}

func (l *scriptedLink) WriteFrame(_ context.Context, f frame.Raw) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.written = append(l.written, f)

	return nil
}

func (l *scriptedLink) connectCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.connects
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]any
}

func (p *recordingPublisher) Publish(topic string, msg any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]any)
	}
	p.events[topic] = append(p.events[topic], msg)
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.events[topic])
}

type recordingTap struct {
	mu   sync.Mutex
	dirs []Direction
}

func (r *recordingTap) Tap(dir Direction, _ frame.Raw, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs = append(r.dirs, dir)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func startController(t *testing.T, link Link, opts ControllerOptions) *Controller {
	t.Helper()
	c := NewController(link, opts)
	c.Start(context.Background())
	t.Cleanup(c.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitConnected(ctx); err != nil {
		t.Fatalf("wait connected: %v", err)
	}

	return c
}

func TestLoopbackDeliversToOtherPorts(t *testing.T) {
	ctx := context.Background()
	bus := NewLoopbackBus()
	a, b, c := bus.Port("a"), bus.Port("b"), bus.Port("c")
	for _, p := range []*LoopbackPort{a, b, c} {
		if err := p.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}

	want := frame.NewRaw(0x10000102, []byte{1, 2, 3})
	if err := a.WriteFrame(ctx, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, p := range []*LoopbackPort{b, c} {
		readCtx, cancel := context.WithTimeout(ctx, time.Second)
		got, err := p.ReadFrame(readCtx)
		cancel()
		if err != nil {
			t.Fatalf("read on %s: %v", p.StatusTarget(), err)
		}
		if got != want {
			t.Fatalf("read on %s: got %s want %s", p.StatusTarget(), got, want)
		}
	}

	readCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := a.ReadFrame(readCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("sender should not hear itself, got %v", err)
	}
}

func TestLoopbackInjectedWriteFailure(t *testing.T) {
	ctx := context.Background()
	p := NewLoopbackBus().Port("a")
	if err := p.WriteFrame(ctx, frame.Raw{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before connect, got %v", err)
	}
	_ = p.Connect(ctx)

	boom := errors.New("bus off")
	p.FailWrites(boom)
	if err := p.WriteFrame(ctx, frame.Raw{}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	p.FailWrites(nil)
	if err := p.WriteFrame(ctx, frame.Raw{}); err != nil {
		t.Fatalf("write after clearing failure: %v", err)
	}
}

func TestControllerQueuesInboundFrames(t *testing.T) {
	bus := NewLoopbackBus()
	peer := bus.Port("peer")
	_ = peer.Connect(context.Background())
	c := startController(t, bus.Port("node"), ControllerOptions{})

	want := frame.NewRaw(0x10000105, []byte{0x42})
	if err := peer.WriteFrame(context.Background(), want); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	select {
	case <-c.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("ready was not signalled")
	}
	got, ok := c.Poll()
	if !ok {
		t.Fatalf("expected a queued frame")
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if _, ok := c.Poll(); ok {
		t.Fatalf("queue should be empty")
	}
}

func TestControllerDropsOldestWhenFull(t *testing.T) {
	port := NewLoopbackBus().Port("node")
	c := startController(t, port, ControllerOptions{RxQueue: 2})

	for i := range 3 {
		port.Inject(frame.NewRaw(0x10000100+uint32(i), nil))
	}
	waitUntil(t, "three frames received", func() bool { return c.Stats().Received == 3 })

	for _, wantID := range []uint32{0x10000101, 0x10000102} {
		got, ok := c.Poll()
		if !ok || got.ID != wantID {
			t.Fatalf("poll: got %s ok=%t want id %08X", got, ok, wantID)
		}
	}
	if got := c.Stats().Dropped; got != 1 {
		t.Fatalf("dropped: got %d want 1", got)
	}
}

func TestControllerSkipsMalformedFrames(t *testing.T) {
	link := newScriptedLink()
	c := startController(t, link, ControllerOptions{})

	link.reads <- readResult{err: fmt.Errorf("%w: junk", ErrMalformedFrame)}
	link.reads <- readResult{f: frame.NewRaw(0x10000001, []byte{7})}

	waitUntil(t, "frame after junk", func() bool { return c.Pending() == 1 })
	stats := c.Stats()
	if stats.Malformed != 1 {
		t.Fatalf("malformed: got %d want 1", stats.Malformed)
	}
	if link.connectCount() != 1 {
		t.Fatalf("malformed frame must not force a reconnect")
	}
}

func TestControllerReconnectsAfterReadError(t *testing.T) {
	link := newScriptedLink()
	pub := &recordingPublisher{}
	c := startController(t, link, ControllerOptions{
		Publisher:      pub,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})

	link.reads <- readResult{err: io.EOF}

	waitUntil(t, "reconnect", func() bool { return c.Stats().Reconnects == 1 })
	if link.connectCount() != 2 {
		t.Fatalf("connects: got %d want 2", link.connectCount())
	}
	if pub.count(connectors.TopicConnStatus) < 3 {
		t.Fatalf("expected connecting, connected, reconnecting status events")
	}
}

func TestControllerTransmitTapsAndPublishes(t *testing.T) {
	link := newScriptedLink()
	pub := &recordingPublisher{}
	tap := &recordingTap{}
	c := startController(t, link, ControllerOptions{Publisher: pub, Tap: tap})

	out := frame.NewRaw(0x10000500, []byte{1})
	if err := c.Transmit(context.Background(), out); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	link.reads <- readResult{f: frame.NewRaw(0x10000005, nil)}
	waitUntil(t, "inbound frame", func() bool { return c.Pending() == 1 })

	if pub.count(connectors.TopicRawFrameOut) != 1 || pub.count(connectors.TopicRawFrameIn) != 1 {
		t.Fatalf("unexpected raw frame events: %v", pub.events)
	}
	tap.mu.Lock()
	defer tap.mu.Unlock()
	if len(tap.dirs) != 2 || tap.dirs[0] != DirectionOut || tap.dirs[1] != DirectionIn {
		t.Fatalf("unexpected tap directions: %v", tap.dirs)
	}
	if c.Stats().Sent != 1 {
		t.Fatalf("sent: got %d want 1", c.Stats().Sent)
	}
}

func TestControllerTransmitRequiresConnection(t *testing.T) {
	c := NewController(newScriptedLink(), ControllerOptions{})
	if err := c.Transmit(context.Background(), frame.Raw{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
