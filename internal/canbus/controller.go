package canbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/sensornet/internal/connectors"
	"github.com/skobkin/sensornet/internal/frame"
)

const (
	DefaultRxQueue        = 64
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 15 * time.Second
)

// Direction tells a FrameTap which way a frame travelled.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	if d == DirectionOut {
		return "out"
	}

	return "in"
}

// FrameTap observes every frame passing through a Controller.
type FrameTap interface {
	Tap(dir Direction, f frame.Raw, at time.Time)
}

type ControllerOptions struct {
	RxQueue        int
	Publisher      connectors.Publisher
	Tap            FrameTap
	Logger         *slog.Logger
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type ControllerStats struct {
	Received   uint64
	Sent       uint64
	Dropped    uint64
	Malformed  uint64
	TxErrors   uint64
	Reconnects uint64
}

// Controller keeps a Link connected and buffers inbound frames in a bounded
// FIFO. When the FIFO is full the oldest frame is discarded.
type Controller struct {
	link           Link
	logger         *slog.Logger
	pub            connectors.Publisher
	tap            FrameTap
	now            func() time.Time
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu        sync.Mutex
	queue     []frame.Raw
	head      int
	size      int
	connected bool
	up        chan struct{}
	stats     ControllerStats
	cancel    context.CancelFunc
	done      chan struct{}

	ready chan struct{}
}

func NewController(link Link, opts ControllerOptions) *Controller {
	if opts.RxQueue <= 0 {
		opts.RxQueue = DefaultRxQueue
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = max(defaultMaxBackoff, opts.InitialBackoff)
	}

	return &Controller{
		link:           link,
		logger:         opts.Logger.With("component", "canbus", "link", link.Name()),
		pub:            opts.Publisher,
		tap:            opts.Tap,
		now:            opts.Now,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		queue:          make([]frame.Raw, opts.RxQueue),
		up:             make(chan struct{}),
		ready:          make(chan struct{}, 1),
	}
}

// Start launches the connect/read loop. It is a no-op when already running.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		c.runConnector(runCtx)
	}(c.done)
}

// Stop cancels the loop, closes the link and waits for the reader to exit.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

// WaitConnected blocks until the link is up or ctx ends.
func (c *Controller) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	up := c.up
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-up:
		return nil
	}
}

// Ready is signalled whenever a frame is queued.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Poll pops the oldest queued frame without blocking.
func (c *Controller) Poll() (frame.Raw, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.size == 0 {
		return frame.Raw{}, false
	}
	f := c.queue[c.head]
	c.head = (c.head + 1) % len(c.queue)
	c.size--

	return f, true
}

// Pending reports how many frames wait in the FIFO.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

// Flush discards every queued frame.
func (c *Controller) Flush() {
	c.mu.Lock()
	c.head = 0
	c.size = 0
	c.mu.Unlock()
}

func (c *Controller) Transmit(ctx context.Context, f frame.Raw) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	if err := c.link.WriteFrame(ctx, f); err != nil {
		c.mu.Lock()
		c.stats.TxErrors++
		c.mu.Unlock()

		return err
	}
	at := c.now()
	c.mu.Lock()
	c.stats.Sent++
	c.mu.Unlock()
	c.observe(DirectionOut, f, at)

	return nil
}

func (c *Controller) Stats() ControllerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

func (c *Controller) push(f frame.Raw) {
	c.mu.Lock()
	if c.size == len(c.queue) {
		c.head = (c.head + 1) % len(c.queue)
		c.size--
		c.stats.Dropped++
		c.logger.Warn("rx queue full, oldest frame dropped", "sys", "CAN", "sub", "RCV")
	}
	c.queue[(c.head+c.size)%len(c.queue)] = f
	c.size++
	c.stats.Received++
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *Controller) runConnector(ctx context.Context) {
	backoff := c.initialBackoff
	first := true
	for {
		if err := ctx.Err(); err != nil {
			c.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
			return
		}

		if first {
			c.publishConnStatus(connectors.ConnectionStateConnecting, nil)
		}
		if err := c.link.Connect(ctx); err != nil {
			c.publishConnStatus(connectors.ConnectionStateReconnecting, err)
			c.logger.Error("link connect failed", "error", err)
			if !sleepWithContext(ctx, backoff) {
				c.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
				return
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		if !first {
			c.mu.Lock()
			c.stats.Reconnects++
			c.mu.Unlock()
		}
		first = false

		backoff = c.initialBackoff
		c.setConnected(true)
		c.publishConnStatus(connectors.ConnectionStateConnected, nil)

		stop := context.AfterFunc(ctx, func() { _ = c.link.Close() })
		err := c.runReader(ctx)
		stop()
		c.setConnected(false)
		_ = c.link.Close()
		if ctx.Err() != nil {
			c.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
			return
		}
		c.logger.Warn("link read failed", "error", err)
		c.publishConnStatus(connectors.ConnectionStateReconnecting, err)

		if !sleepWithContext(ctx, backoff) {
			c.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
			return
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func (c *Controller) runReader(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := c.link.ReadFrame(ctx)
		if errors.Is(err, ErrMalformedFrame) {
			c.mu.Lock()
			c.stats.Malformed++
			c.mu.Unlock()
			c.logger.Debug("malformed frame skipped", "error", err)
			continue
		}
		if err != nil {
			return err
		}

		c.observe(DirectionIn, f, c.now())
		c.push(f)
	}
}

func (c *Controller) observe(dir Direction, f frame.Raw, at time.Time) {
	if c.tap != nil {
		c.tap.Tap(dir, f, at)
	}
	if c.pub == nil {
		return
	}
	topic := connectors.TopicRawFrameIn
	if dir == DirectionOut {
		topic = connectors.TopicRawFrameOut
	}
	c.pub.Publish(topic, connectors.RawFrame{ID: f.ID, Hex: f.Hex(), Len: int(f.Len), At: at})
}

func (c *Controller) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected == v {
		return
	}
	c.connected = v
	if v {
		close(c.up)
	} else {
		c.up = make(chan struct{})
	}
}

func (c *Controller) publishConnStatus(state connectors.ConnectionState, err error) {
	if c.pub == nil {
		return
	}
	status := connectors.ConnStatus{
		State:         state,
		TransportName: c.link.Name(),
		Target:        statusTarget(c.link),
		Timestamp:     c.now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	c.pub.Publish(connectors.TopicConnStatus, status)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
