package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/sensornet/internal/canbus"
	"github.com/skobkin/sensornet/internal/connectors"
	"github.com/skobkin/sensornet/internal/frame"
	"github.com/skobkin/sensornet/internal/reassembly"
)

const (
	defaultInitTimeout = 5 * time.Second
	fullTxPower        = int16(100)
)

// PowerState is the last power transition requested from a driver.
type PowerState uint8

const (
	PowerStateUp PowerState = iota
	PowerStateStandBy
	PowerStateSleep
	PowerStateDown
)

func (s PowerState) String() string {
	switch s {
	case PowerStateStandBy:
		return "standby"
	case PowerStateSleep:
		return "sleep"
	case PowerStateDown:
		return "down"
	default:
		return "up"
	}
}

type CANConfig struct {
	Slots       int
	SlotSize    int
	RxQueue     int
	InitTimeout time.Duration
	Tap         canbus.FrameTap
	Publisher   connectors.Publisher
	Now         func() time.Time
}

type CANStats struct {
	Link       canbus.ControllerStats
	Pool       reassembly.Stats
	Sent       uint64
	SendErrors uint64
	Filtered   uint64
	Foreign    uint64
}

// CAN carries messages over a CAN bus, splitting each one into up to
// frame.MaxParts frames and rebuilding inbound messages in a slot pool.
type CAN struct {
	cfg    CANConfig
	logger *slog.Logger
	ctrl   *canbus.Controller
	pool   *reassembly.Pool

	mu          sync.Mutex
	address     uint8
	msgID       uint8
	initialized bool
	power       PowerState
	sent        uint64
	sendErrors  uint64
	filtered    uint64
	foreign     uint64
}

var _ Transport = (*CAN)(nil)

func NewCAN(cfg CANConfig, link canbus.Link, logger *slog.Logger) *CAN {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = defaultInitTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &CAN{
		cfg:    cfg,
		logger: logger.With("sys", "CAN"),
		ctrl: canbus.NewController(link, canbus.ControllerOptions{
			RxQueue:   cfg.RxQueue,
			Publisher: cfg.Publisher,
			Tap:       cfg.Tap,
			Logger:    logger,
			Now:       cfg.Now,
		}),
		pool:    reassembly.New(cfg.Slots, cfg.SlotSize),
		address: 255,
	}
}

// Init brings the link up, clears every reassembly slot and starts
// accepting frames for the current address and broadcast.
func (c *CAN) Init(ctx context.Context) error {
	c.logger.Debug("init", "sub", "INIT", "slots", c.pool.Capacity(), "slot_size", c.pool.SlotSize())
	c.ctrl.Start(context.WithoutCancel(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.InitTimeout)
	defer cancel()
	if err := c.ctrl.WaitConnected(waitCtx); err != nil {
		c.ctrl.Stop()
		c.logger.Error("init failed", "sub", "INIT", "error", err)

		return fmt.Errorf("bring up can link: %w", err)
	}

	c.mu.Lock()
	c.pool.Reset()
	c.ctrl.Flush()
	c.initialized = true
	c.power = PowerStateUp
	c.mu.Unlock()

	return nil
}

// Send fragments data and transmits the parts in order. The first failing
// part aborts the send; parts already on the bus stay there. CAN has no
// link-level acknowledgement request, so noAck is ignored.
func (c *CAN) Send(ctx context.Context, to uint8, data []byte, noAck bool) error {
	_ = noAck

	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if limit := c.MaxMessageSize(); len(data) > limit {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d > %d", frame.ErrPayloadTooLarge, len(data), limit)
	}
	c.msgID = (c.msgID + 1) & frame.MaxMessageID
	msgID, from := c.msgID, c.address
	c.mu.Unlock()

	frames, err := frame.Fragment(from, to, msgID, false, data)
	if err != nil {
		return err
	}
	c.logger.Debug("send", "sub", "SND", "to", to, "len", len(data), "parts", len(frames), "msg_id", msgID)

	for i, f := range frames {
		if err := c.ctrl.Transmit(ctx, f); err != nil {
			c.mu.Lock()
			c.sendErrors++
			c.mu.Unlock()
			c.logger.Warn("send failed", "sub", "SND", "part", i, "parts", len(frames), "error", err)

			return fmt.Errorf("%w: part %d/%d: %w", ErrSendFailed, i+1, len(frames), err)
		}
	}

	c.mu.Lock()
	c.sent++
	c.mu.Unlock()

	return nil
}

// MaxMessageSize is the longest message Send accepts: what one reassembly
// slot holds, and never more than the frame codec can split.
func (c *CAN) MaxMessageSize() int {
	return min(c.pool.SlotSize(), frame.MaxPayload)
}

// DataAvailable moves every queued frame into the pool and reports whether
// a complete message is waiting.
func (c *CAN) DataAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return false
	}

	for {
		f, ok := c.ctrl.Poll()
		if !ok {
			break
		}
		c.ingestLocked(f)
	}

	return c.pool.HasReady()
}

func (c *CAN) ingestLocked(f frame.Raw) {
	h, err := frame.Decode(f.ID)
	if err != nil {
		c.foreign++
		c.logger.Debug("foreign frame dropped", "sub", "RCV", "id", fmt.Sprintf("%08X", f.ID), "error", err)

		return
	}
	if h.Destination != c.address && h.Destination != 255 {
		c.filtered++
		return
	}

	res := c.pool.Ingest(h, f.Payload())
	if !res.Accepted {
		c.logger.Debug("continuation without slot", "sub", "RCV", "header", h.String())
		return
	}
	if res.Overflow {
		c.logger.Warn("message larger than slot dropped", "sub", "RCV",
			"from", h.Source, "msg_id", h.MessageID, "slot_size", c.pool.SlotSize())
		c.publishDrop(h.Source, h.MessageID)
	}
	if res.Admission.Evicted {
		c.logger.Warn("partial message evicted", "sub", "RCV",
			"from", res.Admission.EvictedSource, "msg_id", res.Admission.EvictedID)
		c.publishDrop(res.Admission.EvictedSource, res.Admission.EvictedID)
	}
	if res.Ready {
		c.logger.Debug("message complete", "sub", "RCV", "slot", int(res.Slot), "from", h.Source)
	}
}

func (c *CAN) publishDrop(source, msgID uint8) {
	if c.cfg.Publisher == nil {
		return
	}
	c.cfg.Publisher.Publish(connectors.TopicReassemblyDrop, connectors.ReassemblyDrop{
		Source:    source,
		MessageID: msgID,
		At:        c.cfg.Now(),
	})
}

// Receive copies the next complete message into buf. It returns 0 when
// nothing is ready.
func (c *CAN) Receive(buf []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := c.pool.DrainReady(buf)

	return n
}

// Ready is signalled when new frames arrive from the bus.
func (c *CAN) Ready() <-chan struct{} {
	return c.ctrl.Ready()
}

func (c *CAN) SetAddress(addr uint8) {
	c.mu.Lock()
	c.address = addr
	c.mu.Unlock()
}

func (c *CAN) Address() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.address
}

func (c *CAN) SanityCheck() bool {
	return c.ctrl.Connected()
}

func (c *CAN) PowerDown() { c.setPower(PowerStateDown) }
func (c *CAN) PowerUp()   { c.setPower(PowerStateUp) }
func (c *CAN) Sleep()     { c.setPower(PowerStateSleep) }
func (c *CAN) StandBy()   { c.setPower(PowerStateStandBy) }

// Power reports the last requested power state. The bus adapter itself has
// no low power mode; the state is informational.
func (c *CAN) Power() PowerState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.power
}

func (c *CAN) setPower(s PowerState) {
	c.mu.Lock()
	c.power = s
	c.mu.Unlock()
	c.logger.Debug("power", "state", s.String())
}

func (c *CAN) SendingRSSI() int16   { return InvalidRSSI }
func (c *CAN) ReceivingRSSI() int16 { return InvalidRSSI }
func (c *CAN) SendingSNR() int16    { return InvalidSNR }
func (c *CAN) ReceivingSNR() int16  { return InvalidSNR }

func (c *CAN) TxPowerPercent() int16 { return fullTxPower }
func (c *CAN) TxPowerLevel() int16   { return fullTxPower }

// SetTxPowerPercent always fails: a wired bus has no transmit power.
func (c *CAN) SetTxPowerPercent(uint8) bool { return false }

func (c *CAN) Stats() CANStats {
	link := c.ctrl.Stats()
	c.mu.Lock()
	defer c.mu.Unlock()

	return CANStats{
		Link:       link,
		Pool:       c.pool.Stats(),
		Sent:       c.sent,
		SendErrors: c.sendErrors,
		Filtered:   c.filtered,
		Foreign:    c.foreign,
	}
}

func (c *CAN) Close() error {
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
	c.ctrl.Stop()

	return nil
}
