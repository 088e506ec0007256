package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/sensornet/internal/logging"
	"github.com/skobkin/sensornet/internal/message"
	"github.com/skobkin/sensornet/internal/persistence"
	"github.com/skobkin/sensornet/internal/transport"
)

type sentMessage struct {
	to  uint8
	msg message.Message
}

type fakeTransport struct {
	initErr error
	sendErr error

	address  uint8
	inbox    [][]byte
	sent     []sentMessage
	sleeps   int
	powerUps int
	closed   bool
}

var _ transport.Transport = (*fakeTransport)(nil)

func (f *fakeTransport) Init(context.Context) error { return f.initErr }

func (f *fakeTransport) Send(_ context.Context, to uint8, data []byte, _ bool) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	msg, err := message.Unmarshal(data)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{to: to, msg: msg})

	return nil
}

func (f *fakeTransport) DataAvailable() bool { return len(f.inbox) > 0 }

func (f *fakeTransport) Receive(buf []byte) int {
	if len(f.inbox) == 0 {
		return 0
	}
	next := f.inbox[0]
	f.inbox = f.inbox[1:]

	return copy(buf, next)
}

func (f *fakeTransport) SetAddress(addr uint8) { f.address = addr }
func (f *fakeTransport) Address() uint8        { return f.address }
func (f *fakeTransport) SanityCheck() bool     { return true }
func (f *fakeTransport) PowerDown()            {}
func (f *fakeTransport) PowerUp()              { f.powerUps++ }
func (f *fakeTransport) Sleep()                { f.sleeps++ }
func (f *fakeTransport) StandBy()              {}

func (f *fakeTransport) SendingRSSI() int16   { return transport.InvalidRSSI }
func (f *fakeTransport) ReceivingRSSI() int16 { return transport.InvalidRSSI }
func (f *fakeTransport) SendingSNR() int16    { return transport.InvalidSNR }
func (f *fakeTransport) ReceivingSNR() int16  { return transport.InvalidSNR }

func (f *fakeTransport) TxPowerPercent() int16 { return 100 }
func (f *fakeTransport) TxPowerLevel() int16   { return 100 }

func (f *fakeTransport) SetTxPowerPercent(uint8) bool { return false }

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func (f *fakeTransport) deliver(msg message.Message) {
	f.inbox = append(f.inbox, msg.Marshal())
}

func (f *fakeTransport) reset() { f.sent = nil }

func (f *fakeTransport) last(t *testing.T) sentMessage {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatalf("nothing was sent")
	}

	return f.sent[len(f.sent)-1]
}

// find returns the first sent internal message of type typ.
func (f *fakeTransport) find(typ uint8) (sentMessage, bool) {
	for _, s := range f.sent {
		if s.msg.IsInternal(typ) {
			return s, true
		}
	}

	return sentMessage{}, false
}

type fakeHardware struct {
	initErr     error
	sleepResult SleepResult
	sleepErr    error

	slept      []time.Duration
	interrupts [][]Interrupt
	reboots    int
	watchdog   int
}

func (h *fakeHardware) Init() error { return h.initErr }

func (h *fakeHardware) Sleep(_ context.Context, d time.Duration, interrupts []Interrupt) (SleepResult, error) {
	h.slept = append(h.slept, d)
	h.interrupts = append(h.interrupts, interrupts)
	if h.sleepErr != nil {
		return SleepNotPossible, h.sleepErr
	}

	return h.sleepResult, nil
}

func (h *fakeHardware) Reboot()          { h.reboots++ }
func (h *fakeHardware) WatchdogReset()   { h.watchdog++ }
func (h *fakeHardware) UniqueID() []byte { return []byte{0xde, 0xad} }

type recordingCallbacks struct {
	NopCallbacks

	calls         []string
	received      []message.Message
	times         []uint32
	presentations int
}

func (c *recordingCallbacks) PreHwInit(context.Context, *Node) {
	c.calls = append(c.calls, "preHwInit")
}

func (c *recordingCallbacks) Before(context.Context, *Node) {
	c.calls = append(c.calls, "before")
}

func (c *recordingCallbacks) Setup(context.Context, *Node) {
	c.calls = append(c.calls, "setup")
}

func (c *recordingCallbacks) Presentation(context.Context, *Node) {
	c.presentations++
}

func (c *recordingCallbacks) Receive(_ context.Context, _ *Node, msg message.Message) {
	c.received = append(c.received, msg)
}

func (c *recordingCallbacks) ReceiveTime(_ context.Context, _ *Node, ts uint32) {
	c.times = append(c.times, ts)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testNode struct {
	*Node
	tr    *fakeTransport
	hw    *fakeHardware
	cb    *recordingCallbacks
	store *persistence.MemoryStore
	clock *fakeClock
}

func newTestNode(t *testing.T, mutate func(*Options)) *testNode {
	t.Helper()
	tn := &testNode{
		tr:    &fakeTransport{},
		hw:    &fakeHardware{sleepResult: WokeByTimer},
		cb:    &recordingCallbacks{},
		store: persistence.NewMemoryStore(),
		clock: newFakeClock(),
	}
	opts := Options{
		Transport:      tn.tr,
		Store:          tn.store,
		Hardware:       tn.hw,
		Callbacks:      tn.cb,
		Logger:         logging.Discard(),
		Now:            tn.clock.Now,
		StaticNodeID:   5,
		StaticParent:   message.AutoID,
		SmartSleepWait: time.Millisecond,
		IdleInterval:   time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	n, err := New(opts)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	tn.Node = n

	return tn
}

// registeredNode returns a started node that has completed registration
// with the gateway, with the transmit log cleared.
func registeredNode(t *testing.T, mutate func(*Options)) *testNode {
	t.Helper()
	tn := newTestNode(t, mutate)
	ctx := context.Background()
	if err := tn.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	tn.tr.deliver(internalMsg(message.GatewayAddress, tn.NodeID(), message.InternalRegistrationResponse, []byte{1, 0, 1}))
	if err := tn.Process(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if tn.State() != StateRegistered {
		t.Fatalf("expected registered, got %s", tn.State())
	}
	tn.tr.reset()
	tn.cb.received = nil

	return tn
}

func internalMsg(from, to, typ uint8, payload []byte) message.Message {
	msg := message.Build(from, to, message.NodeSensorID, message.CommandInternal, typ, false)
	msg.Last = from
	msg.SetCustom(payload)

	return msg
}
