package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/sensornet/internal/canbus"
	"github.com/skobkin/sensornet/internal/logging"
	"github.com/skobkin/sensornet/internal/message"
	"github.com/skobkin/sensornet/internal/transport"
)

const sensorReading = "twenty bytes payload"

type gatewayCallbacks struct {
	NopCallbacks
	readings chan message.Message
}

func (c *gatewayCallbacks) Receive(_ context.Context, n *Node, msg message.Message) {
	if msg.Command != message.CommandSet || msg.Sender == n.NodeID() {
		return
	}
	select {
	case c.readings <- msg:
	default:
	}
}

type sensorCallbacks struct {
	NopCallbacks
	sendErr chan error
}

func (c *sensorCallbacks) Presentation(ctx context.Context, n *Node) {
	msg := message.Build(n.NodeID(), message.GatewayAddress, 1, message.CommandSet, message.VarStatus, false)
	msg.SetString(sensorReading)
	select {
	case c.sendErr <- n.Send(ctx, msg, false):
	default:
	}
}

func startOnBus(t *testing.T, ctx context.Context, wg *sync.WaitGroup, port *canbus.LoopbackPort, opts Options) {
	t.Helper()
	tr := transport.NewCAN(transport.CANConfig{InitTimeout: time.Second}, port, logging.Discard())
	t.Cleanup(func() { _ = tr.Close() })

	opts.Transport = tr
	opts.Hardware = &fakeHardware{sleepResult: WokeByTimer}
	opts.Logger = logging.Discard()
	opts.RegistrationRetry = 50 * time.Millisecond
	n, err := New(opts)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := n.Run(ctx); err != nil {
			t.Errorf("run: %v", err)
		}
	}()
}

func TestLoopback_SensorRegistersAndReports(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	bus := canbus.NewLoopbackBus()
	gw := &gatewayCallbacks{readings: make(chan message.Message, 1)}
	sensor := &sensorCallbacks{sendErr: make(chan error, 1)}

	startOnBus(t, ctx, &wg, bus.Port("gateway"), Options{IsGateway: true, Callbacks: gw})
	startOnBus(t, ctx, &wg, bus.Port("sensor"), Options{
		StaticNodeID: 7,
		StaticParent: message.AutoID,
		Callbacks:    sensor,
	})

	select {
	case err := <-sensor.sendErr:
		if err != nil {
			t.Fatalf("sensor send after registration: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("sensor never registered")
	}

	select {
	case msg := <-gw.readings:
		if msg.Sender != 7 || msg.Sensor != 1 || msg.Text() != sensorReading {
			t.Fatalf("unexpected reading %v", msg)
		}
	case <-ctx.Done():
		t.Fatalf("gateway received no reading")
	}
}
