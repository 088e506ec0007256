package node

import (
	"context"
	"time"

	"github.com/skobkin/sensornet/internal/message"
)

// Present announces one child sensor to the controller.
func (n *Node) Present(ctx context.Context, sensorID, sensorType uint8, description string, ack bool) error {
	msg := message.Build(n.cfg.NodeID, message.GatewayAddress, sensorID, message.CommandPresentation, sensorType, ack)
	msg.SetString(description)

	return n.Send(ctx, msg, ack)
}

// PresentNode presents the node itself and then asks the application to
// present its sensors.
func (n *Node) PresentNode(ctx context.Context) error {
	kind := message.SensorNode
	if n.isRepeater || n.isGateway {
		kind = message.SensorRepeaterNode
	}
	if err := n.Present(ctx, message.NodeSensorID, kind, LibraryVersion, false); err != nil {
		return err
	}
	n.cb.Presentation(ctx, n)

	return nil
}

func (n *Node) SendSketchInfo(ctx context.Context, name, version string, ack bool) error {
	if name != "" {
		msg := n.internal(message.GatewayAddress, message.InternalSketchName)
		msg.SetString(name)
		if err := n.Send(ctx, msg, ack); err != nil {
			return err
		}
	}
	if version != "" {
		msg := n.internal(message.GatewayAddress, message.InternalSketchVersion)
		msg.SetString(version)
		if err := n.Send(ctx, msg, ack); err != nil {
			return err
		}
	}

	return nil
}

func (n *Node) SendBatteryLevel(ctx context.Context, level uint8, ack bool) error {
	msg := n.internal(message.GatewayAddress, message.InternalBatteryLevel)
	msg.SetByte(level)

	return n.Send(ctx, msg, ack)
}

// SendHeartbeat sends an incrementing counter so the controller can tell
// the node is alive.
func (n *Node) SendHeartbeat(ctx context.Context) error {
	n.heartbeat++
	n.lastHeartbeat = n.now()
	msg := n.internal(message.GatewayAddress, message.InternalHeartbeatResponse)
	msg.SetUint32(n.heartbeat)

	return n.Send(ctx, msg, false)
}

// Request asks destination for the current value of a variable. The answer
// arrives through the Receive callback.
func (n *Node) Request(ctx context.Context, sensorID, varType, destination uint8) error {
	msg := message.Build(n.cfg.NodeID, destination, sensorID, message.CommandReq, varType, false)
	msg.SetString("")

	return n.Send(ctx, msg, false)
}

// RequestTime asks the controller for the time; it is delivered through
// ReceiveTime.
func (n *Node) RequestTime(ctx context.Context) error {
	msg := n.internal(message.GatewayAddress, message.InternalTime)
	msg.SetString("")

	return n.Send(ctx, msg, false)
}

func (n *Node) internal(dest, typ uint8) message.Message {
	return message.Build(n.cfg.NodeID, dest, message.NodeSensorID, message.CommandInternal, typ, false)
}

// Wait keeps processing messages for d.
func (n *Node) Wait(ctx context.Context, d time.Duration) error {
	_, err := n.wait(ctx, d, nil)

	return err
}

// WaitFor processes messages for at most d and reports whether a message
// with the given command and type arrived meanwhile.
func (n *Node) WaitFor(ctx context.Context, d time.Duration, cmd message.Command, typ uint8) bool {
	hit, _ := n.wait(ctx, d, &waitMatch{command: cmd, typ: typ})

	return hit
}

func (n *Node) wait(ctx context.Context, d time.Duration, match *waitMatch) (bool, error) {
	n.waiting = match
	defer func() { n.waiting = nil }()

	deadline := time.NewTimer(d)
	defer deadline.Stop()

	for {
		if err := n.Process(ctx); err != nil {
			return false, err
		}
		if match != nil && match.hit {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		default:
		}
		n.idle(ctx, min(n.idleInterval, d))
	}
}

// Sleep powers the node down for d.
func (n *Node) Sleep(ctx context.Context, d time.Duration) SleepResult {
	return n.sleep(ctx, d, false, nil)
}

// SleepOn sleeps for d or until one of interrupts fires. A zero d waits for
// an interrupt only.
func (n *Node) SleepOn(ctx context.Context, d time.Duration, interrupts ...Interrupt) SleepResult {
	return n.sleep(ctx, d, false, interrupts)
}

// SmartSleep announces itself with a heartbeat and keeps handling messages
// for the smart sleep wait before suspending, so the controller can reach
// the node between sleeps.
func (n *Node) SmartSleep(ctx context.Context, d time.Duration) SleepResult {
	return n.sleep(ctx, d, true, nil)
}

func (n *Node) SmartSleepOn(ctx context.Context, d time.Duration, interrupts ...Interrupt) SleepResult {
	return n.sleep(ctx, d, true, interrupts)
}

func (n *Node) sleep(ctx context.Context, d time.Duration, smart bool, interrupts []Interrupt) SleepResult {
	log := n.logger.With("sub", "SLP")
	if !n.canSleep() {
		log.Warn("sleep not possible", "state", n.state.String(), "busy", n.busy)
		return SleepNotPossible
	}
	if d <= 0 && len(interrupts) == 0 {
		log.Warn("sleep without wake-up source refused")
		return SleepNotPossible
	}
	if err := ValidateInterrupts(interrupts); err != nil {
		log.Warn("sleep refused", "error", err)
		return SleepNotPossible
	}

	if smart {
		if err := n.SendHeartbeat(ctx); err != nil {
			log.Debug("pre-sleep heartbeat failed", "error", err)
		}
		if err := n.Wait(ctx, n.smartSleepWait); err != nil {
			return SleepNotPossible
		}
		if !n.canSleep() {
			return SleepNotPossible
		}
	}

	log.Debug("sleeping", "duration", d, "interrupts", len(interrupts))
	n.tr.Sleep()
	res, err := n.hw.Sleep(ctx, d, interrupts)
	n.tr.PowerUp()
	if err != nil {
		log.Warn("hardware sleep failed", "error", err)
		res = SleepNotPossible
	}
	log.Debug("woke up", "result", res.String())

	if smart {
		msg := n.internal(message.GatewayAddress, message.InternalPostSleepNotification)
		msg.SetUint32(uint32(d / time.Millisecond))
		if err := n.Send(ctx, msg, false); err != nil {
			log.Debug("post-sleep notification failed", "error", err)
		}
	}

	return res
}

func (n *Node) canSleep() bool {
	if n.busy {
		return false
	}
	switch n.state {
	case StateLocked, StateHalted, StateUninitialized:
		return false
	default:
		return true
	}
}
