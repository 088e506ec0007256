package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skobkin/sensornet/internal/message"
	"github.com/skobkin/sensornet/internal/persistence"
	"github.com/skobkin/sensornet/internal/transport"
)

// Begin starts the node. A failing hardware or transport init halts the
// node: Begin then blocks until ctx is done and returns ErrHalted.
func (n *Node) Begin(ctx context.Context) error {
	if n.state != StateUninitialized {
		return errors.New("node: already started")
	}
	log := n.logger.With("sub", "BGN")
	log.Info("begin", "gateway", n.isGateway, "repeater", n.isRepeater, "version", LibraryVersion)

	n.cb.PreHwInit(ctx, n)
	if err := n.hw.Init(); err != nil {
		return n.halt(ctx, "hardware init", err)
	}
	n.cb.Before(ctx, n)

	n.cfg = persistence.LoadNodeConfig(n.store)
	n.controller = persistence.LoadControllerConfig(n.store)
	n.resolveIdentity()

	if err := n.tr.Init(ctx); err != nil {
		return n.halt(ctx, "transport init", err)
	}
	n.tr.SetAddress(n.cfg.NodeID)
	log.Info("transport ready", "node_id", n.cfg.NodeID, "parent", n.cfg.ParentNodeID, "distance", n.cfg.Distance)

	if locked, reason := persistence.LockState(n.store); locked {
		n.enterLock(ctx, reason)
		return nil
	}

	if n.isGateway {
		n.setState(StateRegistered, "gateway")
		if err := n.PresentNode(ctx); err != nil {
			log.Warn("present node failed", "error", err)
		}
	} else {
		n.setState(StateAwaitingRegistration, "boot")
		n.requestRegistration(ctx)
	}
	n.cb.Setup(ctx, n)
	log.Info("init complete", "state", n.state.String())

	return nil
}

func (n *Node) resolveIdentity() {
	if n.isGateway {
		n.cfg = persistence.NodeConfig{
			NodeID:       message.GatewayAddress,
			ParentNodeID: message.GatewayAddress,
			Distance:     0,
		}
		return
	}

	if n.staticID != message.AutoID && n.staticID != message.GatewayAddress {
		n.cfg.NodeID = n.staticID
	}
	if n.staticParent != message.AutoID {
		n.cfg.ParentNodeID = n.staticParent
	}
	if n.cfg.ParentNodeID == message.AutoID {
		n.cfg.ParentNodeID = message.GatewayAddress
	}
}

// Process runs one cooperative iteration: it handles every message the
// transport has ready and services the registration, heartbeat and lock
// timers.
func (n *Node) Process(ctx context.Context) error {
	switch n.state {
	case StateUninitialized:
		return ErrNotStarted
	case StateHalted:
		return ErrHalted
	}
	n.hw.WatchdogReset()

	for n.tr.DataAvailable() {
		size := n.tr.Receive(n.rx[:])
		if size == 0 {
			break
		}
		n.handleInbound(ctx, n.rx[:size])
	}

	now := n.now()
	switch n.state {
	case StateAwaitingRegistration:
		if now.Sub(n.lastRegistration) >= n.registrationRetry {
			n.requestRegistration(ctx)
		}
	case StateRegistered:
		if n.heartbeatInterval > 0 && now.Sub(n.lastHeartbeat) >= n.heartbeatInterval {
			if err := n.SendHeartbeat(ctx); err != nil {
				n.logger.Debug("heartbeat failed", "sub", "HBT", "error", err)
			}
		}
	case StateLocked:
		if now.Sub(n.lastLockAnnounce) >= n.lockAnnounceInterval {
			n.announceLock(ctx)
		}
	}

	return nil
}

// Run starts the node and keeps processing until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Begin(ctx); err != nil {
		return err
	}
	for {
		if err := n.Process(ctx); err != nil {
			return err
		}
		n.cb.Loop(ctx, n)
		if ctx.Err() != nil {
			return nil
		}
		n.idle(ctx, n.idleInterval)
	}
}

// idle blocks for at most d, returning early on inbound traffic.
func (n *Node) idle(ctx context.Context, d time.Duration) {
	var ready <-chan struct{}
	if notifier, ok := n.tr.(transport.Notifier); ok {
		ready = notifier.Ready()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-ready:
	case <-timer.C:
	}
}

// requestRegistration asks the gateway for an id while the node has none,
// and its parent for registration otherwise.
func (n *Node) requestRegistration(ctx context.Context) {
	n.lastRegistration = n.now()
	log := n.logger.With("sub", "REG")

	var msg message.Message
	if n.cfg.NodeID == message.AutoID {
		msg = message.Build(n.cfg.NodeID, message.GatewayAddress, message.NodeSensorID,
			message.CommandInternal, message.InternalIDRequest, false)
		msg.SetString("")
		log.Info("requesting node id")
	} else {
		msg = message.Build(n.cfg.NodeID, n.cfg.ParentNodeID, message.NodeSensorID,
			message.CommandInternal, message.InternalRegistrationRequest, false)
		msg.SetByte(CoreVersion)
		log.Info("requesting registration", "parent", n.cfg.ParentNodeID)
	}
	if err := n.route(ctx, msg); err != nil {
		log.Warn("registration request failed", "error", err)
	}
}

// Lock persists the lock and stops normal traffic. Only clearing the lock
// in storage and restarting brings the node back.
func (n *Node) Lock(ctx context.Context, reason string) error {
	if n.state == StateHalted {
		return ErrHalted
	}
	reason = message.TruncateString(reason, persistence.LockReasonSize)
	persistence.SetLocked(n.store, reason)
	n.enterLock(ctx, reason)

	return nil
}

func (n *Node) enterLock(ctx context.Context, reason string) {
	n.lockReason = reason
	n.setState(StateLocked, reason)
	n.logger.Warn("node locked", "sub", "NLK", "reason", reason)
	n.announceLock(ctx)
}

func (n *Node) announceLock(ctx context.Context) {
	n.lastLockAnnounce = n.now()
	msg := message.Build(n.cfg.NodeID, message.GatewayAddress, message.NodeSensorID,
		message.CommandInternal, message.InternalLocked, false)
	msg.SetString(n.lockReason)
	if err := n.route(ctx, msg); err != nil {
		n.logger.Warn("lock announce failed", "sub", "NLK", "error", err)
	}
}

// halt is the single sink for fatal conditions. The node stops all traffic
// and waits for ctx to end.
func (n *Node) halt(ctx context.Context, what string, cause error) error {
	n.setState(StateHalted, what)
	n.logger.Error("halted", "sub", "HLT", "stage", what, "error", cause)
	<-ctx.Done()

	return fmt.Errorf("%w: %s: %w", ErrHalted, what, cause)
}
