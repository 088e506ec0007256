package node

import (
	"context"
	"fmt"
	"strings"

	"github.com/skobkin/sensornet/internal/connectors"
	"github.com/skobkin/sensornet/internal/message"
	"github.com/skobkin/sensornet/internal/persistence"
)

// Send transmits msg from this node. It fails with ErrNotRegistered until
// registration completes and with ErrLocked once the node is locked. A nil
// error means the first hop accepted the message, not that it reached its
// destination.
func (n *Node) Send(ctx context.Context, msg message.Message, ack bool) error {
	switch n.state {
	case StateHalted:
		return ErrHalted
	case StateLocked:
		return ErrLocked
	case StateUninitialized, StateAwaitingRegistration:
		n.logger.Warn("node not registered", "sub", "SND", "msg", msg.String())
		return ErrNotRegistered
	}

	msg.Sender = n.cfg.NodeID
	msg.RequestAck = ack

	return n.route(ctx, msg)
}

// route picks the next hop: a message for this node loops back into
// inbound processing, a gateway or repeater and broadcasts go straight to
// the destination, everything else goes through the parent.
func (n *Node) route(ctx context.Context, msg message.Message) error {
	msg.Last = n.cfg.NodeID
	if msg.Version == 0 {
		msg.Version = message.ProtocolVersion
	}

	if msg.Destination == n.cfg.NodeID && msg.Destination != message.BroadcastAddress {
		n.publishMessage(connectors.TopicMessageOut, msg)
		n.dispatch(ctx, msg)
		return nil
	}

	return n.transmit(ctx, n.nextHop(msg.Destination), msg)
}

func (n *Node) nextHop(dest uint8) uint8 {
	switch {
	case dest == message.BroadcastAddress:
		return message.BroadcastAddress
	case n.isGateway, n.isRepeater:
		return dest
	case dest == n.cfg.ParentNodeID:
		return dest
	default:
		return n.cfg.ParentNodeID
	}
}

func (n *Node) transmit(ctx context.Context, to uint8, msg message.Message) error {
	n.logger.Debug("send", "sys", "TSF", "sub", "MSG", "to", to, "msg", msg.String())
	if err := n.tr.Send(ctx, to, msg.Marshal(), !msg.RequestAck); err != nil {
		n.logger.Warn("send failed", "sys", "TSF", "sub", "MSG", "to", to, "msg", msg.String(), "error", err)
		return fmt.Errorf("send to %d: %w", to, err)
	}
	n.publishMessage(connectors.TopicMessageOut, msg)

	return nil
}

func (n *Node) handleInbound(ctx context.Context, raw []byte) {
	msg, err := message.Unmarshal(raw)
	if err != nil {
		n.logger.Warn("invalid message dropped", "sys", "TSF", "sub", "MSG", "len", len(raw), "error", err)
		return
	}
	n.logger.Debug("read", "sys", "TSF", "sub", "MSG", "msg", msg.String())
	n.publishMessage(connectors.TopicMessageIn, msg)

	if msg.Destination == n.cfg.NodeID || msg.Destination == message.BroadcastAddress {
		n.dispatch(ctx, msg)
		return
	}
	n.forward(ctx, msg)
}

// dispatch handles a message addressed to this node or broadcast.
func (n *Node) dispatch(ctx context.Context, msg message.Message) {
	if n.state == StateLocked {
		n.logger.Debug("locked, message dropped", "sub", "NLK", "msg", msg.String())
		return
	}

	if msg.RequestAck && !msg.IsAck && msg.Destination == n.cfg.NodeID && msg.Sender != n.cfg.NodeID {
		if err := n.route(ctx, msg.Echo(n.cfg.NodeID)); err != nil {
			n.logger.Warn("echo failed", "sub", "MSG", "to", msg.Sender, "error", err)
		}
	}

	if n.waiting != nil && msg.Command == n.waiting.command && msg.Type == n.waiting.typ {
		n.waiting.hit = true
	}

	if msg.Command == message.CommandInternal && !msg.IsAck && n.handleInternal(ctx, msg) {
		return
	}
	n.cb.Receive(ctx, n, msg)
}

// forward relays a message for another node one hop further.
func (n *Node) forward(ctx context.Context, msg message.Message) {
	if n.state == StateLocked || msg.Sender == n.cfg.NodeID {
		return
	}

	var next uint8
	switch {
	case n.isGateway, n.isRepeater:
		next = msg.Destination
	case msg.Last == n.cfg.ParentNodeID:
		n.logger.Debug("not relaying back to parent", "sub", "FWD", "msg", msg.String())
		return
	default:
		next = n.cfg.ParentNodeID
	}
	if next == msg.Last {
		return
	}

	msg.Last = n.cfg.NodeID
	if err := n.transmit(ctx, next, msg); err != nil {
		n.logger.Warn("forward failed", "sub", "FWD", "to", next, "error", err)
	}
}

// handleInternal runs the fixed handler for an internal message type and
// reports whether the message was consumed.
func (n *Node) handleInternal(ctx context.Context, msg message.Message) bool {
	log := n.logger.With("sub", "PIM")

	switch msg.Type {
	case message.InternalRegistrationResponse:
		n.onRegistrationResponse(ctx, msg)
	case message.InternalIDResponse:
		n.onIDResponse(ctx, msg)
	case message.InternalRegistrationRequest:
		if !n.isGateway {
			return false
		}
		n.onRegistrationRequest(ctx, msg)
	case message.InternalConfig:
		if n.isGateway {
			return false
		}
		n.controller.IsMetric = !strings.HasPrefix(msg.Text(), "I")
		persistence.SaveControllerConfig(n.store, n.controller)
		log.Info("controller config", "metric", n.controller.IsMetric)
	case message.InternalTime:
		if n.isGateway {
			return false
		}
		n.cb.ReceiveTime(ctx, n, msg.Uint())
	case message.InternalPresentation:
		if err := n.PresentNode(ctx); err != nil {
			log.Warn("present node failed", "error", err)
		}
	case message.InternalHeartbeatRequest:
		if err := n.SendHeartbeat(ctx); err != nil {
			log.Warn("heartbeat failed", "error", err)
		}
	case message.InternalReboot:
		log.Warn("reboot requested", "from", msg.Sender)
		n.hw.Reboot()
	case message.InternalVersion:
		reply := n.internalReply(msg, message.InternalVersion)
		reply.SetString(LibraryVersion)
		n.reply(ctx, reply)
	case message.InternalPing:
		reply := n.internalReply(msg, message.InternalPong)
		reply.SetCustom(msg.Payload())
		reply.PayloadType = msg.PayloadType
		n.reply(ctx, reply)
	case message.InternalDiscoverRequest:
		reply := n.internalReply(msg, message.InternalDiscoverResponse)
		reply.SetByte(n.cfg.ParentNodeID)
		n.reply(ctx, reply)
	case message.InternalLocked:
		log.Debug("lock announcement ignored", "from", msg.Sender, "reason", msg.Text())
	default:
		return false
	}

	return true
}

func (n *Node) internalReply(req message.Message, typ uint8) message.Message {
	return message.Build(n.cfg.NodeID, req.Sender, message.NodeSensorID, message.CommandInternal, typ, false)
}

// reply sends an internal answer; internal traffic is not gated by
// registration.
func (n *Node) reply(ctx context.Context, msg message.Message) {
	if err := n.route(ctx, msg); err != nil {
		n.logger.Warn("reply failed", "sub", "PIM", "type", message.InternalName(msg.Type), "error", err)
	}
}

// onRegistrationResponse expects [approved, parent?, distance?].
func (n *Node) onRegistrationResponse(ctx context.Context, msg message.Message) {
	log := n.logger.With("sub", "REG")
	payload := msg.Payload()
	if len(payload) == 0 || payload[0] == 0 {
		log.Warn("registration refused", "from", msg.Sender)
		return
	}
	if len(payload) > 1 {
		n.cfg.ParentNodeID = payload[1]
	}
	if len(payload) > 2 {
		n.cfg.Distance = payload[2]
	}
	persistence.SaveNodeConfig(n.store, n.cfg)
	if n.state != StateAwaitingRegistration {
		return
	}

	n.setState(StateRegistered, "registration response")
	log.Info("registered", "node_id", n.cfg.NodeID, "parent", n.cfg.ParentNodeID, "distance", n.cfg.Distance)
	if err := n.PresentNode(ctx); err != nil {
		log.Warn("present node failed", "error", err)
	}
	n.requestConfig(ctx)
}

// onRegistrationRequest is the gateway side of registration: every node
// speaking a compatible core version is approved. A node heard directly is
// told the gateway is its parent at distance 1.
func (n *Node) onRegistrationRequest(ctx context.Context, msg message.Message) {
	reply := n.internalReply(msg, message.InternalRegistrationResponse)
	switch {
	case msg.Byte() < CoreMinVersion:
		n.logger.Warn("registration refused: core version", "sub", "REG", "from", msg.Sender, "version", msg.Byte())
		reply.SetCustom([]byte{0})
	case msg.Last == msg.Sender:
		reply.SetCustom([]byte{1, n.cfg.NodeID, 1})
	default:
		reply.SetCustom([]byte{1})
	}
	n.reply(ctx, reply)
}

func (n *Node) onIDResponse(ctx context.Context, msg message.Message) {
	log := n.logger.With("sub", "REG")
	if n.cfg.NodeID != message.AutoID {
		return
	}
	id := msg.Byte()
	if id == message.AutoID || id == message.GatewayAddress {
		log.Warn("invalid node id assigned", "id", id)
		return
	}
	n.cfg.NodeID = id
	n.tr.SetAddress(id)
	persistence.SaveNodeConfig(n.store, n.cfg)
	log.Info("node id assigned", "id", id)
	n.requestRegistration(ctx)
}

func (n *Node) requestConfig(ctx context.Context) {
	msg := message.Build(n.cfg.NodeID, message.GatewayAddress, message.NodeSensorID,
		message.CommandInternal, message.InternalConfig, false)
	msg.SetByte(n.cfg.ParentNodeID)
	if err := n.Send(ctx, msg, false); err != nil {
		n.logger.Warn("config request failed", "sub", "REG", "error", err)
	}
}
