// Package node implements the sensor node protocol engine: identity and
// registration, routed sending, inbound dispatch, sleep and lock handling.
//
// A Node is driven by a single goroutine. Callbacks run on that goroutine
// and may call back into the Node.
package node

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/sensornet/internal/connectors"
	"github.com/skobkin/sensornet/internal/message"
	"github.com/skobkin/sensornet/internal/persistence"
	"github.com/skobkin/sensornet/internal/transport"
)

const (
	// CoreVersion is the protocol core version announced during registration.
	CoreVersion uint8 = 2
	// CoreMinVersion is the oldest core a gateway registers.
	CoreMinVersion uint8 = 2
	// LibraryVersion is reported in node presentation and I_VERSION replies.
	LibraryVersion = "2.3.2"

	DefaultSmartSleepWait       = 500 * time.Millisecond
	DefaultRegistrationRetry    = 5 * time.Second
	DefaultLockAnnounceInterval = 30 * time.Minute
	defaultIdleInterval         = 10 * time.Millisecond
)

var (
	ErrNotRegistered = errors.New("node: not registered")
	ErrLocked        = errors.New("node: locked")
	ErrHalted        = errors.New("node: halted")
	ErrNotStarted    = errors.New("node: not started")
)

type State uint8

const (
	StateUninitialized State = iota
	StateAwaitingRegistration
	StateRegistered
	StateLocked
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingRegistration:
		return "awaiting_registration"
	case StateRegistered:
		return "registered"
	case StateLocked:
		return "locked"
	case StateHalted:
		return "halted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

type Options struct {
	Transport transport.Transport
	Store     persistence.Store
	Hardware  Hardware
	Callbacks Callbacks
	Logger    *slog.Logger
	Events    connectors.Publisher
	Now       func() time.Time

	IsGateway  bool
	IsRepeater bool
	// StaticNodeID overrides the persisted id. message.AutoID (or 0 for a
	// non-gateway) keeps the persisted value.
	StaticNodeID uint8
	// StaticParent overrides the persisted parent; message.AutoID keeps it.
	StaticParent uint8

	SmartSleepWait       time.Duration
	RegistrationRetry    time.Duration
	LockAnnounceInterval time.Duration
	HeartbeatInterval    time.Duration
	IdleInterval         time.Duration
}

type waitMatch struct {
	command message.Command
	typ     uint8
	hit     bool
}

type Node struct {
	tr     transport.Transport
	store  persistence.Store
	hw     Hardware
	cb     Callbacks
	logger *slog.Logger
	events connectors.Publisher
	now    func() time.Time

	isGateway    bool
	isRepeater   bool
	staticID     uint8
	staticParent uint8

	smartSleepWait       time.Duration
	registrationRetry    time.Duration
	lockAnnounceInterval time.Duration
	heartbeatInterval    time.Duration
	idleInterval         time.Duration

	state      State
	cfg        persistence.NodeConfig
	controller persistence.ControllerConfig
	lockReason string
	busy       bool
	heartbeat  uint32

	lastRegistration time.Time
	lastLockAnnounce time.Time
	lastHeartbeat    time.Time

	waiting *waitMatch
	rx      [message.MaxMessageSize]byte
}

func New(opts Options) (*Node, error) {
	if opts.Transport == nil {
		return nil, errors.New("node: transport is required")
	}
	if opts.Store == nil {
		opts.Store = persistence.NewMemoryStore()
	}
	if opts.Hardware == nil {
		return nil, errors.New("node: hardware is required")
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NopCallbacks{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SmartSleepWait <= 0 {
		opts.SmartSleepWait = DefaultSmartSleepWait
	}
	if opts.RegistrationRetry <= 0 {
		opts.RegistrationRetry = DefaultRegistrationRetry
	}
	if opts.LockAnnounceInterval <= 0 {
		opts.LockAnnounceInterval = DefaultLockAnnounceInterval
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = defaultIdleInterval
	}

	return &Node{
		tr:                   opts.Transport,
		store:                opts.Store,
		hw:                   opts.Hardware,
		cb:                   opts.Callbacks,
		logger:               opts.Logger.With("sys", "MCO"),
		events:               opts.Events,
		now:                  opts.Now,
		isGateway:            opts.IsGateway,
		isRepeater:           opts.IsRepeater,
		staticID:             opts.StaticNodeID,
		staticParent:         opts.StaticParent,
		smartSleepWait:       opts.SmartSleepWait,
		registrationRetry:    opts.RegistrationRetry,
		lockAnnounceInterval: opts.LockAnnounceInterval,
		heartbeatInterval:    opts.HeartbeatInterval,
		idleInterval:         opts.IdleInterval,
	}, nil
}

func (n *Node) State() State { return n.state }

func (n *Node) NodeID() uint8 { return n.cfg.NodeID }

func (n *Node) ParentNodeID() uint8 { return n.cfg.ParentNodeID }

func (n *Node) Distance() uint8 { return n.cfg.Distance }

func (n *Node) IsGateway() bool { return n.isGateway }

// Config returns the settings last received from the controller.
func (n *Node) Config() persistence.ControllerConfig { return n.controller }

// LockReason is empty unless the node is locked.
func (n *Node) LockReason() string { return n.lockReason }

// SetBusy marks a long running operation such as a firmware update; sleep
// requests are refused while it is set.
func (n *Node) SetBusy(busy bool) { n.busy = busy }

// SaveState writes one byte of the user state region.
func (n *Node) SaveState(pos, v uint8) {
	persistence.SaveState(n.store, pos, v)
}

func (n *Node) LoadState(pos uint8) uint8 {
	return persistence.LoadState(n.store, pos)
}

func (n *Node) setState(to State, reason string) {
	from := n.state
	if from == to {
		return
	}
	n.state = to
	n.logger.Info("state changed", "sub", "STA", "from", from.String(), "to", to.String(), "reason", reason)
	if n.events != nil {
		n.events.Publish(connectors.TopicNodeState, connectors.NodeStateEvent{
			NodeID: n.cfg.NodeID,
			From:   from.String(),
			To:     to.String(),
			Reason: reason,
			At:     n.now(),
		})
	}
}

func (n *Node) publishMessage(topic string, msg message.Message) {
	if n.events == nil {
		return
	}
	n.events.Publish(topic, connectors.MessageEvent{
		NodeID:  n.cfg.NodeID,
		Summary: msg.String(),
		Bytes:   msg.Marshal(),
		At:      n.now(),
	})
}
