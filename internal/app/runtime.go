package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/sensornet/internal/bus"
	"github.com/skobkin/sensornet/internal/canbus"
	"github.com/skobkin/sensornet/internal/capture"
	"github.com/skobkin/sensornet/internal/config"
	"github.com/skobkin/sensornet/internal/connectors"
	"github.com/skobkin/sensornet/internal/domain"
	"github.com/skobkin/sensornet/internal/logging"
	"github.com/skobkin/sensornet/internal/node"
	"github.com/skobkin/sensornet/internal/persistence"
	"github.com/skobkin/sensornet/internal/platform"
	"github.com/skobkin/sensornet/internal/transport"
)

const flushTimeout = 5 * time.Second

type Options struct {
	// ConfigFile overrides the config location in the user config dir.
	ConfigFile string
	// Configure adjusts the loaded config before it is validated, for
	// example from command line flags.
	Configure func(*config.AppConfig)
	// Callbacks default to a Reporter.
	Callbacks node.Callbacks
	// Loopback is the bus loopback links attach to; nil gives the node a
	// private bus.
	Loopback *canbus.LoopbackBus
	// PortName names the loopback port. Defaults to the app name.
	PortName string
}

// Runtime wires one node to its link, storage, capture and event bus.
type Runtime struct {
	Paths  Paths
	Config config.AppConfig

	LogManager  *logging.Manager
	Bus         *bus.PubSubBus
	DB          *sql.DB
	WriterQueue *persistence.WriterQueue
	Store       persistence.Store
	Capture     *capture.PcapWriter
	Host        *platform.Host
	// Directory lists the nodes a gateway has heard from; nil otherwise.
	Directory *domain.NodeStore

	ctx    context.Context
	cancel context.CancelFunc
	opts   Options
	state  *StateStore
	logger *slog.Logger

	mu        sync.Mutex
	transport *transport.CAN
	node      *node.Node
	stopNode  context.CancelFunc
	reboot    atomic.Bool

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnStatus
	connStatusKnown bool
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	paths = paths.WithConfigFile(opts.ConfigFile)

	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Configure != nil {
		opts.Configure(&cfg)
	}
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Paths:  paths,
		Config: cfg,
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	rt.logger = logMgr.Logger("app")
	rt.logger.Info("starting", "version", Banner(), "link", cfg.Link.Kind, "target", LinkTarget(cfg.Link))

	rt.Bus = bus.New(logMgr.Logger("bus"))
	connSub := rt.Bus.Subscribe(connectors.TopicConnStatus)
	go rt.captureConnStatus(ctx, connSub)

	if err := rt.openStore(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}

	if path := cfg.Capture.PcapPath; path != "" {
		pw, err := capture.Create(path)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.Capture = pw
		rt.logger.Info("capturing frames", "path", path)
	}

	if cfg.Node.Gateway {
		rt.startDirectory(ctx)
	}

	rt.Host = platform.NewHost(platform.HostOptions{
		OnReboot: rt.requestReboot,
		Logger:   logMgr.Logger("platform"),
	})

	if err := rt.buildNode(); err != nil {
		_ = rt.Close()
		return nil, err
	}

	return rt, nil
}

func (r *Runtime) openStore(ctx context.Context) error {
	if r.Config.Storage.Volatile {
		r.Store = persistence.NewMemoryStore()
		r.logger.Warn("volatile storage: node state is lost on exit")
		return nil
	}

	path := r.Config.Storage.DBPath
	if path == "" {
		path = r.Paths.DBFile
	}
	st, err := OpenStateStore(ctx, path, r.LogManager.Logger("persistence"))
	if err != nil {
		return err
	}
	r.state = st
	r.DB = st.DB
	r.WriterQueue = st.Writer
	r.Store = st.Store

	return nil
}

func (r *Runtime) startDirectory(ctx context.Context) {
	r.Directory = domain.NewNodeStore()
	if r.state != nil {
		repo := persistence.NewNodeRepo(r.DB)
		if err := domain.LoadNodeStore(ctx, r.Directory, repo); err != nil {
			r.logger.Warn("load node directory", "error", err)
		}
		domain.StartPersistenceProjection(ctx, r.Bus, r.WriterQueue, repo)
	}
	r.Directory.Start(ctx, r.Bus)
}

func (r *Runtime) buildNode() error {
	portName := r.opts.PortName
	if portName == "" {
		portName = Name
	}
	link, err := NewLink(r.Config.Link, r.opts.Loopback, portName)
	if err != nil {
		return err
	}

	var tap canbus.FrameTap
	if r.Capture != nil {
		tap = r.Capture
	}
	tr := transport.NewCAN(transport.CANConfig{
		Slots:     r.Config.CAN.Slots,
		SlotSize:  r.Config.CAN.SlotSize,
		RxQueue:   r.Config.CAN.RxQueue,
		Tap:       tap,
		Publisher: r.Bus,
	}, link, r.LogManager.Logger("transport"))

	callbacks := r.opts.Callbacks
	if callbacks == nil {
		callbacks = NewReporter(r.Config.Node, r.LogManager.Logger("reporter"))
	}

	nodeCfg := r.Config.Node
	n, err := node.New(node.Options{
		Transport:            tr,
		Store:                r.Store,
		Hardware:             r.Host,
		Callbacks:            callbacks,
		Logger:               r.LogManager.Logger("node"),
		Events:               r.Bus,
		IsGateway:            nodeCfg.Gateway,
		IsRepeater:           nodeCfg.Repeater,
		StaticNodeID:         nodeCfg.ID,
		StaticParent:         nodeCfg.Parent,
		SmartSleepWait:       nodeCfg.SmartSleepWait.Std(),
		RegistrationRetry:    nodeCfg.RegistrationRetry.Std(),
		LockAnnounceInterval: nodeCfg.LockAnnounceInterval.Std(),
		HeartbeatInterval:    nodeCfg.HeartbeatInterval.Std(),
	})
	if err != nil {
		_ = tr.Close()
		return err
	}

	r.mu.Lock()
	r.transport = tr
	r.node = n
	r.mu.Unlock()

	return nil
}

// Node is the node currently driven by Run. It changes after a reboot.
func (r *Runtime) Node() *node.Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.node
}

func (r *Runtime) Transport() *transport.CAN {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.transport
}

// Run drives the node until ctx or the runtime is done. A reboot request
// from the network rebuilds the transport and node on the same storage.
func (r *Runtime) Run(ctx context.Context) error {
	for {
		runCtx, stop := context.WithCancel(ctx)
		go func() {
			select {
			case <-r.ctx.Done():
				stop()
			case <-runCtx.Done():
			}
		}()

		r.mu.Lock()
		n := r.node
		r.stopNode = stop
		r.mu.Unlock()

		err := n.Run(runCtx)
		stop()

		if ctx.Err() != nil || r.ctx.Err() != nil || !r.reboot.Swap(false) {
			return err
		}

		r.logger.Warn("rebooting node")
		if tr := r.Transport(); tr != nil {
			_ = tr.Close()
		}
		if err := r.buildNode(); err != nil {
			return fmt.Errorf("rebuild node after reboot: %w", err)
		}
	}
}

func (r *Runtime) requestReboot() {
	r.reboot.Store(true)
	r.mu.Lock()
	stop := r.stopNode
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (r *Runtime) captureConnStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(connectors.ConnStatus)
			if !ok {
				continue
			}
			r.setConnStatus(status)
		}
	}
}

func (r *Runtime) setConnStatus(status connectors.ConnStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (connectors.ConnStatus, bool) {
	r.connStatusMu.RLock()
	defer r.connStatusMu.RUnlock()

	return r.connStatus, r.connStatusKnown
}

func (r *Runtime) Close() error {
	if r.cancel != nil {
		r.cancel()
	}

	var errs []error
	if tr := r.Transport(); tr != nil {
		errs = append(errs, tr.Close())
	}
	if r.Capture != nil {
		errs = append(errs, r.Capture.Close())
	}
	if r.state != nil {
		errs = append(errs, r.state.Close())
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.LogManager != nil {
		errs = append(errs, r.LogManager.Close())
	}

	return errors.Join(errs...)
}
