package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skobkin/sensornet/internal/canbus"
	"github.com/skobkin/sensornet/internal/config"
	"github.com/skobkin/sensornet/internal/connectors"
	"github.com/skobkin/sensornet/internal/platform"
)

func isolateUserDirs(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
}

// watchStates forwards node state events until the runtime bus closes.
func watchStates(rt *Runtime) <-chan connectors.NodeStateEvent {
	sub := rt.Bus.Subscribe(connectors.TopicNodeState)
	out := make(chan connectors.NodeStateEvent, 64)
	go func() {
		for raw := range sub {
			ev, ok := raw.(connectors.NodeStateEvent)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			default:
			}
		}
	}()

	return out
}

func waitState(t *testing.T, ctx context.Context, events <-chan connectors.NodeStateEvent, want string) connectors.NodeStateEvent {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if ev.To == want {
				return ev
			}
		case <-ctx.Done():
			t.Fatalf("node never reached %s", want)
		}
	}
}

func startRuntime(t *testing.T, ctx context.Context, rt *Runtime) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	return done
}

func TestRuntimeGatewayPersistsAndReleasesStore(t *testing.T) {
	isolateUserDirs(t)
	dir := t.TempDir()
	pcap := filepath.Join(dir, "frames.pcap")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rt, err := Initialize(ctx, Options{
		ConfigFile: filepath.Join(dir, "config.yaml"),
		Configure: func(cfg *config.AppConfig) {
			cfg.Node.Gateway = true
			cfg.Capture.PcapPath = pcap
		},
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if rt.Paths.DBFile != filepath.Join(dir, DBFilename) {
		t.Fatalf("unexpected db path %q", rt.Paths.DBFile)
	}
	if _, err := platform.LockStore(rt.Paths.DBFile); !errors.Is(err, platform.ErrStoreInUse) {
		t.Fatalf("expected store to be locked, got %v", err)
	}

	events := watchStates(rt)
	runCtx, stop := context.WithCancel(ctx)
	done := startRuntime(t, runCtx, rt)

	waitState(t, ctx, events, "registered")
	if !rt.Node().IsGateway() || rt.Node().NodeID() != 0 {
		t.Fatalf("expected gateway node 0, got %d", rt.Node().NodeID())
	}
	if status, ok := rt.CurrentConnStatus(); ok && status.State == "" {
		t.Fatalf("conn status without state: %+v", status)
	}

	stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, path := range []string{rt.Paths.DBFile, pcap} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to exist: %v", path, err)
		}
	}
	lock, err := platform.LockStore(rt.Paths.DBFile)
	if err != nil {
		t.Fatalf("store still locked after close: %v", err)
	}
	_ = lock.Release()
}

func TestRuntimeSensorRegistersWithGateway(t *testing.T) {
	isolateUserDirs(t)
	loop := canbus.NewLoopbackBus()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	newRuntime := func(name string, configure func(*config.AppConfig)) *Runtime {
		rt, err := Initialize(ctx, Options{
			ConfigFile: filepath.Join(t.TempDir(), "config.json"),
			Configure: func(cfg *config.AppConfig) {
				cfg.Storage.Volatile = true
				cfg.Node.RegistrationRetry = config.Duration(50 * time.Millisecond)
				configure(cfg)
			},
			Loopback: loop,
			PortName: name,
		})
		if err != nil {
			t.Fatalf("initialize %s: %v", name, err)
		}
		t.Cleanup(func() { _ = rt.Close() })

		return rt
	}

	gw := newRuntime("gateway", func(cfg *config.AppConfig) { cfg.Node.Gateway = true })
	sensor := newRuntime("sensor", func(cfg *config.AppConfig) {
		cfg.Node.ID = 7
		cfg.Node.SketchName = "soil-sensor"
		cfg.Node.SketchVersion = "1.0"
	})

	sensorEvents := watchStates(sensor)
	gwDone := startRuntime(t, ctx, gw)
	sensorDone := startRuntime(t, ctx, sensor)

	ev := waitState(t, ctx, sensorEvents, "registered")
	if ev.NodeID != 7 {
		t.Fatalf("expected node 7 to register, got %d", ev.NodeID)
	}
	if parent := sensor.Node().ParentNodeID(); parent != 0 {
		t.Fatalf("expected gateway parent, got %d", parent)
	}

	for {
		if n, ok := gw.Directory.Get(7); ok && n.SketchVersion == "1.0" {
			if n.SketchName != "soil-sensor" || !n.Presented {
				t.Fatalf("unexpected directory entry %+v", n)
			}
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("gateway directory never learned node 7")
		case <-gw.Directory.Changes():
		case <-time.After(10 * time.Millisecond):
		}
	}
	if sensor.Directory != nil {
		t.Fatalf("only gateways keep a directory")
	}

	first := sensor.Node()
	sensor.requestReboot()
	waitState(t, ctx, sensorEvents, "registered")
	if sensor.Node() == first {
		t.Fatalf("reboot did not rebuild the node")
	}

	cancel()
	for _, done := range []<-chan error{gwDone, sensorDone} {
		if err := <-done; err != nil {
			t.Fatalf("run: %v", err)
		}
	}
}
