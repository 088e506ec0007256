package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skobkin/sensornet/internal/app"
	"github.com/skobkin/sensornet/internal/config"
	"github.com/skobkin/sensornet/internal/node"
)

type runFlags struct {
	gateway  bool
	repeater bool
	id       int
	parent   int
	link     string
	port     string
	host     string
	pcap     string
	volatile bool
	level    string
}

func newRunCmd(global *globalFlags) *cobra.Command {
	flags := &runFlags{id: -1, parent: -1}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a node until interrupted",
		Long: `Run a node (or, with --gateway, the gateway) on the configured link.
Flags override the config file. SIGUSR1 fires wake-up interrupt 1 while the
node sleeps.`,
		Example: `  # Gateway on an SLCAN adapter, capturing all frames
  sensornode run --gateway --link serial --port /dev/ttyACM0 --pcap bus.pcap

  # Node 7 behind a TCP bridge
  sensornode run --id 7 --link ip --host 10.0.0.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNode(cmd.Context(), global, flags, cmd.Flags().Changed)
		},
	}

	cmd.Flags().BoolVar(&flags.gateway, "gateway", false, "run as the gateway (node id 0)")
	cmd.Flags().BoolVar(&flags.repeater, "repeater", false, "relay traffic for other nodes")
	cmd.Flags().IntVar(&flags.id, "id", -1, "static node id (255 requests one from the controller)")
	cmd.Flags().IntVar(&flags.parent, "parent", -1, "static parent node id (255 picks automatically)")
	cmd.Flags().StringVar(&flags.link, "link", "", "link kind: serial, ip or loopback")
	cmd.Flags().StringVar(&flags.port, "port", "", "serial device of an SLCAN adapter")
	cmd.Flags().StringVar(&flags.host, "host", "", "host of a TCP CAN bridge")
	cmd.Flags().StringVar(&flags.pcap, "pcap", "", "write every frame to this pcap file")
	cmd.Flags().BoolVar(&flags.volatile, "volatile", false, "keep node state in memory only")
	cmd.Flags().StringVar(&flags.level, "log-level", "", "log level: debug, info, warn or error")

	return cmd
}

// apply copies the flags the user set onto cfg.
func (f *runFlags) apply(cfg *config.AppConfig, changed func(string) bool) {
	if changed("gateway") {
		cfg.Node.Gateway = f.gateway
	}
	if changed("repeater") {
		cfg.Node.Repeater = f.repeater
	}
	if changed("id") && f.id >= 0 && f.id <= 255 {
		cfg.Node.ID = uint8(f.id)
	}
	if changed("parent") && f.parent >= 0 && f.parent <= 255 {
		cfg.Node.Parent = uint8(f.parent)
	}
	if changed("link") {
		cfg.Link.Kind = config.LinkKind(f.link)
	}
	if changed("port") {
		cfg.Link.SerialPort = f.port
	}
	if changed("host") {
		cfg.Link.Host = f.host
	}
	if changed("pcap") {
		cfg.Capture.PcapPath = f.pcap
	}
	if changed("volatile") {
		cfg.Storage.Volatile = f.volatile
	}
	if changed("log-level") {
		cfg.Logging.Level = f.level
	}
}

func runNode(parent context.Context, global *globalFlags, flags *runFlags, changed func(string) bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx, app.Options{
		ConfigFile: global.configFile,
		Configure: func(cfg *config.AppConfig) {
			flags.apply(cfg, changed)
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()

	go forwardWakeSignals(ctx, rt)

	if err := rt.Run(ctx); err != nil && !errors.Is(err, node.ErrHalted) {
		return err
	}

	return nil
}
