package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skobkin/sensornet/internal/app"
	"github.com/skobkin/sensornet/internal/canbus"
	"github.com/skobkin/sensornet/internal/capture"
	"github.com/skobkin/sensornet/internal/config"
	"github.com/skobkin/sensornet/internal/logging"
)

type sniffFlags struct {
	link     string
	port     string
	host     string
	pcap     string
	count    int
	duration time.Duration
}

func newSniffCmd(global *globalFlags) *cobra.Command {
	flags := &sniffFlags{}

	cmd := &cobra.Command{
		Use:     "sniff",
		Short:   "Print every frame seen on the link",
		Example: `  sensornode sniff --link serial --port /dev/ttyACM0 --pcap bus.pcap --duration 30s`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(global.configFile)
			if err != nil {
				return err
			}
			if flags.link != "" {
				cfg.Link.Kind = config.LinkKind(flags.link)
			}
			if flags.port != "" {
				cfg.Link.SerialPort = flags.port
			}
			if flags.host != "" {
				cfg.Link.Host = flags.host
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if flags.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, flags.duration)
				defer cancel()
			}

			link, err := app.NewLink(cfg.Link, nil, "sniff")
			if err != nil {
				return err
			}

			return sniff(ctx, cmd.OutOrStdout(), link, flags)
		},
	}

	cmd.Flags().StringVar(&flags.link, "link", "", "link kind: serial, ip or loopback")
	cmd.Flags().StringVar(&flags.port, "port", "", "serial device of an SLCAN adapter")
	cmd.Flags().StringVar(&flags.host, "host", "", "host of a TCP CAN bridge")
	cmd.Flags().StringVar(&flags.pcap, "pcap", "", "also write frames to this pcap file")
	cmd.Flags().IntVar(&flags.count, "count", 0, "stop after this many frames (0 = unlimited)")
	cmd.Flags().DurationVar(&flags.duration, "duration", 0, "stop after this long (0 = until interrupted)")

	return cmd
}

func loadConfig(path string) (config.AppConfig, error) {
	paths, err := app.ResolvePaths()
	if err != nil {
		return config.AppConfig{}, err
	}
	paths = paths.WithConfigFile(path)

	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return config.AppConfig{}, err
	}
	cfg.FillMissingDefaults()

	return cfg, nil
}

// sniff prints frames from link until ctx ends or flags.count frames were
// seen.
func sniff(ctx context.Context, out io.Writer, link canbus.Link, flags *sniffFlags) error {
	opts := canbus.ControllerOptions{Logger: logging.Discard()}
	var pw *capture.PcapWriter
	if flags.pcap != "" {
		var err error
		if pw, err = capture.Create(flags.pcap); err != nil {
			return err
		}
		opts.Tap = pw
	}

	ctl := canbus.NewController(link, opts)
	ctl.Start(ctx)
	err := printFrames(ctx, out, ctl, flags.count)
	ctl.Stop()
	if pw != nil {
		err = errors.Join(err, pw.Close())
	}

	return err
}

func printFrames(ctx context.Context, out io.Writer, ctl *canbus.Controller, limit int) error {
	seen := 0
	for {
		for {
			f, ok := ctl.Poll()
			if !ok {
				break
			}
			if _, err := fmt.Fprintln(out, formatFrame(time.Now(), f)); err != nil {
				return err
			}
			seen++
			if limit > 0 && seen >= limit {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ctl.Ready():
		}
	}
}
