package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skobkin/sensornet/internal/app"
)

type globalFlags struct {
	configFile string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   app.Name,
		Short: "Sensor network node over a CAN bus",
		Long: `sensornode runs a sensor network node or gateway on a CAN link
(SLCAN serial adapter, TCP bridge or in-process loopback) and offers tools
to inspect the bus, frame captures and persisted node state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (.yaml, .toml or .json); defaults to the user config dir")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newSniffCmd(flags))
	root.AddCommand(newPcapDumpCmd())
	root.AddCommand(newStateCmd(flags))
	root.AddCommand(newNodesCmd(flags))
	root.AddCommand(newEncodeIDCmd())
	root.AddCommand(newDecodeIDCmd())
	root.AddCommand(newVersionCmd())

	return root
}
