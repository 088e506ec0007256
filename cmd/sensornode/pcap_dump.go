package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skobkin/sensornet/internal/capture"
)

func newPcapDumpCmd() *cobra.Command {
	var max int

	cmd := &cobra.Command{
		Use:     "pcap-dump <file>",
		Short:   "Print the frames of a capture",
		Example: `  sensornode pcap-dump bus.pcap --max 20`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// #nosec G304 -- the capture path is given on the command line.
			f, err := os.Open(filepath.Clean(args[0]))
			if err != nil {
				return fmt.Errorf("open capture: %w", err)
			}
			defer func() { _ = f.Close() }()

			records, err := capture.ReadAll(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, rec := range records {
				if max > 0 && i >= max {
					break
				}
				if _, err := fmt.Fprintln(out, formatFrame(rec.At, rec.Frame)); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(out, "%d frames\n", len(records))

			return err
		},
	}
	cmd.Flags().IntVar(&max, "max", 0, "print at most this many frames (0 = all)")

	return cmd
}
