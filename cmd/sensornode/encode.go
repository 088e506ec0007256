package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skobkin/sensornet/internal/frame"
)

type encodeIDFlags struct {
	source      uint8
	destination uint8
	part        uint8
	total       uint8
	messageID   uint8
	ack         bool
}

func newEncodeIDCmd() *cobra.Command {
	flags := &encodeIDFlags{}

	cmd := &cobra.Command{
		Use:     "encode-id",
		Short:   "Print the CAN identifier for a frame header",
		Example: `  sensornode encode-id --from 7 --to 0 --part 1 --total 3 --msg-id 2`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := frame.Encode(frame.Header{
				Source:      flags.source,
				Destination: flags.destination,
				Part:        flags.part,
				Total:       flags.total,
				MessageID:   flags.messageID,
				IsAck:       flags.ack,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%08X\n", id)

			return err
		},
	}

	cmd.Flags().Uint8Var(&flags.source, "from", 0, "source node id")
	cmd.Flags().Uint8Var(&flags.destination, "to", 0, "destination node id")
	cmd.Flags().Uint8Var(&flags.part, "part", 0, "zero-based part index")
	cmd.Flags().Uint8Var(&flags.total, "total", 1, "number of parts")
	cmd.Flags().Uint8Var(&flags.messageID, "msg-id", 0, "message id (0-7)")
	cmd.Flags().BoolVar(&flags.ack, "ack", false, "set the ack bit")

	return cmd
}

func newDecodeIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "decode-id <hex-id>",
		Short:   "Decode a CAN identifier into its header fields",
		Example: `  sensornode decode-id 12210007`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(args[0])), "0x")
			id, err := strconv.ParseUint(raw, 16, 32)
			if err != nil {
				return fmt.Errorf("parse id %q: %w", args[0], err)
			}
			h, err := frame.Decode(uint32(id))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)

			return err
		},
	}
}
