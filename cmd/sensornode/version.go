package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skobkin/sensornet/internal/app"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), app.Banner())
			return err
		},
	}
}
