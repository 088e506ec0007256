package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/skobkin/sensornet/internal/app"
	"github.com/skobkin/sensornet/internal/logging"
	"github.com/skobkin/sensornet/internal/persistence"
)

func newStateCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset persisted node state",
		Long: `Inspect or reset the node state database. The node must not be running:
the database is locked while a node uses it.`,
	}

	var raw bool
	dump := &cobra.Command{
		Use:   "dump",
		Short: "Show node identity, lock and controller settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStateStore(cmd, global, func(st *app.StateStore) error {
				return printState(cmd.OutOrStdout(), st, raw)
			})
		},
	}
	dump.Flags().BoolVar(&raw, "raw", false, "also hex dump the whole image")

	unlock := &cobra.Command{
		Use:   "unlock",
		Short: "Clear a persisted node lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStateStore(cmd, global, func(st *app.StateStore) error {
				locked, reason := persistence.LockState(st.Store)
				if !locked {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "node is not locked")
					return err
				}
				persistence.ClearLock(st.Store)
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "lock cleared (was %q)\n", reason)

				return err
			})
		},
	}

	var yes bool
	erase := &cobra.Command{
		Use:   "erase",
		Short: "Reset the whole state image, forgetting the node id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to erase node state without --yes")
			}

			return withStateStore(cmd, global, func(st *app.StateStore) error {
				if err := st.Store.Erase(cmdContext(cmd)); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "state erased")

				return err
			})
		},
	}
	erase.Flags().BoolVar(&yes, "yes", false, "confirm erasing")

	cmd.AddCommand(dump, unlock, erase)

	return cmd
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}

func withStateStore(cmd *cobra.Command, global *globalFlags, fn func(*app.StateStore) error) error {
	cfg, err := loadConfig(global.configFile)
	if err != nil {
		return err
	}
	path := cfg.Storage.DBPath
	if path == "" {
		paths, err := app.ResolvePaths()
		if err != nil {
			return err
		}
		path = paths.WithConfigFile(global.configFile).DBFile
	}

	st, err := app.OpenStateStore(cmdContext(cmd), path, logging.Discard())
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		_ = st.Close()
		return err
	}

	return st.Close()
}

func printState(out io.Writer, st *app.StateStore, raw bool) error {
	sum := app.SummarizeState(st.Store)
	last, err := st.Store.LastWrite(context.Background())
	if err != nil {
		return err
	}

	lastWrite := "never"
	if !last.IsZero() {
		lastWrite = last.Format("2006-01-02 15:04:05")
	}
	units := "imperial"
	if sum.Controller.IsMetric {
		units = "metric"
	}

	_, err = fmt.Fprintf(out, "db:         %s\nnode id:    %d\nparent:     %d\ndistance:   %d\nunits:      %s\nlocked:     %t %s\nlast write: %s\n",
		st.Path, sum.Node.NodeID, sum.Node.ParentNodeID, sum.Node.Distance, units, sum.Locked, sum.LockReason, lastWrite)
	if err != nil || !raw {
		return err
	}
	_, err = fmt.Fprint(out, hex.Dump(st.Store.Dump()))

	return err
}
