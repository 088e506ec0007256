package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skobkin/sensornet/internal/app"
	"github.com/skobkin/sensornet/internal/domain"
	"github.com/skobkin/sensornet/internal/persistence"
)

func newNodesCmd(global *globalFlags) *cobra.Command {
	var forget bool

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the nodes a gateway has heard from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStateStore(cmd, global, func(st *app.StateStore) error {
				if forget {
					if err := persistence.ClearNodes(cmdContext(cmd), st.DB); err != nil {
						return err
					}
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "node directory cleared")

					return err
				}
				nodes, err := persistence.NewNodeRepo(st.DB).ListSortedByLastHeard(cmdContext(cmd))
				if err != nil {
					return err
				}

				return printNodes(cmd.OutOrStdout(), nodes)
			})
		},
	}
	cmd.Flags().BoolVar(&forget, "forget", false, "clear the directory instead of listing it")

	return cmd
}

func printNodes(out io.Writer, nodes []domain.Node) error {
	if len(nodes) == 0 {
		_, err := fmt.Fprintln(out, "no nodes heard yet")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tROLE\tSKETCH\tVERSION\tBATTERY\tSENSORS\tVIA\tLAST HEARD")
	for _, n := range nodes {
		role := "node"
		if n.IsRepeater {
			role = "repeater"
		}
		battery := "-"
		if n.BatteryLevel != nil {
			battery = strconv.Itoa(int(*n.BatteryLevel)) + "%"
		}
		heard := "-"
		if !n.LastHeardAt.IsZero() {
			heard = n.LastHeardAt.Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			n.NodeID, role, dash(n.SketchName), dash(n.SketchVersion), battery, len(n.Sensors), n.LastHop, heard)
	}

	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
