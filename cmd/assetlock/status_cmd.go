package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"
)

func newStatusCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the lock service's resource inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			controller, err := newController(baseLogger)
			if err != nil {
				return err
			}
			resources, err := controller.Resources(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tSTATE")
			for _, r := range resources {
				state := "free"
				if r.Reserved {
					state = "reserved"
				}
				fmt.Fprintf(w, "%s\t%s\n", r.Name, state)
			}
			return w.Flush()
		},
	}
}
