package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"
)

func newReserveCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "reserve [lock-name]",
		Short: "Reserve a named lock (the configured default when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			controller, err := newController(baseLogger)
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			if name == "" {
				name = controller.DefaultLockName()
			}
			if err := controller.Reserve(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reserved %s\n", name)
			return nil
		},
	}
}

func newUnreserveCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "unreserve [lock-name]",
		Short: "Release a named lock (the configured default when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			controller, err := newController(baseLogger)
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			if name == "" {
				name = controller.DefaultLockName()
			}
			if err := controller.Unreserve(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unreserved %s\n", name)
			return nil
		},
	}
}
