package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	assetlock "github.com/n8lab/assetlock"
	"github.com/n8lab/assetlock/client"
	"github.com/n8lab/assetlock/finder"
)

func newAllocator(baseLogger pslog.Base, controller *client.Client) *assetlock.Allocator {
	store := viper.GetString("store")
	field := viper.GetString("dataset_field")
	return assetlock.New(controller,
		assetlock.WithLogger(baseLogger),
		assetlock.WithFinders(
			finder.NewFilenameFinder(store, field, controller, baseLogger),
			finder.NewContentFinder(store, field, controller, baseLogger),
			finder.NewFieldValueFinder(store, field, controller, baseLogger),
			finder.NewInventoryFinder(controller, baseLogger),
		),
	)
}

func newFindCommand(baseLogger pslog.Logger) *cobra.Command {
	var lockName string
	var hold time.Duration
	var keep bool
	cmd := &cobra.Command{
		Use:   "find <term>",
		Short: "Claim the asset matching a search term",
		Long: `Find claims exclusive ownership of the asset matching the search term:
a data-file name, a content fragment, a record field value, or a resource
known to the lock service. The claim is released on exit unless --keep is
given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaim(cmd, baseLogger, args[0], lockName, hold, keep)
		},
	}
	cmd.Flags().StringVar(&lockName, "lock", "", "explicit lock name overriding the derived one")
	cmd.Flags().DurationVar(&hold, "hold", 0, "hold the claim this long before releasing")
	cmd.Flags().BoolVar(&keep, "keep", false, "exit without releasing the claim")
	return cmd
}

func newAnyCommand(baseLogger pslog.Logger) *cobra.Command {
	var hold time.Duration
	var keep bool
	cmd := &cobra.Command{
		Use:   "any",
		Short: "Claim any currently available asset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaim(cmd, baseLogger, assetlock.AnyAsset, "", hold, keep)
		},
	}
	cmd.Flags().DurationVar(&hold, "hold", 0, "hold the claim this long before releasing")
	cmd.Flags().BoolVar(&keep, "keep", false, "exit without releasing the claim")
	return cmd
}

func runClaim(cmd *cobra.Command, baseLogger pslog.Logger, term, lockName string, hold time.Duration, keep bool) error {
	controller, err := newController(baseLogger)
	if err != nil {
		return err
	}
	alloc := newAllocator(baseLogger, controller)
	asset, err := alloc.FindAssetWithLock(cmd.Context(), term, lockName)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "claimed %s", asset.LockName())
	if asset.DataFile() != "" {
		fmt.Fprintf(cmd.OutOrStdout(), " (%s)", asset.DataFile())
	}
	fmt.Fprintln(cmd.OutOrStdout())
	if keep {
		return nil
	}
	return alloc.RunWorkflow(cmd.Context(), asset, func(ctx context.Context, _ *assetlock.Asset) error {
		if hold <= 0 {
			return nil
		}
		select {
		case <-time.After(hold):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
