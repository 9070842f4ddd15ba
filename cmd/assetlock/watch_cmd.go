package main

import (
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/n8lab/assetlock/internal/datafile"
)

func newWatchCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the candidate store and log data-file changes",
		Long: `Watch follows the candidate store directory tree and logs every change
to a recognised asset data file until interrupted. Useful while editing
fixture inventories to confirm what allocators will see.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := viper.GetString("store")
			logger := baseLogger.With("store", store)

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			addTree := func(root string) error {
				return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
					if err != nil || !d.IsDir() {
						return nil
					}
					return watcher.Add(path)
				})
			}
			if err := addTree(store); err != nil {
				return err
			}
			logger.Info("watch.start")

			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					logger.Info("watch.stop")
					return nil
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					logger.Warn("watch.error", "error", err)
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					// New directories must join the watch for nested stores.
					if event.Has(fsnotify.Create) {
						if err := addTree(event.Name); err != nil {
							logger.Warn("watch.add_failed", "path", event.Name, "error", err)
						}
					}
					if !datafile.IsDataFile(filepath.Base(event.Name)) {
						continue
					}
					logger.Info("watch.change", "file", event.Name, "op", event.Op.String())
				}
			}
		},
	}
}
