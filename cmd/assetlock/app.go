package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	assetlock "github.com/n8lab/assetlock"
	"github.com/n8lab/assetlock/client"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("ASSETLOCK_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "assetlock")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "assetlock",
		Short:         "assetlock claims exclusive ownership of shared test assets via a lockable-resources service",
		SilenceErrors: true,
		Example: `
  # List the lock service's resource inventory
  assetlock --endpoint https://ci.example.com status

  # Claim deviceA from a local candidate store, hold it for a minute
  assetlock --endpoint https://ci.example.com --store ./testdata find deviceA --hold 1m

  # Reserve and release a named lock directly
  ASSETLOCK_ENDPOINT_URL=https://ci.example.com assetlock reserve rig-7
  ASSETLOCK_ENDPOINT_URL=https://ci.example.com assetlock unreserve rig-7
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return loadConfigFile()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to a settings file (yaml/json/toml)")
	flags.String("endpoint", "", "lockable-resources service base URL")
	flags.String("lock-name", client.DefaultLockName, "default lock name when none can be derived")
	flags.String("store", ".", "candidate store directory holding asset data files")
	flags.String("dataset-field", "lockid", "data-file row whose value names the lock")
	flags.String("ttl", "", "auto-release reservations after this many milliseconds")
	flags.String("wait-time", "", "milliseconds between availability polls")
	flags.String("wait-timeout", "", "milliseconds to wait for a busy lock before giving up")
	flags.String("status-uri", client.DefaultStatusPath, "resource listing path on the service")

	bind := func(key string, flag *pflag.Flag) {
		if err := viper.BindPFlag(key, flag); err != nil {
			panic(err)
		}
	}
	bind("config", flags.Lookup("config"))
	bind(assetlock.SettingEndpointURL, flags.Lookup("endpoint"))
	bind(assetlock.SettingLockName, flags.Lookup("lock-name"))
	bind("store", flags.Lookup("store"))
	bind("dataset_field", flags.Lookup("dataset-field"))
	bind(assetlock.SettingTTL, flags.Lookup("ttl"))
	bind(assetlock.SettingWaitTime, flags.Lookup("wait-time"))
	bind(assetlock.SettingWaitTimeout, flags.Lookup("wait-timeout"))
	bind(assetlock.SettingStatusURI, flags.Lookup("status-uri"))
	viper.SetEnvPrefix("ASSETLOCK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	cmd.AddCommand(
		newStatusCommand(baseLogger),
		newReserveCommand(baseLogger),
		newUnreserveCommand(baseLogger),
		newFindCommand(baseLogger),
		newAnyCommand(baseLogger),
		newWatchCommand(baseLogger),
		newVersionCommand(),
	)
	return cmd
}

func loadConfigFile() error {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	if cfgPath == "" {
		return nil
	}
	if info, err := os.Stat(cfgPath); err != nil {
		return fmt.Errorf("config file %q: %w", cfgPath, err)
	} else if info.IsDir() {
		return fmt.Errorf("config file %q is a directory", cfgPath)
	}
	viper.SetConfigFile(cfgPath)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", cfgPath, err)
	}
	return nil
}

// currentSettings folds flag, environment, and config-file values into the
// library's settings map.
func currentSettings() assetlock.Settings {
	return assetlock.SettingsFromMap(map[string]string{
		assetlock.SettingEndpointURL: viper.GetString(assetlock.SettingEndpointURL),
		assetlock.SettingLockName:    viper.GetString(assetlock.SettingLockName),
		assetlock.SettingTTL:         viper.GetString(assetlock.SettingTTL),
		assetlock.SettingWaitTime:    viper.GetString(assetlock.SettingWaitTime),
		assetlock.SettingWaitTimeout: viper.GetString(assetlock.SettingWaitTimeout),
		assetlock.SettingStatusURI:   viper.GetString(assetlock.SettingStatusURI),
	})
}

func newController(logger pslog.Base) (*client.Client, error) {
	settings := currentSettings()
	if settings.EndpointURL() == "" {
		return nil, errors.New("no lock service endpoint (set --endpoint or ASSETLOCK_ENDPOINT_URL)")
	}
	return client.New(settings.ClientConfig(), client.WithLogger(logger))
}
