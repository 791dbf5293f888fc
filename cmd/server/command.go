package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inferloop/dashengine/internal/config"
	"github.com/inferloop/dashengine/internal/observability/metrics/dashboards"
	"github.com/inferloop/dashengine/pkg/constants"
)

type serverOptions struct {
	ConfigFile  string
	Host        string
	Port        int
	MetricsPort int
	LogLevel    string
	LogFormat   string
	Storage     string
	Seed        []string
}

func newRootCommand() *cobra.Command {
	opts := &serverOptions{}

	cmd := &cobra.Command{
		Use:   constants.AppName,
		Short: "Dashboard engine server",
		Long: `Serves dashboards over HTTP: layout editing, template variables,
panel refresh and live viewing sessions streamed over websockets.`,
		Example: `  # Serve with the file store under ./data/dashboards
  dashengine --config config/config.yaml

  # Keep everything in memory and seed the demo dashboard
  dashengine --storage memory --seed demo`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, opts.Seed)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "config file (default is ./config/config.yaml or $HOME/.dashengine/config.yaml)")
	cmd.Flags().StringVar(&opts.Host, "host", "", "server host")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "server port")
	cmd.Flags().IntVar(&opts.MetricsPort, "metrics-port", 0, "Prometheus metrics port")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.LogFormat, "log-format", "", "log format (json, text)")
	cmd.Flags().StringVar(&opts.Storage, "storage", "", fmt.Sprintf("storage backend (%s, %s, %s, %s, %s, %s, %s)",
		constants.StorageMemory, constants.StorageFile, constants.StorageRedis, constants.StoragePostgres,
		constants.StorageSQLite, constants.StorageS3, constants.StorageMongo))
	cmd.Flags().StringSliceVar(&opts.Seed, "seed", nil, fmt.Sprintf("built-in dashboards to store when missing %v", dashboards.Templates()))

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), GetBuildInfo())
		},
	})

	return cmd
}

// loadConfig reads the configuration and applies the flags that were set.
func loadConfig(cmd *cobra.Command, opts *serverOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = opts.Host
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.Port
	}
	if flags.Changed("metrics-port") {
		cfg.Metrics.Port = opts.MetricsPort
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.LogLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = opts.LogFormat
	}
	if flags.Changed("storage") {
		cfg.Storage.Backend = opts.Storage
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
