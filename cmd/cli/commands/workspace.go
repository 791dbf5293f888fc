package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	cliconfig "github.com/inferloop/dashengine/cmd/cli/config"
	engineconfig "github.com/inferloop/dashengine/internal/config"
	"github.com/inferloop/dashengine/internal/engine"
	"github.com/inferloop/dashengine/internal/logging"
	"github.com/inferloop/dashengine/internal/storage"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/interfaces"
)

// GlobalOptions are the flags shared by every command.
type GlobalOptions struct {
	ConfigFile string
	Storage    string
	Verbose    bool
}

// workspace is an engine over the configured store, opened per command.
type workspace struct {
	config  *cliconfig.CLIConfig
	logger  *logrus.Logger
	store   interfaces.DashboardStore
	sources *engineconfig.Datasources
	engine  *engine.Engine
}

func openWorkspace(ctx context.Context, g *GlobalOptions, autoRefresh bool) (*workspace, error) {
	cfg, err := cliconfig.LoadConfig(g.ConfigFile)
	if err != nil {
		return nil, err
	}
	if g.Verbose {
		cfg.Engine.Logging.Level = "debug"
	}
	if g.Storage != "" {
		cfg.Engine.Storage.Backend = g.Storage
	}
	logger := logging.NewLogger(&cfg.Engine.Logging)

	store, err := storage.NewFactory(logger, nil).CreateStore(&cfg.Engine.Storage)
	if err != nil {
		return nil, err
	}
	connectCtx, cancel := context.WithTimeout(ctx, constants.DefaultConnectionTimeout)
	defer cancel()
	if err := store.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("failed to connect %s store: %w", cfg.Engine.Storage.Backend, err)
	}

	sources, err := cfg.Engine.Datasources.Build(ctx, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	engineCfg := cfg.Engine.Engine
	engineCfg.AutoRefresh = autoRefresh
	eng, err := engine.NewEngine(&engineCfg, engine.Dependencies{
		Store:    store,
		Executor: sources.Router,
		Options:  sources.Router,
	}, logger)
	if err != nil {
		sources.Close()
		store.Close()
		return nil, err
	}

	return &workspace{
		config:  cfg,
		logger:  logger,
		store:   store,
		sources: sources,
		engine:  eng,
	}, nil
}

func (w *workspace) Close() {
	w.engine.Close()
	if err := w.sources.Close(); err != nil {
		w.logger.WithError(err).Warn("Failed to close datasources")
	}
	if err := w.store.Close(); err != nil {
		w.logger.WithError(err).Warn("Failed to close store")
	}
}

// format returns flag, or the configured default when flag is empty.
func (w *workspace) format(flag string) string {
	if flag != "" {
		return flag
	}
	return w.config.Preferences.DefaultFormat
}

// openOutput returns stdout for "-" or "", otherwise a created file.
func openOutput(stdout io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, f.Close, nil
}

// readInput reads a file, or stdin for "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
