// Repochat clones a git repository, indexes its source files and answers
// questions about it.
//
// Usage:
//
//	# Print the chunk records of a repository
//	repochat ingest https://github.com/owner/repo.git
//
//	# Ask a single question
//	repochat ask https://github.com/owner/repo.git "where is the config parsed?"
//
//	# Serve the REST API, or MCP over stdio
//	repochat serve
//	repochat mcp
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/config"
	"github.com/fyrsmithlabs/repochat/internal/fetch"
	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/services"
	"github.com/fyrsmithlabs/repochat/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// app carries the global flags and the overrides tests inject.
type app struct {
	configPath string
	logLevel   string

	buildOpts []services.BuildOption
	fetcher   fetch.Fetcher
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "repochat",
		Short: "Chat with a git repository",
		Long: `repochat clones a git repository, splits its source files into overlapping
chunks, indexes them in a vector store and answers questions with a language
model grounded on the closest chunks.

Configuration is read from ~/.config/repochat/config.yaml (or --config) and
REPOCHAT_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (.yaml, .yml or .toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newIngestCmd(a),
		newAskCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newPruneCmd(a),
		newVersionCmd(),
	)
	return root
}

// runtime holds what every command sets up before doing its work.
type runtime struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

// setup loads config, then starts telemetry and the logger that bridges
// into it.
func (a *app) setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logCfg.Output.OTEL = cfg.Telemetry.Enabled
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry export degraded", zap.String("error", h.Error))
	}
	return &runtime{cfg: cfg, logger: logger, telemetry: tel}, nil
}

func (r *runtime) close(ctx context.Context) {
	if err := r.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = r.logger.Sync() // Best-effort sync
}

// build wires every service, honouring test overrides.
func (a *app) build(ctx context.Context, rt *runtime) (services.Registry, error) {
	opts := append([]services.BuildOption{}, a.buildOpts...)
	if a.fetcher != nil {
		opts = append(opts, services.WithFetcher(a.fetcher))
	}
	return services.Build(ctx, rt.cfg, rt.logger, opts...)
}

func closeServices(ctx context.Context, rt *runtime, svc services.Registry) {
	if err := svc.Close(); err != nil {
		rt.logger.Warn(ctx, "closing services", zap.Error(err))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
