package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/repochat/internal/http"
	mcpserver "github.com/fyrsmithlabs/repochat/internal/mcp"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API",
		Long: `Serve the REST API until SIGINT or SIGTERM, then drain in-flight requests
within server.shutdown_timeout.

Endpoints:
  GET  /health
  GET  /metrics
  POST /api/v1/repositories   load a repository {"url": "..."}
  GET  /api/v1/repositories   recorded runs
  POST /api/v1/chat           ask about the loaded repository {"question": "..."}
  POST /api/v1/search         closest chunks {"query": "...", "k": 5}
  GET  /api/v1/history        conversation so far`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if cmd.Flags().Changed("host") {
				rt.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				rt.cfg.Server.Port = port
			}

			svc, err := a.build(ctx, rt)
			if err != nil {
				return err
			}
			defer closeServices(ctx, rt, svc)

			srv, err := httpserver.NewServer(svc, rt.logger, httpserver.ConfigFromSettings(rt.cfg.Server))
			if err != nil {
				return err
			}
			rt.logger.Info(ctx, "starting repochat",
				zap.String("version", version),
				zap.String("addr", srv.Addr()))
			if err := srv.Start(ctx); err != nil {
				return err
			}
			rt.logger.Info(ctx, "server shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP over stdio",
		Long: `Serve the repository_load, repository_ask and repository_search tools over
the Model Context Protocol on stdin/stdout. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			svc, err := a.build(ctx, rt)
			if err != nil {
				return err
			}
			defer closeServices(ctx, rt, svc)

			srv, err := mcpserver.NewServer(svc.Session(), mcpserver.Config{Version: version}, rt.logger)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
