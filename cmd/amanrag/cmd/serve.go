package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/api"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/mcp"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Transports accepted by --transport.
const (
	transportStdio = "stdio"
	transportHTTP  = "http"
	transportBoth  = "both"
)

func newServeCmd() *cobra.Command {
	var (
		transport string
		addr      string
		noWatch   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve fusion over MCP (stdio) and/or HTTP",
		Long: `Start the fusion server.

  stdio  MCP over stdin/stdout for AI assistants (default)
  http   REST API on --addr with /v1/fuse, /v1/status, /metrics and MCP at /mcp
  both   stdio MCP plus the HTTP API

With stdio, stdout carries JSON-RPC only; logs go to ~/.amanrag/logs/serve.log.
The community snapshot is reloaded when 'amanrag community build' replaces it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("transport") {
				cfg.Server.Transport = transport
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.HTTPAddr = addr
			}
			if noWatch {
				cfg.Community.Watch = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cfg.Server.Transport = strings.ToLower(cfg.Server.Transport)

			level := cfg.Server.LogLevel
			if logLevel != "" {
				level = logLevel
			}
			useStdio := cfg.Server.Transport != transportHTTP
			cleanup, err := logging.SetupServerMode(level, useStdio)
			if err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}
			defer cleanup()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, cfg)
			if err != nil {
				slog.Error("runtime_open_failed", slog.String("error", err.Error()))
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					slog.Warn("runtime_close_failed", slog.String("error", err.Error()))
				}
			}()

			return runServe(ctx, rt)
		},
	}

	cmd.Flags().StringVarP(&transport, "transport", "t", transportStdio, "Transport: stdio, http or both")
	cmd.Flags().StringVar(&addr, "addr", api.DefaultAddr, "HTTP listen address")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the community snapshot on change")

	return cmd
}

// runServe runs the configured transports and the snapshot watcher until
// ctx is cancelled or one of them fails.
func runServe(ctx context.Context, rt *runtime) error {
	cfg := rt.cfg
	mcpServer, err := mcp.NewServer(rt.service)
	if err != nil {
		return err
	}

	slog.Info("server_starting",
		slog.String("version", version.Version),
		slog.String("transport", cfg.Server.Transport),
		slog.String("data_dir", cfg.DataDir),
		slog.Bool("watch", cfg.Community.Watch))

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Community.Watch {
		g.Go(func() error {
			if err := rt.reloader.Watch(ctx); err != nil {
				// Serving continues on the snapshot already loaded.
				slog.Warn("community_watch_failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if cfg.Server.Transport == transportHTTP || cfg.Server.Transport == transportBoth {
		httpServer, err := api.New(rt.service,
			api.WithMetricsHandler(rt.MetricsHandler()),
			api.WithMCPHandler(mcpServer.HTTPHandler()),
			api.WithLogger(slog.Default()))
		if err != nil {
			return err
		}
		g.Go(func() error {
			return httpServer.Serve(ctx, cfg.Server.HTTPAddr)
		})
	}

	if cfg.Server.Transport == transportStdio || cfg.Server.Transport == transportBoth {
		g.Go(func() error {
			if err := mcpServer.Serve(ctx); err != nil {
				return err
			}
			// The client is gone; stop the watcher and the HTTP side too.
			return errStdioClosed
		})
	}

	err = g.Wait()
	if errors.Is(err, errStdioClosed) {
		err = nil
	}
	slog.Info("server_stopped")
	return err
}

// errStdioClosed ends the errgroup when the stdio client disconnects.
var errStdioClosed = errors.New("stdio transport closed")
