// Discovery engine MCP server — exposes dataset analysis, job
// tracking, cost estimation, and account tools over stdio or
// streamable HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/leap-laboratories/discovery-engine-mcp/pkg/account"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/config"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/discovery"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/httpapi"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/lifecycle"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/tools"
	"github.com/leap-laboratories/discovery-engine-mcp/pkg/version"
)

func main() {
	configPath := flag.String("config", os.Getenv("DISCOVERY_CONFIG"), "Path to configuration file (optional)")
	envPath := flag.String("env", ".env", "Path to .env file (optional)")
	flag.Parse()

	// Stdio carries the MCP protocol, so all logging goes to stderr.
	if err := godotenv.Load(*envPath); err != nil {
		slog.Debug("No .env file loaded", "path", *envPath, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting discovery MCP server",
		"version", version.Full(),
		"api_url", cfg.APIBaseURL,
		"dashboard_url", cfg.DashboardBaseURL,
		"api_key_set", cfg.APIKey != "")

	client := discovery.NewClient(cfg.APIBaseURL, cfg.DashboardBaseURL, cfg.Client)
	tracker := account.NewTracker(client, cfg.Account.SnapshotStaleness)
	manager := lifecycle.NewManager(client, tracker, cfg.Jobs, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	manager.Start(ctx)
	defer manager.Stop()

	mcpServer := tools.NewServer(manager, client, tracker, cfg.APIKey, logger)

	if cfg.HTTP.Enabled {
		runHTTP(ctx, cfg, mcpServer, logger)
		return
	}

	logger.Info("Serving MCP over stdio")
	if err := mcpServer.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Error("MCP server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func runHTTP(ctx context.Context, cfg *config.Config, mcpServer *mcpsdk.Server, logger *slog.Logger) {
	srv := httpapi.NewServer(cfg.HTTP, mcpServer, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Error("HTTP server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("Shutdown complete")
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
