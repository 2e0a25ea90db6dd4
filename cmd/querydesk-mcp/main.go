// Command querydesk-mcp serves the querydesk tool registries over the
// Model Context Protocol on stdio, so any MCP client can run the same
// read-only document and relational tools the orchestrator uses.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/soyeahso/querydesk/internal/cli"
	"github.com/soyeahso/querydesk/internal/config"
	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/logging"
)

func main() {
	// stdout carries the protocol, so logs go to stderr only.
	log := logging.New(nil, envOr("QUERYDESK_LOG_LEVEL", "warn"))

	paths, err := config.ResolvePaths()
	if err != nil {
		log.Fatal().Err(err).Msg("resolving paths")
	}
	if p := os.Getenv("QUERYDESK_CONFIG"); p != "" {
		paths.Config = p
	}
	if err := config.LoadDotEnv(".env", paths.DotEnv); err != nil {
		log.Fatal().Err(err).Msg("loading .env")
	}
	cfg, err := config.Load(paths.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := cli.Build(ctx, cfg, paths, log, cli.BuildOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("building tool registries")
	}
	defer app.Close()

	caller := domain.Identity{UserID: envOr("QUERYDESK_MCP_USER", "mcp")}
	s := newServer(app.Registries, cfg.Orchestrator.PreviewRows, caller, log)

	if err := server.ServeStdio(s); err != nil {
		log.Error().Err(err).Msg("mcp server stopped")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
