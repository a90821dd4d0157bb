package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"portero.org/internal/app"
	"portero.org/internal/config"
	"portero.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := obs.Logger()
		boot.Fatal().Err(err).Msg("load config")
	}
	obs.Init(cfg.Logging)
	obs.InitMetrics()
	obs.InitBuildInfo("portero-api", version, commit)
	logger := obs.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("build application")
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("close stores")
		}
	}()

	server := a.HTTPServer(a.API(version).Handler())
	logger.Info().Str("addr", server.Addr).Str("version", version).Msg("starting portero-api")

	if err := a.Supervisor(server).Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("supervisor stopped")
		return
	}
	logger.Info().Msg("stopped")
}
