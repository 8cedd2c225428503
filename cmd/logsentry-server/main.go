package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/logsentry/internal/app"
	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/server"
)

func main() {
	configPath := os.Getenv("LOGSENTRY_CONFIG")

	a, err := app.NewApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	ctx, cancelWorkers := context.WithCancel(context.Background())
	if err := a.StartWorkers(ctx); err != nil {
		a.Logger.Fatal().Err(err).Msg("Failed to start job queue workers")
	}

	srv := server.NewServer(a)

	common.PrintBanner(a.Config, a.Logger)

	go func() {
		a.Logger.Info().Int("port", a.Config.Server.Port).Msg("Starting HTTP server")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	common.PrintShutdownBanner(a.Logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancelWorkers()
	a.Close()
	a.Logger.Info().Msg("Server stopped")
}
