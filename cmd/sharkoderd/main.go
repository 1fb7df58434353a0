// Command sharkoderd runs the transcoding pipeline as a standalone daemon,
// with no CLI surface beyond --config, for container/service deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sharkoder/sharkoder/internal/bootstrap"
	"github.com/sharkoder/sharkoder/internal/config"
	"github.com/sharkoder/sharkoder/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "/sharkoder.config.json", "Configuration file path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.NewDefaultDaemonLogger()

	app, err := bootstrap.Build(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := app.Scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	log.Info().Str("root", cfg.Root).Msg("sharkoderd started")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining active jobs")
	app.Scheduler.Stop()
}
