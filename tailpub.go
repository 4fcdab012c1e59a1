package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/tailpub/admin"
	"github.com/maxpert/tailpub/cfg"
	"github.com/maxpert/tailpub/supervisor"
	"github.com/maxpert/tailpub/telemetry"

	_ "github.com/maxpert/tailpub/publisher/sink"
	_ "github.com/maxpert/tailpub/publisher/transformer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("client_id", cfg.Config.ClientID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("tailpub - log tailer and broker publisher")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg.Config, supervisor.Options{})
	if err := sup.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start")
		return
	}

	collector := telemetry.NewMetricsCollector(sup, 10*time.Second)
	collector.Start()

	var adminServer *admin.Server
	if cfg.Config.Admin.Enabled {
		address := net.JoinHostPort(cfg.Config.Admin.Address, strconv.Itoa(cfg.Config.Admin.Port))
		adminServer, err = admin.Listen(address, admin.NewRouter(admin.RoutesConfig{
			Provider: sup,
			ClientID: cfg.Config.ClientID,
			Broker:   cfg.Config.Broker.Type,
			Token:    cfg.Config.Admin.Token,
			Metrics:  telemetry.GetMetricsHandler(),
		}))
		if err != nil {
			log.Error().Err(err).Msg("Admin server disabled")
		} else {
			adminServer.Start()
		}
	}

	log.Info().
		Str("broker", cfg.Config.Broker.Type).
		Int("file_specs", len(cfg.Config.Files)).
		Msg("tailpub started successfully")

	<-ctx.Done()
	stop()
	log.Info().Msg("Shutdown signal received")

	grace := time.Duration(cfg.Config.Tail.ShutdownGraceMS) * time.Millisecond
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace+5*time.Second)
	defer cancel()

	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown failed")
		}
	}
	collector.Stop()

	if err := sup.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown completed with errors")
		os.Exit(1)
	}
	log.Info().Msg("tailpub stopped")
}
