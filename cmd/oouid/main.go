package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ooui-go/ooui/internal/config"
	"github.com/ooui-go/ooui/internal/logging"
	"github.com/ooui-go/ooui/internal/metrics"
	"github.com/ooui-go/ooui/internal/publish"
	"github.com/ooui-go/ooui/internal/samples"
	"github.com/ooui-go/ooui/internal/session"
	"github.com/ooui-go/ooui/internal/telemetry"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to config file (.yaml or .toml)")
	port := flag.Int("port", 0, "Override server port")
	logLevel := flag.String("log-level", "", "Override log level")
	flag.Parse()

	if *logLevel != "" {
		logging.ConfigureLevel(*logLevel)
	} else {
		logging.ConfigureRuntime()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	var script []byte
	if cfg.Server.ClientScript != "" {
		script, err = os.ReadFile(cfg.Server.ClientScript)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Server.ClientScript).Msg("failed to read client script")
		}
	}

	metrics.RegisterMetrics()
	store := session.NewStore()
	registry := publish.NewRegistry(cfg.Publish.JSONCacheTTL)
	samples.Publish(ctx, registry, samples.Options{
		SysmonInterval: cfg.Samples.SysmonInterval,
		Sessions:       store,
	})

	logger := logging.For("publish")
	server := publish.NewServer(ctx, registry, store, publish.Options{
		Interval:     cfg.ThrottleInterval(),
		ReceiveLimit: cfg.Session.ReceiveLimit,
		WriteTimeout: cfg.Session.WriteTimeout,
		DefaultViewport: session.Viewport{
			Width:  cfg.Session.DefaultWidth,
			Height: cfg.Session.DefaultHeight,
		},
		ClientScript:   script,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         &logger,
	})

	mux := http.NewServeMux()
	if cfg.Server.MetricsPath != "" {
		mux.Handle(cfg.Server.MetricsPath, metrics.Handler())
	}
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		store.CloseAll()
		cancel()
	}()

	if err := publish.ListenAndServe(ctx, cfg.Addr(), mux, cfg.Publish.RetryDelay); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
