package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/config"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/gateway"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	configPath := flag.String("config", os.Getenv("TYPERACE_CONFIG"), "path to YAML config file")
	port := flag.String("port", "", "listen port (overrides config)")
	backend := flag.String("backend", "", "state backend: memory or nats (overrides config)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *backend != "" {
		cfg.Backend = *backend
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("invalid configuration")
		}
	}

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", cfg.Log.Level).Msg("unknown log level, keeping info")
	}

	log.Info().
		Str("backend", cfg.Backend).
		Str("port", cfg.Server.Port).
		Int("lobby_capacity", cfg.Lobby.Capacity).
		Bool("database", cfg.Database.Enabled).
		Msg("starting typerace gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	corsHandler := newCORS(cfg.Server.AllowedOrigins)

	connConfig := gateway.DefaultConnectionConfig()
	connConfig.CheckOrigin = func(r *http.Request) bool {
		// non-browser clients send no Origin
		return r.Header.Get("Origin") == "" || corsHandler.OriginAllowed(r)
	}
	cm := gateway.NewConnectionManager(connConfig)

	shared, err := setupBackend(ctx, cfg, cm)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up state backend")
	}
	defer shared.Close()

	history, err := setupHistory(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up database")
	}
	defer history.Close()

	sessions := session.NewService(session.Deps{
		Store:    shared.store,
		Fabric:   shared.fabric,
		Prompts:  history.prompts,
		Recorder: history.recorder,
		Config: session.Config{
			Capacity:   cfg.Lobby.Capacity,
			CodeLength: cfg.Lobby.CodeLength,
			MaxRetries: cfg.Lobby.MaxRetries,
		},
	})

	gatewayService := gateway.NewService(gateway.Config{
		ConnectionConfig: connConfig,
		RouterConfig: gateway.RouterConfig{
			InboxSize:      cfg.Server.InboxSize,
			HandlerTimeout: cfg.Server.HandlerTimeout,
		},
		ShutdownTimeout: shutdownTimeout,
	}, cm, sessions, shared.fabric)

	server := setupServer(cfg, gatewayService, corsHandler)

	// Start gateway service (event router and connection manager)
	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stops the router; the service then closes local connections and
	// removes them from their lobbies before the backend goes away
	cancel()
	select {
	case <-serviceDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("gateway service did not stop in time")
	}

	log.Info().Msg("typerace gateway shutdown complete")
}
