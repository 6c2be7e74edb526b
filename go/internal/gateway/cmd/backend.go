package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/config"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/dbconfig"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/fabric"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/natsconn"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/prompt"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/results"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/state"
)

// sharedState is the store and room fabric every gateway process coordinates through
type sharedState struct {
	store  state.Store
	fabric fabric.Fabric
	nc     *nats.Conn
	sub    *fabric.NATSFabric
}

func setupBackend(ctx context.Context, cfg *config.Config, d fabric.Deliverer) (*sharedState, error) {
	if cfg.Backend == config.BackendMemory {
		log.Info().Msg("using in-process state; lobbies are not shared between gateways")
		return &sharedState{
			store:  state.NewMemoryStore(),
			fabric: fabric.NewMemoryFabric(d),
		}, nil
	}

	natsConfig := natsconn.DefaultConfig()
	natsConfig.URL = cfg.NATS.URL
	natsConfig.MaxReconnects = cfg.NATS.MaxReconnects
	natsConfig.ReconnectWait = cfg.NATS.ReconnectWait
	nc, js, err := natsconn.Connect(natsConfig)
	if err != nil {
		return nil, err
	}

	kvConfig := state.DefaultKVConfig()
	kvConfig.Bucket = cfg.NATS.Bucket
	store, err := state.NewNATSStore(ctx, js, kvConfig)
	if err != nil {
		nc.Close()
		return nil, err
	}

	fab, err := fabric.NewNATSFabric(nc, store, d, fabric.NATSConfig{
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		MaxRetries:    cfg.Lobby.MaxRetries,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &sharedState{store: store, fabric: fab, nc: nc, sub: fab}, nil
}

func (s *sharedState) Close() {
	if s.sub != nil {
		if err := s.sub.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe room fabric")
		}
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("failed to drain NATS connection")
		}
	}
}

// raceHistory is where prompts come from and finished races go
type raceHistory struct {
	prompts  prompt.Provider
	recorder results.Recorder
	pool     *pgxpool.Pool
}

func setupHistory(ctx context.Context, cfg *config.Config) (*raceHistory, error) {
	static := prompt.NewStaticProvider(cfg.Prompts)
	if !cfg.Database.Enabled {
		return &raceHistory{prompts: static, recorder: results.NopRecorder{}}, nil
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := dbconfig.NewPool(ctx, dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", dbCfg.Database, err)
	}

	recorder := results.NewPostgresRecorder(pool)
	if err := recorder.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("host", dbCfg.Host).
		Str("database", dbCfg.Database).
		Msg("connected to database")

	return &raceHistory{
		prompts:  prompt.NewPostgresProvider(pool, static),
		recorder: recorder,
		pool:     pool,
	}, nil
}

func (h *raceHistory) Close() {
	if h.pool != nil {
		h.pool.Close()
	}
}
