package results

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Standing is one racer's final result
type Standing struct {
	ConnectionID string
	DisplayName  string
	Placement    *int // nil when the racer left before finishing
	Percentage   float64
	SpeedMetric  float64
	FinishedAt   *time.Time
}

// Race is a completed race as written to history
type Race struct {
	ID         uuid.UUID
	LobbyCode  string
	Prompt     string
	StartedAt  time.Time
	FinishedAt time.Time
	Standings  []Standing
}

// Recorder persists completed races
type Recorder interface {
	RecordRace(ctx context.Context, race Race) error
}

// NopRecorder discards results
type NopRecorder struct{}

func (NopRecorder) RecordRace(ctx context.Context, race Race) error { return nil }

// MemoryRecorder keeps results in memory
type MemoryRecorder struct {
	mu    sync.Mutex
	races []Race
}

func (r *MemoryRecorder) RecordRace(ctx context.Context, race Race) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.races = append(r.races, race)
	return nil
}

// Races returns a copy of everything recorded so far
func (r *MemoryRecorder) Races() []Race {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Race, len(r.races))
	copy(out, r.races)
	return out
}

// PostgresRecorder writes race history with pgx
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder creates a recorder on an existing pool
func NewPostgresRecorder(pool *pgxpool.Pool) *PostgresRecorder {
	return &PostgresRecorder{pool: pool}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS races (
	id          UUID PRIMARY KEY,
	lobby_code  TEXT NOT NULL,
	prompt      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS race_standings (
	race_id       UUID NOT NULL REFERENCES races(id) ON DELETE CASCADE,
	connection_id TEXT NOT NULL,
	display_name  TEXT NOT NULL,
	placement     INT,
	percentage    DOUBLE PRECISION NOT NULL,
	speed_metric  DOUBLE PRECISION NOT NULL,
	finished_at   TIMESTAMPTZ,
	PRIMARY KEY (race_id, connection_id)
);
CREATE TABLE IF NOT EXISTS prompts (
	id     SERIAL PRIMARY KEY,
	body   TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE
);`

// EnsureSchema creates the history and prompt tables if they are missing
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure results schema: %w", err)
	}
	return nil
}

// RecordRace inserts the race and its standings in one transaction
func (r *PostgresRecorder) RecordRace(ctx context.Context, race Race) error {
	if race.ID == uuid.Nil {
		race.ID = uuid.New()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin race insert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO races (id, lobby_code, prompt, started_at, finished_at) VALUES ($1, $2, $3, $4, $5)`,
		race.ID, race.LobbyCode, race.Prompt, race.StartedAt, race.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert race: %w", err)
	}

	batch := &pgx.Batch{}
	for _, s := range race.Standings {
		batch.Queue(
			`INSERT INTO race_standings (race_id, connection_id, display_name, placement, percentage, speed_metric, finished_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			race.ID, s.ConnectionID, s.DisplayName, s.Placement, s.Percentage, s.SpeedMetric, s.FinishedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert standings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit race insert: %w", err)
	}

	log.Info().
		Str("race_id", race.ID.String()).
		Str("lobby_code", race.LobbyCode).
		Int("standings", len(race.Standings)).
		Msg("race recorded")
	return nil
}
