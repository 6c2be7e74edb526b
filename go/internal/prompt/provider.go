package prompt

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DefaultPrompt is served when no other prompt source is configured
const DefaultPrompt = "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Maecenas semper libero."

// Provider selects the text for a race
type Provider interface {
	Prompt(ctx context.Context) (string, error)
}

// StaticProvider picks uniformly from a fixed list
type StaticProvider struct {
	prompts []string
}

// NewStaticProvider creates a provider over prompts, dropping blank entries.
// An empty list falls back to DefaultPrompt.
func NewStaticProvider(prompts []string) *StaticProvider {
	cleaned := make([]string, 0, len(prompts))
	for _, p := range prompts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{DefaultPrompt}
	}
	return &StaticProvider{prompts: cleaned}
}

func (p *StaticProvider) Prompt(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.prompts[rand.IntN(len(p.prompts))], nil
}

// PostgresProvider draws a random row from the prompts table, falling back
// when the table is empty.
type PostgresProvider struct {
	pool     *pgxpool.Pool
	fallback Provider
}

// NewPostgresProvider creates a database-backed prompt provider
func NewPostgresProvider(pool *pgxpool.Pool, fallback Provider) *PostgresProvider {
	return &PostgresProvider{pool: pool, fallback: fallback}
}

const selectPromptSQL = `SELECT body FROM prompts WHERE active ORDER BY random() LIMIT 1`

func (p *PostgresProvider) Prompt(ctx context.Context) (string, error) {
	var body string
	err := p.pool.QueryRow(ctx, selectPromptSQL).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		log.Warn().Msg("prompts table is empty, using fallback prompt")
		return p.fallback.Prompt(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("select prompt: %w", err)
	}
	return body, nil
}
