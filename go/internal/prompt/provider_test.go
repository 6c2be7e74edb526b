package prompt

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProvider(t *testing.T) {
	t.Run("picks from the list", func(t *testing.T) {
		prompts := []string{"alpha beta", "gamma delta"}
		p := NewStaticProvider(append(prompts, "  ", ""))

		for i := 0; i < 20; i++ {
			got, err := p.Prompt(context.Background())
			require.NoError(t, err)
			assert.Contains(t, prompts, got)
		}
	})

	t.Run("empty list falls back", func(t *testing.T) {
		got, err := NewStaticProvider(nil).Prompt(context.Background())
		require.NoError(t, err)
		assert.Equal(t, DefaultPrompt, got)
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewStaticProvider(nil).Prompt(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPostgresProvider(t *testing.T) {
	dsn := os.Getenv("TYPERACE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TYPERACE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	config, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	// one connection so the temp table is visible to every query
	config.MaxConns = 1
	pool, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `CREATE TEMP TABLE prompts (id SERIAL PRIMARY KEY, body TEXT NOT NULL, active BOOLEAN NOT NULL DEFAULT TRUE)`)
	require.NoError(t, err)

	p := NewPostgresProvider(pool, NewStaticProvider([]string{"fallback text"}))

	got, err := p.Prompt(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fallback text", got)

	_, err = pool.Exec(ctx, `INSERT INTO prompts (body) VALUES ('from the table')`)
	require.NoError(t, err)

	got, err = p.Prompt(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from the table", got)
}
