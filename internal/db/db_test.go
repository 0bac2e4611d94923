package db

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"docchat/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "chat.db")
	db, err := Open(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, InitDB(context.Background(), db))
	return db
}

func TestInitDBIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, InitDB(context.Background(), db))
}

func TestAppendAndLatest(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := LatestExchange(ctx, db)
	assert.ErrorIs(t, err, ErrEmptyLog)

	for i := 1; i <= 3; i++ {
		id, err := AppendExchange(ctx, db, fmt.Sprintf("question %d", i), fmt.Sprintf("answer %d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(i), id)
	}

	latest, err := LatestExchange(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.ID)
	assert.Equal(t, "question 3", latest.UserInput)
	assert.Equal(t, "answer 3", latest.AssistantResponse)

	n, err := CountExchanges(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAppendAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, db.Close())

	_, err := AppendExchange(ctx, db, "q", "a")
	assert.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
