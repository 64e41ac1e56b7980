//go:build integration

package persist_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/persist"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a running Redis; set REDIS_ADDR or default to localhost:6379.
func TestRedisStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := persist.NewRedisStore[testDoc](ctx, &persist.RedisConfig{
		Addr:      addr,
		KeyPrefix: "querycache-test:",
		RecordTTL: time.Minute,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	record := persist.Record[testDoc]{
		Data:          testDoc{ID: "doc-1", Body: []byte("payload")},
		DataUpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	require.NoError(t, store.Save(ctx, "round-trip", record))
	t.Cleanup(func() { _ = store.Delete(ctx, "round-trip") })

	loaded, err := store.Load(ctx, "round-trip")
	require.NoError(t, err)
	assert.Equal(t, record.Data, loaded.Data)
	assert.True(t, record.DataUpdatedAt.Equal(loaded.DataUpdatedAt))

	_, err = store.Load(ctx, "never-written")
	assert.ErrorIs(t, err, persist.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "round-trip"))
	_, err = store.Load(ctx, "round-trip")
	assert.ErrorIs(t, err, persist.ErrNotFound)
}

type testDoc struct {
	ID   string `json:"id" firestore:"id"`
	Body []byte `json:"body" firestore:"body"`
}
