package persist_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/clock"
	"github.com/illmade-knight/go-querycache/pkg/persist"
	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/illmade-knight/go-querycache/pkg/querykey"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var persistStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestInMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := persist.NewInMemoryStore[string]()
	t.Cleanup(func() { _ = store.Close() })

	record := persist.Record[string]{
		Data:          "persisted",
		DataUpdatedAt: persistStart,
	}
	require.NoError(t, store.Save(ctx, "key-1", record))

	loaded, err := store.Load(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, record, loaded)

	_, err = store.Load(ctx, "key-2")
	assert.ErrorIs(t, err, persist.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "key-1"))
	_, err = store.Load(ctx, "key-1")
	assert.ErrorIs(t, err, persist.ErrNotFound)

	// Deleting a missing key is quiet.
	assert.NoError(t, store.Delete(ctx, "never-stored"))
}

func TestFirestoreStore_RejectsNilClient(t *testing.T) {
	_, err := persist.NewFirestoreStore[string](&persist.FirestoreConfig{CollectionName: "x"}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestSnapshot(t *testing.T) {
	fake := clock.NewFake(persistStart)
	cache := query.NewCache[string](fake, zerolog.Nop())

	t.Run("No data yields no snapshot", func(t *testing.T) {
		q := cache.GetOrCreate(querykey.New("empty"))
		_, ok := persist.Snapshot(q)
		assert.False(t, ok)
	})

	t.Run("Settled data snapshots with its timestamp", func(t *testing.T) {
		q := cache.GetOrCreate(querykey.New("full"))
		q.SetData("value", persistStart.Add(time.Minute))
		q.Invalidate()

		record, ok := persist.Snapshot(q)
		require.True(t, ok)
		assert.Equal(t, "value", record.Data)
		assert.Equal(t, persistStart.Add(time.Minute), record.DataUpdatedAt)
		assert.True(t, record.Invalidated)
	})

	t.Run("Placeholder data is never snapshotted", func(t *testing.T) {
		q := cache.GetOrCreate(querykey.New("placeholder"))
		q.AddObserver(query.NewObserver(query.Options[string]{
			Fetcher:         func(ctx context.Context) (string, error) { return "", nil },
			PlaceholderData: query.Ptr("phantom"),
		}, nil))

		_, ok := persist.Snapshot(q)
		assert.False(t, ok)
	})
}

func TestSaveAndHydrate(t *testing.T) {
	ctx := context.Background()
	store := persist.NewInMemoryStore[string]()

	// Populate a cache, persist it, then hydrate a second cache.
	fake := clock.NewFake(persistStart)
	source := query.NewCache[string](fake, zerolog.Nop())
	key := querykey.New("users", 42)

	q := source.GetOrCreate(key)
	q.SetData("alice", persistStart)
	require.NoError(t, persist.Save(ctx, store, q))

	restored := query.NewCache[string](fake, zerolog.Nop())
	require.NoError(t, persist.Hydrate(ctx, store, restored, key))

	rq, ok := restored.Get(key)
	require.True(t, ok)
	st := rq.State()
	assert.Equal(t, "alice", st.Data)
	assert.Equal(t, persistStart, st.DataUpdatedAt)
	assert.Equal(t, query.StatusSuccess, st.Status)
}

func TestHydrate_MissingRecordIsQuiet(t *testing.T) {
	ctx := context.Background()
	store := persist.NewInMemoryStore[string]()
	cache := query.NewCache[string](clock.NewFake(persistStart), zerolog.Nop())

	require.NoError(t, persist.Hydrate(ctx, store, cache, querykey.New("absent")))
	assert.Zero(t, cache.Len(), "a miss must not create a cache entry")
}

func TestHydrate_DoesNotClobberNewerData(t *testing.T) {
	ctx := context.Background()
	store := persist.NewInMemoryStore[string]()
	fake := clock.NewFake(persistStart)
	cache := query.NewCache[string](fake, zerolog.Nop())
	key := querykey.New("doc")

	require.NoError(t, store.Save(ctx, key.Canonical(), persist.Record[string]{
		Data:          "stale-from-disk",
		DataUpdatedAt: persistStart.Add(-time.Hour),
	}))

	q := cache.GetOrCreate(key)
	q.SetData("fresh-in-memory", persistStart)

	require.NoError(t, persist.Hydrate(ctx, store, cache, key))
	assert.Equal(t, "fresh-in-memory", q.State().Data, "older persisted data loses by timestamp")
}

func TestHydrate_RestoresInvalidation(t *testing.T) {
	ctx := context.Background()
	store := persist.NewInMemoryStore[string]()
	cache := query.NewCache[string](clock.NewFake(persistStart), zerolog.Nop())
	key := querykey.New("inv")

	require.NoError(t, store.Save(ctx, key.Canonical(), persist.Record[string]{
		Data:          "needs refetch",
		DataUpdatedAt: persistStart,
		Invalidated:   true,
	}))

	require.NoError(t, persist.Hydrate(ctx, store, cache, key))

	q, ok := cache.Get(key)
	require.True(t, ok)
	assert.True(t, q.State().Invalidated)
	assert.Equal(t, "needs refetch", q.State().Data)
}
