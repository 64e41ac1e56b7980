// Package persist is the optional cache-persistence collaborator: it
// serializes query state snapshots to an external store so a cache can be
// rehydrated across process restarts. The engine itself never depends on it.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/illmade-knight/go-querycache/pkg/querykey"
)

// ErrNotFound is returned when a store holds no record for a key.
var ErrNotFound = errors.New("persist: record not found")

// Record is the persistable slice of a query's state. Errors, in-flight
// status and placeholder data are deliberately not captured; only settled
// data survives a restart.
type Record[T any] struct {
	Data          T         `json:"data" firestore:"data"`
	DataUpdatedAt time.Time `json:"dataUpdatedAt" firestore:"dataUpdatedAt"`
	Invalidated   bool      `json:"invalidated" firestore:"invalidated"`
}

// Store persists records keyed by the canonical query key.
type Store[T any] interface {
	// Save writes the record for key, overwriting any previous one.
	Save(ctx context.Context, key string, record Record[T]) error
	// Load reads the record for key, or ErrNotFound.
	Load(ctx context.Context, key string) (Record[T], error)
	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases any underlying client resources.
	Close() error
}

// Snapshot captures a query's persistable state. ok is false while the query
// holds no real data (placeholder data is never persisted).
func Snapshot[T any](q *query.Query[T]) (Record[T], bool) {
	st := q.State()
	if !st.HasData {
		return Record[T]{}, false
	}
	return Record[T]{
		Data:          st.Data,
		DataUpdatedAt: st.DataUpdatedAt,
		Invalidated:   st.Invalidated,
	}, true
}

// Save snapshots the query for key and writes it to the store. Queries
// without data are skipped quietly.
func Save[T any](ctx context.Context, store Store[T], q *query.Query[T]) error {
	record, ok := Snapshot(q)
	if !ok {
		return nil
	}
	return store.Save(ctx, q.Key().Canonical(), record)
}

// Hydrate seeds the cache entry for key from the store. The seed goes through
// the query's last-writer-wins rule, so newer in-memory data is never
// clobbered by an older persisted record. A missing record is a quiet no-op.
func Hydrate[T any](ctx context.Context, store Store[T], cache *query.Cache[T], key querykey.Key) error {
	record, err := store.Load(ctx, key.Canonical())
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	q := cache.GetOrCreate(key)
	q.SetData(record.Data, record.DataUpdatedAt)
	if record.Invalidated {
		q.Invalidate()
	}
	return nil
}
