package persist

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore-backed store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreStore persists records as documents in a Firestore collection,
// one document per canonical key.
type FirestoreStore[T any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a FirestoreStore. The Firestore client's
// lifecycle is managed by the caller.
func NewFirestoreStore[T any](cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore[T], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("collection name cannot be empty")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore[T]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// Save writes the record's document, overwriting any previous one.
func (s *FirestoreStore[T]) Save(ctx context.Context, key string, record Record[T]) error {
	_, err := s.client.Collection(s.collectionName).Doc(key).Set(ctx, record)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to write record to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Msg("Record stored in Firestore.")
	return nil
}

// Load reads the record's document; a missing document maps to ErrNotFound.
func (s *FirestoreStore[T]) Load(ctx context.Context, key string) (Record[T], error) {
	var zero Record[T]

	docSnap, err := s.client.Collection(s.collectionName).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return zero, ErrNotFound
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get record from Firestore.")
		return zero, fmt.Errorf("firestore get for %s: %w", key, err)
	}

	var record Record[T]
	if err := docSnap.DataTo(&record); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to map Firestore document data.")
		return zero, fmt.Errorf("firestore DataTo for %s: %w", key, err)
	}

	s.logger.Debug().Str("key", key).Msg("Firestore record hit.")
	return record, nil
}

// Delete removes the record's document. Deleting a missing document is not an
// error in Firestore.
func (s *FirestoreStore[T]) Delete(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.collectionName).Doc(key).Delete(ctx)
	if err != nil {
		return fmt.Errorf("firestore delete for %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the injected Firestore client is closed by its owner.
func (s *FirestoreStore[T]) Close() error {
	return nil
}
