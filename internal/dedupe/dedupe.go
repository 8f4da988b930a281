// Package dedupe guards an entity's playlists against receiving the same
// catalog track twice.
//
// Independent source tracks often resolve to one catalog entry, so the
// track's own matched flag is not enough. A record here is authoritative.
package dedupe

import (
	"context"
	"fmt"

	"github.com/justestif/go-playlist-mirror/internal/db"
)

// Store persists duplicate records.
type Store interface {
	Exists(ctx context.Context, source, entityID, catalogURI string) (bool, error)
	Insert(ctx context.Context, d db.Duplicate) error
	Delete(ctx context.Context, source, entityID, catalogURI string) error
}

// Index answers and records "already routed" questions.
type Index struct {
	store Store
}

// New creates an Index over store.
func New(store Store) *Index {
	return &Index{store: store}
}

// IsDuplicate reports whether catalogURI was already routed to the entity.
func (i *Index) IsDuplicate(ctx context.Context, source, entityID, catalogURI string) (bool, error) {
	ok, err := i.store.Exists(ctx, source, entityID, catalogURI)
	if err != nil {
		return false, fmt.Errorf("checking duplicate index: %w", err)
	}
	return ok, nil
}

// Record marks catalogURI as routed to playlistID for the entity.
func (i *Index) Record(ctx context.Context, source, entityID, catalogURI, playlistID string) error {
	err := i.store.Insert(ctx, db.Duplicate{
		Source:     source,
		EntityID:   entityID,
		CatalogURI: catalogURI,
		PlaylistID: playlistID,
	})
	if err != nil {
		return fmt.Errorf("recording duplicate: %w", err)
	}
	return nil
}

// Forget removes the record so the track may be routed again. Only the
// prune maintenance path calls this.
func (i *Index) Forget(ctx context.Context, source, entityID, catalogURI string) error {
	if err := i.store.Delete(ctx, source, entityID, catalogURI); err != nil {
		return fmt.Errorf("forgetting duplicate: %w", err)
	}
	return nil
}
