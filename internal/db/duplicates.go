package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DuplicateRepository handles duplicate index operations.
type DuplicateRepository struct {
	pool *pgxpool.Pool
}

// Exists reports whether the catalog URI was already routed to the entity.
func (r *DuplicateRepository) Exists(ctx context.Context, source, entityID, catalogURI string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM duplicates
			WHERE source = $1 AND entity_id = $2 AND catalog_uri = $3
		)
	`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, source, entityID, catalogURI).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking duplicate: %w", err)
	}
	return exists, nil
}

// Insert records a duplicate. Existing records are left unchanged.
func (r *DuplicateRepository) Insert(ctx context.Context, d Duplicate) error {
	query := `
		INSERT INTO duplicates (source, entity_id, catalog_uri, playlist_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (source, entity_id, catalog_uri) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, d.Source, d.EntityID, d.CatalogURI, d.PlaylistID)
	if err != nil {
		return fmt.Errorf("inserting duplicate: %w", err)
	}
	return nil
}

// Delete removes a duplicate record.
func (r *DuplicateRepository) Delete(ctx context.Context, source, entityID, catalogURI string) error {
	query := `DELETE FROM duplicates WHERE source = $1 AND entity_id = $2 AND catalog_uri = $3`
	if _, err := r.pool.Exec(ctx, query, source, entityID, catalogURI); err != nil {
		return fmt.Errorf("deleting duplicate: %w", err)
	}
	return nil
}

// Count returns the number of duplicate records for an entity.
func (r *DuplicateRepository) Count(ctx context.Context, source, entityID string) (int, error) {
	query := `SELECT COUNT(*) FROM duplicates WHERE source = $1 AND entity_id = $2`
	var n int
	if err := r.pool.QueryRow(ctx, query, source, entityID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting duplicates: %w", err)
	}
	return n, nil
}
