package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TrackRepository handles track database operations.
type TrackRepository struct {
	pool *pgxpool.Pool
}

// Insert creates a track. Used by ingestion collaborators and tests.
func (r *TrackRepository) Insert(ctx context.Context, t *Track) error {
	query := `
		INSERT INTO tracks (source, entity_id, composite, source_track_id, name, artist, title, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		t.Source,
		t.EntityID,
		t.Composite,
		t.SourceTrackID,
		t.Name,
		t.Artist,
		t.Title,
		t.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting track: %w", err)
	}
	return nil
}

// Unresolved returns up to limit tracks of the entity lacking a catalog URI,
// in ascending composite order, strictly after the given composite.
// An empty after starts from the first track.
func (r *TrackRepository) Unresolved(ctx context.Context, source, entityID, after string, limit int) ([]Track, error) {
	query := `
		SELECT source, entity_id, composite, source_track_id, name, artist, title, published_at,
			catalog_uri, catalog_playlist, match_info, genres, found_at
		FROM tracks
		WHERE source = $1 AND entity_id = $2 AND catalog_uri IS NULL AND composite > $3
		ORDER BY composite ASC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, source, entityID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unresolved tracks: %w", err)
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		var t Track
		if err := rows.Scan(
			&t.Source,
			&t.EntityID,
			&t.Composite,
			&t.SourceTrackID,
			&t.Name,
			&t.Artist,
			&t.Title,
			&t.PublishedAt,
			&t.CatalogURI,
			&t.CatalogPlaylist,
			&t.MatchInfo,
			&t.Genres,
			&t.FoundAt,
		); err != nil {
			return nil, fmt.Errorf("scanning track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// MarkMatched writes the match onto an unresolved track. It returns false
// without error when the track was already matched.
func (r *TrackRepository) MarkMatched(ctx context.Context, source, entityID, composite string, m TrackMatch) (bool, error) {
	query := `
		UPDATE tracks
		SET catalog_uri = $4,
			catalog_playlist = $5,
			match_info = $6,
			genres = $7,
			found_at = $8
		WHERE source = $1 AND entity_id = $2 AND composite = $3 AND catalog_uri IS NULL
	`
	foundAt := m.FoundAt
	if foundAt.IsZero() {
		foundAt = time.Now()
	}
	genres := m.Genres
	if genres == nil {
		genres = []string{}
	}
	tag, err := r.pool.Exec(ctx, query,
		source,
		entityID,
		composite,
		m.CatalogURI,
		m.PlaylistID,
		m.MatchInfo,
		genres,
		foundAt,
	)
	if err != nil {
		return false, fmt.Errorf("marking track matched: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteByCatalogURI deletes the entity's tracks resolved to catalogURI and
// returns how many were removed.
func (r *TrackRepository) DeleteByCatalogURI(ctx context.Context, source, entityID, catalogURI string) (int64, error) {
	query := `DELETE FROM tracks WHERE source = $1 AND entity_id = $2 AND catalog_uri = $3`
	tag, err := r.pool.Exec(ctx, query, source, entityID, catalogURI)
	if err != nil {
		return 0, fmt.Errorf("deleting tracks of %s: %w", catalogURI, err)
	}
	return tag.RowsAffected(), nil
}
