package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlaylistRepository handles playlist database operations.
type PlaylistRepository struct {
	pool *pgxpool.Pool
}

// Active returns the entity's playlist with the highest sequence number.
// Returns ErrNotFound if the entity has no playlist yet.
func (r *PlaylistRepository) Active(ctx context.Context, source, entityID string) (*Playlist, error) {
	query := `
		SELECT source, entity_id, seq, playlist_id, count_tracks, count_followers, genres,
			last_search_at, last_found_at
		FROM playlists
		WHERE source = $1 AND entity_id = $2
		ORDER BY seq DESC
		LIMIT 1
	`
	var p Playlist
	err := r.pool.QueryRow(ctx, query, source, entityID).Scan(
		&p.Source,
		&p.EntityID,
		&p.Seq,
		&p.PlaylistID,
		&p.CountTracks,
		&p.CountFollowers,
		&p.Genres,
		&p.LastSearchAt,
		&p.LastFoundAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active playlist: %w", err)
	}
	return &p, nil
}

// List returns every playlist of the entity ordered by sequence number.
func (r *PlaylistRepository) List(ctx context.Context, source, entityID string) ([]Playlist, error) {
	query := `
		SELECT source, entity_id, seq, playlist_id, count_tracks, count_followers, genres,
			last_search_at, last_found_at
		FROM playlists
		WHERE source = $1 AND entity_id = $2
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, source, entityID)
	if err != nil {
		return nil, fmt.Errorf("querying playlists: %w", err)
	}
	defer rows.Close()

	var playlists []Playlist
	for rows.Next() {
		var p Playlist
		if err := rows.Scan(
			&p.Source,
			&p.EntityID,
			&p.Seq,
			&p.PlaylistID,
			&p.CountTracks,
			&p.CountFollowers,
			&p.Genres,
			&p.LastSearchAt,
			&p.LastFoundAt,
		); err != nil {
			return nil, fmt.Errorf("scanning playlist: %w", err)
		}
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}

// Create inserts a playlist row. The (source, entity_id, seq) key rejects a
// second row for the same sequence number.
func (r *PlaylistRepository) Create(ctx context.Context, p *Playlist) error {
	query := `
		INSERT INTO playlists (source, entity_id, seq, playlist_id)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, p.Source, p.EntityID, p.Seq, p.PlaylistID)
	if err != nil {
		return fmt.Errorf("inserting playlist: %w", err)
	}
	return nil
}

// UpdateAggregates writes the refreshed aggregate fields in one statement so
// readers never observe a partial update.
func (r *PlaylistRepository) UpdateAggregates(ctx context.Context, source, entityID string, seq int, a PlaylistAggregates) error {
	query := `
		UPDATE playlists
		SET count_followers = $4,
			count_tracks = COALESCE($5, count_tracks),
			genres = COALESCE($6, genres),
			last_search_at = $7,
			last_found_at = COALESCE($8, last_found_at)
		WHERE source = $1 AND entity_id = $2 AND seq = $3
	`
	var genres any
	if a.Genres != nil {
		genres = a.Genres
	}
	tag, err := r.pool.Exec(ctx, query,
		source,
		entityID,
		seq,
		a.CountFollowers,
		a.CountTracks,
		genres,
		a.LastSearchAt,
		a.LastFoundAt,
	)
	if err != nil {
		return fmt.Errorf("updating playlist aggregates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddGenres adds genres to the playlist's stored histogram and marks it as
// found at foundAt. It returns the resulting histogram.
func (r *PlaylistRepository) AddGenres(ctx context.Context, source, entityID string, seq int, genres map[string]int, foundAt time.Time) (map[string]int, error) {
	if genres == nil {
		genres = map[string]int{}
	}
	query := `
		UPDATE playlists
		SET genres = ` + sumGenres("playlists.genres", "$4::jsonb") + `,
			last_found_at = $5
		WHERE source = $1 AND entity_id = $2 AND seq = $3
		RETURNING genres
	`
	var merged map[string]int
	err := r.pool.QueryRow(ctx, query, source, entityID, seq, genres, foundAt).Scan(&merged)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("adding playlist genres: %w", err)
	}
	return merged, nil
}
