package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entityColumns = `source, id, name, ordinal, thumbnail_url, last_upload_at,
	track_count, found_count, genres, updated_at`

// EntityRepository handles entity database operations.
type EntityRepository struct {
	pool *pgxpool.Pool
}

// Get retrieves an entity by source and external ID.
func (r *EntityRepository) Get(ctx context.Context, source, id string) (*Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE source = $1 AND id = $2`
	return r.queryOne(ctx, query, source, id)
}

// NextAfter returns the entity of source with the smallest ordinal strictly
// greater than ordinal. Returns ErrNotFound when none remains.
func (r *EntityRepository) NextAfter(ctx context.Context, source string, ordinal int64) (*Entity, error) {
	query := `SELECT ` + entityColumns + `
		FROM entities
		WHERE source = $1 AND ordinal > $2
		ORDER BY ordinal ASC
		LIMIT 1`
	return r.queryOne(ctx, query, source, ordinal)
}

// First returns the entity of source with the smallest ordinal.
// Returns ErrNotFound when the source has no entities.
func (r *EntityRepository) First(ctx context.Context, source string) (*Entity, error) {
	query := `SELECT ` + entityColumns + `
		FROM entities
		WHERE source = $1
		ORDER BY ordinal ASC
		LIMIT 1`
	return r.queryOne(ctx, query, source)
}

// Insert creates an entity. Used by ingestion collaborators and tests;
// the sync engine never creates entities.
func (r *EntityRepository) Insert(ctx context.Context, e *Entity) error {
	query := `
		INSERT INTO entities (source, id, name, thumbnail_url, last_upload_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING ordinal, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		e.Source,
		e.ID,
		e.Name,
		e.ThumbnailURL,
		e.LastUploadAt,
	).Scan(&e.Ordinal, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting entity: %w", err)
	}
	return nil
}

// UpdateCounters adds found to the entity's found count and adds genres to
// its stored histogram. Both are summed in the database, so concurrent
// writers never lose each other's counts.
func (r *EntityRepository) UpdateCounters(ctx context.Context, source, id string, found int, genres map[string]int) error {
	if genres == nil {
		genres = map[string]int{}
	}
	query := `
		UPDATE entities
		SET found_count = found_count + $3,
			genres = ` + sumGenres("entities.genres", "$4::jsonb") + `,
			updated_at = $5
		WHERE source = $1 AND id = $2
	`
	tag, err := r.pool.Exec(ctx, query, source, id, found, genres, time.Now())
	if err != nil {
		return fmt.Errorf("updating entity counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// sumGenres is a SQL expression adding two JSONB genre histograms key by key.
func sumGenres(left, right string) string {
	return `(
		SELECT COALESCE(jsonb_object_agg(key, total), '{}'::jsonb)
		FROM (
			SELECT key, SUM(value::int) AS total
			FROM (
				SELECT key, value FROM jsonb_each_text(` + left + `)
				UNION ALL
				SELECT key, value FROM jsonb_each_text(` + right + `)
			) g
			GROUP BY key
		) t
	)`
}

func (r *EntityRepository) queryOne(ctx context.Context, query string, args ...any) (*Entity, error) {
	var e Entity
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&e.Source,
		&e.ID,
		&e.Name,
		&e.Ordinal,
		&e.ThumbnailURL,
		&e.LastUploadAt,
		&e.TrackCount,
		&e.FoundCount,
		&e.Genres,
		&e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying entity: %w", err)
	}
	return &e, nil
}
