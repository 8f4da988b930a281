package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CursorRepository handles named resume positions.
type CursorRepository struct {
	pool *pgxpool.Pool
}

// CursorOp is one write applied by CursorRepository.Apply.
type CursorOp struct {
	Name   string
	Value  string
	Delete bool
}

// Get returns the cursor value. Returns ErrNotFound if it is absent.
func (r *CursorRepository) Get(ctx context.Context, name string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM cursors WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying cursor: %w", err)
	}
	return value, nil
}

// Put creates or replaces a cursor.
func (r *CursorRepository) Put(ctx context.Context, name, value string) error {
	if _, err := r.pool.Exec(ctx, upsertCursor, name, value); err != nil {
		return fmt.Errorf("upserting cursor: %w", err)
	}
	return nil
}

// Delete removes a cursor. Deleting an absent cursor is not an error.
func (r *CursorRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM cursors WHERE name = $1`, name); err != nil {
		return fmt.Errorf("deleting cursor: %w", err)
	}
	return nil
}

// Apply runs every op in a single transaction.
func (r *CursorRepository) Apply(ctx context.Context, ops []CursorOp) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, op := range ops {
		if op.Delete {
			_, err = tx.Exec(ctx, `DELETE FROM cursors WHERE name = $1`, op.Name)
		} else {
			_, err = tx.Exec(ctx, upsertCursor, op.Name, op.Value)
		}
		if err != nil {
			return fmt.Errorf("applying cursor %s: %w", op.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const upsertCursor = `
	INSERT INTO cursors (name, value, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (name) DO UPDATE SET
		value = EXCLUDED.value,
		updated_at = EXCLUDED.updated_at
`
