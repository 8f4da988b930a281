package cursor

import (
	"context"
	"errors"

	"github.com/justestif/go-playlist-mirror/internal/db"
)

// Postgres stores cursors in the cursors table.
type Postgres struct {
	repo *db.CursorRepository
}

// NewPostgres creates a Store backed by the database.
func NewPostgres(database *db.DB) *Postgres {
	return &Postgres{repo: database.Cursors()}
}

// Get returns the cursor value or ErrNotFound.
func (p *Postgres) Get(ctx context.Context, name string) (string, error) {
	v, err := p.repo.Get(ctx, name)
	if errors.Is(err, db.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

// Put upserts the cursor.
func (p *Postgres) Put(ctx context.Context, name, value string) error {
	return p.repo.Put(ctx, name, value)
}

// Delete removes the cursor.
func (p *Postgres) Delete(ctx context.Context, name string) error {
	return p.repo.Delete(ctx, name)
}

// Apply runs every op in one transaction.
func (p *Postgres) Apply(ctx context.Context, ops ...Op) error {
	dbOps := make([]db.CursorOp, len(ops))
	for i, op := range ops {
		dbOps[i] = db.CursorOp{Name: op.Name, Value: op.Value, Delete: op.Delete}
	}
	return p.repo.Apply(ctx, dbOps)
}
