// Package walker picks the next entity and page of unresolved tracks to
// sync, resuming from persisted cursors.
//
// Scheduled walks visit every entity of a source in ordinal order and wrap
// around to the first one. Within an entity, tracks are visited in composite
// order. The track cursor is tagged with its entity, so a cursor left behind
// by one entity is never applied to another.
package walker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/justestif/go-playlist-mirror/internal/cursor"
	"github.com/justestif/go-playlist-mirror/internal/db"
	"github.com/justestif/go-playlist-mirror/internal/sources"
)

// DefaultBatchSize is the number of tracks in one unit of work.
const DefaultBatchSize = 500

var (
	// ErrNoWork is returned when there is nothing to sync.
	ErrNoWork = errors.New("no work")

	// ErrFetchFailed is returned when storage could not be read.
	ErrFetchFailed = errors.New("fetch failed")
)

// Trigger is what started a sync cycle: Scheduled or EntitySignaled.
type Trigger interface {
	trigger()
}

// Scheduled is a periodic cycle that follows the cursors.
type Scheduled struct{}

// EntitySignaled is a cycle for an entity that was just registered.
type EntitySignaled struct {
	Source   string
	EntityID string
}

func (Scheduled) trigger()      {}
func (EntitySignaled) trigger() {}

// Continuation says where the next unit of the same entity starts.
type Continuation struct {
	LastComposite string
	// Exhausted is true when no unresolved tracks remain after this page.
	Exhausted bool
}

// Unit is one entity and a page of its unresolved tracks.
type Unit struct {
	Entity       *db.Entity
	Tracks       []db.Track
	Continuation Continuation
	// Signaled units never touch cursors.
	Signaled bool
}

// TrackCursor is the persisted in-progress position within an entity.
type TrackCursor struct {
	EntityID  string `json:"entity_id"`
	Composite string `json:"composite"`
}

// EntityStore reads entities.
type EntityStore interface {
	Get(ctx context.Context, source, id string) (*db.Entity, error)
	NextAfter(ctx context.Context, source string, ordinal int64) (*db.Entity, error)
	First(ctx context.Context, source string) (*db.Entity, error)
}

// TrackStore reads unresolved tracks.
type TrackStore interface {
	Unresolved(ctx context.Context, source, entityID, after string, limit int) ([]db.Track, error)
}

// Walker resolves units of work.
type Walker struct {
	entities  EntityStore
	tracks    TrackStore
	cursors   cursor.Store
	batchSize int
	log       *log.Logger
}

// Option configures a Walker.
type Option func(*Walker)

// WithBatchSize sets the page size.
func WithBatchSize(n int) Option {
	return func(w *Walker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Walker) {
		w.log = l
	}
}

// New creates a Walker.
func New(entities EntityStore, tracks TrackStore, cursors cursor.Store, opts ...Option) *Walker {
	w := &Walker{
		entities:  entities,
		tracks:    tracks,
		cursors:   cursors,
		batchSize: DefaultBatchSize,
		log:       log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NextUnitOfWork returns the entity and page to process for the trigger.
func (w *Walker) NextUnitOfWork(ctx context.Context, src sources.Source, t Trigger) (*Unit, error) {
	switch t := t.(type) {
	case EntitySignaled:
		return w.signaled(ctx, src, t.EntityID)
	case Scheduled:
		return w.scheduled(ctx, src)
	default:
		return nil, fmt.Errorf("unsupported trigger %T", t)
	}
}

func (w *Walker) signaled(ctx context.Context, src sources.Source, entityID string) (*Unit, error) {
	entity, err := w.entities.Get(ctx, src.Name(), entityID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("entity %s/%s: %w", src.Name(), entityID, ErrNoWork)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading entity: %w", ErrFetchFailed, err)
	}

	unit, err := w.page(ctx, entity, "")
	if err != nil {
		return nil, err
	}
	unit.Signaled = true
	return unit, nil
}

func (w *Walker) scheduled(ctx context.Context, src sources.Source) (*Unit, error) {
	entity, err := w.nextEntity(ctx, src)
	if err != nil {
		return nil, err
	}

	after, err := w.trackPosition(ctx, src, entity.ID)
	if err != nil {
		return nil, err
	}
	return w.page(ctx, entity, after)
}

// nextEntity returns the first entity past the entity cursor, wrapping to
// the lowest ordinal.
func (w *Walker) nextEntity(ctx context.Context, src sources.Source) (*db.Entity, error) {
	raw, err := w.cursors.Get(ctx, src.EntityCursor())
	switch {
	case errors.Is(err, cursor.ErrNotFound):
		return w.first(ctx, src)
	case err != nil:
		return nil, fmt.Errorf("%w: reading entity cursor: %w", ErrFetchFailed, err)
	}

	ordinal, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		w.log.Warn("ignoring malformed entity cursor", "cursor", src.EntityCursor(), "value", raw)
		return w.first(ctx, src)
	}

	entity, err := w.entities.NextAfter(ctx, src.Name(), ordinal)
	if errors.Is(err, db.ErrNotFound) {
		return w.first(ctx, src)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading next entity: %w", ErrFetchFailed, err)
	}
	return entity, nil
}

func (w *Walker) first(ctx context.Context, src sources.Source) (*db.Entity, error) {
	entity, err := w.entities.First(ctx, src.Name())
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("source %s has no entities: %w", src.Name(), ErrNoWork)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading first entity: %w", ErrFetchFailed, err)
	}
	return entity, nil
}

// trackPosition returns the composite to resume after. A cursor that
// belongs to another entity counts as absent.
func (w *Walker) trackPosition(ctx context.Context, src sources.Source, entityID string) (string, error) {
	raw, err := w.cursors.Get(ctx, src.TrackCursor())
	if errors.Is(err, cursor.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: reading track cursor: %w", ErrFetchFailed, err)
	}

	var tc TrackCursor
	if err := json.Unmarshal([]byte(raw), &tc); err != nil {
		w.log.Warn("ignoring malformed track cursor", "cursor", src.TrackCursor(), "err", err)
		return "", nil
	}
	if tc.EntityID != entityID {
		w.log.Debug("track cursor belongs to another entity", "cursor_entity", tc.EntityID, "entity", entityID)
		return "", nil
	}
	return tc.Composite, nil
}

func (w *Walker) page(ctx context.Context, entity *db.Entity, after string) (*Unit, error) {
	rows, err := w.tracks.Unresolved(ctx, entity.Source, entity.ID, after, w.batchSize+1)
	if err != nil {
		return nil, fmt.Errorf("%w: loading tracks of %s: %w", ErrFetchFailed, entity.ID, err)
	}

	exhausted := len(rows) <= w.batchSize
	if !exhausted {
		rows = rows[:w.batchSize]
	}

	last := after
	if len(rows) > 0 {
		last = rows[len(rows)-1].Composite
	}
	return &Unit{
		Entity: entity,
		Tracks: rows,
		Continuation: Continuation{
			LastComposite: last,
			Exhausted:     exhausted,
		},
	}, nil
}

// Advance persists the unit's continuation. An exhausted entity moves the
// entity cursor forward and clears the track cursor in one atomic write;
// otherwise the track cursor records the last composite. Signaled units are
// left alone.
func (w *Walker) Advance(ctx context.Context, src sources.Source, u *Unit) error {
	if u.Signaled {
		return nil
	}

	if u.Continuation.Exhausted {
		err := w.cursors.Apply(ctx,
			cursor.DeleteOp(src.TrackCursor()),
			cursor.PutOp(src.EntityCursor(), strconv.FormatInt(u.Entity.Ordinal, 10)),
		)
		if err != nil {
			return fmt.Errorf("advancing entity cursor: %w", err)
		}
		return nil
	}

	err := cursor.PutJSON(ctx, w.cursors, src.TrackCursor(), TrackCursor{
		EntityID:  u.Entity.ID,
		Composite: u.Continuation.LastComposite,
	})
	if err != nil {
		return fmt.Errorf("saving track cursor: %w", err)
	}
	return nil
}
