// Package sync runs mirror cycles: it picks an entity, matches its
// unresolved tracks against the catalog and routes new ones into the
// entity's playlists.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/justestif/go-playlist-mirror/internal/cursor"
	"github.com/justestif/go-playlist-mirror/internal/db"
	"github.com/justestif/go-playlist-mirror/internal/dedupe"
	"github.com/justestif/go-playlist-mirror/internal/genres"
	"github.com/justestif/go-playlist-mirror/internal/lock"
	"github.com/justestif/go-playlist-mirror/internal/matcher"
	"github.com/justestif/go-playlist-mirror/internal/metrics"
	"github.com/justestif/go-playlist-mirror/internal/playlists"
	"github.com/justestif/go-playlist-mirror/internal/sources"
	"github.com/justestif/go-playlist-mirror/internal/spotify"
	"github.com/justestif/go-playlist-mirror/internal/walker"
)

// RotationCursor holds the source processed by the last scheduled cycle.
const RotationCursor = "sync_source_rotation"

// DefaultMaxFetchRetries bounds storage fetch retries within one cycle.
const DefaultMaxFetchRetries = 3

// TrackWriter persists matches.
type TrackWriter interface {
	MarkMatched(ctx context.Context, source, entityID, composite string, m db.TrackMatch) (bool, error)
}

// EntityWriter persists entity counters. UpdateCounters adds found and
// genres to the stored values.
type EntityWriter interface {
	UpdateCounters(ctx context.Context, source, id string, found int, genres map[string]int) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Walker     *walker.Walker
	Matcher    *matcher.Matcher
	Duplicates *dedupe.Index
	Playlists  *playlists.Allocator
	Tracks     TrackWriter
	Entities   EntityWriter
	Cursors    cursor.Store
	Locker     lock.Locker
	// Genres is the catalog genre lookup; Fallback is optional.
	Genres   genres.Catalog
	Fallback genres.Fallback
}

// Result summarizes one cycle.
type Result struct {
	RunID     string         `json:"run_id"`
	Source    string         `json:"source"`
	EntityID  string         `json:"entity_id,omitempty"`
	Searched  int            `json:"searched"`
	Added     int            `json:"added"`
	Failed    int            `json:"failed"`
	Genres    map[string]int `json:"genres,omitempty"`
	Exhausted bool           `json:"exhausted"`
}

// Orchestrator composes the sync components.
type Orchestrator struct {
	deps         Deps
	sources      []sources.Source
	fetchRetries int
	newBackOff   func() backoff.BackOff
	now          func() time.Time
	log          *log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSources sets the enabled sources in rotation order.
func WithSources(s ...sources.Source) Option {
	return func(o *Orchestrator) {
		if len(s) > 0 {
			o.sources = s
		}
	}
}

// WithMaxFetchRetries sets how often a failed storage fetch is retried.
func WithMaxFetchRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.fetchRetries = n
		}
	}
}

// WithBackOff sets the retry schedule for storage fetches.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(o *Orchestrator) {
		o.newBackOff = f
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// New creates an Orchestrator.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:         deps,
		sources:      sources.All(),
		fetchRetries: DefaultMaxFetchRetries,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		now: time.Now,
		log: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// cycle is the state of one Run.
type cycle struct {
	runID     string
	src       sources.Source
	log       *log.Logger
	tagger    *genres.Tagger
	histogram genres.Histogram
	entity    *db.Entity
	playlist  *db.Playlist
	result    *Result
}

// Run executes one cycle for the trigger. ErrNoWork is reported as an empty
// result without error.
func (o *Orchestrator) Run(ctx context.Context, trigger walker.Trigger) (*Result, error) {
	start := o.now()

	src, err := o.selectSource(ctx, trigger)
	if err != nil {
		return nil, err
	}

	c := &cycle{
		runID: uuid.NewString(),
		src:   src,
		tagger: genres.NewTagger(o.deps.Genres,
			genres.WithFallback(o.deps.Fallback),
			genres.WithLogger(o.log),
		),
		histogram: genres.Histogram{},
	}
	c.log = o.log.With("run_id", c.runID, "source", src.Name())
	c.result = &Result{RunID: c.runID, Source: src.Name()}

	err = o.run(ctx, c, trigger)

	outcome := "ok"
	switch {
	case errors.Is(err, walker.ErrNoWork):
		outcome = "no_work"
		err = nil
	case errors.Is(err, lock.ErrEntityBusy):
		outcome = "busy"
	case err != nil:
		outcome = "error"
	}
	metrics.RecordCycle(src.Name(), outcome, o.now().Sub(start))
	metrics.RecordTracks(src.Name(), c.result.Searched, c.result.Added, c.result.Failed)

	if err != nil {
		c.log.Error("sync cycle failed", "entity", c.result.EntityID, "err", err)
		return c.result, err
	}
	c.log.Info("sync cycle finished",
		"searched", c.result.Searched,
		"added", c.result.Added,
		"failed", c.result.Failed,
		"exhausted", c.result.Exhausted,
		"outcome", outcome,
	)
	return c.result, nil
}

// selectSource resolves the trigger's source. Scheduled cycles take the
// enabled source after the last one saved by saveRotation.
func (o *Orchestrator) selectSource(ctx context.Context, trigger walker.Trigger) (sources.Source, error) {
	if t, ok := trigger.(walker.EntitySignaled); ok {
		for _, s := range o.sources {
			if s.Name() == t.Source {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%w: %q", sources.ErrHostNotFound, t.Source)
	}

	last, err := o.deps.Cursors.Get(ctx, RotationCursor)
	if err != nil && !errors.Is(err, cursor.ErrNotFound) {
		return nil, fmt.Errorf("reading source rotation: %w", err)
	}

	next := o.sources[0]
	if i := slices.IndexFunc(o.sources, func(s sources.Source) bool { return s.Name() == last }); i >= 0 {
		next = o.sources[(i+1)%len(o.sources)]
	}
	return next, nil
}

// saveRotation records the source of a scheduled cycle once it holds its locks.
func (o *Orchestrator) saveRotation(ctx context.Context, c *cycle) error {
	if err := o.deps.Cursors.Put(ctx, RotationCursor, c.src.Name()); err != nil {
		return fmt.Errorf("saving source rotation: %w", err)
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, c *cycle, trigger walker.Trigger) error {
	switch t := trigger.(type) {
	case walker.Scheduled:
		release, err := o.deps.Locker.Acquire(ctx, lock.SourceKey(c.src.Name()))
		if err != nil {
			return fmt.Errorf("locking source %s: %w", c.src.Name(), err)
		}
		defer o.release(ctx, c, release)
	case walker.EntitySignaled:
		c.result.EntityID = t.EntityID
		release, err := o.deps.Locker.Acquire(ctx, lock.EntityKey(c.src.Name(), t.EntityID))
		if err != nil {
			return fmt.Errorf("locking entity %s: %w", t.EntityID, err)
		}
		defer o.release(ctx, c, release)
	}

	_, scheduled := trigger.(walker.Scheduled)

	unit, err := o.fetch(ctx, c, trigger)
	if errors.Is(err, walker.ErrNoWork) && scheduled {
		if serr := o.saveRotation(ctx, c); serr != nil {
			return serr
		}
		return err
	}
	if err != nil {
		return err
	}
	c.entity = unit.Entity
	c.result.EntityID = unit.Entity.ID
	c.log = c.log.With("entity", unit.Entity.ID)

	if scheduled {
		release, err := o.deps.Locker.Acquire(ctx, lock.EntityKey(c.src.Name(), unit.Entity.ID))
		if err != nil {
			return fmt.Errorf("locking entity %s: %w", unit.Entity.ID, err)
		}
		defer o.release(ctx, c, release)

		if err := o.saveRotation(ctx, c); err != nil {
			return err
		}
	}

	c.log.Debug("processing batch", "tracks", len(unit.Tracks), "exhausted", unit.Continuation.Exhausted)

	for _, t := range unit.Tracks {
		if t.Matched() {
			continue
		}
		c.result.Searched++

		added, err := o.processTrack(ctx, c, t)
		if err != nil {
			if spotify.IsFatal(err) || ctx.Err() != nil {
				abortErr := fmt.Errorf("processing %s: %w", t.Composite, err)
				if ferr := o.flushOnAbort(ctx, c); ferr != nil {
					return errors.Join(abortErr, ferr)
				}
				return abortErr
			}
			c.result.Failed++
			c.log.Warn("track failed", "track", t.Composite, "name", t.Name, "err", err)
			continue
		}
		if added {
			c.result.Added++
		}
	}

	if err := o.deps.Walker.Advance(ctx, c.src, unit); err != nil {
		return err
	}
	c.result.Exhausted = unit.Continuation.Exhausted

	if err := o.refreshAggregates(ctx, c); err != nil {
		return err
	}
	if err := o.saveEntityCounters(ctx, c); err != nil {
		return err
	}

	if c.histogram.Len() > 0 {
		c.result.Genres = c.histogram
	}
	return nil
}

func (o *Orchestrator) release(ctx context.Context, c *cycle, release lock.Release) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		c.log.Warn("failed to release lock", "err", err)
	}
}

// fetch asks the walker for a unit, retrying storage failures with backoff.
func (o *Orchestrator) fetch(ctx context.Context, c *cycle, trigger walker.Trigger) (*walker.Unit, error) {
	var unit *walker.Unit
	op := func() error {
		u, err := o.deps.Walker.NextUnitOfWork(ctx, c.src, trigger)
		if errors.Is(err, walker.ErrFetchFailed) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		unit = u
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("fetch failed, retrying", "err", err, "wait", wait)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(o.newBackOff(), uint64(o.fetchRetries)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return unit, nil
}

// matchInfo is stored with a matched track.
type matchInfo struct {
	Query   string  `json:"query"`
	Score   float64 `json:"score"`
	TrackID string  `json:"track_id"`
	Name    string  `json:"name"`
	Artists string  `json:"artists"`
	Album   string  `json:"album,omitempty"`
}

// processTrack resolves one track and routes it. It reports whether the
// track was added to a playlist.
func (o *Orchestrator) processTrack(ctx context.Context, c *cycle, t db.Track) (bool, error) {
	name, hint := c.src.Query(t)
	m, err := o.deps.Matcher.FindMatch(ctx, name, hint)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}

	uri := m.Track.URI
	dup, err := o.deps.Duplicates.IsDuplicate(ctx, c.src.Name(), c.entity.ID, uri)
	if err != nil {
		return false, err
	}
	if dup {
		c.log.Debug("duplicate match", "track", t.Composite, "uri", uri)
		return false, nil
	}

	tags, err := c.tagger.Tag(ctx, m.Track)
	if err != nil {
		return false, err
	}

	if c.playlist == nil {
		p, err := o.deps.Playlists.GetOrCreateActive(ctx, c.entity)
		if err != nil {
			return false, err
		}
		c.playlist = p
	}

	landed, err := o.deps.Playlists.Push(ctx, c.entity, c.playlist, uri)
	if err != nil {
		return false, err
	}
	c.playlist = landed

	if err := o.deps.Duplicates.Record(ctx, c.src.Name(), c.entity.ID, uri, landed.PlaylistID); err != nil {
		return false, err
	}

	info, err := json.Marshal(matchInfo{
		Query:   m.Query,
		Score:   m.Score,
		TrackID: m.Track.ID,
		Name:    m.Track.Name,
		Artists: m.Track.ArtistNames(),
		Album:   m.Track.AlbumName,
	})
	if err != nil {
		return false, fmt.Errorf("encoding match info: %w", err)
	}

	_, err = o.deps.Tracks.MarkMatched(ctx, c.src.Name(), c.entity.ID, t.Composite, db.TrackMatch{
		CatalogURI: uri,
		PlaylistID: landed.PlaylistID,
		MatchInfo:  info,
		Genres:     tags,
		FoundAt:    o.now().UTC(),
	})
	if err != nil {
		return false, err
	}

	c.histogram.Accumulate(tags)
	c.log.Info("added track", "track", t.Name, "uri", uri, "playlist", landed.PlaylistID, "score", m.Score)
	return true, nil
}

// refreshAggregates updates the active playlist, if the entity has one.
func (o *Orchestrator) refreshAggregates(ctx context.Context, c *cycle) error {
	p := c.playlist
	if p == nil {
		var err error
		if p, err = o.deps.Playlists.Current(ctx, c.entity); err != nil {
			return err
		}
		if p == nil {
			return nil
		}
	}
	if err := o.deps.Playlists.RefreshAggregates(ctx, c.entity, p, c.histogram, c.result.Added); err != nil {
		if spotify.IsFatal(err) {
			return err
		}
		c.log.Warn("failed to refresh playlist aggregates", "playlist", p.PlaylistID, "err", err)
	}
	return nil
}

// flushOnAbort stores the genres and counters of the tracks added before a
// fatal error. Those tracks are matched, so no later cycle revisits them.
func (o *Orchestrator) flushOnAbort(ctx context.Context, c *cycle) error {
	if c.result.Added == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var errs []error
	if c.playlist != nil {
		if err := o.deps.Playlists.FlushGenres(ctx, c.entity, c.playlist, c.histogram, c.result.Added); err != nil {
			c.log.Error("failed to flush playlist genres", "playlist", c.playlist.PlaylistID, "err", err)
			errs = append(errs, err)
		}
	}
	if err := o.saveEntityCounters(ctx, c); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// saveEntityCounters adds this cycle's matches and genres to the entity.
func (o *Orchestrator) saveEntityCounters(ctx context.Context, c *cycle) error {
	if c.result.Added == 0 {
		return nil
	}
	err := o.deps.Entities.UpdateCounters(context.WithoutCancel(ctx), c.src.Name(), c.entity.ID, c.result.Added, c.histogram)
	if err != nil {
		c.log.Error("failed to update entity counters", "err", err)
		return fmt.Errorf("updating entity counters: %w", err)
	}
	c.entity.Genres = genres.Merged(c.entity.Genres, c.histogram)
	c.entity.FoundCount += c.result.Added
	return nil
}
