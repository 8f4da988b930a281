// Package playlists routes matched tracks into an entity's sequence of
// catalog playlists, opening overflow playlists when one fills up.
package playlists

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/justestif/go-playlist-mirror/internal/db"
	"github.com/justestif/go-playlist-mirror/internal/genres"
	"github.com/justestif/go-playlist-mirror/internal/metrics"
	"github.com/justestif/go-playlist-mirror/internal/sources"
	"github.com/justestif/go-playlist-mirror/internal/spotify"
)

// DefaultCeiling is the catalog's hard limit on tracks per playlist.
const DefaultCeiling = 11000

// descriptionGenres is how many top genres a description lists.
const descriptionGenres = 3

// ErrPlaylistFull is returned when a push fails against a full playlist and
// the overflow playlist also reports full.
var ErrPlaylistFull = errors.New("playlist full")

// Catalog is the subset of the catalog client used for playlists.
type Catalog interface {
	CreatePlaylist(ctx context.Context, name, description string, public bool) (string, error)
	InsertTracks(ctx context.Context, playlistID string, uris ...string) error
	RemoveTracks(ctx context.Context, playlistID string, trackIDs ...string) error
	PlaylistStats(ctx context.Context, playlistID string) (spotify.PlaylistStats, error)
	SetCoverImage(ctx context.Context, playlistID string, jpeg io.Reader) error
	SetDescription(ctx context.Context, playlistID, description string) error
}

// Store persists playlist rows.
type Store interface {
	Active(ctx context.Context, source, entityID string) (*db.Playlist, error)
	List(ctx context.Context, source, entityID string) ([]db.Playlist, error)
	Create(ctx context.Context, p *db.Playlist) error
	UpdateAggregates(ctx context.Context, source, entityID string, seq int, a db.PlaylistAggregates) error
	AddGenres(ctx context.Context, source, entityID string, seq int, genres map[string]int, foundAt time.Time) (map[string]int, error)
}

// Allocator owns the mapping from entities to catalog playlists.
type Allocator struct {
	catalog Catalog
	store   Store
	http    *http.Client
	ceiling int
	now     func() time.Time
	log     *log.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithCeiling sets the track count at which a playlist counts as full.
func WithCeiling(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.ceiling = n
		}
	}
}

// WithHTTPClient sets the client used to download cover images.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Allocator) {
		a.http = c
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		a.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Allocator) {
		a.log = l
	}
}

// New creates an Allocator.
func New(catalog Catalog, store Store, opts ...Option) *Allocator {
	a := &Allocator{
		catalog: catalog,
		store:   store,
		http:    &http.Client{Timeout: 15 * time.Second},
		ceiling: DefaultCeiling,
		now:     time.Now,
		log:     log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetOrCreateActive returns the entity's highest-sequence playlist, creating
// the first one if the entity has none.
func (a *Allocator) GetOrCreateActive(ctx context.Context, entity *db.Entity) (*db.Playlist, error) {
	p, err := a.store.Active(ctx, entity.Source, entity.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("loading active playlist: %w", err)
	}
	return a.create(ctx, entity, 1)
}

// Current returns the active playlist, or nil if the entity has none yet.
func (a *Allocator) Current(ctx context.Context, entity *db.Entity) (*db.Playlist, error) {
	p, err := a.store.Active(ctx, entity.Source, entity.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading active playlist: %w", err)
	}
	return p, nil
}

// Push inserts the track at the head of the active playlist. When the
// playlist is full it opens the next one and retries there once. It returns
// the playlist the track landed in.
func (a *Allocator) Push(ctx context.Context, entity *db.Entity, active *db.Playlist, catalogURI string) (*db.Playlist, error) {
	target := active
	for attempt := range 2 {
		err := a.catalog.InsertTracks(ctx, target.PlaylistID, catalogURI)
		if err == nil {
			return target, nil
		}

		full, serr := a.isFull(ctx, target, err)
		if serr != nil {
			return nil, fmt.Errorf("checking capacity of %s: %w", target.PlaylistID, serr)
		}
		if !full {
			return nil, fmt.Errorf("pushing to %s: %w", target.PlaylistID, err)
		}
		if attempt == 1 {
			return nil, fmt.Errorf("pushing to overflow %s: %w", target.PlaylistID, ErrPlaylistFull)
		}

		a.log.Info("playlist full, opening overflow",
			"entity", entity.ID, "playlist", target.PlaylistID, "seq", target.Seq+1)
		target, err = a.create(ctx, entity, target.Seq+1)
		if err != nil {
			return nil, err
		}
	}
	return nil, ErrPlaylistFull
}

// isFull reports whether err is a capacity-style rejection on a playlist
// that is at the ceiling.
func (a *Allocator) isFull(ctx context.Context, p *db.Playlist, err error) (bool, error) {
	switch spotify.StatusCode(err) {
	case http.StatusBadRequest, http.StatusForbidden:
	default:
		return false, nil
	}
	stats, serr := a.catalog.PlaylistStats(ctx, p.PlaylistID)
	if serr != nil {
		return false, serr
	}
	return stats.Tracks >= a.ceiling, nil
}

func (a *Allocator) create(ctx context.Context, entity *db.Entity, seq int) (*db.Playlist, error) {
	src, err := sources.Lookup(entity.Source)
	if err != nil {
		return nil, err
	}

	name := entity.Name
	reason := "first"
	if seq > 1 {
		name = fmt.Sprintf("%s (%d)", entity.Name, seq)
		reason = "overflow"
	}

	id, err := a.catalog.CreatePlaylist(ctx, name, src.Description(nil), true)
	if err != nil {
		return nil, fmt.Errorf("creating playlist %q: %w", name, err)
	}

	p := &db.Playlist{
		Source:     entity.Source,
		EntityID:   entity.ID,
		Seq:        seq,
		PlaylistID: id,
		Genres:     map[string]int{},
	}
	if err := a.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("saving playlist %s: %w", id, err)
	}
	metrics.PlaylistsCreated.WithLabelValues(entity.Source, reason).Inc()
	a.log.Info("created playlist", "entity", entity.ID, "playlist", id, "seq", seq)

	a.setCover(ctx, entity, id)
	return p, nil
}

// setCover copies the entity thumbnail onto the playlist. Failures are
// logged and never block insertion.
func (a *Allocator) setCover(ctx context.Context, entity *db.Entity, playlistID string) {
	if entity.ThumbnailURL == nil || *entity.ThumbnailURL == "" {
		return
	}
	if err := a.uploadCover(ctx, *entity.ThumbnailURL, playlistID); err != nil {
		a.log.Warn("failed to set cover", "entity", entity.ID, "playlist", playlistID, "err", err)
	}
}

func (a *Allocator) uploadCover(ctx context.Context, url, playlistID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching thumbnail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching thumbnail: status %d", resp.StatusCode)
	}
	return a.catalog.SetCoverImage(ctx, playlistID, resp.Body)
}

// RefreshAggregates writes live stats onto the playlist row. Track count,
// genres and found time only change when added > 0; cycle genres are merged
// into the stored histogram before the description is recomputed.
func (a *Allocator) RefreshAggregates(ctx context.Context, entity *db.Entity, p *db.Playlist, cycle map[string]int, added int) error {
	stats, err := a.catalog.PlaylistStats(ctx, p.PlaylistID)
	if err != nil {
		return fmt.Errorf("reading stats of %s: %w", p.PlaylistID, err)
	}

	now := a.now().UTC()
	agg := db.PlaylistAggregates{
		CountFollowers: stats.Followers,
		LastSearchAt:   now,
	}

	if added > 0 {
		before := genres.Histogram(p.Genres)
		merged := genres.Merged(p.Genres, cycle)
		agg.CountTracks = &stats.Tracks
		agg.Genres = merged
		agg.LastFoundAt = &now

		if err := a.store.UpdateAggregates(ctx, p.Source, p.EntityID, p.Seq, agg); err != nil {
			return fmt.Errorf("saving aggregates of %s: %w", p.PlaylistID, err)
		}
		p.CountTracks = stats.Tracks
		p.Genres = merged
		p.LastFoundAt = &now

		if err := a.refreshDescription(ctx, entity, p, before.Top(descriptionGenres), merged.Top(descriptionGenres)); err != nil {
			return err
		}
	} else if err := a.store.UpdateAggregates(ctx, p.Source, p.EntityID, p.Seq, agg); err != nil {
		return fmt.Errorf("saving aggregates of %s: %w", p.PlaylistID, err)
	}

	p.CountFollowers = stats.Followers
	p.LastSearchAt = &now
	return nil
}

// FlushGenres adds cycle genres to the playlist without reading live stats,
// so it can run while the catalog is refusing requests. The description is
// pushed when its top genres change.
func (a *Allocator) FlushGenres(ctx context.Context, entity *db.Entity, p *db.Playlist, cycle map[string]int, added int) error {
	if added == 0 || len(cycle) == 0 {
		return nil
	}
	now := a.now().UTC()
	before := genres.Histogram(p.Genres)
	merged, err := a.store.AddGenres(ctx, p.Source, p.EntityID, p.Seq, cycle, now)
	if err != nil {
		return fmt.Errorf("saving genres of %s: %w", p.PlaylistID, err)
	}
	p.Genres = merged
	p.LastFoundAt = &now

	return a.refreshDescription(ctx, entity, p, before.Top(descriptionGenres), genres.Histogram(merged).Top(descriptionGenres))
}

func (a *Allocator) refreshDescription(ctx context.Context, entity *db.Entity, p *db.Playlist, before, after []string) error {
	src, err := sources.Lookup(entity.Source)
	if err != nil {
		return err
	}
	old, next := src.Description(before), src.Description(after)
	if old == next {
		return nil
	}
	if err := a.catalog.SetDescription(ctx, p.PlaylistID, next); err != nil {
		return fmt.Errorf("updating description of %s: %w", p.PlaylistID, err)
	}
	return nil
}

// RemoveEverywhere removes the catalog track from every playlist of the
// entity and returns how many playlists were touched.
func (a *Allocator) RemoveEverywhere(ctx context.Context, entity *db.Entity, catalogURI string) (int, error) {
	trackID := strings.TrimPrefix(catalogURI, "spotify:track:")
	pls, err := a.store.List(ctx, entity.Source, entity.ID)
	if err != nil {
		return 0, fmt.Errorf("listing playlists: %w", err)
	}
	for _, p := range pls {
		if err := a.catalog.RemoveTracks(ctx, p.PlaylistID, trackID); err != nil {
			return 0, fmt.Errorf("removing from %s: %w", p.PlaylistID, err)
		}
	}
	return len(pls), nil
}
