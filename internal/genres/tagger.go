// Package genres tags matched catalog tracks with genres and accumulates
// them into per-cycle histograms.
package genres

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/justestif/go-playlist-mirror/internal/spotify"
)

// Catalog looks up album and artist genres by catalog ID.
type Catalog interface {
	AlbumGenres(ctx context.Context, albumID string) ([]string, error)
	ArtistGenres(ctx context.Context, artistID string) ([]string, error)
}

// Fallback looks up genres by artist name when the catalog has none.
type Fallback interface {
	ArtistGenres(ctx context.Context, artist string) ([]string, error)
}

// Tagger resolves the genres of catalog tracks. Lookups are memoized for the
// lifetime of the Tagger, so create one per sync cycle.
type Tagger struct {
	catalog  Catalog
	fallback Fallback
	log      *log.Logger

	albums  map[string][]string
	artists map[string][]string
}

// Option configures a Tagger.
type Option func(*Tagger)

// WithFallback sets the name-based fallback used when the catalog returns
// no genres for a track.
func WithFallback(f Fallback) Option {
	return func(t *Tagger) {
		t.fallback = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(t *Tagger) {
		t.log = l
	}
}

// NewTagger creates a Tagger over the catalog.
func NewTagger(catalog Catalog, opts ...Option) *Tagger {
	t := &Tagger{
		catalog: catalog,
		log:     log.New(io.Discard),
		albums:  make(map[string][]string),
		artists: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tag returns the album genres followed by each artist's genres, in order.
// Duplicates are kept. Catalog errors propagate; fallback errors are logged
// and yield no genres.
func (t *Tagger) Tag(ctx context.Context, track spotify.Track) ([]string, error) {
	var out []string

	if track.AlbumID != "" {
		g, err := memo(ctx, t.albums, track.AlbumID, t.catalog.AlbumGenres)
		if err != nil {
			return nil, fmt.Errorf("fetching album genres: %w", err)
		}
		out = append(out, g...)
	}

	for _, a := range track.Artists {
		if a.ID == "" {
			continue
		}
		g, err := memo(ctx, t.artists, a.ID, t.catalog.ArtistGenres)
		if err != nil {
			return nil, fmt.Errorf("fetching artist genres: %w", err)
		}
		out = append(out, g...)
	}

	if len(out) == 0 && t.fallback != nil && len(track.Artists) > 0 {
		name := track.Artists[0].Name
		g, err := t.fallback.ArtistGenres(ctx, name)
		if err != nil {
			t.log.Warn("genre fallback failed", "artist", name, "err", err)
			return nil, nil
		}
		out = append(out, g...)
	}

	return out, nil
}

func memo(ctx context.Context, cache map[string][]string, id string, fetch func(context.Context, string) ([]string, error)) ([]string, error) {
	if g, ok := cache[id]; ok {
		return g, nil
	}
	g, err := fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	cache[id] = g
	return g, nil
}
