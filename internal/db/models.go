package db

import (
	"encoding/json"
	"time"
)

// Entity is a source of tracks: a YouTube channel or a Discogs label.
type Entity struct {
	Source       string
	ID           string
	Name         string
	Ordinal      int64
	ThumbnailURL *string    // nullable
	LastUploadAt *time.Time // nullable
	TrackCount   int
	FoundCount   int
	Genres       map[string]int
	UpdatedAt    time.Time
}

// Track is one content item published by an entity.
// A track without a CatalogURI is unresolved.
type Track struct {
	Source          string
	EntityID        string
	Composite       string
	SourceTrackID   string
	Name            string
	Artist          string // empty for raw-text sources
	Title           string // empty for raw-text sources
	PublishedAt     time.Time
	CatalogURI      *string // nullable
	CatalogPlaylist *string // nullable
	MatchInfo       json.RawMessage
	Genres          []string
	FoundAt         *time.Time // nullable
}

// Matched reports whether the track already resolved to a catalog entry.
func (t *Track) Matched() bool {
	return t.CatalogURI != nil && *t.CatalogURI != ""
}

// TrackMatch holds the fields written when a track is resolved.
type TrackMatch struct {
	CatalogURI string
	PlaylistID string
	MatchInfo  json.RawMessage
	Genres     []string
	FoundAt    time.Time
}

// Playlist is one sequence-numbered destination playlist of an entity.
type Playlist struct {
	Source         string
	EntityID       string
	Seq            int
	PlaylistID     string
	CountTracks    int
	CountFollowers int
	Genres         map[string]int
	LastSearchAt   *time.Time // nullable
	LastFoundAt    *time.Time // nullable
}

// PlaylistAggregates are the fields refreshed on the active playlist after a cycle.
// Nil pointers leave the stored value untouched.
type PlaylistAggregates struct {
	CountFollowers int
	CountTracks    *int
	Genres         map[string]int
	LastSearchAt   time.Time
	LastFoundAt    *time.Time
}

// Duplicate records that a catalog track was already routed to an entity's playlists.
type Duplicate struct {
	Source     string
	EntityID   string
	CatalogURI string
	PlaylistID string
	CreatedAt  time.Time
}
