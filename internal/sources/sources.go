// Package sources defines the closed set of source categories the mirror
// reads from.
package sources

import (
	"errors"
	"fmt"
	"strings"

	"github.com/justestif/go-playlist-mirror/internal/db"
)

// ErrHostNotFound is returned when a name maps to no known source.
var ErrHostNotFound = errors.New("unknown source")

const descriptionSuffix = ". Add your own on www.mirror.fm #mirrorfm"

// Source is one category of track publisher.
type Source interface {
	// Name is the short identifier stored with entities ("yt", "dg").
	Name() string
	// EntityCursor is the cursor name holding the last exhausted entity ordinal.
	EntityCursor() string
	// TrackCursor is the cursor name holding the in-progress track position.
	TrackCursor() string
	// Query returns the text to search for and an optional artist hint.
	Query(t db.Track) (name, artistHint string)
	// Description renders a playlist description listing the given genres.
	Description(genres []string) string
}

type base struct {
	name  string
	label string
}

func (b base) Name() string { return b.name }

func (b base) EntityCursor() string {
	return fmt.Sprintf("exclusive_start_%s_entity_key", b.name)
}

func (b base) TrackCursor() string {
	return fmt.Sprintf("exclusive_start_%s_track_key", b.name)
}

func (b base) Description(genres []string) string {
	if len(genres) == 0 {
		return b.label + descriptionSuffix
	}
	return b.label + " with " + strings.Join(genres, ", ") + descriptionSuffix
}

// Channel is a YouTube channel. Its tracks are raw video titles.
type Channel struct{ base }

// Query returns the raw title; the matcher splits it.
func (Channel) Query(t db.Track) (string, string) {
	return t.Name, ""
}

// Label is a Discogs label. Its tracks carry a structured artist and title.
type Label struct{ base }

// Query prefers the structured title and artist, falling back to the raw name.
func (Label) Query(t db.Track) (string, string) {
	if t.Artist == "" {
		return t.Name, ""
	}
	title := t.Title
	if title == "" {
		title = t.Name
	}
	return title, t.Artist
}

var (
	channel = Channel{base{name: "yt", label: "YouTube channel"}}
	label   = Label{base{name: "dg", label: "Discogs label"}}
)

// All returns every known source in rotation order.
func All() []Source {
	return []Source{channel, label}
}

// Lookup returns the source with the given name.
func Lookup(name string) (Source, error) {
	for _, s := range All() {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrHostNotFound, name)
}

// Resolve looks up each name, preserving order.
func Resolve(names []string) ([]Source, error) {
	out := make([]Source, 0, len(names))
	for _, n := range names {
		s, err := Lookup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
