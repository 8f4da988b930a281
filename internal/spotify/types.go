package spotify

import (
	"strings"

	"github.com/zmb3/spotify/v2"
)

// Artist is a catalog artist reference.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Track is a catalog track returned by search.
type Track struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	Artists    []Artist `json:"artists"`
	AlbumID    string   `json:"album_id"`
	AlbumName  string   `json:"album_name"`
	Popularity int      `json:"popularity"`
}

// Description returns "<first artist> - <name>", or the name alone when the
// track has no artists.
func (t Track) Description() string {
	if len(t.Artists) == 0 {
		return t.Name
	}
	return t.Artists[0].Name + " - " + t.Name
}

// ArtistNames returns the artist names joined by ", ".
func (t Track) ArtistNames() string {
	names := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

// PlaylistStats are the live counters of a catalog playlist.
type PlaylistStats struct {
	Tracks    int
	Followers int
}

// convertTrack converts a Spotify FullTrack to Track.
func convertTrack(ft spotify.FullTrack) Track {
	artists := make([]Artist, len(ft.Artists))
	for i, a := range ft.Artists {
		artists[i] = Artist{ID: a.ID.String(), Name: a.Name}
	}
	return Track{
		ID:         ft.ID.String(),
		URI:        string(ft.URI),
		Name:       ft.Name,
		Artists:    artists,
		AlbumID:    ft.Album.ID.String(),
		AlbumName:  ft.Album.Name,
		Popularity: int(ft.Popularity),
	}
}
