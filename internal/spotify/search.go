package spotify

import (
	"context"
	"fmt"

	"github.com/zmb3/spotify/v2"
)

// SearchTrack returns the first track hit for query, or nil if there is none.
func (c *Client) SearchTrack(ctx context.Context, query string) (*Track, error) {
	res, err := call(ctx, c, "search", func(ctx context.Context) (*spotify.SearchResult, error) {
		return c.api.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(1))
	})
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	if res == nil || res.Tracks == nil || len(res.Tracks.Tracks) == 0 {
		return nil, nil
	}
	t := convertTrack(res.Tracks.Tracks[0])
	return &t, nil
}

// AlbumGenres returns the genres the catalog assigns to an album.
func (c *Client) AlbumGenres(ctx context.Context, albumID string) ([]string, error) {
	album, err := call(ctx, c, "album", func(ctx context.Context) (*spotify.FullAlbum, error) {
		return c.api.GetAlbum(ctx, spotify.ID(albumID))
	})
	if err != nil {
		return nil, fmt.Errorf("getting album %s: %w", albumID, err)
	}
	return album.Genres, nil
}

// ArtistGenres returns the genres the catalog assigns to an artist.
func (c *Client) ArtistGenres(ctx context.Context, artistID string) ([]string, error) {
	artist, err := call(ctx, c, "artist", func(ctx context.Context) (*spotify.FullArtist, error) {
		return c.api.GetArtist(ctx, spotify.ID(artistID))
	})
	if err != nil {
		return nil, fmt.Errorf("getting artist %s: %w", artistID, err)
	}
	return artist.Genres, nil
}
