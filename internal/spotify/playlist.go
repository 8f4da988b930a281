package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zmb3/spotify/v2"
)

const maxTracksPerRequest = 100

// CreatePlaylist creates a new playlist for the current user.
// Returns the playlist ID.
func (c *Client) CreatePlaylist(ctx context.Context, name, description string, public bool) (string, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return "", err
	}

	playlist, err := call(ctx, c, "create playlist", func(ctx context.Context) (*spotify.FullPlaylist, error) {
		return c.api.CreatePlaylistForUser(ctx, userID, name, description, public, false)
	})
	if err != nil {
		return "", fmt.Errorf("creating playlist: %w", err)
	}

	return playlist.ID.String(), nil
}

// InsertTracks inserts tracks at position 0 of a playlist, keeping their
// relative order. Spotify allows max 100 tracks per request.
func (c *Client) InsertTracks(ctx context.Context, playlistID string, uris ...string) error {
	for i := 0; i < len(uris); i += maxTracksPerRequest {
		end := min(i+maxTracksPerRequest, len(uris))
		batch := uris[i:end]

		_, err := call(ctx, c, "add tracks", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.postTracks(ctx, playlistID, batch, i)
		})
		if err != nil {
			return fmt.Errorf("adding tracks (batch %d-%d): %w", i+1, end, err)
		}
	}
	return nil
}

// postTracks calls the add-items endpoint directly because the library's
// AddTracksToPlaylist has no position parameter.
func (c *Client) postTracks(ctx context.Context, playlistID string, uris []string, position int) error {
	body, err := json.Marshal(struct {
		URIs     []string `json:"uris"`
		Position int      `json:"position"`
	}{uris, position})
	if err != nil {
		return err
	}

	endpoint := strings.TrimSuffix(c.baseURL, "/") + "/playlists/" + playlistID + "/tracks"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// decodeError turns a Spotify error body into a spotify.Error.
func decodeError(resp *http.Response) error {
	var e struct {
		Error spotify.Error `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &e); err != nil || e.Error.Message == "" {
		e.Error.Message = strings.TrimSpace(string(data))
		if e.Error.Message == "" {
			e.Error.Message = resp.Status
		}
	}
	e.Error.Status = resp.StatusCode
	return e.Error
}

// RemoveTracks removes every occurrence of the tracks from a playlist.
func (c *Client) RemoveTracks(ctx context.Context, playlistID string, trackIDs ...string) error {
	ids := make([]spotify.ID, len(trackIDs))
	for i, id := range trackIDs {
		ids[i] = spotify.ID(id)
	}

	for i := 0; i < len(ids); i += maxTracksPerRequest {
		end := min(i+maxTracksPerRequest, len(ids))
		batch := ids[i:end]

		_, err := call(ctx, c, "remove tracks", func(ctx context.Context) (string, error) {
			return c.api.RemoveTracksFromPlaylist(ctx, spotify.ID(playlistID), batch...)
		})
		if err != nil {
			return fmt.Errorf("removing tracks (batch %d-%d): %w", i+1, end, err)
		}
	}
	return nil
}

// PlaylistStats returns the live track total and follower count.
func (c *Client) PlaylistStats(ctx context.Context, playlistID string) (PlaylistStats, error) {
	pl, err := call(ctx, c, "get playlist", func(ctx context.Context) (*spotify.FullPlaylist, error) {
		return c.api.GetPlaylist(ctx, spotify.ID(playlistID))
	})
	if err != nil {
		return PlaylistStats{}, fmt.Errorf("getting playlist %s: %w", playlistID, err)
	}
	return PlaylistStats{
		Tracks:    int(pl.Tracks.Total),
		Followers: int(pl.Followers.Count),
	}, nil
}

// SetCoverImage uploads a JPEG image as the playlist cover.
func (c *Client) SetCoverImage(ctx context.Context, playlistID string, jpeg io.Reader) error {
	_, err := call(ctx, c, "set cover", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.api.SetPlaylistImage(ctx, spotify.ID(playlistID), jpeg)
	})
	if err != nil {
		return fmt.Errorf("setting cover of %s: %w", playlistID, err)
	}
	return nil
}

// SetDescription replaces the playlist description.
func (c *Client) SetDescription(ctx context.Context, playlistID, description string) error {
	_, err := call(ctx, c, "set description", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.api.ChangePlaylistDescription(ctx, spotify.ID(playlistID), description)
	})
	if err != nil {
		return fmt.Errorf("setting description of %s: %w", playlistID, err)
	}
	return nil
}
