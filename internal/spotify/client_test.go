package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zmb3/spotify/v2"
)

// fakeAPI is a minimal Spotify Web API used by the client tests.
type fakeAPI struct {
	mu          sync.Mutex
	searchCalls atomic.Int32
	searchErr   int // status returned by search when non-zero
	addStatus   int // status returned by add-items when non-zero
	added       []addRequest
	removed     []string
	description string
	cover       []byte
}

type addRequest struct {
	Playlist string
	URIs     []string `json:"uris"`
	Position int      `json:"position"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"status":%d,"message":%q}}`, status, msg)
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/search", func(w http.ResponseWriter, r *http.Request) {
		f.searchCalls.Add(1)
		if f.searchErr != 0 {
			writeError(w, f.searchErr, "search failed")
			return
		}
		q := r.URL.Query().Get("q")
		if strings.Contains(q, "nothing") {
			fmt.Fprint(w, `{"tracks":{"items":[]}}`)
			return
		}
		fmt.Fprint(w, `{"tracks":{"items":[{
			"id":"cat123","uri":"spotify:track:cat123","name":"Song X","popularity":42,
			"artists":[{"id":"art1","name":"Artist A"}],
			"album":{"id":"alb1","name":"Album"}}]}}`)
	})
	mux.HandleFunc("GET /v1/albums/{id}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":%q,"genres":["house"]}`, r.PathValue("id"))
	})
	mux.HandleFunc("GET /v1/artists/{id}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":%q,"genres":["deep house","techno"]}`, r.PathValue("id"))
	})
	mux.HandleFunc("GET /v1/me", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"user1"}`)
	})
	mux.HandleFunc("POST /v1/users/{user}/playlists", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprintf(w, `{"id":"pl-%s"}`, strings.ReplaceAll(body.Name, " ", "-"))
	})
	mux.HandleFunc("POST /v1/playlists/{id}/tracks", func(w http.ResponseWriter, r *http.Request) {
		if f.addStatus != 0 {
			writeError(w, f.addStatus, "Playlist size limit reached")
			return
		}
		var req addRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		req.Playlist = r.PathValue("id")
		f.mu.Lock()
		f.added = append(f.added, req)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"snapshot_id":"s1"}`)
	})
	mux.HandleFunc("DELETE /v1/playlists/{id}/tracks", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tracks []struct {
				URI string `json:"uri"`
			} `json:"tracks"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		for _, t := range body.Tracks {
			f.removed = append(f.removed, t.URI)
		}
		f.mu.Unlock()
		fmt.Fprint(w, `{"snapshot_id":"s2"}`)
	})
	mux.HandleFunc("GET /v1/playlists/{id}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":%q,"tracks":{"total":11000},"followers":{"total":7}}`, r.PathValue("id"))
	})
	mux.HandleFunc("PUT /v1/playlists/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.description = body.Description
		f.mu.Unlock()
	})
	mux.HandleFunc("PUT /v1/playlists/{id}/images", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.cover = data
		f.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeAPI, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	opts = append([]Option{
		WithBaseURL(srv.URL + "/v1/"),
		WithRateLimit(1000, 10),
	}, opts...)
	return New(srv.Client(), opts...)
}

func TestConvertTrack(t *testing.T) {
	ft := spotify.FullTrack{
		SimpleTrack: spotify.SimpleTrack{
			ID:   "track123",
			Name: "Collab Track",
			URI:  "spotify:track:track123",
			Artists: []spotify.SimpleArtist{
				{ID: "a", Name: "Artist A"},
				{ID: "b", Name: "Artist B"},
			},
		},
		Album: spotify.SimpleAlbum{ID: "alb", Name: "Album"},
	}

	got := convertTrack(ft)
	if got.URI != "spotify:track:track123" {
		t.Errorf("URI = %q, want %q", got.URI, "spotify:track:track123")
	}
	if got.AlbumID != "alb" {
		t.Errorf("AlbumID = %q, want %q", got.AlbumID, "alb")
	}
	if got.Description() != "Artist A - Collab Track" {
		t.Errorf("Description() = %q, want %q", got.Description(), "Artist A - Collab Track")
	}
	if got.ArtistNames() != "Artist A, Artist B" {
		t.Errorf("ArtistNames() = %q, want %q", got.ArtistNames(), "Artist A, Artist B")
	}

	if d := (Track{Name: "Solo"}).Description(); d != "Solo" {
		t.Errorf("Description() without artists = %q, want %q", d, "Solo")
	}
}

func TestSearchTrack(t *testing.T) {
	f := &fakeAPI{}
	c := newTestClient(t, f)
	ctx := context.Background()

	got, err := c.SearchTrack(ctx, `track:"Song X" artist:"Artist A"`)
	if err != nil {
		t.Fatalf("SearchTrack() error = %v", err)
	}
	if got == nil || got.URI != "spotify:track:cat123" || got.AlbumID != "alb1" {
		t.Fatalf("SearchTrack() = %+v", got)
	}

	got, err = c.SearchTrack(ctx, "nothing here")
	if err != nil || got != nil {
		t.Errorf("SearchTrack(no hits) = %+v, %v, want nil, nil", got, err)
	}
}

func TestGenres(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})
	ctx := context.Background()

	album, err := c.AlbumGenres(ctx, "alb1")
	if err != nil || len(album) != 1 || album[0] != "house" {
		t.Errorf("AlbumGenres() = %v, %v", album, err)
	}
	artist, err := c.ArtistGenres(ctx, "art1")
	if err != nil || len(artist) != 2 {
		t.Errorf("ArtistGenres() = %v, %v", artist, err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantIs   error
		wantCode int
		fatal    bool
	}{
		{name: "quota", status: http.StatusTooManyRequests, wantIs: ErrQuotaExceeded, wantCode: 429, fatal: true},
		{name: "unauthorized", status: http.StatusUnauthorized, wantIs: ErrUnauthorized, wantCode: 401, fatal: true},
		{name: "malformed", status: http.StatusBadRequest, wantCode: 400},
		{name: "server", status: http.StatusBadGateway, wantCode: 502},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeAPI{searchErr: tt.status})
			_, err := c.SearchTrack(context.Background(), "anything")
			if err == nil {
				t.Fatal("SearchTrack() error = nil")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
			if code := StatusCode(err); code != tt.wantCode {
				t.Errorf("StatusCode() = %d, want %d", code, tt.wantCode)
			}
			if IsFatal(err) != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", IsFatal(err), tt.fatal)
			}
		})
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	f := &fakeAPI{searchErr: http.StatusInternalServerError}
	c := newTestClient(t, f, WithBreakerSettings(BreakerSettings{
		MinRequests:  2,
		FailureRatio: 0.5,
		Interval:     time.Minute,
		Timeout:      time.Minute,
	}))
	ctx := context.Background()

	for range 2 {
		if _, err := c.SearchTrack(ctx, "q"); errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("breaker open too early: %v", err)
		}
	}

	_, err := c.SearchTrack(ctx, "q")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if !IsFatal(err) {
		t.Error("IsFatal(ErrCircuitOpen) = false")
	}
	if n := f.searchCalls.Load(); n != 2 {
		t.Errorf("server saw %d searches, want 2", n)
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	f := &fakeAPI{searchErr: http.StatusBadRequest}
	c := newTestClient(t, f, WithBreakerSettings(BreakerSettings{
		MinRequests:  1,
		FailureRatio: 0.1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
	}))

	for range 3 {
		_, err := c.SearchTrack(context.Background(), "q")
		if errors.Is(err, ErrCircuitOpen) {
			t.Fatal("400 responses opened the breaker")
		}
	}
}

func TestPlaylistOperations(t *testing.T) {
	f := &fakeAPI{}
	c := newTestClient(t, f)
	ctx := context.Background()

	id, err := c.CreatePlaylist(ctx, "Channel One", "desc", true)
	if err != nil {
		t.Fatalf("CreatePlaylist() error = %v", err)
	}
	if id != "pl-Channel-One" {
		t.Errorf("CreatePlaylist() = %q, want %q", id, "pl-Channel-One")
	}

	uris := make([]string, 150)
	for i := range uris {
		uris[i] = fmt.Sprintf("spotify:track:%d", i)
	}
	if err := c.InsertTracks(ctx, id, uris...); err != nil {
		t.Fatalf("InsertTracks() error = %v", err)
	}
	if len(f.added) != 2 {
		t.Fatalf("add requests = %d, want 2", len(f.added))
	}
	if f.added[0].Position != 0 || len(f.added[0].URIs) != 100 {
		t.Errorf("first batch = position %d, %d uris", f.added[0].Position, len(f.added[0].URIs))
	}
	if f.added[1].Position != 100 || len(f.added[1].URIs) != 50 {
		t.Errorf("second batch = position %d, %d uris", f.added[1].Position, len(f.added[1].URIs))
	}

	stats, err := c.PlaylistStats(ctx, id)
	if err != nil {
		t.Fatalf("PlaylistStats() error = %v", err)
	}
	if stats.Tracks != 11000 || stats.Followers != 7 {
		t.Errorf("PlaylistStats() = %+v", stats)
	}

	if err := c.SetDescription(ctx, id, "YouTube channel. Add your own"); err != nil {
		t.Fatalf("SetDescription() error = %v", err)
	}
	if f.description != "YouTube channel. Add your own" {
		t.Errorf("description = %q", f.description)
	}

	if err := c.SetCoverImage(ctx, id, strings.NewReader("jpegbytes")); err != nil {
		t.Fatalf("SetCoverImage() error = %v", err)
	}
	if len(f.cover) == 0 {
		t.Error("cover was not uploaded")
	}

	if err := c.RemoveTracks(ctx, id, "cat123"); err != nil {
		t.Fatalf("RemoveTracks() error = %v", err)
	}
	if len(f.removed) != 1 || !strings.HasSuffix(f.removed[0], "cat123") {
		t.Errorf("removed = %v", f.removed)
	}
}

func TestInsertTracksCapacityError(t *testing.T) {
	f := &fakeAPI{addStatus: http.StatusForbidden}
	c := newTestClient(t, f)

	err := c.InsertTracks(context.Background(), "pl1", "spotify:track:1")
	if err == nil {
		t.Fatal("InsertTracks() error = nil")
	}
	if code := StatusCode(err); code != http.StatusForbidden {
		t.Errorf("StatusCode() = %d, want 403", code)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Message, "limit") {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestUserIDCached(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})
	ctx := context.Background()
	for range 2 {
		id, err := c.UserID(ctx)
		if err != nil || id != "user1" {
			t.Fatalf("UserID() = %q, %v", id, err)
		}
	}
}
