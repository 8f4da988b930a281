package playlists

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/justestif/go-playlist-mirror/internal/db"
	"github.com/justestif/go-playlist-mirror/internal/genres"
	"github.com/justestif/go-playlist-mirror/internal/spotify"
)

// fakeCatalog simulates catalog playlists with a track ceiling.
type fakeCatalog struct {
	ceiling     int
	tracks      map[string][]string
	followers   map[string]int
	created     []string
	covers      map[string][]byte
	desc        map[string]string
	descCalls   int
	insertErr   error
	coverErr    error
	statsCalls  int
	removeCalls []string
	// fixedTotal, when set, is reported as every playlist's track total.
	fixedTotal int
}

func newFakeCatalog(ceiling int) *fakeCatalog {
	return &fakeCatalog{
		ceiling:   ceiling,
		tracks:    map[string][]string{},
		followers: map[string]int{},
		covers:    map[string][]byte{},
		desc:      map[string]string{},
	}
}

func (f *fakeCatalog) CreatePlaylist(_ context.Context, name, description string, _ bool) (string, error) {
	id := fmt.Sprintf("pl%d", len(f.created)+1)
	f.created = append(f.created, name)
	f.tracks[id] = nil
	f.desc[id] = description
	return id, nil
}

func (f *fakeCatalog) InsertTracks(_ context.Context, id string, uris ...string) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if len(f.tracks[id])+len(uris) > f.ceiling {
		return &spotify.APIError{Op: "add tracks", Status: http.StatusForbidden, Message: "playlist size limit reached"}
	}
	f.tracks[id] = append(slices.Clone(uris), f.tracks[id]...)
	return nil
}

func (f *fakeCatalog) RemoveTracks(_ context.Context, id string, trackIDs ...string) error {
	f.removeCalls = append(f.removeCalls, id+":"+trackIDs[0])
	return nil
}

func (f *fakeCatalog) PlaylistStats(_ context.Context, id string) (spotify.PlaylistStats, error) {
	f.statsCalls++
	if f.fixedTotal > 0 {
		return spotify.PlaylistStats{Tracks: f.fixedTotal}, nil
	}
	return spotify.PlaylistStats{Tracks: len(f.tracks[id]), Followers: f.followers[id]}, nil
}

func (f *fakeCatalog) SetCoverImage(_ context.Context, id string, r io.Reader) error {
	if f.coverErr != nil {
		return f.coverErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.covers[id] = b
	return nil
}

func (f *fakeCatalog) SetDescription(_ context.Context, id, d string) error {
	f.descCalls++
	f.desc[id] = d
	return nil
}

// memStore keeps playlist rows in memory.
type memStore struct {
	rows []db.Playlist
	aggs []db.PlaylistAggregates
}

func (m *memStore) Active(_ context.Context, source, entityID string) (*db.Playlist, error) {
	var best *db.Playlist
	for i := range m.rows {
		r := &m.rows[i]
		if r.Source == source && r.EntityID == entityID && (best == nil || r.Seq > best.Seq) {
			best = r
		}
	}
	if best == nil {
		return nil, db.ErrNotFound
	}
	p := *best
	return &p, nil
}

func (m *memStore) List(_ context.Context, source, entityID string) ([]db.Playlist, error) {
	var out []db.Playlist
	for _, r := range m.rows {
		if r.Source == source && r.EntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) Create(_ context.Context, p *db.Playlist) error {
	for _, r := range m.rows {
		if r.Source == p.Source && r.EntityID == p.EntityID && r.Seq == p.Seq {
			return errors.New("duplicate seq")
		}
	}
	m.rows = append(m.rows, *p)
	return nil
}

func (m *memStore) UpdateAggregates(_ context.Context, source, entityID string, seq int, a db.PlaylistAggregates) error {
	m.aggs = append(m.aggs, a)
	for i := range m.rows {
		r := &m.rows[i]
		if r.Source == source && r.EntityID == entityID && r.Seq == seq {
			r.CountFollowers = a.CountFollowers
			if a.CountTracks != nil {
				r.CountTracks = *a.CountTracks
			}
			if a.Genres != nil {
				r.Genres = a.Genres
			}
			return nil
		}
	}
	return db.ErrNotFound
}

func (m *memStore) AddGenres(_ context.Context, source, entityID string, seq int, g map[string]int, foundAt time.Time) (map[string]int, error) {
	for i := range m.rows {
		r := &m.rows[i]
		if r.Source == source && r.EntityID == entityID && r.Seq == seq {
			r.Genres = genres.Merged(r.Genres, g)
			r.LastFoundAt = &foundAt
			return maps.Clone(r.Genres), nil
		}
	}
	return nil, db.ErrNotFound
}

func entity() *db.Entity {
	return &db.Entity{Source: "yt", ID: "chan1", Name: "Chan One"}
}

func TestGetOrCreateActive(t *testing.T) {
	catalog := newFakeCatalog(10)
	store := &memStore{}
	a := New(catalog, store)
	ctx := context.Background()

	p, err := a.GetOrCreateActive(ctx, entity())
	if err != nil {
		t.Fatalf("GetOrCreateActive() error = %v", err)
	}
	if p.Seq != 1 || p.PlaylistID != "pl1" {
		t.Errorf("playlist = seq %d id %s, want seq 1 pl1", p.Seq, p.PlaylistID)
	}
	if !slices.Equal(catalog.created, []string{"Chan One"}) {
		t.Errorf("created = %v, want [Chan One]", catalog.created)
	}
	if got := catalog.desc["pl1"]; got != "YouTube channel. Add your own on www.mirror.fm #mirrorfm" {
		t.Errorf("description = %q", got)
	}

	again, err := a.GetOrCreateActive(ctx, entity())
	if err != nil {
		t.Fatalf("second GetOrCreateActive() error = %v", err)
	}
	if again.PlaylistID != "pl1" || len(catalog.created) != 1 {
		t.Errorf("second call created a playlist: %v", catalog.created)
	}
}

func TestGetOrCreateActiveUnknownSource(t *testing.T) {
	a := New(newFakeCatalog(10), &memStore{})
	e := entity()
	e.Source = "zz"
	if _, err := a.GetOrCreateActive(context.Background(), e); err == nil {
		t.Fatal("GetOrCreateActive() error = nil, want unknown source")
	}
}

func TestCover(t *testing.T) {
	thumb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer thumb.Close()

	tests := []struct {
		name      string
		thumbnail string
		coverErr  error
		wantCover bool
	}{
		{"uploads thumbnail", thumb.URL + "/ok.jpg", nil, true},
		{"thumbnail missing", thumb.URL + "/missing.jpg", nil, false},
		{"upload fails", thumb.URL + "/ok.jpg", errors.New("upload rejected"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := newFakeCatalog(10)
			catalog.coverErr = tt.coverErr
			a := New(catalog, &memStore{}, WithHTTPClient(thumb.Client()))

			e := entity()
			e.ThumbnailURL = &tt.thumbnail
			p, err := a.GetOrCreateActive(context.Background(), e)
			if err != nil {
				t.Fatalf("GetOrCreateActive() error = %v, cover failures must be swallowed", err)
			}
			_, got := catalog.covers[p.PlaylistID]
			if got != tt.wantCover {
				t.Errorf("cover set = %v, want %v", got, tt.wantCover)
			}

			// Insertion still works.
			if _, err := a.Push(context.Background(), e, p, "spotify:track:1"); err != nil {
				t.Errorf("Push() error = %v", err)
			}
		})
	}
}

func TestPushOverflow(t *testing.T) {
	catalog := newFakeCatalog(2)
	store := &memStore{}
	a := New(catalog, store, WithCeiling(2))
	ctx := context.Background()
	e := entity()

	active, err := a.GetOrCreateActive(ctx, e)
	if err != nil {
		t.Fatalf("GetOrCreateActive() error = %v", err)
	}

	for i := 1; i <= 3; i++ {
		active, err = a.Push(ctx, e, active, fmt.Sprintf("spotify:track:%d", i))
		if err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}

	if active.Seq != 2 {
		t.Fatalf("active seq = %d, want 2", active.Seq)
	}
	if !slices.Equal(catalog.created, []string{"Chan One", "Chan One (2)"}) {
		t.Errorf("created = %v", catalog.created)
	}
	if got := catalog.tracks[active.PlaylistID]; !slices.Equal(got, []string{"spotify:track:3"}) {
		t.Errorf("overflow tracks = %v", got)
	}
	if got := catalog.tracks["pl1"]; !slices.Equal(got, []string{"spotify:track:2", "spotify:track:1"}) {
		t.Errorf("first playlist tracks = %v, want head insertion order", got)
	}

	// Subsequent pushes target the overflow playlist without touching the old one.
	statsBefore := catalog.statsCalls
	if active, err = a.Push(ctx, e, active, "spotify:track:4"); err != nil {
		t.Fatalf("Push(4) error = %v", err)
	}
	if active.Seq != 2 || catalog.statsCalls != statsBefore {
		t.Errorf("push after overflow: seq %d, stats calls +%d", active.Seq, catalog.statsCalls-statsBefore)
	}

	stored, _ := store.Active(ctx, "yt", "chan1")
	if stored.Seq != 2 {
		t.Errorf("stored active seq = %d, want 2", stored.Seq)
	}
}

func TestPushOverflowAlsoFull(t *testing.T) {
	catalog := newFakeCatalog(0)
	catalog.fixedTotal = 5
	a := New(catalog, &memStore{}, WithCeiling(5))
	ctx := context.Background()
	e := entity()

	active, _ := a.GetOrCreateActive(ctx, e)

	_, err := a.Push(ctx, e, active, "spotify:track:1")
	if !errors.Is(err, ErrPlaylistFull) {
		t.Fatalf("Push() error = %v, want ErrPlaylistFull", err)
	}
	if len(catalog.created) != 2 {
		t.Errorf("created %d playlists, want exactly one overflow", len(catalog.created))
	}
}

func TestPushRejectedBelowCeiling(t *testing.T) {
	catalog := newFakeCatalog(10)
	a := New(catalog, &memStore{}, WithCeiling(10))
	ctx := context.Background()
	e := entity()
	active, _ := a.GetOrCreateActive(ctx, e)

	catalog.insertErr = &spotify.APIError{Op: "add tracks", Status: http.StatusBadRequest, Message: "bad uri"}
	if _, err := a.Push(ctx, e, active, "spotify:track:1"); err == nil || errors.Is(err, ErrPlaylistFull) {
		t.Fatalf("Push() error = %v, want the original error", err)
	}
	if len(catalog.created) != 1 {
		t.Errorf("created = %v, want no overflow", catalog.created)
	}

	catalog.insertErr = fmt.Errorf("wrapped: %w", spotify.ErrQuotaExceeded)
	if _, err := a.Push(ctx, e, active, "spotify:track:1"); !errors.Is(err, spotify.ErrQuotaExceeded) {
		t.Errorf("Push() error = %v, want quota error", err)
	}
}

func TestRefreshAggregates(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	e := entity()

	t.Run("nothing added only refreshes followers", func(t *testing.T) {
		catalog := newFakeCatalog(10)
		store := &memStore{}
		a := New(catalog, store, WithClock(func() time.Time { return now }))
		p, _ := a.GetOrCreateActive(ctx, e)
		catalog.followers[p.PlaylistID] = 7

		if err := a.RefreshAggregates(ctx, e, p, nil, 0); err != nil {
			t.Fatalf("RefreshAggregates() error = %v", err)
		}
		agg := store.aggs[len(store.aggs)-1]
		if agg.CountFollowers != 7 || agg.CountTracks != nil || agg.Genres != nil || agg.LastFoundAt != nil {
			t.Errorf("aggregates = %+v, want followers only", agg)
		}
		if !agg.LastSearchAt.Equal(now) {
			t.Errorf("LastSearchAt = %v, want %v", agg.LastSearchAt, now)
		}
		if catalog.descCalls != 0 {
			t.Errorf("description updated %d times, want 0", catalog.descCalls)
		}
	})

	t.Run("added merges genres and updates description", func(t *testing.T) {
		catalog := newFakeCatalog(10)
		store := &memStore{}
		a := New(catalog, store, WithClock(func() time.Time { return now }))
		p, _ := a.GetOrCreateActive(ctx, e)
		p.Genres = map[string]int{"house": 3}
		catalog.tracks[p.PlaylistID] = []string{"a", "b"}

		err := a.RefreshAggregates(ctx, e, p, map[string]int{"house": 1, "techno": 2, "disco": 1, "ambient": 1}, 2)
		if err != nil {
			t.Fatalf("RefreshAggregates() error = %v", err)
		}
		agg := store.aggs[len(store.aggs)-1]
		if agg.CountTracks == nil || *agg.CountTracks != 2 {
			t.Errorf("CountTracks = %v, want 2", agg.CountTracks)
		}
		want := map[string]int{"house": 4, "techno": 2, "disco": 1, "ambient": 1}
		if !maps.Equal(agg.Genres, want) {
			t.Errorf("Genres = %v, want %v", agg.Genres, want)
		}
		if agg.LastFoundAt == nil || !agg.LastFoundAt.Equal(now) {
			t.Errorf("LastFoundAt = %v, want %v", agg.LastFoundAt, now)
		}
		wantDesc := "YouTube channel with house, techno, ambient. Add your own on www.mirror.fm #mirrorfm"
		if got := catalog.desc[p.PlaylistID]; got != wantDesc {
			t.Errorf("description = %q, want %q", got, wantDesc)
		}

		// Same top genres again: description is left alone.
		calls := catalog.descCalls
		if err := a.RefreshAggregates(ctx, e, p, map[string]int{"house": 1}, 1); err != nil {
			t.Fatalf("RefreshAggregates() error = %v", err)
		}
		if catalog.descCalls != calls {
			t.Error("unchanged description was pushed")
		}
		if p.Genres["house"] != 5 {
			t.Errorf("in-memory genres house = %d, want 5", p.Genres["house"])
		}
	})
}

func TestFlushGenres(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	e := entity()

	catalog := newFakeCatalog(10)
	store := &memStore{}
	a := New(catalog, store, WithClock(func() time.Time { return now }))
	p, _ := a.GetOrCreateActive(ctx, e)
	store.rows[0].Genres = map[string]int{"house": 2}
	p.Genres = map[string]int{"house": 2}
	statsBefore := catalog.statsCalls

	if err := a.FlushGenres(ctx, e, p, map[string]int{"house": 1, "disco": 1}, 1); err != nil {
		t.Fatalf("FlushGenres() error = %v", err)
	}

	want := map[string]int{"house": 3, "disco": 1}
	if !maps.Equal(store.rows[0].Genres, want) {
		t.Errorf("stored genres = %v, want %v", store.rows[0].Genres, want)
	}
	if !maps.Equal(p.Genres, want) {
		t.Errorf("in-memory genres = %v, want %v", p.Genres, want)
	}
	if p.LastFoundAt == nil || !p.LastFoundAt.Equal(now) {
		t.Errorf("LastFoundAt = %v, want %v", p.LastFoundAt, now)
	}
	if catalog.statsCalls != statsBefore {
		t.Error("FlushGenres read live stats")
	}
	wantDesc := "YouTube channel with house, disco. Add your own on www.mirror.fm #mirrorfm"
	if got := catalog.desc[p.PlaylistID]; got != wantDesc {
		t.Errorf("description = %q, want %q", got, wantDesc)
	}

	if err := a.FlushGenres(ctx, e, p, nil, 0); err != nil {
		t.Errorf("FlushGenres(nothing added) error = %v", err)
	}
	if !maps.Equal(store.rows[0].Genres, want) {
		t.Errorf("genres changed without additions: %v", store.rows[0].Genres)
	}
}

func TestRemoveEverywhere(t *testing.T) {
	catalog := newFakeCatalog(1)
	store := &memStore{}
	a := New(catalog, store, WithCeiling(1))
	ctx := context.Background()
	e := entity()

	active, _ := a.GetOrCreateActive(ctx, e)
	active, _ = a.Push(ctx, e, active, "spotify:track:1")
	if _, err := a.Push(ctx, e, active, "spotify:track:2"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	n, err := a.RemoveEverywhere(ctx, e, "spotify:track:abc")
	if err != nil {
		t.Fatalf("RemoveEverywhere() error = %v", err)
	}
	if n != 2 {
		t.Errorf("touched %d playlists, want 2", n)
	}
	if !slices.Equal(catalog.removeCalls, []string{"pl1:abc", "pl2:abc"}) {
		t.Errorf("remove calls = %v", catalog.removeCalls)
	}
}
