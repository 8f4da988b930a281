package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/justestif/go-playlist-mirror/internal/config"
	"github.com/justestif/go-playlist-mirror/internal/db"
	"github.com/justestif/go-playlist-mirror/internal/sources"
	"github.com/justestif/go-playlist-mirror/internal/walker"
	"github.com/justestif/go-playlist-mirror/internal/web"
)

// Init writes the example configuration to the --config path.
func (r *Runner) Init(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := config.CreateConfigFile(path); err != nil {
		return err
	}
	r.printf("Created config file at %s", path)
	return nil
}

// Migrate applies or reverts database migrations.
func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer database.Close()

	if cmd.Bool("down") {
		if err := database.Rollback(ctx); err != nil {
			return err
		}
		r.logger.Info("reverted latest migration")
		return nil
	}
	if err := database.Migrate(ctx); err != nil {
		return err
	}
	r.logger.Info("database is up to date")
	return nil
}

// Login runs the OAuth flow and stores the token.
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := r.openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.auth.Login(ctx); err != nil {
		return err
	}
	r.printf("Logged in.")
	return nil
}

// Logout removes the stored token.
func (r *Runner) Logout(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := r.openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.auth.Logout(ctx)
}

// Register inserts an entity and runs an entity-signaled cycle for it.
func (r *Runner) Register(ctx context.Context, cmd *cli.Command) error {
	src, err := sources.Lookup(cmd.StringArg("source"))
	if err != nil {
		return err
	}
	id, name := cmd.StringArg("id"), cmd.StringArg("name")
	if id == "" || name == "" {
		return errors.New("entity id and name are required")
	}

	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	e := &db.Entity{Source: src.Name(), ID: id, Name: name}
	if thumb := cmd.String("thumbnail"); thumb != "" {
		e.ThumbnailURL = &thumb
	}
	if err := a.db.Entities().Insert(ctx, e); err != nil {
		return err
	}
	r.logger.Info("registered entity", "source", e.Source, "entity", e.ID, "ordinal", e.Ordinal)

	if cmd.Bool("no-sync") {
		return nil
	}
	result, err := a.syncer.Run(ctx, walker.EntitySignaled{Source: e.Source, EntityID: e.ID})
	if result != nil {
		_ = r.writeJSON(result)
	}
	return err
}

// importedTrack is the file format read by Import.
type importedTrack struct {
	Source        string    `json:"source"`
	EntityID      string    `json:"entity_id"`
	Composite     string    `json:"composite"`
	SourceTrackID string    `json:"source_track_id"`
	Name          string    `json:"name"`
	Artist        string    `json:"artist,omitempty"`
	Title         string    `json:"title,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
}

// Import inserts the tracks listed in a JSON file.
func (r *Runner) Import(ctx context.Context, cmd *cli.Command) error {
	data, err := os.ReadFile(cmd.String("file"))
	if err != nil {
		return fmt.Errorf("reading tracks file: %w", err)
	}
	var tracks []importedTrack
	if err := json.Unmarshal(data, &tracks); err != nil {
		return fmt.Errorf("parsing tracks file: %w", err)
	}

	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer database.Close()

	repo := database.Tracks()
	for i, t := range tracks {
		if _, err := sources.Lookup(t.Source); err != nil {
			return fmt.Errorf("track %d: %w", i, err)
		}
		err := repo.Insert(ctx, &db.Track{
			Source:        t.Source,
			EntityID:      t.EntityID,
			Composite:     t.Composite,
			SourceTrackID: t.SourceTrackID,
			Name:          t.Name,
			Artist:        t.Artist,
			Title:         t.Title,
			PublishedAt:   t.PublishedAt,
		})
		if err != nil {
			return fmt.Errorf("track %d (%s): %w", i, t.Composite, err)
		}
	}
	r.printf("Imported %d tracks", len(tracks))
	return nil
}

// Sync runs one cycle, scheduled unless --entity is given.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	var trigger walker.Trigger = walker.Scheduled{}
	if entity := cmd.String("entity"); entity != "" {
		if cmd.String("source") == "" {
			return errors.New("--source is required with --entity")
		}
		trigger = walker.EntitySignaled{Source: cmd.String("source"), EntityID: entity}
	}

	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.syncer.Run(ctx, trigger)
	if result != nil {
		_ = r.writeJSON(result)
	}
	return err
}

// Serve runs the HTTP trigger server until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if v := cmd.String("addr"); v != "" {
		addr = v
	}
	server := web.NewServer(a.syncer, web.ServerConfig{
		Addr:   addr,
		Health: a.db.Pool().Ping,
		Logger: r.logger,
	})
	return server.Run(ctx)
}

// Prune removes a catalog track from every playlist of an entity, forgets
// its duplicate record and deletes the source tracks matched to it.
func (r *Runner) Prune(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entity, err := a.db.Entities().Get(ctx, cmd.StringArg("source"), cmd.StringArg("id"))
	if err != nil {
		return err
	}
	uri := cmd.StringArg("uri")

	n, err := a.alloc.RemoveEverywhere(ctx, entity, uri)
	if err != nil {
		return err
	}
	if err := a.dedupe.Forget(ctx, entity.Source, entity.ID, uri); err != nil {
		return err
	}
	deleted, err := a.db.Tracks().DeleteByCatalogURI(ctx, entity.Source, entity.ID, uri)
	if err != nil {
		return err
	}
	r.printf("Removed %s from %d playlists and deleted %d tracks", uri, n, deleted)
	return nil
}

type entityStats struct {
	Source     string         `json:"source"`
	EntityID   string         `json:"entity_id"`
	Name       string         `json:"name"`
	FoundCount int            `json:"found_count"`
	Duplicates int            `json:"duplicates"`
	Genres     map[string]int `json:"genres,omitempty"`
	Playlists  []db.Playlist  `json:"playlists"`
}

// Stats prints the playlists and counters of an entity.
func (r *Runner) Stats(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer database.Close()

	source, id := cmd.StringArg("source"), cmd.StringArg("id")
	entity, err := database.Entities().Get(ctx, source, id)
	if err != nil {
		return err
	}
	lists, err := database.Playlists().List(ctx, source, id)
	if err != nil {
		return err
	}
	dups, err := database.Duplicates().Count(ctx, source, id)
	if err != nil {
		return err
	}

	stats := entityStats{
		Source:     entity.Source,
		EntityID:   entity.ID,
		Name:       entity.Name,
		FoundCount: entity.FoundCount,
		Duplicates: dups,
		Genres:     entity.Genres,
		Playlists:  lists,
	}
	if cmd.Bool("json") {
		return r.writeJSON(stats)
	}

	r.printf("%s (%s:%s)", stats.Name, stats.Source, stats.EntityID)
	r.printf("  found: %d  duplicates: %d", stats.FoundCount, stats.Duplicates)
	for _, p := range lists {
		r.printf("  #%d %s  tracks: %d  followers: %d", p.Seq, p.PlaylistID, p.CountTracks, p.CountFollowers)
	}
	return nil
}
