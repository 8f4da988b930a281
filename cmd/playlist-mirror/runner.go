package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/justestif/go-playlist-mirror/internal/auth"
	"github.com/justestif/go-playlist-mirror/internal/config"
	"github.com/justestif/go-playlist-mirror/internal/cursor"
	"github.com/justestif/go-playlist-mirror/internal/db"
	"github.com/justestif/go-playlist-mirror/internal/dedupe"
	"github.com/justestif/go-playlist-mirror/internal/lastfm"
	"github.com/justestif/go-playlist-mirror/internal/lock"
	"github.com/justestif/go-playlist-mirror/internal/logging"
	"github.com/justestif/go-playlist-mirror/internal/matcher"
	"github.com/justestif/go-playlist-mirror/internal/playlists"
	"github.com/justestif/go-playlist-mirror/internal/sources"
	"github.com/justestif/go-playlist-mirror/internal/spotify"
	mirrorsync "github.com/justestif/go-playlist-mirror/internal/sync"
	"github.com/justestif/go-playlist-mirror/internal/walker"
)

// Runner holds the shared state of CLI commands and provides one method
// per command action.
type Runner struct {
	logger *log.Logger
	output io.Writer
}

// NewRunner creates a Runner logging to logger and printing to output.
func NewRunner(logger *log.Logger, output io.Writer) *Runner {
	return &Runner{logger: logger, output: output}
}

// loadConfig reads the file named by --config. A missing file falls back to
// the defaults and the environment.
func (r *Runner) loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logging.SetLevel(r.logger, cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app is the set of components a command needs.
type app struct {
	cfg     *config.Config
	db      *db.DB
	cursors cursor.Store
	auth    *auth.Authenticator
	closers []func()
	catalog *spotify.Client
	locker  lock.Locker
	alloc   *playlists.Allocator
	dedupe  *dedupe.Index
	syncer  *mirrorsync.Orchestrator
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openStores connects to the database and the cursor store.
func (r *Runner) openStores(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.db = database
	a.closers = append(a.closers, database.Close)

	switch cfg.Cursors.Backend {
	case config.BackendDynamoDB:
		client, err := cursor.NewDynamoDBClient(ctx, cursor.DynamoDBConfig{
			Region:   cfg.Cursors.Region,
			Endpoint: cfg.Cursors.Endpoint,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.cursors = cursor.NewDynamoDB(client, cfg.Cursors.DynamoDBTable)
	case config.BackendMemory:
		a.cursors = cursor.NewMemory()
	default:
		a.cursors = cursor.NewPostgres(database)
	}

	a.auth, err = auth.New(auth.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RedirectURI:  cfg.Spotify.RedirectURI,
	}, auth.NewTokenStore(a.cursors), auth.WithOutput(r.output), auth.WithLogger(r.logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// open builds every component of a sync cycle.
func (r *Runner) open(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := r.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	httpClient, err := a.auth.Client(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.catalog = spotify.New(httpClient,
		spotify.WithRateLimit(cfg.Spotify.RequestsPerSecond, cfg.Spotify.Burst),
		spotify.WithBreakerSettings(spotify.BreakerSettings{
			MinRequests:  cfg.Spotify.Breaker.MinRequests,
			FailureRatio: cfg.Spotify.Breaker.FailureRatio,
			Interval:     cfg.Spotify.Breaker.Interval.Duration,
			Timeout:      cfg.Spotify.Breaker.Timeout.Duration,
		}),
		spotify.WithLogger(r.logger),
	)

	if cfg.Redis.URL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.locker = lock.NewRedis(client, cfg.Redis.LockTTL.Duration)
	} else {
		a.locker = lock.NewLocal()
	}

	srcs, err := sources.Resolve(cfg.Sync.Sources)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.alloc = playlists.New(a.catalog, a.db.Playlists(),
		playlists.WithCeiling(cfg.Sync.PlaylistCeiling),
		playlists.WithLogger(r.logger),
	)
	a.dedupe = dedupe.New(a.db.Duplicates())

	deps := mirrorsync.Deps{
		Walker: walker.New(a.db.Entities(), a.db.Tracks(), a.cursors,
			walker.WithBatchSize(cfg.Sync.BatchSize),
			walker.WithLogger(r.logger),
		),
		Matcher: matcher.New(a.catalog,
			matcher.WithThreshold(cfg.Sync.SimilarityThreshold),
			matcher.WithMaxQueryLength(cfg.Sync.MaxQueryLength),
			matcher.WithLogger(r.logger),
		),
		Duplicates: a.dedupe,
		Playlists:  a.alloc,
		Tracks:     a.db.Tracks(),
		Entities:   a.db.Entities(),
		Cursors:    a.cursors,
		Locker:     a.locker,
		Genres:     a.catalog,
	}
	if cfg.LastFM.APIKey != "" {
		deps.Fallback = lastfm.NewClient(&lastfm.Config{APIKey: cfg.LastFM.APIKey})
	}

	a.syncer = mirrorsync.New(deps,
		mirrorsync.WithSources(srcs...),
		mirrorsync.WithMaxFetchRetries(cfg.Sync.FetchRetries),
		mirrorsync.WithLogger(r.logger),
	)
	return a, nil
}

func (r *Runner) writeJSON(v any) error {
	enc := json.NewEncoder(r.output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.output, format+"\n", args...)
}
