// Package config loads playlist-mirror settings from TOML with environment
// overrides.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/justestif/go-playlist-mirror/internal/sources"
)

//go:embed config.example.toml
var exampleConf []byte

// Cursor backends.
const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Config is the application configuration.
type Config struct {
	Spotify  SpotifyConfig  `toml:"spotify"`
	Database DatabaseConfig `toml:"database"`
	Cursors  CursorsConfig  `toml:"cursors"`
	Redis    RedisConfig    `toml:"redis"`
	Sync     SyncConfig     `toml:"sync"`
	LastFM   LastFMConfig   `toml:"lastfm"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
}

// SpotifyConfig contains Spotify API credentials and client limits.
type SpotifyConfig struct {
	ClientID          string        `toml:"client_id"`
	ClientSecret      string        `toml:"client_secret"`
	RedirectURI       string        `toml:"redirect_uri"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
	Breaker           BreakerConfig `toml:"breaker"`
}

// BreakerConfig tunes the catalog circuit breaker.
type BreakerConfig struct {
	MinRequests  uint32   `toml:"min_requests"`
	FailureRatio float64  `toml:"failure_ratio"`
	Interval     Duration `toml:"interval"`
	Timeout      Duration `toml:"timeout"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// CursorsConfig selects the cursor store.
type CursorsConfig struct {
	Backend       string `toml:"backend"`
	DynamoDBTable string `toml:"dynamodb_table"`
	Region        string `toml:"region"`
	Endpoint      string `toml:"endpoint"`
}

// RedisConfig contains the distributed lock settings.
type RedisConfig struct {
	URL     string   `toml:"url"`
	LockTTL Duration `toml:"lock_ttl"`
}

// SyncConfig tunes sync cycles.
type SyncConfig struct {
	BatchSize           int      `toml:"batch_size"`
	PlaylistCeiling     int      `toml:"playlist_ceiling"`
	SimilarityThreshold float64  `toml:"similarity_threshold"`
	MaxQueryLength      int      `toml:"max_query_length"`
	FetchRetries        int      `toml:"fetch_retries"`
	Sources             []string `toml:"sources"`
}

// LastFMConfig enables the Last.fm genre fallback.
type LastFMConfig struct {
	APIKey string `toml:"api_key"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string such as "90s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration from the embedded example file.
func Default() *Config {
	var cfg Config
	if err := toml.Unmarshal(exampleConf, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &cfg
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

// applyEnv overrides settings from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Spotify.ClientID, "SPOTIFY_ID")
	set(&c.Spotify.ClientSecret, "SPOTIFY_SECRET")
	set(&c.Database.URL, "DATABASE_URL")
	set(&c.Redis.URL, "REDIS_URL")
	set(&c.LastFM.APIKey, "LASTFM_API_KEY")
	set(&c.Cursors.Backend, "CURSOR_BACKEND")
	set(&c.Cursors.Region, "AWS_REGION")
}

// Validate reports missing credentials and out-of-range settings.
func (c *Config) Validate() error {
	var errs []error

	if c.Spotify.ClientID == "" || c.Spotify.ClientID == "your_spotify_client_id" {
		errs = append(errs, errors.New("spotify client_id is required (SPOTIFY_ID)"))
	}
	if c.Spotify.ClientSecret == "" || c.Spotify.ClientSecret == "your_spotify_client_secret" {
		errs = append(errs, errors.New("spotify client_secret is required (SPOTIFY_SECRET)"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database url is required (DATABASE_URL)"))
	}

	switch c.Cursors.Backend {
	case BackendPostgres, BackendMemory:
	case BackendDynamoDB:
		if c.Cursors.DynamoDBTable == "" {
			errs = append(errs, errors.New("cursors.dynamodb_table is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cursor backend %q", c.Cursors.Backend))
	}

	if c.Sync.BatchSize <= 0 {
		errs = append(errs, errors.New("sync.batch_size must be positive"))
	}
	if c.Sync.SimilarityThreshold <= 0 || c.Sync.SimilarityThreshold > 1 {
		errs = append(errs, errors.New("sync.similarity_threshold must be in (0, 1]"))
	}
	if len(c.Sync.Sources) == 0 {
		errs = append(errs, errors.New("sync.sources must name at least one source"))
	}
	if _, err := sources.Resolve(c.Sync.Sources); err != nil {
		errs = append(errs, fmt.Errorf("sync.sources: %w", err))
	}

	return errors.Join(errs...)
}

// CreateConfigFile writes the example configuration to path.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.WriteFile(path, exampleConf, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
