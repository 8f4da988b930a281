// Package lastfm provides Last.fm artist tags as a genre fallback.
package lastfm

import "errors"

// ErrMissingAPIKey is returned by Validate when no API key is configured.
var ErrMissingAPIKey = errors.New("missing Last.fm API key")

const (
	defaultMinCount = 10
	defaultLimit    = 5
)

// Config holds Last.fm API configuration.
type Config struct {
	APIKey string
	// MinCount drops tags less popular than this. Zero selects 10.
	MinCount int
	// Limit caps the number of tags returned. Zero selects 5.
	Limit int
}

// Validate reports ErrMissingAPIKey when the key is empty.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func (c *Config) minCount() int {
	if c.MinCount > 0 {
		return c.MinCount
	}
	return defaultMinCount
}

func (c *Config) limit() int {
	if c.Limit > 0 {
		return c.Limit
	}
	return defaultLimit
}
