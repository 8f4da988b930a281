package lastfm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	baseURL   = "http://ws.audioscrobbler.com/2.0/"
	userAgent = "playlist-mirror/1.0"
)

// Last.fm API error codes.
const (
	errCodeInvalidAPIKey = 10
	errCodeRateLimited   = 29
)

// Sentinel errors.
var (
	// ErrRateLimited is returned when the API rate limit is exceeded after retries.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidAPIKey is returned when the API key is invalid.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Client is a Last.fm API client used as a genre fallback when the catalog
// has none for a track's artists.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	minCount   int
	limit      int
	newBackOff func() backoff.BackOff

	// In-memory cache keyed by lowercased artist name.
	cache   map[string][]string
	cacheMu sync.RWMutex
}

// NewClient creates a new Last.fm API client from the provided configuration.
func NewClient(cfg *Config) *Client {
	return &Client{
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:  baseURL,
		minCount: cfg.minCount(),
		limit:    cfg.limit(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			return backoff.WithMaxRetries(b, 3)
		},
		cache: make(map[string][]string),
	}
}

// ArtistGenres returns the artist's top tag names, most popular first.
// Tags below the configured minimum count are dropped and at most the
// configured limit is returned. Results are cached in memory.
func (c *Client) ArtistGenres(ctx context.Context, artist string) ([]string, error) {
	cacheKey := strings.ToLower(artist)

	c.cacheMu.RLock()
	if cached, ok := c.cache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	params := url.Values{
		"method":      {"artist.getTopTags"},
		"artist":      {artist},
		"autocorrect": {"1"},
		"format":      {"json"},
		"api_key":     {c.apiKey},
	}

	body, err := c.doRequest(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("fetching artist tags: %w", err)
	}

	var resp topTagsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing artist tags response: %w", err)
	}

	genres := make([]string, 0, c.limit)
	for _, tag := range resp.TopTags.Tags {
		if len(genres) == c.limit {
			break
		}
		if tag.Count < c.minCount {
			continue
		}
		genres = append(genres, strings.ToLower(tag.Name))
	}

	c.cacheMu.Lock()
	c.cache[cacheKey] = genres
	c.cacheMu.Unlock()

	return genres, nil
}

// doRequest performs an HTTP GET request, retrying with exponential backoff
// while the API reports rate limiting.
func (c *Client) doRequest(ctx context.Context, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + "?" + params.Encode()

	var body []byte
	op := func() error {
		b, err := c.doSingleRequest(ctx, reqURL)
		if errors.Is(err, ErrRateLimited) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		body = b
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != 0 {
		switch apiErr.Code {
		case errCodeRateLimited:
			return nil, ErrRateLimited
		case errCodeInvalidAPIKey:
			return nil, ErrInvalidAPIKey
		default:
			return nil, fmt.Errorf("API error %d: %s", apiErr.Code, apiErr.Message)
		}
	}

	return body, nil
}
