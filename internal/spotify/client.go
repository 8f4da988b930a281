// Package spotify wraps the Spotify Web API for the playlist mirror.
//
// Every request is throttled by a token bucket and guarded by a circuit
// breaker. Errors are classified into ErrQuotaExceeded, ErrUnauthorized,
// ErrCircuitOpen or *APIError.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/time/rate"

	"github.com/justestif/go-playlist-mirror/internal/metrics"
)

const (
	// DefaultBaseURL is the Spotify Web API root.
	DefaultBaseURL = "https://api.spotify.com/v1/"

	// DefaultRequestsPerSecond bounds the steady request rate.
	DefaultRequestsPerSecond = 5

	breakerName = "spotify-api"
)

// BreakerSettings configures the circuit breaker.
type BreakerSettings struct {
	// MinRequests is the number of requests in a window before the breaker may trip.
	MinRequests uint32
	// FailureRatio trips the breaker once reached.
	FailureRatio float64
	// Interval resets the counts while closed.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
}

// DefaultBreakerSettings returns the settings used when none are given.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:  10,
		FailureRatio: 0.6,
		Interval:     time.Minute,
		Timeout:      2 * time.Minute,
	}
}

// Client wraps the Spotify API client with throttling and error classification.
type Client struct {
	api     *spotify.Client
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	log     *log.Logger

	userMu sync.Mutex
	userID string
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
	rps     float64
	burst   int
	breaker BreakerSettings
	logger  *log.Logger
}

// WithBaseURL points the client at a different API root, e.g. a test server.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithRateLimit sets the steady request rate and burst size.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *clientOptions) {
		o.rps = rps
		o.burst = burst
	}
}

// WithBreakerSettings overrides the circuit breaker configuration.
func WithBreakerSettings(s BreakerSettings) Option {
	return func(o *clientOptions) {
		o.breaker = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// New creates a client. httpClient must already carry authentication,
// typically the oauth2 client returned by the auth package.
func New(httpClient *http.Client, opts ...Option) *Client {
	o := clientOptions{
		baseURL: DefaultBaseURL,
		rps:     DefaultRequestsPerSecond,
		burst:   1,
		breaker: DefaultBreakerSettings(),
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		api:     spotify.New(httpClient, spotify.WithBaseURL(o.baseURL)),
		http:    httpClient,
		baseURL: o.baseURL,
		limiter: rate.NewLimiter(rate.Limit(o.rps), o.burst),
		log:     o.logger,
	}
	c.breaker = newBreaker(o.breaker, c.log)
	return c
}

func newBreaker(s BreakerSettings, logger *log.Logger) *gobreaker.CircuitBreaker[any] {
	metrics.CatalogBreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.CatalogBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// call runs fn under the rate limiter and circuit breaker and classifies its error.
func call[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := c.limiter.Wait(ctx); err != nil {
		return zero, err
	}

	res, err := c.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		err = classify(op, err)
		result := "failure"
		if errors.Is(err, ErrCircuitOpen) {
			result = "rejected"
		}
		metrics.CatalogRequests.WithLabelValues(op, result).Inc()
		return zero, err
	}
	metrics.CatalogRequests.WithLabelValues(op, "success").Inc()

	typed, ok := res.(T)
	if !ok && res != nil {
		return zero, fmt.Errorf("%s: unexpected result type %T", op, res)
	}
	return typed, nil
}

// UserID returns the current user's Spotify ID. The value is cached.
func (c *Client) UserID(ctx context.Context) (string, error) {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	if c.userID != "" {
		return c.userID, nil
	}

	user, err := call(ctx, c, "current user", func(ctx context.Context) (*spotify.PrivateUser, error) {
		return c.api.CurrentUser(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("getting current user: %w", err)
	}
	c.userID = user.ID
	return c.userID, nil
}
