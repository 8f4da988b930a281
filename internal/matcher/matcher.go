// Package matcher resolves free-text track names to catalog tracks.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/charmbracelet/log"

	"github.com/justestif/go-playlist-mirror/internal/spotify"
)

const (
	// DefaultThreshold is the minimum similarity for a candidate to be accepted.
	DefaultThreshold = 0.8

	// DefaultMaxQueryLength is the longest query sent to the catalog.
	DefaultMaxQueryLength = 100
)

// ErrLookupFailed wraps catalog failures during a search.
var ErrLookupFailed = errors.New("catalog lookup failed")

// Searcher finds the first catalog track for a query.
type Searcher interface {
	SearchTrack(ctx context.Context, query string) (*spotify.Track, error)
}

// Scorer returns the similarity of two descriptions in [0, 1].
type Scorer func(source, candidate string) float64

// Match is an accepted catalog candidate.
type Match struct {
	Track spotify.Track
	Score float64
	Query string
}

// Matcher builds catalog queries and gates their results by similarity.
type Matcher struct {
	search      Searcher
	threshold   float64
	maxQueryLen int
	score       Scorer
	log         *log.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithThreshold sets the similarity threshold.
func WithThreshold(t float64) Option {
	return func(m *Matcher) {
		m.threshold = t
	}
}

// WithMaxQueryLength sets the query length guard.
func WithMaxQueryLength(n int) Option {
	return func(m *Matcher) {
		m.maxQueryLen = n
	}
}

// WithScorer replaces the similarity function.
func WithScorer(s Scorer) Option {
	return func(m *Matcher) {
		m.score = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Matcher) {
		m.log = l
	}
}

// New creates a Matcher over the given searcher.
func New(s Searcher, opts ...Option) *Matcher {
	m := &Matcher{
		search:      s,
		threshold:   DefaultThreshold,
		maxQueryLen: DefaultMaxQueryLength,
		score:       Similarity,
		log:         log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Similarity compares two descriptions after normalization using the
// Levenshtein ratio.
func Similarity(source, candidate string) float64 {
	a, b := Normalize(source), Normalize(candidate)
	if a == "" || b == "" {
		return 0
	}
	return strutil.Similarity(a, b, metrics.NewLevenshtein())
}

// Accept reports whether score passes the threshold. The threshold itself passes.
func Accept(score, threshold float64) bool {
	return score >= threshold
}

// BuildQuery returns the catalog query for a track and the description the
// candidate is scored against. A non-empty artist hint is used as-is;
// otherwise the name is cleaned and split on a separator, falling back to the
// raw text.
func BuildQuery(name, artistHint string) (query, description string) {
	if artistHint != "" {
		title := strings.TrimSpace(name)
		return structured(artistHint, title), artistHint + " - " + title
	}

	cleaned := Clean(name)
	if artist, title, ok := Split(cleaned); ok {
		return structured(artist, title), artist + " - " + title
	}
	return cleaned, cleaned
}

func structured(artist, title string) string {
	unquote := strings.NewReplacer(`"`, "")
	return fmt.Sprintf(`track:"%s" artist:"%s"`, unquote.Replace(title), unquote.Replace(artist))
}

// FindMatch looks the track up in the catalog. It returns nil without error
// when there is no acceptable candidate.
func (m *Matcher) FindMatch(ctx context.Context, name, artistHint string) (*Match, error) {
	query, description := BuildQuery(name, artistHint)
	if query == "" {
		return nil, nil
	}
	if n := utf8.RuneCountInString(query); n > m.maxQueryLen {
		m.log.Debug("query too long, skipping", "name", name, "length", n)
		return nil, nil
	}

	track, err := m.search.SearchTrack(ctx, query)
	if err != nil {
		if spotify.StatusCode(err) == http.StatusBadRequest {
			m.log.Debug("malformed query", "query", query, "err", err)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	if track == nil {
		m.log.Debug("no candidate", "query", query)
		return nil, nil
	}

	score := m.score(description, track.Description())
	if !Accept(score, m.threshold) {
		m.log.Debug("candidate rejected", "source", description, "candidate", track.Description(), "score", score)
		return nil, nil
	}
	return &Match{Track: *track, Score: score, Query: query}, nil
}
