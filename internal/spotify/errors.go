package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/zmb3/spotify/v2"
)

// Sentinel errors.
var (
	// ErrQuotaExceeded is returned when the catalog rate limit or quota is exhausted.
	ErrQuotaExceeded = errors.New("catalog quota exceeded")

	// ErrUnauthorized is returned when the catalog rejects the credentials.
	ErrUnauthorized = errors.New("catalog authorization failed")

	// ErrCircuitOpen is returned when the circuit breaker rejects a request.
	ErrCircuitOpen = errors.New("catalog circuit breaker open")
)

// APIError is a catalog error response.
type APIError struct {
	Op      string
	Status  int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: catalog returned %d: %s", e.Op, e.Status, e.Message)
}

// Unwrap exposes ErrQuotaExceeded or ErrUnauthorized for the matching statuses.
func (e *APIError) Unwrap() error {
	return e.kind
}

// StatusCode returns the HTTP status carried by err, or 0 if there is none.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsFatal reports whether err must abort the whole sync cycle rather than a
// single track.
func IsFatal(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrCircuitOpen)
}

// classify converts errors from the Spotify library and the breaker into
// this package's taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", op, ErrCircuitOpen)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}

	var se spotify.Error
	if errors.As(err, &se) {
		return newAPIError(op, se.Status, se.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func newAPIError(op string, status int, message string) *APIError {
	e := &APIError{Op: op, Status: status, Message: message}
	switch status {
	case http.StatusTooManyRequests:
		e.kind = ErrQuotaExceeded
	case http.StatusUnauthorized:
		e.kind = ErrUnauthorized
	}
	return e
}

// countsAsFailure decides which errors trip the breaker. Client-side
// rejections such as malformed queries or full playlists do not.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	status := 0
	var se spotify.Error
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Status
	case errors.As(err, &se):
		status = se.Status
	}
	if status == 0 {
		return true
	}
	return status >= 500 || status == http.StatusTooManyRequests
}
