package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

const callbackTimeout = 2 * time.Minute

var (
	// ErrMissingCredentials is returned when the client ID or secret is not set.
	ErrMissingCredentials = errors.New("missing Spotify client ID or secret")

	// ErrNoToken is returned when no token has been stored yet.
	ErrNoToken = errors.New("no stored token, run login first")

	// ErrAuthTimeout is returned when the OAuth callback is not received in time.
	ErrAuthTimeout = errors.New("authentication timed out waiting for callback")

	// ErrStateMismatch is returned when the OAuth state parameter doesn't match.
	ErrStateMismatch = errors.New("OAuth state mismatch")
)

// Scopes are the permissions the mirror needs to manage public playlists.
var Scopes = []string{
	spotifyauth.ScopePlaylistModifyPublic,
	spotifyauth.ScopePlaylistModifyPrivate,
	spotifyauth.ScopeImageUpload,
}

// Config holds the OAuth client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	// RedirectURI must use an explicit loopback IP for local logins.
	RedirectURI string
}

// Authenticator handles Spotify OAuth2 authentication.
type Authenticator struct {
	auth   *spotifyauth.Authenticator
	oauth  *oauth2.Config
	tokens *TokenStore
	out    io.Writer
	log    *log.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithOutput sets where login instructions are printed.
func WithOutput(w io.Writer) Option {
	return func(a *Authenticator) {
		a.out = w
	}
}

// WithTokenURL overrides the token endpoint used for refreshes.
func WithTokenURL(u string) Option {
	return func(a *Authenticator) {
		a.oauth.Endpoint.TokenURL = u
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Authenticator) {
		a.log = l
	}
}

// New creates an Authenticator storing tokens in tokens.
// Returns ErrMissingCredentials if the client ID or secret is empty.
func New(cfg Config, tokens *TokenStore, opts ...Option) (*Authenticator, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}

	a := &Authenticator{
		auth: spotifyauth.New(
			spotifyauth.WithClientID(cfg.ClientID),
			spotifyauth.WithClientSecret(cfg.ClientSecret),
			spotifyauth.WithRedirectURL(cfg.RedirectURI),
			spotifyauth.WithScopes(Scopes...),
		),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyauth.AuthURL,
				TokenURL: spotifyauth.TokenURL,
			},
		},
		tokens: tokens,
		out:    io.Discard,
		log:    log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Client returns an HTTP client authorized with the stored token. Refreshed
// tokens are written back to the store.
func (a *Authenticator) Client(ctx context.Context) (*http.Client, error) {
	token, err := a.tokens.Load(ctx)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrNoToken
	}

	src := &persistingSource{
		ctx:   context.WithoutCancel(ctx),
		src:   a.oauth.TokenSource(ctx, token),
		store: a.tokens,
		last:  token.AccessToken,
		onSave: func(err error) {
			if err != nil {
				a.log.Warn("failed to store refreshed token", "err", err)
				return
			}
			a.log.Debug("stored refreshed token")
		},
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, src)), nil
}

// Login runs the authorization code flow and stores the resulting token.
func (a *Authenticator) Login(ctx context.Context) error {
	state, err := generateState()
	if err != nil {
		return fmt.Errorf("generating state: %w", err)
	}

	redirect, err := url.Parse(a.oauth.RedirectURL)
	if err != nil {
		return fmt.Errorf("parsing redirect uri: %w", err)
	}

	// Channel to receive the token from callback
	tokenCh := make(chan *oauth2.Token, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		a.handleCallback(w, r, state, tokenCh, errCh)
	})

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("listening for callback: %w", err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("callback server error: %w", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	fmt.Fprintln(a.out, "\nTo authenticate, open this URL in your browser:")
	fmt.Fprintln(a.out, a.auth.AuthURL(state))
	fmt.Fprintln(a.out, "\nWaiting for authentication...")

	var token *oauth2.Token
	select {
	case token = <-tokenCh:
	case err := <-errCh:
		return err
	case <-time.After(callbackTimeout):
		return ErrAuthTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := a.tokens.Save(ctx, token); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	a.log.Info("login succeeded", "expiry", token.Expiry)
	return nil
}

// handleCallback processes the OAuth callback from Spotify.
func (a *Authenticator) handleCallback(w http.ResponseWriter, r *http.Request, expectedState string, tokenCh chan<- *oauth2.Token, errCh chan<- error) {
	if r.URL.Query().Get("state") != expectedState {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		errCh <- ErrStateMismatch
		return
	}

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		http.Error(w, "Authentication failed: "+errMsg, http.StatusBadRequest)
		errCh <- fmt.Errorf("spotify auth error: %s", errMsg)
		return
	}

	token, err := a.auth.Token(r.Context(), expectedState, r)
	if err != nil {
		http.Error(w, "Failed to get token", http.StatusInternalServerError)
		errCh <- fmt.Errorf("exchanging code for token: %w", err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Authentication successful. You can close this window.")

	tokenCh <- token
}

// generateState creates a random state string for OAuth.
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Logout removes the stored token.
func (a *Authenticator) Logout(ctx context.Context) error {
	return a.tokens.Delete(ctx)
}
