// Package auth provides Spotify OAuth2 authentication with the token kept
// in the cursor store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/justestif/go-playlist-mirror/internal/cursor"
)

// TokenKey is the cursor name holding the OAuth token.
const TokenKey = "token"

// TokenStore persists OAuth tokens in a cursor store.
type TokenStore struct {
	store cursor.Store
}

// NewTokenStore creates a TokenStore over store.
func NewTokenStore(store cursor.Store) *TokenStore {
	return &TokenStore{store: store}
}

// Load reads the stored token.
// Returns (nil, nil) if no token has been stored.
func (s *TokenStore) Load(ctx context.Context) (*oauth2.Token, error) {
	var token oauth2.Token
	ok, err := cursor.GetJSON(ctx, s.store, TokenKey, &token)
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &token, nil
}

// Save stores the token.
func (s *TokenStore) Save(ctx context.Context, token *oauth2.Token) error {
	if token == nil {
		return errors.New("cannot save nil token")
	}
	if err := cursor.PutJSON(ctx, s.store, TokenKey, token); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}

// Delete removes the stored token.
// Returns nil if no token is stored.
func (s *TokenStore) Delete(ctx context.Context) error {
	err := s.store.Delete(ctx, TokenKey)
	if err != nil && !errors.Is(err, cursor.ErrNotFound) {
		return fmt.Errorf("removing token: %w", err)
	}
	return nil
}

// persistingSource saves every token its source hands out that differs
// from the last one saved.
type persistingSource struct {
	ctx    context.Context
	src    oauth2.TokenSource
	store  *TokenStore
	onSave func(error)

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	token, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if token.AccessToken != p.last {
		err := p.store.Save(p.ctx, token)
		if p.onSave != nil {
			p.onSave(err)
		}
		if err == nil {
			p.last = token.AccessToken
		}
	}
	return token, nil
}
