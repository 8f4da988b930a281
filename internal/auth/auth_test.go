package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/justestif/go-playlist-mirror/internal/cursor"
)

func testConfig() Config {
	return Config{
		ClientID:     "id",
		ClientSecret: "secret",
		RedirectURI:  "http://127.0.0.1:8080/callback",
	}
}

func TestTokenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("load returns nil when absent", func(t *testing.T) {
		store := NewTokenStore(cursor.NewMemory())
		token, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if token != nil {
			t.Errorf("Load() = %v, want nil", token)
		}
	})

	t.Run("save and load", func(t *testing.T) {
		store := NewTokenStore(cursor.NewMemory())
		want := &oauth2.Token{
			AccessToken:  "access",
			RefreshToken: "refresh",
			TokenType:    "Bearer",
			Expiry:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := store.Save(ctx, want); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
			t.Errorf("Load() = %+v, want %+v", got, want)
		}
		if !got.Expiry.Equal(want.Expiry) {
			t.Errorf("Expiry = %v, want %v", got.Expiry, want.Expiry)
		}
	})

	t.Run("save nil", func(t *testing.T) {
		store := NewTokenStore(cursor.NewMemory())
		if err := store.Save(ctx, nil); err == nil {
			t.Error("Save(nil) expected error")
		}
	})

	t.Run("garbage is an error", func(t *testing.T) {
		mem := cursor.NewMemory()
		if err := mem.Put(ctx, TokenKey, "not json"); err != nil {
			t.Fatal(err)
		}
		if _, err := NewTokenStore(mem).Load(ctx); err == nil {
			t.Error("Load() expected error for invalid JSON")
		}
	})

	t.Run("delete", func(t *testing.T) {
		store := NewTokenStore(cursor.NewMemory())
		if err := store.Delete(ctx); err != nil {
			t.Errorf("Delete() on empty store error = %v", err)
		}
		if err := store.Save(ctx, &oauth2.Token{AccessToken: "a"}); err != nil {
			t.Fatal(err)
		}
		if err := store.Delete(ctx); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		token, err := store.Load(ctx)
		if err != nil || token != nil {
			t.Errorf("Load() after Delete = %v, %v", token, err)
		}
	})
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"valid", testConfig(), nil},
		{"missing id", Config{ClientSecret: "secret"}, ErrMissingCredentials},
		{"missing secret", Config{ClientID: "id"}, ErrMissingCredentials},
		{"missing both", Config{}, ErrMissingCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, NewTokenStore(cursor.NewMemory()))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateState(t *testing.T) {
	s1, err := generateState()
	if err != nil {
		t.Fatalf("generateState() error = %v", err)
	}
	if len(s1) != 32 {
		t.Errorf("len = %d, want 32", len(s1))
	}
	s2, _ := generateState()
	if s1 == s2 {
		t.Error("generateState() returned the same value twice")
	}
}

func TestHandleCallback(t *testing.T) {
	a, err := New(testConfig(), NewTokenStore(cursor.NewMemory()))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		query   string
		wantErr error
	}{
		{"state mismatch", "?state=other&code=abc", ErrStateMismatch},
		{"denied", "?state=expected&error=access_denied", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenCh := make(chan *oauth2.Token, 1)
			errCh := make(chan error, 1)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/callback"+tt.query, nil)

			a.handleCallback(rec, req, "expected", tokenCh, errCh)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			select {
			case err := <-errCh:
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				if tt.wantErr == nil && !strings.Contains(err.Error(), "access_denied") {
					t.Errorf("err = %v, want access_denied", err)
				}
			default:
				t.Fatal("no error sent")
			}
			if len(tokenCh) != 0 {
				t.Error("unexpected token sent")
			}
		})
	}
}

func TestClientWithoutToken(t *testing.T) {
	a, err := New(testConfig(), NewTokenStore(cursor.NewMemory()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Client(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("Client() error = %v, want ErrNoToken", err)
	}
}

func TestClientRefreshStoresToken(t *testing.T) {
	ctx := context.Background()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new",
			"refresh_token": "refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer tokenServer.Close()

	var gotAuth string
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer apiServer.Close()

	tokens := NewTokenStore(cursor.NewMemory())
	expired := &oauth2.Token{
		AccessToken:  "old",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	}
	if err := tokens.Save(ctx, expired); err != nil {
		t.Fatal(err)
	}

	a, err := New(testConfig(), tokens, WithTokenURL(tokenServer.URL))
	if err != nil {
		t.Fatal(err)
	}
	client, err := a.Client(ctx)
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}

	resp, err := client.Get(apiServer.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer new" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer new")
	}
	stored, err := tokens.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stored.AccessToken != "new" {
		t.Errorf("stored AccessToken = %q, want %q", stored.AccessToken, "new")
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokenStore(cursor.NewMemory())
	if err := tokens.Save(ctx, &oauth2.Token{AccessToken: "a"}); err != nil {
		t.Fatal(err)
	}
	a, err := New(testConfig(), tokens)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := a.Client(ctx); !errors.Is(err, ErrNoToken) {
		t.Errorf("Client() after Logout error = %v, want ErrNoToken", err)
	}
}
