package auth_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/JaimeStill/steward/pkg/auth"
)

func TestResolveActor(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		claimed  string
		want     string
		wantErr  error
	}{
		{"caller only", "alice", "", "alice", nil},
		{"matching claim", "alice", "alice", "alice", nil},
		{"mismatched claim", "alice", "bob", "", auth.ErrActorMismatch},
		{"trusted claim", "", "carol", "carol", nil},
		{"nobody", "", "", "", auth.ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.identity != "" {
				ctx = auth.WithUsername(ctx, tt.identity)
			}

			got, err := auth.ResolveActor(ctx, tt.claimed)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error: got %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("actor: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddlewareHeaderMode(t *testing.T) {
	cfg := &auth.Config{}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	a, err := auth.New(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var seen string
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.Username(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Steward-Actor", " alice ")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "alice" {
		t.Errorf("username: got %q, want alice", seen)
	}
}

func TestMiddlewareRejectsMissingBearer(t *testing.T) {
	cfg := &auth.Config{UsernameClaim: "preferred_username"}
	verifier := oidc.NewVerifier(
		"https://issuer.example",
		&oidc.StaticKeySet{},
		&oidc.Config{ClientID: "steward"},
	)

	a := auth.NewWithVerifier(verifier, cfg, slog.Default())

	called := false
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/decisions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status: got %d, want 401", rec.Code)
			}
		})
	}

	if called {
		t.Error("next handler should not run without a valid token")
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := auth.Config{Enabled: true}
	err := cfg.Finalize(nil)
	if err == nil || !strings.Contains(err.Error(), "issuer required") {
		t.Fatalf("got %v, want issuer required", err)
	}

	cfg = auth.Config{Enabled: true, Issuer: "https://login.example"}
	err = cfg.Finalize(nil)
	if err == nil || !strings.Contains(err.Error(), "client_id required") {
		t.Fatalf("got %v, want client_id required", err)
	}
}
