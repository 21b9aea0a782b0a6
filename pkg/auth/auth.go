// Package auth resolves the acting user for HTTP requests, either from a
// verified OIDC bearer token or from a gateway-supplied header.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

var (
	// ErrUnauthenticated indicates no caller identity could be established.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrActorMismatch indicates a request claims to act as someone other than the caller.
	ErrActorMismatch = errors.New("actor does not match authenticated user")
)

type contextKey struct{}

// WithUsername returns a context carrying the authenticated username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, contextKey{}, username)
}

// Username returns the authenticated username stored on ctx.
func Username(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(contextKey{}).(string)
	return v, ok && v != ""
}

// ResolveActor reconciles an actor named in a request body with the caller identity.
// An empty claim resolves to the caller. Without a caller identity the claim is trusted.
func ResolveActor(ctx context.Context, claimed string) (string, error) {
	username, ok := Username(ctx)
	if !ok {
		if claimed == "" {
			return "", ErrUnauthenticated
		}
		return claimed, nil
	}
	if claimed != "" && claimed != username {
		return "", ErrActorMismatch
	}
	return username, nil
}

// Authenticator establishes request identity.
type Authenticator struct {
	verifier *oidc.IDTokenVerifier
	claim    string
	header   string
	logger   *slog.Logger
}

// New creates an Authenticator. When OIDC is enabled the issuer discovery
// document is fetched immediately so misconfiguration fails at startup.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Authenticator, error) {
	a := &Authenticator{
		claim:  cfg.UsernameClaim,
		header: cfg.ActorHeader,
		logger: logger.With("system", "auth"),
	}

	if !cfg.Enabled {
		a.logger.Warn("oidc disabled, trusting actor header", "header", cfg.ActorHeader)
		return a, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc issuer %s: %w", cfg.Issuer, err)
	}

	a.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return a, nil
}

// NewWithVerifier creates an Authenticator around an existing token verifier.
func NewWithVerifier(verifier *oidc.IDTokenVerifier, cfg *Config, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		claim:    cfg.UsernameClaim,
		header:   cfg.ActorHeader,
		logger:   logger.With("system", "auth"),
	}
}

// Middleware stores the caller identity on the request context. With OIDC
// enabled, requests lacking a valid bearer token are rejected with 401.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.verifier == nil {
				if actor := strings.TrimSpace(r.Header.Get(a.header)); actor != "" {
					r = r.WithContext(WithUsername(r.Context(), actor))
				}
				next.ServeHTTP(w, r)
				return
			}

			username, err := a.verify(r)
			if err != nil {
				a.logger.Warn("bearer token rejected", "uri", r.URL.RequestURI(), "error", err)
				http.Error(w, ErrUnauthenticated.Error(), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), username)))
		})
	}
}

func (a *Authenticator) verify(r *http.Request) (string, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return "", ErrUnauthenticated
	}

	token, err := a.verifier.Verify(r.Context(), raw)
	if err != nil {
		return "", err
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return "", fmt.Errorf("decode claims: %w", err)
	}

	username, _ := claims[a.claim].(string)
	if username == "" {
		return "", fmt.Errorf("claim %s missing", a.claim)
	}
	return username, nil
}
