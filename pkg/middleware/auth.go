// Package middleware provides the HTTP middleware chain: bearer
// authentication, request size limits, CORS, and request logging.
package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig selects the bearer verification mode. With a static key the
// Authorization token is compared in constant time; with a JWT secret the
// token is verified as an HS256 JWT instead. Exactly one mode is active.
type AuthConfig struct {
	// APIKey is the static bearer token.
	APIKey string
	// JWTSecret enables JWT verification when APIKey is empty.
	JWTSecret string
}

// Authenticator rejects requests that do not carry a valid bearer token.
type Authenticator struct {
	config AuthConfig
	logger *slog.Logger
}

// NewAuthenticator creates the bearer authenticator.
func NewAuthenticator(config AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{config: config, logger: logger.With("component", "auth")}
}

// Middleware enforces bearer auth on every request passing through it.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			a.reject(w, r, "missing bearer token")
			return
		}

		if a.config.APIKey != "" {
			if !constantTimeEqual(token, a.config.APIKey) {
				a.reject(w, r, "invalid token")
				return
			}
		} else if err := a.verifyJWT(token); err != nil {
			a.reject(w, r, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) verifyJWT(token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.config.JWTSecret), nil
	})
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, reason string) {
	a.logger.Warn("Request rejected",
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("reason", reason))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// constantTimeEqual compares hashes so timing reveals nothing about either
// the token length or its content.
func constantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
