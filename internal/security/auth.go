// Package security implements §4.10 auth/ingress: a single
// process-wide bearer secret compared in constant time, and an IP
// allowlist for UI subtrees.
//
// Grounded on the teacher's internal/security/auth.go
// ValidateAPIKey (crypto/subtle.ConstantTimeCompare), narrowed from
// multi-key/JWT authentication to the spec's single shared secret —
// there is no user-account or session concept here (see DESIGN.md
// "Dropped teacher dependencies" for golang-jwt/jwt/v5).
package security

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
)

type contextKey string

const clientIPKey contextKey = "client_ip"

// Authenticator compares inbound bearer tokens against the configured
// shared secret.
type Authenticator struct {
	secret []byte
	log    *logrus.Logger
}

// NewAuthenticator builds an Authenticator for the given shared secret.
func NewAuthenticator(secret string, log *logrus.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), log: log}
}

// Validate reports whether token matches the configured secret, using
// a constant-time comparison to avoid leaking secret length/prefix
// timing (spec §4.10 "tokens are compared in constant time").
func (a *Authenticator) Validate(token string) bool {
	if len(a.secret) == 0 || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), a.secret) == 1
}

// Middleware enforces bearer auth on every request it wraps (spec
// §4.10: "all /v1/* routes require a bearer token matching the
// process-wide configured secret; mismatch yields 401 with a generic
// message"). Callers decide which route subtree this wraps.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if !a.Validate(token) {
			a.log.WithFields(logrus.Fields{
				"path":      r.URL.Path,
				"remote_ip": ClientIP(r),
			}).Warn("bearer auth failed")
			writeAuthError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func writeAuthError(w http.ResponseWriter) {
	gatewayerror.AuthFailed("authentication failed").WriteJSON(w)
}

// ClientIP resolves the originating client address from proxy headers
// (X-Forwarded-For, X-Real-IP) before falling back to RemoteAddr —
// the same precedence as the teacher's getClientIPFromRequest.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

// WithClientIP stashes the resolved client IP on ctx, for handlers
// that want it without re-parsing headers.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}
