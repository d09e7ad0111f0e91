// Package middleware composes the ingress middleware chain (spec
// §4.10): bearer auth, IP allowlist on the UI subtree, CORS, and
// security headers.
//
// Grounded on the teacher's internal/middleware/security.go
// SecurityMiddleware.Handler() chain-composition shape and
// securityHeadersMiddleware/CORSMiddleware, narrowed to drop the
// rate-limiter/validator/auditor stages (see DESIGN.md "Deleted
// teacher modules").
package middleware

import (
	"net/http"
	"strings"
)

// CORSConfig lists the origins permitted to make cross-origin
// requests (spec §6.3 configuration table).
type CORSConfig struct {
	AllowedOrigins []string
}

// CORS applies cross-origin headers and short-circuits preflight
// OPTIONS requests, matching the teacher's CORSMiddleware behavior.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(cfg.AllowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// SecurityHeaders sets a standard set of defensive response headers on
// every response (teacher's securityHeadersMiddleware).
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// Chain composes middleware in application order: Chain(a, b, c)(h)
// runs a, then b, then c, then h — the same outer-to-inner reading as
// the teacher's Handler() method, expressed as a small combinator
// instead of a fixed five-stage struct, since this gateway's ingress
// stack is fixed rather than configured per deployment.
func Chain(mw ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		handler := final
		for i := len(mw) - 1; i >= 0; i-- {
			handler = mw[i](handler)
		}
		return handler
	}
}

// StripPort removes a trailing ":port" from a host:port address, used
// when normalizing X-Forwarded-For entries that include a port.
func StripPort(hostport string) string {
	if idx := strings.LastIndex(hostport, ":"); idx != -1 {
		return hostport[:idx]
	}
	return hostport
}
