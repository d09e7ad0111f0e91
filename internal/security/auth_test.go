package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestAuthenticator_ValidateMatchingSecret(t *testing.T) {
	a := NewAuthenticator("super-secret", logrus.New())
	assert.True(t, a.Validate("super-secret"))
}

func TestAuthenticator_ValidateRejectsMismatch(t *testing.T) {
	a := NewAuthenticator("super-secret", logrus.New())
	assert.False(t, a.Validate("wrong"))
	assert.False(t, a.Validate(""))
}

func TestAuthenticator_MiddlewareRejectsMissingToken(t *testing.T) {
	a := NewAuthenticator("super-secret", logrus.New())
	called := false
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticator_MiddlewarePassesValidToken(t *testing.T) {
	a := NewAuthenticator("super-secret", logrus.New())
	called := false
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer super-secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	req.RemoteAddr = "127.0.0.1:5555"
	assert.Equal(t, "203.0.113.5", ClientIP(req))
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", ClientIP(req))
}
