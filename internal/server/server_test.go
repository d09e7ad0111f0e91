package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/local-gateway/internal/admission"
	"github.com/tributary-ai/local-gateway/internal/health"
	"github.com/tributary-ai/local-gateway/internal/images"
	"github.com/tributary-ai/local-gateway/internal/metrics"
	"github.com/tributary-ai/local-gateway/internal/registry"
	"github.com/tributary-ai/local-gateway/internal/routing"
	"github.com/tributary-ai/local-gateway/internal/security"
	"github.com/tributary-ai/local-gateway/internal/toolbus"
	"github.com/tributary-ai/local-gateway/internal/upstream"
)

const testBearerToken = "test-secret"

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()

	doc := &registry.Document{
		Backends: []registry.BackendConfig{
			{
				Name:                  "local-llama",
				Class:                 "local",
				BaseURL:               "http://127.0.0.1:9",
				Protocol:              registry.ProtocolOpenAISSE,
				SupportedCapabilities: []registry.Capability{registry.CapabilityChat},
				ConcurrencyLimits:     map[string]int{"chat": 2},
				Health:                registry.HealthPaths{Liveness: "/live", Readiness: "/ready"},
				DefaultModel:          "llama-3",
				ModelAliases:          map[string]string{"default": "llama-3"},
			},
		},
		RouteTable: map[string][]string{"chat": {"local-llama"}},
	}
	reg, err := registry.FromDocument(doc)
	require.NoError(t, err)

	router := routing.New(reg, routing.RouteTable(reg.RouteTable()))

	limits := map[string]int{"local-llama.chat": 2}
	log := logrus.New()
	admissionCtl := admission.New(limits, log)

	healthChecker := health.New([]health.Prober{
		{Name: "local-llama", LivenessURL: "http://127.0.0.1:9/live", ReadinessURL: "http://127.0.0.1:9/ready"},
	}, 0, 0, log)

	pool := upstream.NewPool(0, upstream.TLSConfig{VerifyTLS: false})

	imageDir := t.TempDir()
	imageStore, err := images.NewStore(imageDir)
	require.NoError(t, err)

	toolRegistry := toolbus.NewRegistry()
	toolLogger, err := toolbus.NewLogger(toolbus.LogConfig{}, log)
	require.NoError(t, err)
	t.Cleanup(toolLogger.Stop)

	promReg := prometheus.NewRegistry()
	gwMetrics := metrics.New(promReg)

	auth := security.NewAuthenticator(testBearerToken, log)
	uiAllow, err := security.NewAllowList(nil, log)
	require.NoError(t, err)

	srv := New(
		Config{Port: "0", CORSOrigins: []string{"*"}},
		Deps{
			Registry:     reg,
			Router:       router,
			Admission:    admissionCtl,
			Health:       healthChecker,
			Pool:         pool,
			Tools:        toolRegistry,
			ToolLogger:   toolLogger,
			ImageStore:   imageStore,
			Metrics:      gwMetrics,
			PromRegistry: promReg,
			Auth:         auth,
			UIAllow:      uiAllow,
		},
		log,
	)
	return srv, reg
}

func TestHandleHealth_IsPublicAndOK(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestV1Routes_RejectMissingBearerToken(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleModels_ListsDefaultModelAndAliases(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+testBearerToken)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data, ok := body["data"].([]any)
	require.True(t, ok)
	assert.Len(t, data, 2)
}

func TestHandleGatewayStatus_DoesNotTakeAnAdmissionSlot(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/gateway/status", nil)
	req.Header.Set("Authorization", "Bearer "+testBearerToken)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body gatewayStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	entry, ok := body.AdmissionControl["local-llama.chat"]
	require.True(t, ok)
	assert.Equal(t, 2, entry.Limit)
	assert.Equal(t, 0, entry.Inflight)
}

func TestHandleToolInvoke_UnknownToolReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/tools/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer "+testBearerToken)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint_IsPublicAndServesPrometheusFormat(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gateway_requests_total")
}

func TestDocsRoutes_DisabledWhenOpenAPIPathEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocsRoutes_ServeValidatedOpenAPIDocument(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.OpenAPIPath = findOpenAPIPath(t)

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/openapi.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/v1/chat/completions")
}

// findOpenAPIPath locates docs/openapi.yaml relative to this test's
// working directory, walking up from internal/server to the module
// root the way `go test ./...` runs each package in its own dir.
func findOpenAPIPath(t *testing.T) string {
	t.Helper()
	for _, candidate := range []string{
		"../../docs/openapi.yaml",
		"../docs/openapi.yaml",
		"docs/openapi.yaml",
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	t.Skip("docs/openapi.yaml not found relative to test working directory")
	return ""
}
