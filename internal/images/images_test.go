package images

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
	"github.com/tributary-ai/local-gateway/internal/registry"
	"github.com/tributary-ai/local-gateway/internal/upstream"
)

const onePxPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="

func TestStore_PutIsContentAddressedAndIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(onePxPNGBase64)
	require.NoError(t, err)

	name1, sha1, ext1, err := store.Put(raw, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "png", ext1)
	assert.Contains(t, name1, sha1[:12])

	name2, sha2, _, err := store.Put(raw, "image/png")
	require.NoError(t, err)
	assert.Equal(t, sha1, sha2)
	assert.Contains(t, name2, sha1[:12])

	_, statErr := os.Stat(filepath.Join(dir, name1))
	assert.NoError(t, statErr)
}

func TestEffectiveFormat_DefaultsToURL(t *testing.T) {
	req := Request{Prompt: "a cat"}
	assert.Equal(t, "url", req.EffectiveFormat())

	req.ResponseFormat = "b64_json"
	assert.Equal(t, "b64_json", req.EffectiveFormat())
}

func fakeOpenAIImagesBackend(t *testing.T, imageB64 string) (*httptest.Server, upstream.Backend, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"b64_json":"` + imageB64 + `"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, upstream.Backend{}, srv.URL
}

func TestGenerate_URLFormatPersistsAndReturnsUIPath(t *testing.T) {
	srv, backend, baseURL := fakeOpenAIImagesBackend(t, onePxPNGBase64)
	_ = srv

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	pool := upstream.NewPool(0, upstream.TLSConfig{VerifyTLS: false})

	result, err := Generate(pool, baseURL, backend, registry.ProtocolOpenAIImages,
		registry.PayloadPolicy{ImagesAllowBase64: false}, RouteMeta{Backend: "gpu_heavy", BackendClass: "image_gen", Model: "sdxl"},
		Request{Prompt: "a cat", ResponseFormat: "url"}, store)
	require.NoError(t, err)

	data, ok := result["data"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, data, 1)
	url, _ := data[0]["url"].(string)
	assert.Contains(t, url, "/ui/images/")

	gateway, ok := result["_gateway"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "gpu_heavy", gateway["backend"])
	assert.NotEmpty(t, gateway["ui_image_sha256"])
}

func TestGenerate_B64RejectedWhenPolicyDisallows(t *testing.T) {
	_, backend, baseURL := fakeOpenAIImagesBackend(t, onePxPNGBase64)
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	pool := upstream.NewPool(0, upstream.TLSConfig{VerifyTLS: false})

	_, err = Generate(pool, baseURL, backend, registry.ProtocolOpenAIImages,
		registry.PayloadPolicy{ImagesAllowBase64: false}, RouteMeta{Backend: "gpu_heavy"},
		Request{Prompt: "a cat", ResponseFormat: "b64_json"}, store)
	require.Error(t, err)
}

func TestGenerate_B64AllowedWhenPolicyPermits(t *testing.T) {
	_, backend, baseURL := fakeOpenAIImagesBackend(t, onePxPNGBase64)
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	pool := upstream.NewPool(0, upstream.TLSConfig{VerifyTLS: false})

	result, err := Generate(pool, baseURL, backend, registry.ProtocolOpenAIImages,
		registry.PayloadPolicy{ImagesAllowBase64: true}, RouteMeta{Backend: "gpu_heavy"},
		Request{Prompt: "a cat", ResponseFormat: "b64_json"}, store)
	require.NoError(t, err)

	data, ok := result["data"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, data, 1)
	assert.Equal(t, onePxPNGBase64, data[0]["b64_json"])
}

func fakeA1111Backend(t *testing.T, imageB64 string) (upstream.Backend, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"images":["` + imageB64 + `"],"parameters":{"steps":20}}`))
	}))
	t.Cleanup(srv.Close)
	return upstream.Backend{}, srv.URL
}

func TestGenerate_A1111ResponseIsNormalizedToOpenAIShape(t *testing.T) {
	backend, baseURL := fakeA1111Backend(t, onePxPNGBase64)
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	pool := upstream.NewPool(0, upstream.TLSConfig{VerifyTLS: false})

	result, err := Generate(pool, baseURL, backend, registry.ProtocolA1111Images,
		registry.PayloadPolicy{ImagesAllowBase64: false}, RouteMeta{Backend: "gpu_a1111", BackendClass: "image_gen", Model: "sd15"},
		Request{Prompt: "a cat", ResponseFormat: "url"}, store)
	require.NoError(t, err)

	data, ok := result["data"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, data, 1, "a1111's images array must be normalized into the shared data shape, not dropped")
	url, _ := data[0]["url"].(string)
	assert.Contains(t, url, "/ui/images/")
}

func TestGenerate_A1111ResponseSupportsB64WhenPolicyPermits(t *testing.T) {
	backend, baseURL := fakeA1111Backend(t, onePxPNGBase64)
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	pool := upstream.NewPool(0, upstream.TLSConfig{VerifyTLS: false})

	result, err := Generate(pool, baseURL, backend, registry.ProtocolA1111Images,
		registry.PayloadPolicy{ImagesAllowBase64: true}, RouteMeta{Backend: "gpu_a1111"},
		Request{Prompt: "a cat", ResponseFormat: "b64_json"}, store)
	require.NoError(t, err)

	data, ok := result["data"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, data, 1)
	assert.Equal(t, onePxPNGBase64, data[0]["b64_json"])
}

func TestGenerate_UpstreamErrorStatusMapsByRange(t *testing.T) {
	srv400 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad prompt"}`))
	}))
	t.Cleanup(srv400.Close)

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	pool := upstream.NewPool(0, upstream.TLSConfig{VerifyTLS: false})

	_, err = Generate(pool, srv400.URL, upstream.Backend{}, registry.ProtocolOpenAIImages,
		registry.PayloadPolicy{}, RouteMeta{}, Request{Prompt: "x"}, store)
	require.Error(t, err)
	var gwErr *gatewayerror.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusBadRequest, gwErr.Status)

	srv500 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv500.Close)

	_, err = Generate(pool, srv500.URL, upstream.Backend{}, registry.ProtocolOpenAIImages,
		registry.PayloadPolicy{}, RouteMeta{}, Request{Prompt: "x"}, store)
	require.Error(t, err)
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusBadGateway, gwErr.Status)
}
