// Package images implements the images pipeline (spec §4.7):
// capability/admission-gated image generation with content-addressed
// storage for url-format responses, and a gated passthrough for
// b64_json responses.
//
// Grounded on spec §4.7's content-addressing rule and the upstream
// client (internal/upstream); the store itself has no teacher
// analogue (the teacher has no persisted-asset concept), so its shape
// follows the StoredImage lifecycle note in spec §3 directly.
package images

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
	"github.com/tributary-ai/local-gateway/internal/registry"
	"github.com/tributary-ai/local-gateway/internal/upstream"
)

// Request is the normalized inbound images request (spec §4.7 Inputs).
type Request struct {
	Prompt         string  `json:"prompt"`
	Size           string  `json:"size,omitempty"`
	N              int     `json:"n,omitempty"`
	Model          string  `json:"model,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"` // "url" (default) or "b64_json"
}

// EffectiveFormat resolves the effective response format, defaulting
// to "url" regardless of what the upstream backend itself defaults to
// (spec §4.7: "default is url regardless of upstream default").
func (r *Request) EffectiveFormat() string {
	if r.ResponseFormat == "" {
		return "url"
	}
	return r.ResponseFormat
}

// upstreamImage is the minimal shape of one returned image before
// this package decides whether to persist or pass it through.
type upstreamImage struct {
	B64JSON string `json:"b64_json"`
	URL     string `json:"url"`
}

type upstreamImagesResponse struct {
	Data []upstreamImage `json:"data"`
}

// a1111ImagesResponse is the raw AUTOMATIC1111 txt2img envelope (spec
// §6.2): a flat "images" array of base64 strings and a "parameters"
// object this gateway does not forward, rather than the OpenAI "data"
// shape every other protocol already returns.
type a1111ImagesResponse struct {
	Images []string `json:"images"`
}

// normalizeUpstreamImages decodes a raw upstream images response into
// the shared OpenAI-shaped upstreamImagesResponse, translating the
// AUTOMATIC1111 envelope into it (spec §6.2: "gateway normalizes to
// the OpenAI shape") since a1111_images backends have no "data" key
// for json.Unmarshal to find directly.
func normalizeUpstreamImages(protocol registry.Protocol, raw []byte) (upstreamImagesResponse, error) {
	if protocol != registry.ProtocolA1111Images {
		var resp upstreamImagesResponse
		err := json.Unmarshal(raw, &resp)
		return resp, err
	}

	var a1111 a1111ImagesResponse
	if err := json.Unmarshal(raw, &a1111); err != nil {
		return upstreamImagesResponse{}, err
	}
	data := make([]upstreamImage, 0, len(a1111.Images))
	for _, b64 := range a1111.Images {
		data = append(data, upstreamImage{B64JSON: b64})
	}
	return upstreamImagesResponse{Data: data}, nil
}

// Store persists generated images content-addressed under dir and
// serves them back by filename.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory, for the /ui/images file
// server to serve from directly.
func (s *Store) Dir() string {
	return s.dir
}

// Put writes raw image bytes content-addressed as
// {unix_ts}_{sha256[:12]}.{ext} (spec §3, §4.7) and returns the
// filename, full sha256 hex digest, and detected extension.
func (s *Store) Put(raw []byte, mimeType string) (filename, sha256Hex, ext string, err error) {
	sum := sha256.Sum256(raw)
	sha256Hex = hex.EncodeToString(sum[:])
	ext = extFromMIME(mimeType)
	filename = fmt.Sprintf("%d_%s.%s", time.Now().Unix(), sha256Hex[:12], ext)

	path := filepath.Join(s.dir, filename)
	// Same hash implies same bytes (spec §3 "collisions are benign");
	// an existing file for this name needs no rewrite.
	if _, statErr := os.Stat(path); statErr == nil {
		return filename, sha256Hex, ext, nil
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", "", "", fmt.Errorf("writing image %s: %w", filename, err)
	}
	return filename, sha256Hex, ext, nil
}

func extFromMIME(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "png"):
		return "png"
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return "jpg"
	case strings.Contains(mimeType, "webp"):
		return "webp"
	case strings.Contains(mimeType, "svg"):
		return "svg"
	default:
		return "png"
	}
}

// sniffMIME detects an image MIME type from its magic bytes, falling
// back to image/png for unrecognized content rather than failing the
// whole request over a cosmetic extension choice.
func sniffMIME(raw []byte) string {
	switch {
	case len(raw) >= 8 && string(raw[:8]) == "\x89PNG\r\n\x1a\n":
		return "image/png"
	case len(raw) >= 3 && raw[0] == 0xFF && raw[1] == 0xD8 && raw[2] == 0xFF:
		return "image/jpeg"
	case len(raw) >= 12 && string(raw[8:12]) == "WEBP":
		return "image/webp"
	case len(raw) >= 5 && strings.HasPrefix(string(raw[:5]), "<?xml") || strings.HasPrefix(string(raw), "<svg"):
		return "image/svg+xml"
	default:
		return "image/png"
	}
}

// RouteMeta is the routing context the pipeline needs to fill the
// `_gateway` annotation of spec §4.7.
type RouteMeta struct {
	Backend      string
	BackendClass string
	Model        string
}

// Generate performs one capability/admission-gated images call: it
// issues the upstream request, enforces the response_format policy,
// and (for "url") persists returned images content-addressed.
//
// req.EffectiveFormat() == "b64_json" is only honored when policy
// allows it; otherwise the caller receives a gatewayerror with token
// invalid_request and must not proceed to call the upstream at all —
// that check happens in server, before Generate is invoked, since it
// is a pure policy decision independent of any upstream round trip.
func Generate(pool *upstream.Pool, backendBaseURL string, backend upstream.Backend, protocol registry.Protocol, policy registry.PayloadPolicy, route RouteMeta, req Request, store *Store) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, gatewayerror.InvalidRequest(err.Error())
	}

	var resp *httpResponseLike
	switch protocol {
	case registry.ProtocolA1111Images:
		resp, err = doA1111(pool, backendBaseURL, backend, body)
	default:
		resp, err = doOpenAIImages(pool, backendBaseURL, backend, body)
	}
	if err != nil {
		return nil, gatewayerror.UpstreamProtocolError(err.Error())
	}
	defer resp.close()

	if resp.status < 200 || resp.status >= 300 {
		if resp.status >= 400 && resp.status < 500 {
			return nil, gatewayerror.UpstreamHTTPError(resp.status, string(resp.raw))
		}
		return nil, gatewayerror.UpstreamHTTPError(502, string(resp.raw))
	}

	upstreamResp, err := normalizeUpstreamImages(protocol, resp.raw)
	if err != nil {
		return nil, gatewayerror.UpstreamProtocolError(err.Error())
	}

	wantB64 := req.EffectiveFormat() == "b64_json"
	if wantB64 && !policy.ImagesAllowBase64 {
		return nil, gatewayerror.InvalidRequest("b64_json response_format is not permitted by this backend's payload policy")
	}

	if wantB64 {
		data := make([]map[string]any, 0, len(upstreamResp.Data))
		for _, img := range upstreamResp.Data {
			data = append(data, map[string]any{"b64_json": img.B64JSON})
		}
		return map[string]any{
			"data": data,
			"_gateway": map[string]any{
				"backend":       route.Backend,
				"backend_class": route.BackendClass,
				"model":         route.Model,
			},
		}, nil
	}

	data := make([]map[string]any, 0, len(upstreamResp.Data))
	var lastSHA, lastMIME string
	for _, img := range upstreamResp.Data {
		raw, mimeType, err := decodeImage(img)
		if err != nil {
			return nil, gatewayerror.UpstreamProtocolError(err.Error())
		}
		filename, sha256Hex, _, err := store.Put(raw, mimeType)
		if err != nil {
			return nil, gatewayerror.UpstreamProtocolError(err.Error())
		}
		data = append(data, map[string]any{"url": "/ui/images/" + filename})
		lastSHA, lastMIME = sha256Hex, mimeType
	}

	return map[string]any{
		"data": data,
		"_gateway": map[string]any{
			"backend":          route.Backend,
			"backend_class":    route.BackendClass,
			"model":            route.Model,
			"ui_image_sha256":  lastSHA,
			"ui_image_mime":    lastMIME,
			"request":          req,
			"upstream":         route.Backend,
		},
	}, nil
}

// decodeImage returns an image's raw bytes and detected MIME type,
// whether the upstream handed back base64 or a fetchable URL.
func decodeImage(img upstreamImage) ([]byte, string, error) {
	if img.B64JSON != "" {
		raw, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, "", fmt.Errorf("decoding upstream b64_json image: %w", err)
		}
		return raw, sniffMIME(raw), nil
	}
	return nil, "", fmt.Errorf("upstream image has neither b64_json nor a fetchable inline payload")
}
