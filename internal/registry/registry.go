// Package registry implements the backend registry (spec §4.1): a
// declarative, immutable-after-load table of backend configuration,
// capability gating, and legacy name resolution.
package registry

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
)

// Capability is one of the closed set of workload kinds a backend can
// declare support for. Unknown capabilities are a load-time
// configuration error, not a runtime surprise.
type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilityEmbeddings Capability = "embeddings"
	CapabilityImages     Capability = "images"
	CapabilityTTS        Capability = "tts"
	CapabilityMusic      Capability = "music"
	CapabilityVideo      Capability = "video"
)

var allCapabilities = map[Capability]bool{
	CapabilityChat:       true,
	CapabilityEmbeddings: true,
	CapabilityImages:     true,
	CapabilityTTS:        true,
	CapabilityMusic:      true,
	CapabilityVideo:      true,
}

// Protocol names the upstream wire family a backend speaks. openai_sse
// and line_json are the two chat upstream shapes spec.md §6.2 names;
// anthropic_messages is the SPEC_FULL.md supplement (see DESIGN.md).
type Protocol string

const (
	ProtocolOpenAISSE          Protocol = "openai_sse"
	ProtocolLineJSON           Protocol = "line_json"
	ProtocolAnthropicMessages  Protocol = "anthropic_messages"
	ProtocolOpenAIImages       Protocol = "openai_images"
	ProtocolA1111Images        Protocol = "a1111_images"
	ProtocolMock               Protocol = "mock"
)

// HealthPaths names the two relative probe paths for a backend.
type HealthPaths struct {
	Liveness  string `yaml:"liveness"`
	Readiness string `yaml:"readiness"`
}

// PayloadPolicy governs how the images pipeline emits results for a
// backend (spec §4.7).
type PayloadPolicy struct {
	ImagesFormat      string `yaml:"images_format"`       // "url" (default) or "b64_json"
	ImagesAllowBase64 bool   `yaml:"images_allow_base64"`
}

// BackendConfig is immutable once loaded (spec §3).
type BackendConfig struct {
	Name                  string              `yaml:"name"`
	Class                 string              `yaml:"class"`
	BaseURL               string              `yaml:"base_url"`
	Protocol              Protocol            `yaml:"protocol"`
	SupportedCapabilities []Capability        `yaml:"supported_capabilities"`
	ConcurrencyLimits     map[string]int      `yaml:"concurrency_limits"`
	Health                HealthPaths         `yaml:"health"`
	Payload               PayloadPolicy       `yaml:"payload_policy"`
	ModelAliases          map[string]string   `yaml:"model_aliases"`
	DefaultModel          string              `yaml:"default_model"`
	APIKeyEnv             string              `yaml:"api_key_env"`
	EmitThinking          bool                `yaml:"emit_thinking"`
}

func (b *BackendConfig) supportsSet() map[Capability]bool {
	m := make(map[Capability]bool, len(b.SupportedCapabilities))
	for _, c := range b.SupportedCapabilities {
		m[c] = true
	}
	return m
}

// APIKey resolves the backend's credential from its configured
// environment variable, or the empty string if unset.
func (b *BackendConfig) APIKey() string {
	if b.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(b.APIKeyEnv)
}

// Document is the top-level declarative backend document (spec §4.1,
// §6.3 "the backend registry is loaded from a declarative document").
// RouteTable carries the router's static route_kind -> ordered
// backend preference list (spec §4.4 step 3); it lives alongside the
// backend list since both are validated at load time against the same
// document.
type Document struct {
	Backends   []BackendConfig     `yaml:"backends"`
	LegacyName map[string]string   `yaml:"legacy_names"`
	RouteTable map[string][]string `yaml:"route_table"`
}

// Registry is the loaded, validated, immutable backend table.
type Registry struct {
	backends   map[string]*BackendConfig
	order      []string
	legacyName map[string]string
	routeTable map[string][]string
}

// RouteTable returns the declarative route_kind -> ordered backend
// preference list (spec §4.4 step 3), for handing to routing.New.
func (r *Registry) RouteTable() map[string][]string {
	return r.routeTable
}

// Load reads and validates a declarative backend document from path.
// Validation failure is fatal (spec §4.1): every capability must have
// a corresponding concurrency limit, every backend must name both
// health paths, base_url must be absolute.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, gatewayerror.ConfigInvalid(fmt.Sprintf("reading backend registry %s: %v", path, err))
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, gatewayerror.ConfigInvalid(fmt.Sprintf("parsing backend registry %s: %v", path, err))
	}
	return FromDocument(&doc)
}

// FromDocument validates and builds a Registry from an already-parsed
// document. Exposed separately so tests can construct registries
// without a filesystem round trip.
func FromDocument(doc *Document) (*Registry, error) {
	r := &Registry{
		backends:   make(map[string]*BackendConfig, len(doc.Backends)),
		legacyName: make(map[string]string, len(doc.LegacyName)),
		routeTable: doc.RouteTable,
	}
	for name, canonical := range doc.LegacyName {
		r.legacyName[name] = canonical
	}

	for i := range doc.Backends {
		b := doc.Backends[i]
		if strings.TrimSpace(b.Name) == "" {
			return nil, gatewayerror.ConfigInvalid("backend entry missing name")
		}
		if _, exists := r.backends[b.Name]; exists {
			return nil, gatewayerror.ConfigInvalid(fmt.Sprintf("duplicate backend name %q", b.Name))
		}
		if err := validateBackend(&b); err != nil {
			return nil, err
		}
		if b.Payload.ImagesFormat == "" {
			b.Payload.ImagesFormat = "url"
		}
		if b.Protocol == "" {
			b.Protocol = ProtocolOpenAISSE
		}
		r.backends[b.Name] = &b
		r.order = append(r.order, b.Name)
	}
	return r, nil
}

func validateBackend(b *BackendConfig) error {
	u, err := url.Parse(b.BaseURL)
	if err != nil || !u.IsAbs() {
		return gatewayerror.ConfigInvalid(fmt.Sprintf("backend %q: base_url must be absolute", b.Name))
	}
	if b.Health.Liveness == "" || b.Health.Readiness == "" {
		return gatewayerror.ConfigInvalid(fmt.Sprintf("backend %q: must name both liveness and readiness health paths", b.Name))
	}
	for _, c := range b.SupportedCapabilities {
		if !allCapabilities[c] {
			return gatewayerror.ConfigInvalid(fmt.Sprintf("backend %q: unknown capability %q", b.Name, c))
		}
		if _, ok := b.ConcurrencyLimits[string(c)]; !ok {
			return gatewayerror.ConfigInvalid(fmt.Sprintf("backend %q: capability %q has no concurrency_limits entry", b.Name, c))
		}
	}
	for routeKind, limit := range b.ConcurrencyLimits {
		if limit < 0 {
			return gatewayerror.ConfigInvalid(fmt.Sprintf("backend %q: negative concurrency limit for %q", b.Name, routeKind))
		}
	}
	return nil
}

// Lookup returns the backend config for name, or (nil, false).
func (r *Registry) Lookup(name string) (*BackendConfig, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// ResolveLegacy maps a legacy backend name to its canonical name,
// returning name unchanged if it is not a known legacy alias.
func (r *Registry) ResolveLegacy(name string) string {
	if canonical, ok := r.legacyName[name]; ok {
		return canonical
	}
	return name
}

// Supports reports whether backend name declares capability c.
func (r *Registry) Supports(name string, c Capability) bool {
	b, ok := r.backends[name]
	if !ok {
		return false
	}
	return b.supportsSet()[c]
}

// Limit returns the configured concurrency limit for (name, routeKind),
// or (0, false) if the route kind is not admitted for this backend.
func (r *Registry) Limit(name, routeKind string) (int, bool) {
	b, ok := r.backends[name]
	if !ok {
		return 0, false
	}
	limit, ok := b.ConcurrencyLimits[routeKind]
	return limit, ok
}

// Iter returns the registered backends in declaration order.
func (r *Registry) Iter() []*BackendConfig {
	out := make([]*BackendConfig, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.backends[name])
	}
	return out
}

// CapabilitiesOf returns the declared capability list for name, as
// strings, for use in error payloads (spec §7 capability_not_supported).
func (r *Registry) CapabilitiesOf(name string) []string {
	b, ok := r.backends[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(b.SupportedCapabilities))
	for _, c := range b.SupportedCapabilities {
		out = append(out, string(c))
	}
	return out
}
