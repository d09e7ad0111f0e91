// Package types holds the wire-level shapes the gateway exposes to
// clients that are not already covered by the go-openai/anthropic-sdk
// wire-type libraries (internal/upstream re-exports those). This is
// the spec's closed data model (spec.md §3), narrowed from the
// teacher's internal/types package: batch/assistant endpoints,
// OptimizationType routing hints, and RetryConfig/FallbackConfig are
// dropped outright (spec.md Non-goals: "no content-based model
// selection", "no automatic retries on the server side", "no
// automatic backend fallback" — see DESIGN.md).
package types

// ModelInfo describes one client-visible model id for GET /v1/models
// (spec §6.1), built from a backend's default_model plus its
// model_aliases.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the OpenAI-compatible list envelope for
// GET /v1/models.
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// GatewayAnnotation is a `_gateway` metadata shape: which backend and
// upstream model served a request, and why the router picked it. The
// chat, embeddings and images handlers build their `_gateway` blocks
// themselves and do not use this type.
type GatewayAnnotation struct {
	Backend      string `json:"backend"`
	BackendClass string `json:"backend_class"`
	Model        string `json:"model"`
	Reason       string `json:"reason"`
}
