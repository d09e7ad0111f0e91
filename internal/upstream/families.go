package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// DoChatCompletions sends an OpenAI-compatible /v1/chat/completions
// request to an openai_sse family backend. The body is
// passed through unmodified except for the model field rewrite the
// caller has already applied; response decoding (SSE vs line-JSON) is
// the chat streaming proxy's concern, not this client's.
func DoChatCompletions(ctx context.Context, pool *Pool, backendBaseURL string, backend Backend, body []byte) (*http.Response, error) {
	return pool.Do(ctx, http.MethodPost, backendBaseURL, "/v1/chat/completions", bytes.NewReader(body), backend, nil)
}

// DoMessages sends an Anthropic Messages API request (the
// SPEC_FULL.md anthropic_messages upstream family supplement; see
// SPEC_FULL.md DOMAIN STACK).
func DoMessages(ctx context.Context, pool *Pool, backendBaseURL string, backend Backend, apiVersion string, body []byte) (*http.Response, error) {
	extra := map[string]string{"anthropic-version": apiVersion}
	return pool.Do(ctx, http.MethodPost, backendBaseURL, "/v1/messages", bytes.NewReader(body), backend, extra)
}

// DoLineJSONCompletion sends a request to a locally-hosted runtime
// that streams newline-delimited JSON rather than SSE (spec §6.2).
func DoLineJSONCompletion(ctx context.Context, pool *Pool, backendBaseURL string, backend Backend, body []byte) (*http.Response, error) {
	return pool.Do(ctx, http.MethodPost, backendBaseURL, "/api/chat", bytes.NewReader(body), backend, nil)
}

// DoEmbeddings sends an OpenAI-compatible /v1/embeddings request. The
// embeddings route kind has no dedicated spec.md component (unlike
// chat/images), so it is a thin pass-through of the same Pool.Do the
// other families use rather than its own upstream family group.
func DoEmbeddings(ctx context.Context, pool *Pool, backendBaseURL string, backend Backend, body []byte) (*http.Response, error) {
	return pool.Do(ctx, http.MethodPost, backendBaseURL, "/v1/embeddings", bytes.NewReader(body), backend, nil)
}

// DoOpenAIImages sends an OpenAI-style images/generations request
// (spec §6.2 "Images OpenAI-style").
func DoOpenAIImages(ctx context.Context, pool *Pool, backendBaseURL string, backend Backend, body []byte) (*http.Response, error) {
	return pool.Do(ctx, http.MethodPost, backendBaseURL, "/v1/images/generations", bytes.NewReader(body), backend, nil)
}

// DoA1111Images sends an A1111-style txt2img request (spec §6.2
// "Images A1111-style").
func DoA1111Images(ctx context.Context, pool *Pool, backendBaseURL string, backend Backend, body []byte) (*http.Response, error) {
	return pool.Do(ctx, http.MethodPost, backendBaseURL, "/sdapi/v1/txt2img", bytes.NewReader(body), backend, nil)
}

// ReadAll drains and closes resp.Body, for non-streaming call sites.
func ReadAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// OpenAIWireTypes re-exports the go-openai wire-format structs this
// package's callers decode into, so server/streamproxy code imports
// openai types through one seam. Repurposed from an SDK client
// wrapper (the teacher's usage) to a pure wire-shape type library
// (SPEC_FULL.md DOMAIN STACK).
type (
	ChatCompletionRequest       = openai.ChatCompletionRequest
	ChatCompletionResponse      = openai.ChatCompletionResponse
	ChatCompletionStreamResponse = openai.ChatCompletionStreamResponse
	ChatCompletionMessage       = openai.ChatCompletionMessage
	EmbeddingRequest            = openai.EmbeddingRequest
)
