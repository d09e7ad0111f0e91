package streamproxy

import (
	"encoding/json"
	"net/http"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
	"github.com/tributary-ai/local-gateway/internal/registry"
	"github.com/tributary-ai/local-gateway/internal/upstream"
)

// gatewayAnnotation is the `_gateway` sub-object spec §4.6 "Non-streaming"
// requires injected into the response body, alongside the
// X-Backend-Used/X-Model-Used/X-Router-Reason headers.
type gatewayAnnotation struct {
	Backend string `json:"backend"`
	Model   string `json:"model"`
	Reason  string `json:"reason"`
}

// NonStreamChat handles the one-shot (non-streaming) chat completion
// path: decode the upstream's family-specific response, normalize it
// to the OpenAI-compatible client shape, inject `_gateway`, and set
// the routing headers before writing the body.
func NonStreamChat(w http.ResponseWriter, upstreamResp *http.Response, protocol registry.Protocol, route RouteInfo) error {
	raw, err := upstream.ReadAll(upstreamResp)
	if err != nil {
		return gatewayerror.UpstreamProtocolError(err.Error())
	}

	if upstreamResp.StatusCode < 200 || upstreamResp.StatusCode >= 300 {
		return gatewayerror.UpstreamHTTPError(upstreamResp.StatusCode, string(raw))
	}

	var envelope map[string]any

	if protocol == registry.ProtocolAnthropicMessages {
		envelope, err = anthropicToOpenAIEnvelope(raw, route.Model)
	} else {
		err = json.Unmarshal(raw, &envelope)
	}
	if err != nil {
		return gatewayerror.UpstreamProtocolError(err.Error())
	}

	envelope["_gateway"] = gatewayAnnotation{Backend: route.Backend, Model: route.Model, Reason: route.Reason}

	body, err := json.Marshal(envelope)
	if err != nil {
		return gatewayerror.UpstreamProtocolError(err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Backend-Used", route.Backend)
	w.Header().Set("X-Model-Used", route.Model)
	w.Header().Set("X-Router-Reason", route.Reason)
	w.WriteHeader(http.StatusOK)
	_, werr := w.Write(body)
	return werr
}

// anthropicMessagesResponse is the minimal non-streaming Anthropic
// Messages response shape (confirmed against the teacher's
// convertFromAnthropicResponse in internal/providers/anthropic/provider.go,
// decoded here as raw JSON per the same grounding as translateAnthropicSSE).
type anthropicMessagesResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// anthropicToOpenAIEnvelope normalizes an Anthropic Messages response
// into the OpenAI-compatible chat.completion shape the gateway's
// clients expect (spec §4.6 translation applies to non-streaming
// responses too, not just SSE).
func anthropicToOpenAIEnvelope(raw []byte, fallbackModel string) (map[string]any, error) {
	var resp anthropicMessagesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	model := resp.Model
	if model == "" {
		model = fallbackModel
	}
	return map[string]any{
		"id":     resp.ID,
		"object": "chat.completion",
		"model":  model,
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": text,
				},
				"finish_reason": resp.StopReason,
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.InputTokens,
			"completion_tokens": resp.Usage.OutputTokens,
			"total_tokens":      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}
