package server

import (
	"encoding/json"
	"net/http"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
	"github.com/tributary-ai/local-gateway/internal/registry"
	"github.com/tributary-ai/local-gateway/internal/streamproxy"
	"github.com/tributary-ai/local-gateway/internal/upstream"
)

// handleChatCompletions is the gateway's central endpoint (spec
// §4.6): route -> health gate -> admission -> upstream call, branched
// into the streaming or non-streaming path by the client's stream
// field.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req upstream.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		gatewayerror.InvalidRequest("invalid JSON body: " + err.Error()).WriteJSON(w)
		return
	}

	a, err := s.admit(string(registry.CapabilityChat), req.Model)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	defer s.release(string(registry.CapabilityChat), a)

	req.Model = a.Decision.UpstreamModel
	backend := a.Backend
	route := streamproxy.RouteInfo{Backend: backend.Name, Model: a.Decision.UpstreamModel, Reason: a.Decision.Reason}

	ctx := r.Context()
	up := backendUpstream(backend)

	var body []byte
	if backend.Protocol == registry.ProtocolAnthropicMessages {
		params := upstream.BuildAnthropicMessageParams(req, backend.DefaultModel)
		body, err = upstream.MarshalAnthropicParams(params, req.Stream)
	} else {
		body, err = json.Marshal(req)
	}
	if err != nil {
		gatewayerror.InvalidRequest(err.Error()).WriteJSON(w)
		return
	}

	var resp *http.Response
	switch backend.Protocol {
	case registry.ProtocolAnthropicMessages:
		resp, err = upstream.DoMessages(ctx, s.deps.Pool, backend.BaseURL, up, anthropicAPIVersion, body)
	case registry.ProtocolLineJSON:
		resp, err = upstream.DoLineJSONCompletion(ctx, s.deps.Pool, backend.BaseURL, up, body)
	default:
		resp, err = upstream.DoChatCompletions(ctx, s.deps.Pool, backend.BaseURL, up, body)
	}
	if err != nil {
		gatewayerror.UpstreamProtocolError(err.Error()).WriteJSON(w)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := upstream.ReadAll(resp)
		gatewayerror.UpstreamHTTPError(mapUpstreamStatus(resp.StatusCode), string(raw)).WriteJSON(w)
		return
	}

	if req.Stream {
		opts := streamproxy.StreamOptions{Protocol: backend.Protocol, EmitThinking: backend.EmitThinking}
		if err := streamproxy.StreamChat(ctx, w, resp, route, opts); err != nil {
			s.log.WithError(err).WithField("backend", backend.Name).Warn("chat stream ended with error")
		}
		return
	}

	if err := streamproxy.NonStreamChat(w, resp, backend.Protocol, route); err != nil {
		writeGatewayError(w, err)
	}
}

// anthropicAPIVersion is the fixed Messages API version header this
// gateway speaks to anthropic_messages backends.
const anthropicAPIVersion = "2023-06-01"

// mapUpstreamStatus echoes 4xx upstream statuses and maps everything
// else to 502 (spec §7 upstream_http_error: "echo 4xx / 502 5xx").
func mapUpstreamStatus(status int) int {
	if status >= 400 && status < 500 {
		return status
	}
	return http.StatusBadGateway
}
