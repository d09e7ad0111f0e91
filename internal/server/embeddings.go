package server

import (
	"encoding/json"
	"net/http"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
	"github.com/tributary-ai/local-gateway/internal/registry"
	"github.com/tributary-ai/local-gateway/internal/upstream"
)

// handleEmbeddings proxies an OpenAI-compatible embeddings request.
// Unlike chat/images, spec.md has no dedicated component for
// embeddings; it is the same route -> health gate -> admission ->
// upstream pipeline with a plain JSON pass-through, no streaming and
// no instrumentation headers (spec §6.1 lists those only for chat and
// images).
func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		gatewayerror.InvalidRequest("invalid JSON body: " + err.Error()).WriteJSON(w)
		return
	}
	hint, _ := req["model"].(string)

	a, err := s.admit(string(registry.CapabilityEmbeddings), hint)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	defer s.release(string(registry.CapabilityEmbeddings), a)

	req["model"] = a.Decision.UpstreamModel
	body, err := json.Marshal(req)
	if err != nil {
		gatewayerror.InvalidRequest(err.Error()).WriteJSON(w)
		return
	}

	resp, err := upstream.DoEmbeddings(r.Context(), s.deps.Pool, a.Backend.BaseURL, backendUpstream(a.Backend), body)
	if err != nil {
		gatewayerror.UpstreamProtocolError(err.Error()).WriteJSON(w)
		return
	}
	defer resp.Body.Close()

	raw, err := upstream.ReadAll(resp)
	if err != nil {
		gatewayerror.UpstreamProtocolError(err.Error()).WriteJSON(w)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gatewayerror.UpstreamHTTPError(mapUpstreamStatus(resp.StatusCode), string(raw)).WriteJSON(w)
		return
	}

	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		gatewayerror.UpstreamProtocolError(err.Error()).WriteJSON(w)
		return
	}
	envelope["_gateway"] = map[string]any{
		"backend": a.Backend.Name,
		"model":   a.Decision.UpstreamModel,
		"reason":  a.Decision.Reason,
	}
	writeJSON(w, http.StatusOK, envelope)
}
