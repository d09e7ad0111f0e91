package server

import (
	"encoding/json"
	"net/http"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
	"github.com/tributary-ai/local-gateway/internal/images"
	"github.com/tributary-ai/local-gateway/internal/registry"
)

// handleImagesGenerations implements spec §4.7: capability/admission
// gated image generation with content-addressed storage for url-format
// responses.
func (s *Server) handleImagesGenerations(w http.ResponseWriter, r *http.Request) {
	var req images.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		gatewayerror.InvalidRequest("invalid JSON body: " + err.Error()).WriteJSON(w)
		return
	}

	a, err := s.admit(string(registry.CapabilityImages), req.Model)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	defer s.release(string(registry.CapabilityImages), a)

	// b64_json policy is a pure configuration check, independent of
	// any upstream round trip, so it is rejected here before Generate
	// ever calls out (images.Generate's own doc comment: "that check
	// happens in server, before Generate is invoked").
	if req.EffectiveFormat() == "b64_json" && !a.Backend.Payload.ImagesAllowBase64 {
		gatewayerror.InvalidRequest("b64_json response_format is not permitted by this backend's payload policy").WriteJSON(w)
		return
	}
	if req.Model == "" {
		req.Model = a.Decision.UpstreamModel
	}

	result, err := images.Generate(
		s.deps.Pool, a.Backend.BaseURL, backendUpstream(a.Backend), a.Backend.Protocol, a.Backend.Payload,
		images.RouteMeta{Backend: a.Backend.Name, BackendClass: a.Backend.Class, Model: a.Decision.UpstreamModel},
		req, s.deps.ImageStore,
	)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	w.Header().Set("X-Backend-Used", a.Backend.Name)
	w.Header().Set("X-Model-Used", a.Decision.UpstreamModel)
	w.Header().Set("X-Router-Reason", a.Decision.Reason)
	writeJSON(w, http.StatusOK, result)
}
