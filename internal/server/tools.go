package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
	"github.com/tributary-ai/local-gateway/internal/toolbus"
)

// handleToolsList serves GET /v1/tools (spec §4.8): name, description,
// and argument schema for every registered tool.
func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.deps.Tools.Listings()})
}

// handleToolInvoke serves POST /v1/tools/{name} (spec §4.8). A tool
// that runs and fails internally is a 200 with outcome:"failed", not
// an HTTP error; toolbus.Invoke already encodes that distinction.
func (s *Server) handleToolInvoke(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	raw, err := decodeRawArgs(r)
	if err != nil {
		gatewayerror.InvalidArguments(err.Error()).WriteJSON(w)
		return
	}

	result, err := toolbus.Invoke(r.Context(), s.deps.Tools, s.deps.ToolLogger, name, raw)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeRawArgs(r *http.Request) (json.RawMessage, error) {
	if r.ContentLength == 0 {
		return json.RawMessage(`{}`), nil
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
