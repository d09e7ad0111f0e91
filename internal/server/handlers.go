package server

import (
	"encoding/json"
	"net/http"

	"github.com/tributary-ai/local-gateway/internal/registry"
	"github.com/tributary-ai/local-gateway/internal/types"
)

// handleHealth is the public liveness check (spec §6.1): no auth, no
// admission, no dependency on any backend.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleModels lists every client-visible model id: each backend's
// default_model plus its declared aliases (spec §6.1 "union across
// backends, with aliases").
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	var data []types.ModelInfo

	for _, b := range s.deps.Registry.Iter() {
		add := func(id string) {
			if id == "" || seen[id] {
				return
			}
			seen[id] = true
			data = append(data, types.ModelInfo{ID: id, Object: "model", OwnedBy: b.Class})
		}
		add(b.DefaultModel)
		for alias := range b.ModelAliases {
			add(alias)
		}
	}

	writeJSON(w, http.StatusOK, types.ModelsResponse{Object: "list", Data: data})
}

// gatewayStatus is the GET /v1/gateway/status response body (spec
// §4.9).
type gatewayStatus struct {
	AdmissionControl map[string]admissionEntry    `json:"admission_control"`
	BackendHealth    map[string]healthEntry       `json:"backend_health"`
	Build            string                       `json:"build"`
}

type admissionEntry struct {
	Limit     int `json:"limit"`
	Available int `json:"available"`
	Inflight  int `json:"inflight"`
}

type healthEntry struct {
	Healthy             bool   `json:"healthy"`
	Ready               bool   `json:"ready"`
	LastError           string `json:"last_error,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// handleGatewayStatus answers admission and health introspection.
// Deliberately does not acquire an admission slot itself (spec §4.9:
// "must not, to remain observable under load").
func (s *Server) handleGatewayStatus(w http.ResponseWriter, r *http.Request) {
	admissionOut := make(map[string]admissionEntry)
	for key, stat := range s.deps.Admission.Stats() {
		admissionOut[key] = admissionEntry{Limit: stat.Limit, Available: stat.Available, Inflight: stat.Inflight}
	}

	healthOut := make(map[string]healthEntry)
	for _, b := range s.deps.Registry.Iter() {
		snap, ok := s.deps.Health.Snapshot(b.Name)
		if !ok {
			continue
		}
		healthOut[b.Name] = healthEntry{
			Healthy:             snap.Healthy,
			Ready:               snap.Ready,
			LastError:           snap.LastError,
			ConsecutiveFailures: snap.ConsecutiveFailures,
		}
	}

	writeJSON(w, http.StatusOK, gatewayStatus{
		AdmissionControl: admissionOut,
		BackendHealth:    healthOut,
		Build:            s.cfg.BuildVersion,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// route resolves hint through the router and returns the backend
// config that serves it and the decision. It does not consult the
// health gate; admit applies that check.
func (s *Server) route(routeKind, hint string) (*registry.BackendConfig, *routeDecisionResult, error) {
	decision, err := s.deps.Router.Route(routeKind, hint)
	if err != nil {
		return nil, nil, err
	}
	backend, ok := s.deps.Registry.Lookup(decision.BackendName)
	if !ok {
		return nil, nil, err
	}
	return backend, &routeDecisionResult{
		BackendName:   decision.BackendName,
		BackendClass:  decision.BackendClass,
		UpstreamModel: decision.UpstreamModel,
		Reason:        decision.Reason,
	}, nil
}

type routeDecisionResult struct {
	BackendName   string
	BackendClass  string
	UpstreamModel string
	Reason        string
}
