package server

import (
	"net/http"

	"github.com/tributary-ai/local-gateway/internal/admission"
	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
	"github.com/tributary-ai/local-gateway/internal/registry"
	"github.com/tributary-ai/local-gateway/internal/upstream"
)

// admitted is what every request-plane handler needs once routing,
// the health gate, and admission have all passed: the backend to
// call, the routing decision to annotate the response with, and the
// slot to release on every exit path.
type admitted struct {
	Backend  *registry.BackendConfig
	Decision routeDecisionResult
	Slot     *admission.Slot
}

// admit runs the fixed gate sequence of spec §4.2-§4.4 for one
// (routeKind, hint) pair: route -> health gate -> admission acquire.
// Every error returned is already a *gatewayerror.Error ready to
// write.
func (s *Server) admit(routeKind, hint string) (*admitted, error) {
	backend, decision, err := s.route(routeKind, hint)
	if err != nil {
		return nil, err
	}

	if routable, reason := s.deps.Health.IsRoutable(backend.Name); !routable {
		return nil, gatewayerror.BackendNotReady(reason)
	}

	slot, err := s.deps.Admission.TryAcquire(backend.Name, routeKind)
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveAdmissionRejection(backend.Name, routeKind)
		}
		return nil, err
	}
	if s.deps.Metrics != nil {
		if stat, ok := s.deps.Admission.Stats()[backend.Name+"."+routeKind]; ok {
			s.deps.Metrics.ObserveAdmission(backend.Name, routeKind, float64(stat.Inflight))
		}
	}

	return &admitted{Backend: backend, Decision: *decision, Slot: slot}, nil
}

// release returns the admission slot a handler took via admit. Safe
// to call from a defer on every exit path (spec §4.6 cancellation:
// "the admission slot is released unconditionally").
func (s *Server) release(routeKind string, a *admitted) {
	if a == nil {
		return
	}
	s.deps.Admission.Release(a.Slot)
	if s.deps.Metrics != nil {
		if stat, ok := s.deps.Admission.Stats()[a.Backend.Name+"."+routeKind]; ok {
			s.deps.Metrics.ObserveAdmission(a.Backend.Name, routeKind, float64(stat.Inflight))
		}
	}
}

// backendUpstream resolves the upstream.Backend credentials/headers
// for b, reading its API key from the configured environment variable
// at call time (spec §4.1: APIKeyEnv is resolved, never persisted).
func backendUpstream(b *registry.BackendConfig) upstream.Backend {
	return upstream.Backend{BaseURL: b.BaseURL, APIKey: b.APIKey()}
}

func writeGatewayError(w http.ResponseWriter, err error) {
	if gwErr, ok := err.(*gatewayerror.Error); ok {
		gwErr.WriteJSON(w)
		return
	}
	gatewayerror.UpstreamProtocolError(err.Error()).WriteJSON(w)
}
