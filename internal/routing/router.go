// Package routing implements the router (spec §4.4): a pure function
// of (route kind, client hint) to a RouteDecision, using only the
// backend registry and static alias maps. No network I/O, no health
// or cost awareness as routing inputs — those are gates applied
// around routing, not inputs to it.
//
// This intentionally does not carry forward the teacher's
// internal/routing/router.go strategy engine (cost_optimized,
// performance, round_robin) or its retry/fallback machinery
// (routeWithRetry, routeWithFallback, calculateBackoffDelay): spec.md's
// Non-goals name exactly this behavior ("no automatic backend
// fallback, no load balancing across replicas, no content-based model
// selection, no automatic retries on the server side"). See
// DESIGN.md's internal/routing entry.
package routing

import (
	"strings"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
	"github.com/tributary-ai/local-gateway/internal/registry"
)

// Reason tokens are stable and documented (spec §4.4, §3).
const (
	ReasonClientPinned     = "client_pinned"
	ReasonCapabilityOnly   = "capability_only"
	ReasonDefaultPreference = "default_preference"
	ReasonAliasExpanded    = "alias_expanded"
)

// Decision is the RouteDecision of spec §3.
type Decision struct {
	BackendName   string
	BackendClass  string
	UpstreamModel string
	Reason        string
}

// RouteTable maps a route kind to its ordered backend preference list
// (spec §4.4 step 3). Preference lists are static configuration; they
// never consult load or health.
type RouteTable map[string][]string

// Router is the pure (route_kind, hint) -> Decision function.
type Router struct {
	reg   *registry.Registry
	table RouteTable
}

// New builds a Router over reg using the given static route table.
func New(reg *registry.Registry, table RouteTable) *Router {
	return &Router{reg: reg, table: table}
}

// Route implements the algorithm of spec §4.4.
func (r *Router) Route(routeKind, hint string) (*Decision, error) {
	hint = strings.TrimSpace(hint)

	// Step 1: normalize — map legacy names through LegacyNameMap.
	normalized := r.reg.ResolveLegacy(hint)
	expandedFromAlias := normalized != hint && hint != ""

	// Step 2: does the hint name a concrete backend directly?
	if normalized != "" {
		if backend, ok := r.reg.Lookup(normalized); ok {
			if !r.reg.Supports(backend.Name, registry.Capability(routeKind)) {
				return nil, gatewayerror.CapabilityNotSupported(backend.Class, r.reg.CapabilitiesOf(backend.Name))
			}
			reason := ReasonClientPinned
			if expandedFromAlias {
				reason = ReasonAliasExpanded
			}
			return &Decision{
				BackendName:   backend.Name,
				BackendClass:  backend.Class,
				UpstreamModel: r.upstreamModel(backend, hint),
				Reason:        reason,
			}, nil
		}
	}

	// Step 2b: does any backend's own model_aliases claim this hint as
	// a per-backend alias (spec §4.4 step 1/2: "apply per-backend
	// model_aliases" during normalization, before falling through to
	// the route table)? This must run before the route table lookup —
	// otherwise an alias declared on a backend that isn't first in the
	// route table's preference list gets silently routed to whichever
	// backend the table prefers instead of the one that owns the alias.
	if hint != "" {
		if backend, ok := r.backendByModelAlias(hint); ok {
			if !r.reg.Supports(backend.Name, registry.Capability(routeKind)) {
				return nil, gatewayerror.CapabilityNotSupported(backend.Class, r.reg.CapabilitiesOf(backend.Name))
			}
			return &Decision{
				BackendName:   backend.Name,
				BackendClass:  backend.Class,
				UpstreamModel: r.upstreamModel(backend, hint),
				Reason:        ReasonAliasExpanded,
			}, nil
		}
	}

	// Step 3: consult the declarative route table for this route kind.
	for _, candidateName := range r.table[routeKind] {
		backend, ok := r.reg.Lookup(candidateName)
		if !ok {
			continue
		}
		if !r.reg.Supports(backend.Name, registry.Capability(routeKind)) {
			continue
		}
		reason := ReasonDefaultPreference
		if hint != "" {
			reason = ReasonCapabilityOnly
		}
		return &Decision{
			BackendName:   backend.Name,
			BackendClass:  backend.Class,
			UpstreamModel: r.upstreamModel(backend, hint),
			Reason:        reason,
		}, nil
	}

	// Nothing in the route table supports this route kind: fall back
	// to scanning every backend for the first capability match, so a
	// route kind with no declared preference list is still routable.
	for _, backend := range r.reg.Iter() {
		if r.reg.Supports(backend.Name, registry.Capability(routeKind)) {
			reason := ReasonDefaultPreference
			if hint != "" {
				reason = ReasonCapabilityOnly
			}
			return &Decision{
				BackendName:   backend.Name,
				BackendClass:  backend.Class,
				UpstreamModel: r.upstreamModel(backend, hint),
				Reason:        reason,
			}, nil
		}
	}

	return nil, gatewayerror.CapabilityNotSupported("", nil).WithDetail(map[string]any{
		"route_kind": routeKind,
	})
}

// backendByModelAlias returns the first backend (in registration
// order) whose model_aliases map declares hint as a key.
func (r *Router) backendByModelAlias(hint string) (*registry.BackendConfig, bool) {
	for _, backend := range r.reg.Iter() {
		if _, ok := backend.ModelAliases[hint]; ok {
			return backend, true
		}
	}
	return nil, false
}

// upstreamModel determines the upstream_model per spec §4.4 step 4:
// the client's hint with aliases applied, or the backend's declared
// default if the hint is empty.
func (r *Router) upstreamModel(backend *registry.BackendConfig, hint string) string {
	if hint == "" {
		return backend.DefaultModel
	}
	if alias, ok := backend.ModelAliases[hint]; ok {
		return alias
	}
	return hint
}
