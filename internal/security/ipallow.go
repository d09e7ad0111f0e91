package security

import (
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
)

// AllowList gates access by source IP, for the UI subtree's additional
// restriction (spec §4.10). Entries are CIDR blocks; a bare IP is
// treated as a /32 (or /128 for IPv6).
type AllowList struct {
	nets []*net.IPNet
	log  *logrus.Logger
}

// NewAllowList parses cidrs into an AllowList. An empty list allows
// every address (see Allowed).
func NewAllowList(cidrs []string, log *logrus.Logger) (*AllowList, error) {
	al := &AllowList{log: log}
	for _, entry := range cidrs {
		_, ipnet, err := net.ParseCIDR(normalizeCIDR(entry))
		if err != nil {
			return nil, fmt.Errorf("parsing IP allowlist entry %q: %w", entry, err)
		}
		al.nets = append(al.nets, ipnet)
	}
	return al, nil
}

func normalizeCIDR(entry string) string {
	if _, _, err := net.ParseCIDR(entry); err == nil {
		return entry
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return entry
	}
	if ip.To4() != nil {
		return entry + "/32"
	}
	return entry + "/128"
}

// Allowed reports whether remoteIP matches any configured network.
// An AllowList with zero entries allows everything — configuring the
// feature at all is what enables the restriction.
func (al *AllowList) Allowed(remoteIP string) bool {
	if len(al.nets) == 0 {
		return true
	}
	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return false
	}
	for _, n := range al.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware rejects requests whose client IP is not in the allowlist
// with 403 Forbidden (spec §4.10 "UI subtrees are additionally gated
// by an IP allowlist when configured").
func (al *AllowList) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !al.Allowed(ip) {
			al.log.WithFields(logrus.Fields{"path": r.URL.Path, "remote_ip": ip}).Warn("IP allowlist rejected request")
			gatewayerror.Forbidden("source IP is not permitted").WriteJSON(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
