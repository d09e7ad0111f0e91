// Package upstream implements the upstream client (spec §4.5): a
// connection-pooled HTTPS client with per-request timeouts, TLS
// verification, and streaming body reads. One *http.Client is kept
// per upstream host so connection pooling is shared across requests
// to that host (spec §5 "Shared resources").
//
// Grounded on the teacher's internal/providers/openai/provider.go and
// internal/providers/anthropic/provider.go (http.Client construction,
// timeout plumbing) before SDK-wrapping, and on the retrieved
// claude-gateway facade's Upstream{BaseURL, APIKey, Headers} struct
// and per-family Do* request functions.
package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"
)

// TLSConfig governs outbound TLS behavior (spec §4.5, §6.3
// BACKEND_VERIFY_TLS / BACKEND_CA_BUNDLE / BACKEND_CLIENT_CERT).
type TLSConfig struct {
	VerifyTLS  bool
	CABundle   string
	ClientCert string
	ClientKey  string
}

// Backend is the minimal shape the client needs to address an
// upstream: its base URL, credential, and any static headers.
type Backend struct {
	BaseURL string
	APIKey  string
	Headers map[string]string
}

// Pool hands out one *http.Client per upstream host, with a shared
// connect timeout and TLS configuration.
type Pool struct {
	connectTimeout time.Duration
	tlsConfig      TLSConfig

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewPool builds a Pool. connectTimeout bounds dial+TLS handshake
// (default 5s per spec §4.5); overall read timeout is set per request
// via context, since streams may last minutes.
func NewPool(connectTimeout time.Duration, tlsCfg TLSConfig) *Pool {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	return &Pool{
		connectTimeout: connectTimeout,
		tlsConfig:      tlsCfg,
		clients:        make(map[string]*http.Client),
	}
}

func (p *Pool) clientFor(host string) (*http.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[host]; ok {
		return c, nil
	}
	tlsClientConfig, err := p.buildTLSConfig()
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: p.connectTimeout}).DialContext,
		TLSClientConfig:     tlsClientConfig,
		TLSHandshakeTimeout: p.connectTimeout,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &http.Client{Transport: transport}
	p.clients[host] = c
	return c, nil
}

func (p *Pool) buildTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: !p.tlsConfig.VerifyTLS}

	if p.tlsConfig.CABundle != "" {
		pemBytes, err := os.ReadFile(p.tlsConfig.CABundle)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("no certificates parsed from CA bundle %s", p.tlsConfig.CABundle)
		}
		cfg.RootCAs = pool
	}

	if p.tlsConfig.ClientCert != "" && p.tlsConfig.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(p.tlsConfig.ClientCert, p.tlsConfig.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("loading client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// Do issues an HTTP request against backend. The caller controls the
// overall deadline via ctx (spec: connect 5s, chat non-stream 60s,
// images 120s, streaming reads bounded by an idle timeout applied by
// the stream consumer, not here). The response body is not buffered;
// callers must close it.
func (p *Pool) Do(ctx context.Context, method, backendBaseURL, path string, body io.Reader, backend Backend, extraHeaders map[string]string) (*http.Response, error) {
	url := backendBaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if backend.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+backend.APIKey)
	}
	for k, v := range backend.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	client, err := p.clientFor(req.URL.Host)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}
