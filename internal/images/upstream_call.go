package images

import (
	"context"
	"time"

	"github.com/tributary-ai/local-gateway/internal/upstream"
)

// connectTimeout/readTimeout are spec §4.7's fixed bounds for the
// images upstream call.
const (
	connectTimeout = 5 * time.Second
	readTimeout    = 120 * time.Second
)

// httpResponseLike is the already-drained shape Generate works with,
// so its error-mapping logic doesn't need to juggle response body
// lifetime directly.
type httpResponseLike struct {
	status int
	raw    []byte
}

func (httpResponseLike) close() {}

func doOpenAIImages(pool *upstream.Pool, backendBaseURL string, backend upstream.Backend, body []byte) (*httpResponseLike, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout+readTimeout)
	defer cancel()
	resp, err := upstream.DoOpenAIImages(ctx, pool, backendBaseURL, backend, body)
	if err != nil {
		return nil, err
	}
	raw, err := upstream.ReadAll(resp)
	if err != nil {
		return nil, err
	}
	return &httpResponseLike{status: resp.StatusCode, raw: raw}, nil
}

func doA1111(pool *upstream.Pool, backendBaseURL string, backend upstream.Backend, body []byte) (*httpResponseLike, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout+readTimeout)
	defer cancel()
	resp, err := upstream.DoA1111Images(ctx, pool, backendBaseURL, backend, body)
	if err != nil {
		return nil, err
	}
	raw, err := upstream.ReadAll(resp)
	if err != nil {
		return nil, err
	}
	return &httpResponseLike{status: resp.StatusCode, raw: raw}, nil
}
