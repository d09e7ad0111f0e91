package streamproxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/local-gateway/internal/registry"
)

func TestTranslateOpenAISSE_EmitsDeltaAndSkipsEmpty(t *testing.T) {
	events, done, err := translateOpenAISSE(`data: {"choices":[{"delta":{"content":"hi"}}]}`)
	require.NoError(t, err)
	assert.False(t, done)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0]), `"delta":"hi"`)

	events, done, err = translateOpenAISSE(`data: {"choices":[{"delta":{"content":""}}]}`)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, events)

	events, done, err = translateOpenAISSE("data: [DONE]")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, events)
}

func TestTranslateLineJSON_RespectsEmitThinkingFlag(t *testing.T) {
	line := `{"message":{"content":"hi"},"thinking":"reasoning...","done":false}`

	events, done, err := translateLineJSON(line, true)
	require.NoError(t, err)
	assert.False(t, done)
	require.Len(t, events, 2)
	assert.Contains(t, string(events[0]), `"thinking":"reasoning..."`)
	assert.Contains(t, string(events[1]), `"delta":"hi"`)

	events, done, err = translateLineJSON(line, false)
	require.NoError(t, err)
	assert.False(t, done)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0]), `"delta":"hi"`)
}

func TestTranslateLineJSON_DoneTerminatesStream(t *testing.T) {
	events, done, err := translateLineJSON(`{"message":{"content":""},"done":true}`, false)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, events)
}

func TestTranslateAnthropicSSE_ContentBlockDeltaAndStop(t *testing.T) {
	events, done, err := translateAnthropicSSE(`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}`)
	require.NoError(t, err)
	assert.False(t, done)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0]), `"delta":"hi"`)

	events, done, err = translateAnthropicSSE(`data: {"type":"message_stop"}`)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, events)
}

func fakeUpstreamResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestStreamChat_EmitsRouteEventFirstThenDeltaThenDone(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"
	rec := httptest.NewRecorder()

	err := StreamChat(context.Background(), rec, fakeUpstreamResponse(body),
		RouteInfo{Backend: "gpu_fast", Model: "llama-3-8b-instruct", Reason: "default_preference"},
		StreamOptions{Protocol: registry.ProtocolOpenAISSE, IdleTimeout: time.Second})
	require.NoError(t, err)

	out := rec.Body.String()
	routeIdx := strings.Index(out, `"type":"route"`)
	deltaIdx := strings.Index(out, `"type":"delta"`)
	doneIdx := strings.Index(out, `"type":"done"`)
	sentinelIdx := strings.Index(out, "data: [DONE]")

	require.True(t, routeIdx >= 0 && deltaIdx > routeIdx && doneIdx > deltaIdx && sentinelIdx > doneIdx)
	assert.Equal(t, "gpu_fast", rec.Header().Get("X-Backend-Used"))
	assert.Equal(t, "llama-3-8b-instruct", rec.Header().Get("X-Model-Used"))
	assert.Equal(t, "default_preference", rec.Header().Get("X-Router-Reason"))
}

func TestStreamChat_IdleTimeoutEmitsErrorThenDone(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	rec := httptest.NewRecorder()

	err := StreamChat(context.Background(), rec, &http.Response{StatusCode: http.StatusOK, Body: pr},
		RouteInfo{Backend: "gpu_fast", Model: "m", Reason: "default_preference"},
		StreamOptions{Protocol: registry.ProtocolOpenAISSE, IdleTimeout: 10 * time.Millisecond})
	require.Error(t, err)

	out := rec.Body.String()
	assert.Contains(t, out, `"type":"error"`)
	assert.Contains(t, out, `"type":"done"`)
}

func TestStreamChat_CancellationStopsWithoutPanics(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	rec := httptest.NewRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := StreamChat(ctx, rec, &http.Response{StatusCode: http.StatusOK, Body: pr},
		RouteInfo{Backend: "gpu_fast", Model: "m", Reason: "default_preference"},
		StreamOptions{Protocol: registry.ProtocolOpenAISSE, IdleTimeout: time.Second})
	assert.Error(t, err)
}

func TestNonStreamChat_InjectsGatewayAnnotation(t *testing.T) {
	body := `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi"}}]}`
	rec := httptest.NewRecorder()

	err := NonStreamChat(rec, fakeUpstreamResponse(body), registry.ProtocolOpenAISSE,
		RouteInfo{Backend: "gpu_fast", Model: "llama-3-8b-instruct", Reason: "client_pinned"})
	require.NoError(t, err)

	assert.Equal(t, "gpu_fast", rec.Header().Get("X-Backend-Used"))
	assert.Contains(t, rec.Body.String(), `"_gateway"`)
	assert.Contains(t, rec.Body.String(), `"reason":"client_pinned"`)
}

func TestNonStreamChat_TranslatesAnthropicResponse(t *testing.T) {
	body := `{"id":"msg_1","model":"claude-x","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":5}}`
	rec := httptest.NewRecorder()

	err := NonStreamChat(rec, fakeUpstreamResponse(body), registry.ProtocolAnthropicMessages,
		RouteInfo{Backend: "claude_backend", Model: "claude-x", Reason: "capability_only"})
	require.NoError(t, err)

	out := rec.Body.String()
	assert.Contains(t, out, `"content":"hi"`)
	assert.Contains(t, out, `"object":"chat.completion"`)
	assert.Contains(t, out, `"_gateway"`)
}

func TestNonStreamChat_NonSuccessStatusReturnsUpstreamHTTPError(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader(`{"error":"boom"}`))}
	rec := httptest.NewRecorder()

	err := NonStreamChat(rec, resp, registry.ProtocolOpenAISSE, RouteInfo{Backend: "b", Model: "m", Reason: "r"})
	require.Error(t, err)
}
