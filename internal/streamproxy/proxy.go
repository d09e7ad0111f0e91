package streamproxy

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tributary-ai/local-gateway/internal/gatewayerror"
	"github.com/tributary-ai/local-gateway/internal/registry"
)

// RouteInfo carries the already-computed routing decision into the
// proxy, so it can emit the route event before any upstream byte
// arrives and set the instrumentation headers before the first byte
// of the body is written (spec §4.6).
type RouteInfo struct {
	Backend string
	Model   string
	Reason  string
}

// StreamOptions configures one streaming proxy call.
type StreamOptions struct {
	Protocol     registry.Protocol
	EmitThinking bool
	IdleTimeout  time.Duration // default 60s per spec §5
}

// block is one unit of upstream data handed from the reader goroutine
// to the translation loop.
type block struct {
	payload string
	err     error
}

// StreamChat consumes upstreamResp (already a successful HTTP
// response whose body is SSE or line-delimited JSON, per protocol)
// and writes the gateway's fixed event protocol to w. It sets
// X-Backend-Used/X-Model-Used/X-Router-Reason before the first byte,
// and guarantees a final `done` or `error` event followed by the
// `data: [DONE]` sentinel.
//
// upstreamResp.Body is closed by the caller; StreamChat only reads it.
func StreamChat(ctx context.Context, w http.ResponseWriter, upstreamResp *http.Response, route RouteInfo, opts StreamOptions) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Backend-Used", route.Backend)
	w.Header().Set("X-Model-Used", route.Model)
	w.Header().Set("X-Router-Reason", route.Reason)
	w.WriteHeader(http.StatusOK)

	fw, ok := newFlushWriter(w)
	if !ok {
		return gatewayerror.UpstreamProtocolError("response writer does not support flushing")
	}

	if err := fw.writeFrame(mustJSON(newRouteEvent(route.Backend, route.Model, route.Reason))); err != nil {
		return err
	}

	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 60 * time.Second
	}

	blocks := make(chan block, 8)
	readerCtx, cancelReader := context.WithCancel(ctx)
	defer cancelReader()

	go readBlocks(readerCtx, upstreamResp.Body, opts.Protocol, blocks)

	terminal := false
	for !terminal {
		select {
		case <-ctx.Done():
			// Inbound disconnect: stop reading upstream and exit
			// without emitting further events (spec §4.6
			// cancellation; admission release is the caller's
			// responsibility on every exit path).
			return ctx.Err()
		case <-time.After(idle):
			_ = fw.writeFrame(mustJSON(newErrorEvent(gatewayerror.TokenUpstreamTimeout, "no upstream bytes received within idle timeout")))
			_ = fw.writeFrame(mustJSON(newDoneEvent()))
			_ = fw.writeDoneSentinel()
			return gatewayerror.UpstreamTimeout("stream idle timeout")
		case b, chOk := <-blocks:
			if !chOk {
				// Reader goroutine exited without an explicit done;
				// treat as a clean completion.
				_ = fw.writeFrame(mustJSON(newDoneEvent()))
				_ = fw.writeDoneSentinel()
				return nil
			}
			if b.err != nil {
				if b.err == io.EOF {
					_ = fw.writeFrame(mustJSON(newDoneEvent()))
					_ = fw.writeDoneSentinel()
					return nil
				}
				_ = fw.writeFrame(mustJSON(newErrorEvent(gatewayerror.TokenUpstreamProtocolError, b.err.Error())))
				_ = fw.writeFrame(mustJSON(newDoneEvent()))
				_ = fw.writeDoneSentinel()
				return gatewayerror.UpstreamProtocolError(b.err.Error())
			}

			events, done, err := translate(opts.Protocol, b.payload, opts.EmitThinking)
			if err != nil {
				_ = fw.writeFrame(mustJSON(newErrorEvent(gatewayerror.TokenUpstreamProtocolError, err.Error())))
				_ = fw.writeFrame(mustJSON(newDoneEvent()))
				_ = fw.writeDoneSentinel()
				return gatewayerror.UpstreamProtocolError(err.Error())
			}
			for _, ev := range events {
				if err := fw.writeFrame(ev); err != nil {
					return err
				}
			}
			if done {
				_ = fw.writeFrame(mustJSON(newDoneEvent()))
				_ = fw.writeDoneSentinel()
				terminal = true
			}
		}
	}
	return nil
}

// readBlocks drains body according to protocol's framing and sends
// each logical unit to out, closing out when the reader exits. This
// mirrors the teacher's StreamCompletion goroutine+channel+ctx.Done()
// shape (internal/providers/openai/provider.go).
func readBlocks(ctx context.Context, body io.Reader, protocol registry.Protocol, out chan<- block) {
	defer close(out)
	br := bufio.NewReader(body)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var payload string
		var err error
		if protocol == registry.ProtocolLineJSON {
			payload, err = readLine(br)
		} else {
			payload, err = readSSEBlock(br)
		}

		if payload != "" {
			select {
			case out <- block{payload: payload}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case out <- block{err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// translate applies the per-upstream-family translation rules of spec
// §4.6 to one raw block, returning zero or more encoded gateway event
// frames and whether this block signals stream completion.
func translate(protocol registry.Protocol, raw string, emitThinking bool) (events [][]byte, done bool, err error) {
	switch protocol {
	case registry.ProtocolLineJSON:
		return translateLineJSON(raw, emitThinking)
	case registry.ProtocolAnthropicMessages:
		return translateAnthropicSSE(raw)
	default:
		return translateOpenAISSE(raw)
	}
}

// translateOpenAISSE handles "OpenAI-shaped SSE with
// choices[].delta.content" (spec §4.6, §6.2 first bullet).
func translateOpenAISSE(raw string) (events [][]byte, done bool, err error) {
	data := extractSSEData(raw)
	if data == "" {
		return nil, false, nil
	}
	if data == "[DONE]" {
		return nil, true, nil
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, false, err
	}
	for _, choice := range chunk.Choices {
		content := choice.Delta.Content
		if content == "" {
			continue
		}
		events = append(events, mustJSON(newDeltaEvent(content)))
		if choice.FinishReason != "" {
			done = true
		}
	}
	return events, done, nil
}

// lineJSONFrame is the wire shape of the locally-hosted runtime (spec
// §6.2 "Chat line-JSON").
type lineJSONFrame struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done     bool   `json:"done"`
	Thinking string `json:"thinking"`
}

func translateLineJSON(raw string, emitThinking bool) (events [][]byte, done bool, err error) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return nil, false, nil
	}
	var frame lineJSONFrame
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		return nil, false, err
	}
	if emitThinking && frame.Thinking != "" {
		events = append(events, mustJSON(newThinkingEvent(frame.Thinking)))
	}
	if frame.Message.Content != "" {
		events = append(events, mustJSON(newDeltaEvent(frame.Message.Content)))
	}
	if frame.Done {
		done = true
	}
	return events, done, nil
}

// anthropicStreamEvent is the minimal wire shape of an Anthropic
// Messages streaming event (message_start/content_block_delta/
// message_stop) needed for translation. Frames are decoded from raw
// JSON into this struct; the SDK's stream event types are not used.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func translateAnthropicSSE(raw string) (events [][]byte, done bool, err error) {
	data := extractSSEData(raw)
	if data == "" {
		return nil, false, nil
	}
	var ev anthropicStreamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil, false, err
	}
	switch ev.Type {
	case "content_block_delta":
		if ev.Delta.Text != "" {
			events = append(events, mustJSON(newDeltaEvent(ev.Delta.Text)))
		}
	case "message_stop":
		done = true
	}
	return events, done, nil
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
