package upstream

import (
	"encoding/json"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// defaultAnthropicMaxTokens is used when the client's request omits
// max_tokens, which the Messages API requires but Chat Completions
// does not.
const defaultAnthropicMaxTokens = 4096

// BuildAnthropicMessageParams translates an inbound OpenAI-shaped chat
// completion request into an Anthropic Messages request, for backends
// declared with protocol anthropic_messages (SPEC_FULL.md DOMAIN
// STACK supplement; the upstream family list of spec.md §6.2 only
// names openai_sse/line_json, but the registry's protocol field
// allows a third, and a client that always speaks OpenAI shape still
// needs its request translated, not just the response).
//
// System messages are concatenated into the top-level system field,
// since the Messages API has no "system" role in the messages array.
func BuildAnthropicMessageParams(req ChatCompletionRequest, defaultModel string) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	var system string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case openai.ChatMessageRoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case openai.ChatMessageRoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

// MarshalAnthropicParams renders params as the JSON body the Messages
// API expects, adding "stream" explicitly since MessageNewParams
// itself does not carry streaming intent (spec §4.6: streaming is a
// transport-level decision, not a request field the upstream caller
// forgets to set).
func MarshalAnthropicParams(params anthropic.MessageNewParams, stream bool) ([]byte, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if !stream {
		return body, nil
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	m["stream"] = true
	return json.Marshal(m)
}
