package transcoder

import "github.com/llmrelay/llmrelay/internal/sseframe"

// anthropicToOpenAI implements spec §4.6 case 3: an event-driven state
// machine mapping an Anthropic upstream SSE stream onto OpenAI chat-completion
// chunks for an OpenAI-dialect client.
type anthropicToOpenAI struct {
	messageID  string
	model      string
	blockKinds map[int]string
	toolNames  map[int]string
	done       bool
}

func newAnthropicToOpenAI() *anthropicToOpenAI {
	return &anthropicToOpenAI{
		blockKinds: make(map[int]string),
		toolNames:  make(map[int]string),
	}
}

func (s *anthropicToOpenAI) chunk(delta map[string]any, finishReason any) sseframe.Frame {
	choice := map[string]any{"index": 0, "delta": delta}
	if finishReason != nil {
		choice["finish_reason"] = finishReason
	}
	return dataFrame(map[string]any{
		"id":      s.messageID,
		"object":  "chat.completion.chunk",
		"model":   s.model,
		"choices": []any{choice},
	})
}

func (s *anthropicToOpenAI) Push(frame sseframe.Frame) []sseframe.Frame {
	obj, ok := decodeJSON(frame.Data)
	if !ok {
		return nil
	}
	eventType, _ := obj["type"].(string)

	switch eventType {
	case "message_start":
		message, _ := obj["message"].(map[string]any)
		s.messageID, _ = message["id"].(string)
		s.model, _ = message["model"].(string)
		return []sseframe.Frame{s.chunk(map[string]any{"role": "assistant"}, nil)}

	case "content_block_start":
		index := intOf(obj["index"])
		block, _ := obj["content_block"].(map[string]any)
		kind, _ := block["type"].(string)
		s.blockKinds[index] = kind

		switch kind {
		case "tool_use":
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			s.toolNames[index] = name
			return []sseframe.Frame{s.chunk(map[string]any{
				"tool_calls": []any{map[string]any{
					"index": index, "id": id, "type": "function",
					"function": map[string]any{"name": name, "arguments": ""},
				}},
			}, nil)}
		case "text":
			if text, _ := block["text"].(string); text != "" {
				return []sseframe.Frame{s.chunk(map[string]any{"content": text}, nil)}
			}
		}
		return nil

	case "content_block_delta":
		index := intOf(obj["index"])
		delta, _ := obj["delta"].(map[string]any)
		if text, ok := delta["text"].(string); ok {
			return []sseframe.Frame{s.chunk(map[string]any{"content": text}, nil)}
		}
		if thinking, ok := delta["thinking"].(string); ok {
			return []sseframe.Frame{s.chunk(map[string]any{"reasoning_content": thinking}, nil)}
		}
		if partialJSON, ok := delta["partial_json"].(string); ok {
			return []sseframe.Frame{s.chunk(map[string]any{
				"tool_calls": []any{map[string]any{
					"index":    index,
					"function": map[string]any{"arguments": partialJSON},
				}},
			}, nil)}
		}
		return nil

	case "content_block_stop":
		return nil

	case "message_delta":
		delta, _ := obj["delta"].(map[string]any)
		stopReason, _ := delta["stop_reason"].(string)
		return []sseframe.Frame{s.chunk(map[string]any{}, mapAnthropicStopToOpenAI(stopReason))}

	case "message_stop":
		s.done = true
		return []sseframe.Frame{doneFrame()}

	default:
		return nil
	}
}

func (s *anthropicToOpenAI) Finalize() []sseframe.Frame {
	if s.done {
		return nil
	}
	s.done = true
	return []sseframe.Frame{doneFrame()}
}

func mapAnthropicStopToOpenAI(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "stop_sequence":
		return "stop"
	default:
		return "stop"
	}
}

func intOf(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
