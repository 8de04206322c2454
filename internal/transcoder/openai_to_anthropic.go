package transcoder

import "github.com/llmrelay/llmrelay/internal/sseframe"

// openAIToAnthropic implements spec §4.6 case 4: the symmetric state machine
// mapping an OpenAI upstream SSE stream onto Anthropic message events for an
// Anthropic-dialect client.
type openAIToAnthropic struct {
	messageID string
	model     string

	started bool

	textOpen      bool
	textIndex     int
	thinkingOpen  bool
	thinkingIndex int
	toolIndex     map[int]int // openai tool_calls[].index -> anthropic content-block index
	nextIndex     int
	openBlocks    []int

	done bool
}

func newOpenAIToAnthropic() *openAIToAnthropic {
	return &openAIToAnthropic{toolIndex: make(map[int]int)}
}

func (s *openAIToAnthropic) openBlock(kind string, extra map[string]any) sseframe.Frame {
	index := s.nextIndex
	s.nextIndex++
	s.openBlocks = append(s.openBlocks, index)
	block := map[string]any{"type": kind}
	for k, v := range extra {
		block[k] = v
	}
	return dataFrame(map[string]any{
		"type": "content_block_start", "index": index, "content_block": block,
	})
}

func (s *openAIToAnthropic) closeOpenBlocks() []sseframe.Frame {
	frames := make([]sseframe.Frame, 0, len(s.openBlocks))
	for _, index := range s.openBlocks {
		frames = append(frames, dataFrame(map[string]any{"type": "content_block_stop", "index": index}))
	}
	s.openBlocks = nil
	return frames
}

func (s *openAIToAnthropic) Push(frame sseframe.Frame) []sseframe.Frame {
	if frame.Data == "[DONE]" {
		if s.done {
			return nil
		}
		s.done = true
		frames := s.closeOpenBlocks()
		frames = append(frames,
			dataFrame(map[string]any{"type": "message_delta", "delta": map[string]any{"stop_reason": "end_turn"}}),
			dataFrame(map[string]any{"type": "message_stop"}),
		)
		return frames
	}

	obj, ok := decodeJSON(frame.Data)
	if !ok {
		return nil
	}

	var frames []sseframe.Frame

	if id, ok := obj["id"].(string); ok && id != "" {
		s.messageID = id
	}
	if model, ok := obj["model"].(string); ok && model != "" {
		s.model = model
	}
	if !s.started {
		s.started = true
		frames = append(frames, dataFrame(map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": s.messageID, "type": "message", "role": "assistant",
				"model": s.model, "content": []any{},
			},
		}))
	}

	choices, _ := obj["choices"].([]any)
	if len(choices) == 0 {
		return frames
	}
	choice, _ := choices[0].(map[string]any)
	delta, _ := choice["delta"].(map[string]any)

	if delta != nil {
		if content, ok := delta["content"].(string); ok && content != "" {
			if !s.textOpen {
				s.textOpen = true
				s.textIndex = s.nextIndex
				frames = append(frames, s.openBlock("text", map[string]any{"text": ""}))
			}
			frames = append(frames, dataFrame(map[string]any{
				"type": "content_block_delta", "index": s.textIndex,
				"delta": map[string]any{"type": "text_delta", "text": content},
			}))
		}

		if reasoning, ok := delta["reasoning_content"].(string); ok && reasoning != "" {
			if !s.thinkingOpen {
				s.thinkingOpen = true
				s.thinkingIndex = s.nextIndex
				frames = append(frames, s.openBlock("thinking", map[string]any{"thinking": ""}))
			}
			frames = append(frames, dataFrame(map[string]any{
				"type": "content_block_delta", "index": s.thinkingIndex,
				"delta": map[string]any{"type": "thinking_delta", "thinking": reasoning},
			}))
		}

		if toolCalls, ok := delta["tool_calls"].([]any); ok {
			for _, tc := range toolCalls {
				call, ok := tc.(map[string]any)
				if !ok {
					continue
				}
				openaiIndex := intOf(call["index"])
				fn, _ := call["function"].(map[string]any)

				anthIndex, seen := s.toolIndex[openaiIndex]
				if !seen {
					id, _ := call["id"].(string)
					name, _ := fn["name"].(string)
					anthIndex = s.nextIndex
					s.toolIndex[openaiIndex] = anthIndex
					frames = append(frames, s.openBlock("tool_use", map[string]any{
						"id": id, "name": name, "input": map[string]any{},
					}))
				}
				if args, ok := fn["arguments"].(string); ok && args != "" {
					frames = append(frames, dataFrame(map[string]any{
						"type": "content_block_delta", "index": anthIndex,
						"delta": map[string]any{"type": "input_json_delta", "partial_json": args},
					}))
				}
			}
		}
	}

	if finish, ok := choice["finish_reason"].(string); ok && finish != "" {
		s.done = true
		frames = append(frames, s.closeOpenBlocks()...)
		frames = append(frames,
			dataFrame(map[string]any{"type": "message_delta", "delta": map[string]any{"stop_reason": mapOpenAIFinishToAnthropic(finish)}}),
			dataFrame(map[string]any{"type": "message_stop"}),
		)
	}

	return frames
}

// Finalize synthesizes an empty message_delta+message_stop terminator if the
// upstream closed without a finish_reason or [DONE] (spec §4.6).
func (s *openAIToAnthropic) Finalize() []sseframe.Frame {
	if s.done {
		return nil
	}
	s.done = true
	frames := s.closeOpenBlocks()
	frames = append(frames,
		dataFrame(map[string]any{"type": "message_delta", "delta": map[string]any{}}),
		dataFrame(map[string]any{"type": "message_stop"}),
	)
	return frames
}

func mapOpenAIFinishToAnthropic(finish string) string {
	switch finish {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}
