package transcoder

import (
	"encoding/json"
	"fmt"

	"github.com/llmrelay/llmrelay/internal/sseframe"
)

func marshalJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// openAIToResponses implements the transcoder case where an OpenAI-protocol
// upstream stream is rewritten into the Responses API's named `response.*`
// SSE event vocabulary for a `/v1/responses` client.
type openAIToResponses struct {
	messageID string
	model     string
	started   bool
	itemAdded bool
	done      bool
}

func newOpenAIToResponses() *openAIToResponses {
	return &openAIToResponses{}
}

func (s *openAIToResponses) event(eventType string, body map[string]any) sseframe.Frame {
	body["type"] = eventType
	return sseframe.Frame{Event: eventType, Data: marshalJSON(body)}
}

func (s *openAIToResponses) ensureStarted() []sseframe.Frame {
	if s.started {
		return nil
	}
	s.started = true
	frames := []sseframe.Frame{s.event("response.created", map[string]any{
		"response": map[string]any{"id": fmt.Sprintf("resp_%s", s.messageID), "status": "in_progress", "model": s.model},
	})}
	if !s.itemAdded {
		s.itemAdded = true
		frames = append(frames, s.event("response.output_item.added", map[string]any{
			"output_index": 0,
			"item":         map[string]any{"type": "message", "role": "assistant", "id": fmt.Sprintf("msg_%s", s.messageID)},
		}))
	}
	return frames
}

func (s *openAIToResponses) Push(frame sseframe.Frame) []sseframe.Frame {
	if frame.Data == "[DONE]" {
		return s.finish()
	}

	obj, ok := decodeJSON(frame.Data)
	if !ok {
		return nil
	}
	if id, ok := obj["id"].(string); ok && id != "" {
		s.messageID = id
	}
	if model, ok := obj["model"].(string); ok && model != "" {
		s.model = model
	}

	var frames []sseframe.Frame
	frames = append(frames, s.ensureStarted()...)

	choices, _ := obj["choices"].([]any)
	if len(choices) == 0 {
		return frames
	}
	choice, _ := choices[0].(map[string]any)
	delta, _ := choice["delta"].(map[string]any)

	if delta != nil {
		if reasoning, ok := delta["reasoning_content"].(string); ok && reasoning != "" {
			frames = append(frames, s.event("response.reasoning_text.delta", map[string]any{
				"output_index": 0, "delta": reasoning,
			}))
		}
		if content, ok := delta["content"].(string); ok && content != "" {
			frames = append(frames, s.event("response.output_text.delta", map[string]any{
				"output_index": 0, "delta": content,
			}))
		}
	}

	if finish, ok := choice["finish_reason"].(string); ok && finish != "" {
		frames = append(frames, s.finish()...)
	}

	return frames
}

func (s *openAIToResponses) finish() []sseframe.Frame {
	if s.done {
		return nil
	}
	s.done = true
	frames := s.ensureStarted()
	frames = append(frames,
		s.event("response.output_item.done", map[string]any{
			"output_index": 0,
			"item":         map[string]any{"type": "message", "role": "assistant", "id": fmt.Sprintf("msg_%s", s.messageID)},
		}),
		s.event("response.completed", map[string]any{
			"response": map[string]any{"id": fmt.Sprintf("resp_%s", s.messageID), "status": "completed", "model": s.model},
		}),
	)
	return frames
}

// Finalize synthesizes response.output_item.done+response.completed if the
// upstream closed without a finish_reason or [DONE].
func (s *openAIToResponses) Finalize() []sseframe.Frame {
	return s.finish()
}

// anthropicToResponses implements the transcoder case where an
// Anthropic-protocol upstream stream is rewritten into the Responses API's
// `response.*` event vocabulary.
type anthropicToResponses struct {
	messageID string
	model     string
	started   bool
	itemAdded bool
	done      bool
}

func newAnthropicToResponses() *anthropicToResponses {
	return &anthropicToResponses{}
}

func (s *anthropicToResponses) event(eventType string, body map[string]any) sseframe.Frame {
	body["type"] = eventType
	return sseframe.Frame{Event: eventType, Data: marshalJSON(body)}
}

func (s *anthropicToResponses) ensureStarted() []sseframe.Frame {
	if s.started {
		return nil
	}
	s.started = true
	frames := []sseframe.Frame{s.event("response.created", map[string]any{
		"response": map[string]any{"id": fmt.Sprintf("resp_%s", s.messageID), "status": "in_progress", "model": s.model},
	})}
	if !s.itemAdded {
		s.itemAdded = true
		frames = append(frames, s.event("response.output_item.added", map[string]any{
			"output_index": 0,
			"item":         map[string]any{"type": "message", "role": "assistant", "id": fmt.Sprintf("msg_%s", s.messageID)},
		}))
	}
	return frames
}

func (s *anthropicToResponses) Push(frame sseframe.Frame) []sseframe.Frame {
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
		return s.ensureStarted()

	case "content_block_delta":
		delta, _ := obj["delta"].(map[string]any)
		var frames []sseframe.Frame
		if text, ok := delta["text"].(string); ok && text != "" {
			frames = append(frames, s.event("response.output_text.delta", map[string]any{"output_index": 0, "delta": text}))
		}
		if thinking, ok := delta["thinking"].(string); ok && thinking != "" {
			frames = append(frames, s.event("response.reasoning_text.delta", map[string]any{"output_index": 0, "delta": thinking}))
		}
		return frames

	case "message_stop":
		return s.finish()

	default:
		return nil
	}
}

func (s *anthropicToResponses) finish() []sseframe.Frame {
	if s.done {
		return nil
	}
	s.done = true
	frames := s.ensureStarted()
	frames = append(frames,
		s.event("response.output_item.done", map[string]any{
			"output_index": 0,
			"item":         map[string]any{"type": "message", "role": "assistant", "id": fmt.Sprintf("msg_%s", s.messageID)},
		}),
		s.event("response.completed", map[string]any{
			"response": map[string]any{"id": fmt.Sprintf("resp_%s", s.messageID), "status": "completed", "model": s.model},
		}),
	)
	return frames
}

func (s *anthropicToResponses) Finalize() []sseframe.Frame {
	return s.finish()
}
