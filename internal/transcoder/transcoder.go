// Package transcoder implements the cross-dialect SSE stream transcoder
// (C6): mapping one dialect's wire SSE events onto the other's event/delta
// model in real time, frame by frame, with no whole-stream buffering.
package transcoder

import (
	"encoding/json"

	"github.com/llmrelay/llmrelay/internal/frontend"
	"github.com/llmrelay/llmrelay/internal/sseframe"
)

// Transcoder consumes one upstream SSE frame at a time and returns zero or
// more frames to forward to the client in the inbound dialect. Finalize is
// called once, when the upstream stream ends (cleanly or not), to emit any
// outstanding terminator.
type Transcoder interface {
	Push(frame sseframe.Frame) []sseframe.Frame
	Finalize() []sseframe.Frame
}

// New selects the transcoder for the (inbound, upstream) dialect pair, per
// spec §4.6's four cases. Cases 1 and 2 (matching dialects) are simple
// passthrough; the transformer chain that also applies to same-dialect
// streams is the orchestrator's concern (C2), not this package's.
func New(inbound, upstream frontend.Dialect) Transcoder {
	switch {
	case inbound == frontend.ClaudeCode && upstream == frontend.ClaudeCode:
		return &passthrough{}
	case inbound == frontend.Codex && upstream == frontend.Codex:
		return &openAIPassthrough{}
	case inbound == frontend.Codex && upstream == frontend.ClaudeCode:
		return newAnthropicToOpenAI()
	case inbound == frontend.Responses && upstream == frontend.ClaudeCode:
		return newAnthropicToResponses()
	case inbound == frontend.Responses:
		return newOpenAIToResponses()
	default: // inbound == Anthropic, upstream == Codex
		return newOpenAIToAnthropic()
	}
}

func decodeJSON(data string) (map[string]any, bool) {
	if data == "[DONE]" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func dataFrame(v any) sseframe.Frame {
	b, _ := json.Marshal(v)
	frame := sseframe.Frame{Data: string(b)}
	if m, ok := v.(map[string]any); ok {
		if t, ok := m["type"].(string); ok {
			frame.Event = t
		}
	}
	return frame
}

func doneFrame() sseframe.Frame {
	return sseframe.Frame{Data: "[DONE]"}
}
