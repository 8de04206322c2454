package transcoder

import "github.com/llmrelay/llmrelay/internal/sseframe"

// passthrough forwards Anthropic upstream frames to an Anthropic client
// unchanged. Anthropic streams terminate with the upstream's own
// message_stop event; there is no separate sentinel to dedupe.
type passthrough struct {
	done bool
}

func (p *passthrough) Push(frame sseframe.Frame) []sseframe.Frame {
	if obj, ok := decodeJSON(frame.Data); ok {
		if t, _ := obj["type"].(string); t == "message_stop" {
			p.done = true
		}
	}
	return []sseframe.Frame{frame}
}

// Finalize synthesizes an empty message_delta+message_stop terminator if the
// upstream never sent one, so the client does not hang (spec §4.6).
func (p *passthrough) Finalize() []sseframe.Frame {
	if p.done {
		return nil
	}
	p.done = true
	return []sseframe.Frame{
		dataFrame(map[string]any{"type": "message_delta", "delta": map[string]any{}}),
		dataFrame(map[string]any{"type": "message_stop"}),
	}
}

// openAIPassthrough forwards OpenAI upstream frames to an OpenAI client
// unchanged, ensuring exactly one terminal `data: [DONE]` is ever sent
// (spec §8 property 3), even if the upstream sends its own and then closes,
// or sends none at all.
type openAIPassthrough struct {
	done bool
}

func (p *openAIPassthrough) Push(frame sseframe.Frame) []sseframe.Frame {
	if p.done {
		return nil
	}
	if frame.Data == "[DONE]" {
		p.done = true
		return []sseframe.Frame{frame}
	}
	return []sseframe.Frame{frame}
}

func (p *openAIPassthrough) Finalize() []sseframe.Frame {
	if p.done {
		return nil
	}
	p.done = true
	return []sseframe.Frame{doneFrame()}
}
