package transform

import "strings"

// MinimaxTransformer enables split reasoning output on requests and, on
// responses, maps Minimax's `reasoning_details` field to the conventional
// `reasoning_content` name and guards against empty-looking thinking-only
// Anthropic-shape responses.
type MinimaxTransformer struct{}

func (MinimaxTransformer) Name() string { return "minimax" }

func (MinimaxTransformer) TransformRequest(req JSON) (JSON, error) {
	out := cloneJSON(req)
	out["reasoning_split"] = true
	delete(out, "metadata")
	for key := range out {
		if strings.HasPrefix(key, "anthropic_") || key == "anthropic-beta" || key == "anthropic-version" {
			delete(out, key)
		}
	}
	delete(out, "anthropic-beta")
	delete(out, "anthropic-version")
	return out, nil
}

func (MinimaxTransformer) TransformResponse(resp JSON) (JSON, error) {
	out := cloneJSON(resp)

	if choices, ok := out["choices"].([]any); ok {
		for _, c := range choices {
			choice, ok := c.(JSON)
			if !ok {
				continue
			}
			for _, key := range []string{"delta", "message"} {
				container, ok := choice[key].(JSON)
				if !ok {
					continue
				}
				if rd, ok := container["reasoning_details"]; ok {
					container["reasoning_content"] = rd
					delete(container, "reasoning_details")
				}
			}
		}
	}

	// Anthropic-shape response: if content is only `thinking` blocks,
	// synthesize a leading text block so the client never sees an empty
	// message.
	if content, ok := out["content"].([]any); ok && len(content) > 0 {
		allThinking := true
		var thinkingTexts []string
		for _, b := range content {
			block, ok := b.(JSON)
			if !ok || block["type"] != "thinking" {
				allThinking = false
				break
			}
			if text, ok := block["thinking"].(string); ok {
				thinkingTexts = append(thinkingTexts, text)
			}
		}
		if allThinking {
			joined := strings.Join(thinkingTexts, "")
			synthesized := JSON{"type": "text", "text": "[Thinking]\n" + joined}
			out["content"] = append([]any{synthesized}, content...)
		}
	}

	return out, nil
}
