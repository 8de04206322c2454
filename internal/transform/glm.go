package transform

// GlmTransformer extracts `<think>...</think>` regions from GLM response
// text into a `reasoning_content` field. It has no request-direction effect.
// State is per-instance: the orchestrator builds a fresh transformer chain
// per attempt (see internal/transform.Registry), so one instance's buffered
// partial tag never leaks across unrelated requests or tiers.
type GlmTransformer struct {
	state *thinkTagState
}

// NewGlmTransformer constructs a GlmTransformer ready for one streaming
// attempt's sequence of response frames.
func NewGlmTransformer() *GlmTransformer {
	return &GlmTransformer{state: newThinkTagState("<think>", "</think>")}
}

func (t *GlmTransformer) Name() string { return "glm" }

func (t *GlmTransformer) TransformRequest(req JSON) (JSON, error) {
	return req, nil
}

func (t *GlmTransformer) TransformResponse(resp JSON) (JSON, error) {
	return extractReasoningFromChoices(resp, t.state), nil
}

// extractReasoningFromChoices walks the OpenAI-shape `choices[].delta` (for
// streaming frames) or `choices[].message` (for full responses), running the
// think-tag extractor over each choice's content field and writing the split
// result back as `content` + `reasoning_content`.
func extractReasoningFromChoices(resp JSON, state *thinkTagState) JSON {
	choices, ok := resp["choices"].([]any)
	if !ok {
		return resp
	}
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
			content, ok := container["content"].(string)
			if !ok || content == "" {
				continue
			}
			visible, reasoning := state.process(content)
			container["content"] = visible
			if reasoning != "" {
				if existing, ok := container["reasoning_content"].(string); ok {
					container["reasoning_content"] = existing + reasoning
				} else {
					container["reasoning_content"] = reasoning
				}
			}
		}
	}
	return resp
}
