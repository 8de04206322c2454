package transform

import (
	"fmt"

	"github.com/google/uuid"
)

// DeepSeekTransformer drops the `metadata` field from requests. On
// responses it leaves OpenAI-shape `reasoning_content` (choices[].message or
// .delta) untouched, since the streaming transcoder matches that field name
// directly; for Anthropic-shape responses it promotes a top-level
// `reasoning_content` into a leading `thinking` content block. Either shape,
// it ensures every `tool_use` block carries an id.
type DeepSeekTransformer struct{}

func (t *DeepSeekTransformer) Name() string { return "deepseek" }

func (t *DeepSeekTransformer) TransformRequest(req JSON) (JSON, error) {
	out := cloneJSON(req)
	delete(out, "metadata")
	return out, nil
}

func (t *DeepSeekTransformer) TransformResponse(resp JSON) (JSON, error) {
	out := cloneJSON(resp)

	// OpenAI-shape: choices[].message.reasoning_content (or delta) is left as
	// reasoning_content, matching the field name the streaming transcoder
	// looks for; no rewrite needed here.

	// Anthropic-shape: top-level reasoning_content promoted into a leading
	// thinking content block.
	if reasoning, ok := out["reasoning_content"].(string); ok && reasoning != "" {
		delete(out, "reasoning_content")
		thinkingBlock := JSON{"type": "thinking", "thinking": reasoning, "signature": ""}
		content, _ := out["content"].([]any)
		out["content"] = append([]any{thinkingBlock}, content...)
	}

	if content, ok := out["content"].([]any); ok {
		for i, b := range content {
			block, ok := b.(JSON)
			if !ok || block["type"] != "tool_use" {
				continue
			}
			if id, ok := block["id"].(string); !ok || id == "" {
				block["id"] = generateToolID()
			}
			content[i] = block
		}
	}

	return out, nil
}

func generateToolID() string {
	return fmt.Sprintf("toolu_%s", uuid.NewString())
}
