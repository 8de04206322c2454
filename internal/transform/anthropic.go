package transform

// AnthropicTransformer rewrites an Anthropic-shape request body into the
// OpenAI chat/completions shape expected by an `protocol=openai` upstream.
// It has no response-direction effect; the inverse direction is handled by
// OpenAIToAnthropicTransformer.
type AnthropicTransformer struct{}

func (AnthropicTransformer) Name() string { return "anthropic" }

func (AnthropicTransformer) TransformRequest(req JSON) (JSON, error) {
	out := cloneJSON(req)

	messages, _ := out["messages"].([]any)
	var newMessages []any

	if system, ok := out["system"]; ok {
		newMessages = append(newMessages, JSON{
			"role":    "system",
			"content": flattenSystemContent(system),
		})
		delete(out, "system")
	}

	for _, m := range messages {
		msg, ok := m.(JSON)
		if !ok {
			newMessages = append(newMessages, m)
			continue
		}
		newMessages = append(newMessages, flattenMessageContent(msg))
	}
	out["messages"] = newMessages

	if tools, ok := out["tools"].([]any); ok {
		out["tools"] = rewriteToolsToOpenAI(tools)
	}

	if tc, ok := out["tool_choice"]; ok {
		out["tool_choice"] = rewriteToolChoiceToOpenAI(tc)
	}

	if stop, ok := out["stop_sequences"]; ok {
		out["stop"] = stop
		delete(out, "stop_sequences")
	}

	delete(out, "metadata")

	return out, nil
}

func (AnthropicTransformer) TransformResponse(resp JSON) (JSON, error) {
	return resp, nil
}

// flattenSystemContent collapses an Anthropic system value (string or array
// of text blocks) into a plain string for the OpenAI system message.
func flattenSystemContent(system any) string {
	switch v := system.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, b := range v {
			if block, ok := b.(JSON); ok {
				if text, ok := block["text"].(string); ok {
					out += text
				}
			}
		}
		return out
	default:
		return ""
	}
}

// flattenMessageContent rewrites one Anthropic message's content into OpenAI
// form: a text-only block array collapses to a string; image blocks become
// `image_url` parts in a multimodal array.
func flattenMessageContent(msg JSON) JSON {
	out := cloneJSON(msg)
	content, ok := out["content"].([]any)
	if !ok {
		return out
	}

	allText := true
	for _, b := range content {
		block, ok := b.(JSON)
		if !ok {
			allText = false
			break
		}
		if block["type"] != "text" {
			allText = false
			break
		}
	}

	if allText {
		var text string
		for _, b := range content {
			block := b.(JSON)
			if s, ok := block["text"].(string); ok {
				text += s
			}
		}
		out["content"] = text
		return out
	}

	var parts []any
	for _, b := range content {
		block, ok := b.(JSON)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			parts = append(parts, JSON{"type": "text", "text": block["text"]})
		case "image":
			parts = append(parts, JSON{
				"type":      "image_url",
				"image_url": JSON{"url": imageURLFromAnthropicSource(block["source"])},
			})
		default:
			parts = append(parts, block)
		}
	}
	out["content"] = parts
	return out
}

// imageURLFromAnthropicSource converts an Anthropic image block's `source`
// object ({"media_type":...,"data":...} or {"url":...}) into the single URL
// string an OpenAI `image_url` part expects, inlining base64 data as a
// `data:` URI when media_type/data are present.
func imageURLFromAnthropicSource(source any) string {
	src, ok := source.(JSON)
	if !ok {
		return ""
	}
	if mediaType, ok := src["media_type"].(string); ok {
		if data, ok := src["data"].(string); ok && data != "" {
			return "data:" + mediaType + ";base64," + data
		}
	}
	if url, ok := src["url"].(string); ok {
		return url
	}
	return ""
}

func rewriteToolsToOpenAI(tools []any) []any {
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		tool, ok := t.(JSON)
		if !ok {
			out = append(out, t)
			continue
		}
		out = append(out, JSON{
			"type": "function",
			"function": JSON{
				"name":        tool["name"],
				"description": tool["description"],
				"parameters":  tool["input_schema"],
			},
		})
	}
	return out
}

func rewriteToolChoiceToOpenAI(tc any) any {
	choice, ok := tc.(JSON)
	if !ok {
		if s, ok := tc.(string); ok && s == "any" {
			return "required"
		}
		return tc
	}
	if choice["type"] == "tool" {
		return JSON{
			"type":     "function",
			"function": JSON{"name": choice["name"]},
		}
	}
	return choice
}

// cloneJSON produces a shallow top-level copy so transformers never mutate
// the caller's map in place.
func cloneJSON(in JSON) JSON {
	out := make(JSON, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
