package transform

import (
	"encoding/json"
	"strings"
)

// OpenAIToAnthropicTransformer rewrites an OpenAI-shape request body into the
// Anthropic Messages shape, and the reverse on the response. It is the
// mirror of AnthropicTransformer and is selected for providers whose
// `protocol` is `anthropic` but whose callers submit OpenAI-shape bodies.
type OpenAIToAnthropicTransformer struct{}

func (OpenAIToAnthropicTransformer) Name() string { return "openai-to-anthropic" }

func (OpenAIToAnthropicTransformer) TransformRequest(req JSON) (JSON, error) {
	out := cloneJSON(req)

	messages, _ := out["messages"].([]any)
	var system string
	var newMessages []any
	toolCallNames := map[string]string{} // call id -> not used here, kept for symmetry

	for _, m := range messages {
		msg, ok := m.(JSON)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)

		switch role {
		case "system", "developer":
			system += stringOrJoinText(msg["content"])
			continue
		case "tool":
			toolCallID, _ := msg["tool_call_id"].(string)
			newMessages = append(newMessages, JSON{
				"role": "user",
				"content": []any{
					JSON{
						"type":        "tool_result",
						"tool_use_id": toolCallID,
						"content":     stringOrJoinText(msg["content"]),
					},
				},
			})
			continue
		case "assistant":
			blocks := []any{}
			if text := stringOrJoinText(msg["content"]); text != "" {
				blocks = append(blocks, JSON{"type": "text", "text": text})
			}
			if toolCalls, ok := msg["tool_calls"].([]any); ok {
				for _, tc := range toolCalls {
					call, ok := tc.(JSON)
					if !ok {
						continue
					}
					fn, _ := call["function"].(JSON)
					name, _ := fn["name"].(string)
					id, _ := call["id"].(string)
					toolCallNames[id] = name
					var args JSON
					if argsStr, ok := fn["arguments"].(string); ok {
						_ = json.Unmarshal([]byte(argsStr), &args)
					}
					blocks = append(blocks, JSON{
						"type":  "tool_use",
						"id":    id,
						"name":  name,
						"input": args,
					})
				}
			}
			newMessages = append(newMessages, JSON{"role": "assistant", "content": blocks})
			continue
		default:
			newMessages = append(newMessages, JSON{
				"role":    role,
				"content": convertOpenAIContentToBlocks(msg["content"]),
			})
		}
	}

	out["messages"] = newMessages
	if system != "" {
		out["system"] = system
	}

	if tools, ok := out["tools"].([]any); ok {
		out["tools"] = rewriteToolsToAnthropic(tools)
	}

	if tc, ok := out["tool_choice"]; ok {
		rewritten, drop := rewriteToolChoiceToAnthropic(tc)
		if drop {
			delete(out, "tool_choice")
		} else {
			out["tool_choice"] = rewritten
		}
	}

	if _, hasMax := out["max_tokens"]; !hasMax {
		if mct, ok := out["max_completion_tokens"]; ok {
			out["max_tokens"] = mct
		}
	}
	delete(out, "max_completion_tokens")
	delete(out, "n")
	delete(out, "logprobs")
	delete(out, "logit_bias")
	delete(out, "response_format")
	delete(out, "seed")

	return out, nil
}

func (OpenAIToAnthropicTransformer) TransformResponse(resp JSON) (JSON, error) {
	choices, ok := resp["choices"].([]any)
	if !ok || len(choices) == 0 {
		return resp, nil
	}
	choice, ok := choices[0].(JSON)
	if !ok {
		return resp, nil
	}
	message, _ := choice["message"].(JSON)

	out := JSON{
		"id":    orDefault(resp["id"], "chatcmpl-unknown"),
		"type":  "message",
		"role":  "assistant",
		"model": orDefault(resp["model"], "unknown"),
	}

	var blocks []any
	if content, ok := message["content"].(string); ok && content != "" {
		blocks = append(blocks, JSON{"type": "text", "text": content})
	}
	if toolCalls, ok := message["tool_calls"].([]any); ok {
		for _, tc := range toolCalls {
			call, ok := tc.(JSON)
			if !ok {
				continue
			}
			fn, _ := call["function"].(JSON)
			name, _ := fn["name"].(string)
			id, _ := call["id"].(string)
			if id == "" {
				id = "toolu_unknown"
			}
			var args JSON
			if argsStr, ok := fn["arguments"].(string); ok {
				_ = json.Unmarshal([]byte(argsStr), &args)
			}
			blocks = append(blocks, JSON{
				"type":  "tool_use",
				"id":    id,
				"name":  name,
				"input": args,
			})
		}
	}
	out["content"] = blocks

	finishReason, _ := choice["finish_reason"].(string)
	out["stop_reason"] = mapOpenAIFinishReasonToAnthropic(finishReason)

	if usage, ok := resp["usage"].(JSON); ok {
		out["usage"] = JSON{
			"input_tokens":  usage["prompt_tokens"],
			"output_tokens": usage["completion_tokens"],
		}
	}

	return out, nil
}

func mapOpenAIFinishReasonToAnthropic(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

func stringOrJoinText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, b := range v {
			block, ok := b.(JSON)
			if !ok {
				continue
			}
			if text, ok := block["text"].(string); ok {
				out += text
			}
		}
		return out
	default:
		return ""
	}
}

func convertOpenAIContentToBlocks(content any) []any {
	switch v := content.(type) {
	case string:
		return []any{JSON{"type": "text", "text": v}}
	case []any:
		var out []any
		for _, b := range v {
			block, ok := b.(JSON)
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				out = append(out, JSON{"type": "text", "text": block["text"]})
			case "image_url":
				imageURL, _ := block["image_url"].(JSON)
				url, _ := imageURL["url"].(string)
				out = append(out, JSON{"type": "image", "source": anthropicSourceFromImageURL(url)})
			}
		}
		return out
	default:
		return nil
	}
}

// anthropicSourceFromImageURL converts an OpenAI `image_url.url` string into
// an Anthropic image block's `source` object: a `data:` URI splits into a
// base64 source, anything else passes through as a url source.
func anthropicSourceFromImageURL(url string) JSON {
	if mediaType, data, ok := parseDataURL(url); ok {
		return JSON{"type": "base64", "media_type": mediaType, "data": data}
	}
	return JSON{"type": "url", "url": url}
}

// parseDataURL splits a `data:<media_type>;base64,<data>` URL into its
// media type and payload. ok is false for anything else (plain http(s) URLs).
func parseDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	mediaType, data, found = strings.Cut(rest, ";base64,")
	if !found {
		return "", "", false
	}
	return mediaType, data, true
}

func rewriteToolsToAnthropic(tools []any) []any {
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		tool, ok := t.(JSON)
		if !ok {
			out = append(out, t)
			continue
		}
		fn, _ := tool["function"].(JSON)
		out = append(out, JSON{
			"name":         fn["name"],
			"description":  fn["description"],
			"input_schema": fn["parameters"],
		})
	}
	return out
}

// rewriteToolChoiceToAnthropic returns (value, drop). drop is true for
// OpenAI's "none", which has no Anthropic equivalent and is simply omitted.
func rewriteToolChoiceToAnthropic(tc any) (any, bool) {
	if s, ok := tc.(string); ok {
		switch s {
		case "required":
			return "any", false
		case "none":
			return nil, true
		default:
			return s, false
		}
	}
	return tc, false
}

func orDefault(v any, def string) any {
	if v == nil {
		return def
	}
	if s, ok := v.(string); ok && s == "" {
		return def
	}
	return v
}
