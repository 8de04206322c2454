package frontend

import (
	"github.com/llmrelay/llmrelay/internal/model"
)

// AnthropicAdapter parses and serializes the Anthropic Messages dialect.
type AnthropicAdapter struct{}

func (AnthropicAdapter) Name() Dialect { return ClaudeCode }

var knownAnthropicRequestKeys = map[string]bool{
	"model": true, "messages": true, "system": true, "max_tokens": true,
	"temperature": true, "stream": true, "tools": true, "tool_choice": true,
	"stop_sequences": true,
}

func (AnthropicAdapter) ParseRequest(body map[string]any) (*model.Request, error) {
	req := &model.Request{ExtraParams: map[string]any{}}

	if m, ok := body["model"].(string); ok {
		req.Model = m
	}
	if s, ok := body["stream"].(bool); ok {
		req.Stream = s
	}
	if t, ok := body["temperature"].(float64); ok {
		req.Temperature = &t
	}
	if mt, ok := asIntPtr(body["max_tokens"]); ok {
		req.MaxTokens = mt
	}
	if stop, ok := body["stop_sequences"]; ok {
		req.StopSequences = asStringSlice(stop)
	}
	if system, ok := body["system"]; ok {
		req.System = flattenSystemContent(system)
	}
	if tools, ok := body["tools"].([]any); ok {
		req.Tools = parseAnthropicTools(tools)
	}
	if tc, ok := body["tool_choice"]; ok {
		req.ToolChoice = parseAnthropicToolChoice(tc)
	}

	rawMessages, _ := body["messages"].([]any)
	req.Messages = parseAnthropicMessages(rawMessages)

	for key, value := range body {
		if !knownAnthropicRequestKeys[key] {
			req.ExtraParams[key] = value
		}
	}

	return req, nil
}

func parseAnthropicTools(raw []any) []model.Tool {
	var tools []model.Tool
	for _, t := range raw {
		tool, ok := t.(map[string]any)
		if !ok {
			continue
		}
		name, _ := tool["name"].(string)
		desc, _ := tool["description"].(string)
		schema, _ := tool["input_schema"].(map[string]any)
		tools = append(tools, model.Tool{Name: name, Description: desc, InputSchema: schema})
	}
	return tools
}

func parseAnthropicToolChoice(raw any) *model.ToolChoice {
	choice, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	mode, _ := choice["type"].(string)
	name, _ := choice["name"].(string)
	return &model.ToolChoice{Mode: mode, Name: name}
}

// parseAnthropicMessages accepts either a plain string or a content-block
// array per message, per spec §4.5. Block-array content is kept as Blocks;
// string content collapses to Text.
func parseAnthropicMessages(raw []any) []model.Message {
	var messages []model.Message
	for _, m := range raw {
		msgMap, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msgMap["role"].(string)
		msg := model.Message{Role: model.Role(role)}

		switch content := msgMap["content"].(type) {
		case string:
			msg.Text = content
		case []any:
			msg.Blocks = parseAnthropicBlocks(content)
		}

		messages = append(messages, msg)
	}
	return messages
}

func parseAnthropicBlocks(raw []any) []model.Block {
	var blocks []model.Block
	for _, b := range raw {
		blockMap, ok := b.(map[string]any)
		if !ok {
			continue
		}
		switch blockMap["type"] {
		case "text":
			text, _ := blockMap["text"].(string)
			blocks = append(blocks, model.TextBlock{Text: text})
		case "image":
			source, _ := blockMap["source"].(map[string]any)
			img := model.ImageBlock{}
			if source != nil {
				img.MimeType, _ = source["media_type"].(string)
				img.Base64, _ = source["data"].(string)
				img.URL, _ = source["url"].(string)
			}
			blocks = append(blocks, img)
		case "tool_use":
			id, _ := blockMap["id"].(string)
			name, _ := blockMap["name"].(string)
			input, _ := blockMap["input"].(map[string]any)
			blocks = append(blocks, model.ToolUseBlock{ID: id, Name: name, Input: input})
		case "tool_result":
			toolUseID, _ := blockMap["tool_use_id"].(string)
			isError, _ := blockMap["is_error"].(bool)
			content := stringOrJoinText(blockMap["content"])
			blocks = append(blocks, model.ToolResultBlock{ToolUseID: toolUseID, Content: content, IsError: isError})
		case "thinking":
			text, _ := blockMap["thinking"].(string)
			sig, _ := blockMap["signature"].(string)
			blocks = append(blocks, model.ThinkingBlock{Text: text, Signature: sig})
		}
	}
	return blocks
}

// SerializeRequest renders an InternalRequest as an Anthropic Messages
// request body, the inverse of ParseRequest, for dispatch to an
// Anthropic-protocol upstream.
func (AnthropicAdapter) SerializeRequest(req *model.Request) (map[string]any, error) {
	out := map[string]any{
		"model":  req.Model,
		"stream": req.Stream,
	}
	if req.MaxTokens != nil {
		out["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		out["temperature"] = *req.Temperature
	}
	if req.System != "" {
		out["system"] = req.System
	}
	if len(req.StopSequences) > 0 {
		out["stop_sequences"] = req.StopSequences
	}
	if len(req.Tools) > 0 {
		out["tools"] = serializeAnthropicTools(req.Tools)
	}
	if req.ToolChoice != nil {
		out["tool_choice"] = map[string]any{"type": req.ToolChoice.Mode, "name": req.ToolChoice.Name}
	}

	messages := make([]any, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, serializeAnthropicMessage(msg))
	}
	out["messages"] = messages
	return out, nil
}

func serializeAnthropicTools(tools []model.Tool) []any {
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name": t.Name, "description": t.Description, "input_schema": t.InputSchema,
		})
	}
	return out
}

func serializeAnthropicMessage(msg model.Message) map[string]any {
	out := map[string]any{"role": string(msg.Role)}
	if !msg.HasBlocks() {
		out["content"] = msg.Text
		return out
	}

	blocks := make([]any, 0, len(msg.Blocks))
	for _, b := range msg.Blocks {
		switch block := b.(type) {
		case model.TextBlock:
			blocks = append(blocks, map[string]any{"type": "text", "text": block.Text})
		case model.ToolUseBlock:
			blocks = append(blocks, map[string]any{
				"type": "tool_use", "id": block.ID, "name": block.Name, "input": block.Input,
			})
		case model.ToolResultBlock:
			blocks = append(blocks, map[string]any{
				"type": "tool_result", "tool_use_id": block.ToolUseID,
				"content": block.Content, "is_error": block.IsError,
			})
		case model.ThinkingBlock:
			blocks = append(blocks, map[string]any{
				"type": "thinking", "thinking": block.Text, "signature": block.Signature,
			})
		case model.ImageBlock:
			blocks = append(blocks, map[string]any{
				"type": "image",
				"source": map[string]any{
					"media_type": block.MimeType, "data": block.Base64, "url": block.URL,
				},
			})
		}
	}
	out["content"] = blocks
	return out
}

// ParseResponse parses an Anthropic Messages response body into an
// InternalResponse, the inverse of SerializeResponse.
func (AnthropicAdapter) ParseResponse(body map[string]any) (*model.Response, error) {
	resp := &model.Response{}
	resp.ID, _ = body["id"].(string)
	resp.Model, _ = body["model"].(string)

	if content, ok := body["content"].([]any); ok {
		resp.Content = parseAnthropicBlocks(content)
	}
	if stopReason, ok := body["stop_reason"].(string); ok {
		resp.StopReason = mapAnthropicStopReasonToInternal(stopReason)
	}
	if usage, ok := body["usage"].(map[string]any); ok {
		in, _ := asIntPtr(usage["input_tokens"])
		out, _ := asIntPtr(usage["output_tokens"])
		u := model.Usage{}
		if in != nil {
			u.InputTokens = *in
		}
		if out != nil {
			u.OutputTokens = *out
		}
		resp.Usage = &u
	}
	return resp, nil
}

func mapAnthropicStopReasonToInternal(reason string) model.StopReason {
	switch reason {
	case "max_tokens":
		return model.StopMaxTokens
	case "tool_use":
		return model.StopToolUse
	case "stop_sequence":
		return model.StopStopSequence
	default:
		return model.StopEndTurn
	}
}

func (AnthropicAdapter) SerializeResponse(resp *model.Response) (map[string]any, error) {
	content := make([]any, 0, len(resp.Content))
	for _, b := range resp.Content {
		switch block := b.(type) {
		case model.TextBlock:
			content = append(content, map[string]any{"type": "text", "text": block.Text})
		case model.ThinkingBlock:
			content = append(content, map[string]any{
				"type": "thinking", "thinking": block.Text, "signature": block.Signature,
			})
		case model.ToolUseBlock:
			content = append(content, map[string]any{
				"type": "tool_use", "id": block.ID, "name": block.Name, "input": block.Input,
			})
		case model.ImageBlock:
			content = append(content, map[string]any{
				"type": "image",
				"source": map[string]any{
					"media_type": block.MimeType, "data": block.Base64, "url": block.URL,
				},
			})
		}
	}

	out := map[string]any{
		"id":      resp.ID,
		"type":    "message",
		"role":    "assistant",
		"model":   resp.Model,
		"content": content,
	}
	if resp.StopReason != "" {
		out["stop_reason"] = mapStopReasonToAnthropic(resp.StopReason)
	}
	if resp.Usage != nil {
		out["usage"] = map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		}
	}
	return out, nil
}

func mapStopReasonToAnthropic(reason model.StopReason) string {
	switch reason {
	case model.StopEndTurn:
		return "end_turn"
	case model.StopMaxTokens:
		return "max_tokens"
	case model.StopToolUse:
		return "tool_use"
	case model.StopStopSequence:
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

// flattenSystemContent collapses an Anthropic system value (string or array
// of text blocks) into a plain string.
func flattenSystemContent(system any) string {
	switch v := system.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, b := range v {
			if block, ok := b.(map[string]any); ok {
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

// stringOrJoinText collapses a tool_result block's content (string or array
// of text blocks) into a plain string.
func stringOrJoinText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, b := range v {
			block, ok := b.(map[string]any)
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
