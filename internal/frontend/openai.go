package frontend

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/llmrelay/llmrelay/internal/model"
)

// OpenAIAdapter parses and serializes the OpenAI chat/completions dialect.
type OpenAIAdapter struct{}

func (OpenAIAdapter) Name() Dialect { return Codex }

var knownOpenAIRequestKeys = map[string]bool{
	"model": true, "messages": true, "max_tokens": true, "max_completion_tokens": true,
	"temperature": true, "stream": true, "tools": true, "tool_choice": true, "stop": true,
}

func (OpenAIAdapter) ParseRequest(body map[string]any) (*model.Request, error) {
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
	} else if mt, ok := asIntPtr(body["max_completion_tokens"]); ok {
		req.MaxTokens = mt
	}
	if stop, ok := body["stop"]; ok {
		req.StopSequences = asStringSlice(stop)
	}
	if tools, ok := body["tools"].([]any); ok {
		req.Tools = parseOpenAITools(tools)
	}
	if tc, ok := body["tool_choice"]; ok {
		req.ToolChoice = parseOpenAIToolChoice(tc)
	}

	rawMessages, _ := body["messages"].([]any)
	messages, err := parseOpenAIMessages(rawMessages)
	if err != nil {
		return nil, err
	}
	req.Messages = messages

	for key, value := range body {
		if !knownOpenAIRequestKeys[key] {
			req.ExtraParams[key] = value
		}
	}

	return req, nil
}

func parseOpenAITools(raw []any) []model.Tool {
	var tools []model.Tool
	for _, t := range raw {
		tool, ok := t.(map[string]any)
		if !ok {
			continue
		}
		fn, _ := tool["function"].(map[string]any)
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		schema, _ := fn["parameters"].(map[string]any)
		tools = append(tools, model.Tool{Name: name, Description: desc, InputSchema: schema})
	}
	return tools
}

func parseOpenAIToolChoice(raw any) *model.ToolChoice {
	switch v := raw.(type) {
	case string:
		return &model.ToolChoice{Mode: v}
	case map[string]any:
		if fn, ok := v["function"].(map[string]any); ok {
			name, _ := fn["name"].(string)
			return &model.ToolChoice{Mode: "tool", Name: name}
		}
	}
	return nil
}

// parseOpenAIMessages converts OpenAI-shape messages into internal Messages,
// normalizing `developer` role to `system`, folding assistant `tool_calls`
// into `tool_use` blocks, and resolving a following `role=tool` message's
// `tool_call_id` when it is absent and exactly one call id is outstanding
// (spec §4.5, §8 property 10).
func parseOpenAIMessages(raw []any) ([]model.Message, error) {
	var messages []model.Message
	outstanding := map[string]bool{}

	for _, m := range raw {
		msgMap, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msgMap["role"].(string)
		if role == "developer" {
			role = "system"
		}

		switch role {
		case "assistant":
			msg := model.Message{Role: model.RoleAssistant}
			if content, ok := msgMap["content"].(string); ok {
				msg.Text = content
			}
			if toolCalls, ok := msgMap["tool_calls"].([]any); ok {
				var blocks []model.Block
				if msg.Text != "" {
					blocks = append(blocks, model.TextBlock{Text: msg.Text})
					msg.Text = ""
				}
				for _, tc := range toolCalls {
					call, ok := tc.(map[string]any)
					if !ok {
						continue
					}
					id, _ := call["id"].(string)
					fn, _ := call["function"].(map[string]any)
					name, _ := fn["name"].(string)
					var input map[string]any
					if argsStr, ok := fn["arguments"].(string); ok {
						_ = json.Unmarshal([]byte(argsStr), &input)
					}
					blocks = append(blocks, model.ToolUseBlock{ID: id, Name: name, Input: input})
					if id != "" {
						outstanding[id] = true
					}
				}
				msg.Blocks = blocks
			}
			messages = append(messages, msg)

		case "tool":
			id, hasID := msgMap["tool_call_id"].(string)
			if !hasID || id == "" {
				id = inferSoleOutstandingID(outstanding)
			}
			if id != "" {
				delete(outstanding, id)
			}
			content, _ := msgMap["content"].(string)
			messages = append(messages, model.Message{
				Role:       model.RoleTool,
				Text:       content,
				ToolCallID: id,
			})

		default:
			msg := model.Message{Role: model.Role(role)}
			if content, ok := msgMap["content"].(string); ok {
				msg.Text = content
			}
			messages = append(messages, msg)
		}
	}

	return messages, nil
}

// inferSoleOutstandingID resolves a missing tool_call_id only when exactly
// one assistant tool_call id is currently outstanding; with zero or multiple
// candidates it returns "" (left unset), per spec §8 property 10.
func inferSoleOutstandingID(outstanding map[string]bool) string {
	if len(outstanding) != 1 {
		return ""
	}
	for id := range outstanding {
		return id
	}
	return ""
}

// SerializeRequest renders an InternalRequest as an OpenAI chat/completions
// request body, the inverse of ParseRequest, for dispatch to an
// OpenAI-protocol upstream.
func (OpenAIAdapter) SerializeRequest(req *model.Request) (map[string]any, error) {
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
	if len(req.StopSequences) > 0 {
		out["stop"] = req.StopSequences
	}
	if len(req.Tools) > 0 {
		out["tools"] = serializeOpenAITools(req.Tools)
	}
	if req.ToolChoice != nil {
		out["tool_choice"] = serializeOpenAIToolChoice(req.ToolChoice)
	}

	messages := make([]any, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, serializeOpenAIMessage(msg))
	}
	out["messages"] = messages

	for key, value := range req.ExtraParams {
		out[key] = value
	}
	return out, nil
}

func serializeOpenAITools(tools []model.Tool) []any {
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name": t.Name, "description": t.Description, "parameters": t.InputSchema,
			},
		})
	}
	return out
}

func serializeOpenAIToolChoice(tc *model.ToolChoice) any {
	if tc.Mode == "tool" {
		return map[string]any{"type": "function", "function": map[string]any{"name": tc.Name}}
	}
	return tc.Mode
}

func serializeOpenAIMessage(msg model.Message) map[string]any {
	out := map[string]any{"role": string(msg.Role)}
	if msg.Role == model.RoleTool {
		out["tool_call_id"] = msg.ToolCallID
		out["content"] = msg.Text
		return out
	}
	if !msg.HasBlocks() {
		out["content"] = msg.Text
		return out
	}

	var content string
	var toolCalls []any
	for _, b := range msg.Blocks {
		switch block := b.(type) {
		case model.TextBlock:
			content += block.Text
		case model.ToolUseBlock:
			argsJSON, _ := json.Marshal(block.Input)
			toolCalls = append(toolCalls, map[string]any{
				"id": block.ID, "type": "function",
				"function": map[string]any{"name": block.Name, "arguments": string(argsJSON)},
			})
		}
	}
	out["content"] = content
	if toolCalls != nil {
		out["tool_calls"] = toolCalls
	}
	return out
}

// ParseResponse parses an OpenAI chat/completions response body into an
// InternalResponse, the inverse of SerializeResponse.
func (OpenAIAdapter) ParseResponse(body map[string]any) (*model.Response, error) {
	resp := &model.Response{}
	resp.ID, _ = body["id"].(string)
	resp.Model, _ = body["model"].(string)
	if created, ok := body["created"]; ok {
		resp.ExtraData = map[string]any{"created": created}
	}

	choices, _ := body["choices"].([]any)
	if len(choices) > 0 {
		choice, _ := choices[0].(map[string]any)
		message, _ := choice["message"].(map[string]any)
		if content, ok := message["content"].(string); ok && content != "" {
			resp.Content = append(resp.Content, model.TextBlock{Text: content})
		}
		if toolCalls, ok := message["tool_calls"].([]any); ok {
			for _, tc := range toolCalls {
				call, ok := tc.(map[string]any)
				if !ok {
					continue
				}
				id, _ := call["id"].(string)
				fn, _ := call["function"].(map[string]any)
				name, _ := fn["name"].(string)
				var input map[string]any
				if argsStr, ok := fn["arguments"].(string); ok {
					_ = json.Unmarshal([]byte(argsStr), &input)
				}
				resp.Content = append(resp.Content, model.ToolUseBlock{ID: id, Name: name, Input: input})
			}
		}
		if finish, ok := choice["finish_reason"].(string); ok {
			resp.StopReason = mapOpenAIFinishReasonToInternal(finish)
		}
	}

	if usage, ok := body["usage"].(map[string]any); ok {
		in, _ := asIntPtr(usage["prompt_tokens"])
		out, _ := asIntPtr(usage["completion_tokens"])
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

func mapOpenAIFinishReasonToInternal(finish string) model.StopReason {
	switch finish {
	case "length":
		return model.StopMaxTokens
	case "tool_calls":
		return model.StopToolUse
	case "stop":
		return model.StopEndTurn
	default:
		return model.StopEndTurn
	}
}

func (OpenAIAdapter) SerializeResponse(resp *model.Response) (map[string]any, error) {
	var content string
	var toolCalls []any
	for _, b := range resp.Content {
		switch block := b.(type) {
		case model.TextBlock:
			content += block.Text
		case model.ThinkingBlock:
			content += fmt.Sprintf("<thinking>%s</thinking>", block.Text)
		case model.ToolUseBlock:
			argsJSON, _ := json.Marshal(block.Input)
			toolCalls = append(toolCalls, map[string]any{
				"id":   block.ID,
				"type": "function",
				"function": map[string]any{
					"name":      block.Name,
					"arguments": string(argsJSON),
				},
			})
		}
	}

	message := map[string]any{"role": "assistant", "content": content}
	if toolCalls != nil {
		message["tool_calls"] = toolCalls
	}

	out := map[string]any{
		"id":      resp.ID,
		"object":  "chat.completion",
		"created": createdTimestamp(resp),
		"model":   resp.Model,
		"choices": []any{
			map[string]any{
				"index":         0,
				"message":       message,
				"finish_reason": mapStopReasonToOpenAI(resp.StopReason),
			},
		},
	}
	if resp.Usage != nil {
		out["usage"] = map[string]any{
			"prompt_tokens":     resp.Usage.InputTokens,
			"completion_tokens": resp.Usage.OutputTokens,
		}
	}
	return out, nil
}

// createdTimestamp returns the upstream response's own `created` value if
// ParseResponse carried one through in ExtraData, else the current time, so
// a response synthesized without an upstream timestamp (e.g. from a
// transcoded non-OpenAI upstream) still carries the field spec §4.5 names.
func createdTimestamp(resp *model.Response) any {
	if resp.ExtraData != nil {
		if created, ok := resp.ExtraData["created"]; ok {
			return created
		}
	}
	return time.Now().Unix()
}

func mapStopReasonToOpenAI(reason model.StopReason) string {
	switch reason {
	case model.StopEndTurn:
		return "stop"
	case model.StopMaxTokens:
		return "length"
	case model.StopToolUse:
		return "tool_calls"
	case model.StopStopSequence:
		return "stop"
	default:
		return "stop"
	}
}

func asIntPtr(v any) (*int, bool) {
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i, true
	case int:
		return &n, true
	default:
		return nil, false
	}
}

func asStringSlice(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []any:
		var out []string
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
