package frontend

import (
	"encoding/json"
	"fmt"

	"github.com/llmrelay/llmrelay/internal/model"
)

// ResponsesAdapter parses and serializes the OpenAI "Responses" dialect
// (`/v1/responses`): `input`/`instructions` requests and a
// `{object:"response", output:[...]}` response envelope. It maps onto the
// same InternalRequest/InternalResponse the chat/completions and Anthropic
// adapters use, so a Responses-API request is dispatched through the normal
// tier/attempt pipeline (spec §9's "maps to core via the same pipeline") —
// only the inbound wire shape differs.
type ResponsesAdapter struct{}

func (ResponsesAdapter) Name() Dialect { return Responses }

// ParseRequest parses a Responses-shape body: `instructions` becomes
// req.System; each `input` item of type "message" becomes an
// InternalRequest message, normalizing `developer` role to `system` the
// same way the chat/completions adapter does; "function_call" items become
// assistant tool_use blocks and "function_call_output" items become tool
// result messages so a follow-up turn in an agentic loop round-trips.
func (ResponsesAdapter) ParseRequest(body map[string]any) (*model.Request, error) {
	req := &model.Request{ExtraParams: map[string]any{}}

	if m, ok := body["model"].(string); ok {
		req.Model = m
	}
	if s, ok := body["stream"].(bool); ok {
		req.Stream = s
	}
	if instructions, ok := body["instructions"].(string); ok {
		req.System = instructions
	}
	if t, ok := body["temperature"].(float64); ok {
		req.Temperature = &t
	}
	if mt, ok := asIntPtr(body["max_output_tokens"]); ok {
		req.MaxTokens = mt
	}
	if tools, ok := body["tools"].([]any); ok {
		req.Tools = parseResponsesTools(tools)
	}
	if tc, ok := body["tool_choice"]; ok {
		req.ToolChoice = parseOpenAIToolChoice(tc)
	}

	rawInput, _ := body["input"].([]any)
	messages, err := parseResponsesInput(rawInput)
	if err != nil {
		return nil, err
	}
	req.Messages = messages

	return req, nil
}

func parseResponsesInput(raw []any) ([]model.Message, error) {
	var messages []model.Message
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch m["type"] {
		case "message", "":
			role, _ := m["role"].(string)
			if role == "developer" {
				role = "system"
			}
			messages = append(messages, model.Message{
				Role: model.Role(role),
				Text: joinResponsesContentText(m["content"]),
			})

		case "function_call":
			name, _ := m["name"].(string)
			id, _ := m["call_id"].(string)
			var input map[string]any
			if argsStr, ok := m["arguments"].(string); ok {
				_ = json.Unmarshal([]byte(argsStr), &input)
			}
			messages = append(messages, model.Message{
				Role:   model.RoleAssistant,
				Blocks: []model.Block{model.ToolUseBlock{ID: id, Name: name, Input: input}},
			})

		case "function_call_output":
			id, _ := m["call_id"].(string)
			messages = append(messages, model.Message{
				Role:       model.RoleTool,
				Text:       responsesOutputToText(m["output"]),
				ToolCallID: id,
			})
		}
	}
	return messages, nil
}

// joinResponsesContentText concatenates the text of every `input_text` (or
// `output_text`) part in a Responses-shape content array.
func joinResponsesContentText(content any) string {
	parts, ok := content.([]any)
	if !ok {
		return ""
	}
	var out string
	for _, p := range parts {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		switch part["type"] {
		case "input_text", "output_text":
			if text, ok := part["text"].(string); ok {
				out += text
			}
		}
	}
	return out
}

// responsesOutputToText flattens a function_call_output's `output`, which is
// either a plain string or a multi-part content array, to a single string.
func responsesOutputToText(output any) string {
	switch v := output.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, p := range v {
			part, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok {
				out += text
			}
		}
		return out
	default:
		return ""
	}
}

// parseResponsesTools reads the Responses API's flattened tool shape
// (`{type:"function", name, description, parameters}`, no nested `function`
// object as chat/completions uses).
func parseResponsesTools(raw []any) []model.Tool {
	var tools []model.Tool
	for _, t := range raw {
		tool, ok := t.(map[string]any)
		if !ok {
			continue
		}
		name, _ := tool["name"].(string)
		desc, _ := tool["description"].(string)
		schema, _ := tool["parameters"].(map[string]any)
		tools = append(tools, model.Tool{Name: name, Description: desc, InputSchema: schema})
	}
	return tools
}

// SerializeRequest is the inverse of ParseRequest, rendering an
// InternalRequest back into the Responses wire shape. The orchestrator never
// calls this directly (providers speak "openai" or "anthropic" protocol, not
// "responses"), but it keeps the adapter's two directions testably
// symmetric.
func (ResponsesAdapter) SerializeRequest(req *model.Request) (map[string]any, error) {
	out := map[string]any{
		"model":  req.Model,
		"stream": req.Stream,
	}
	if req.System != "" {
		out["instructions"] = req.System
	}
	if req.MaxTokens != nil {
		out["max_output_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		out["temperature"] = *req.Temperature
	}
	if len(req.Tools) > 0 {
		out["tools"] = serializeResponsesTools(req.Tools)
	}
	if req.ToolChoice != nil {
		out["tool_choice"] = serializeOpenAIToolChoice(req.ToolChoice)
	}

	input := make([]any, 0, len(req.Messages))
	for _, msg := range req.Messages {
		input = append(input, serializeResponsesInputItem(msg))
	}
	out["input"] = input
	return out, nil
}

func serializeResponsesInputItem(msg model.Message) map[string]any {
	if msg.Role == model.RoleTool {
		return map[string]any{
			"type":    "function_call_output",
			"call_id": msg.ToolCallID,
			"output":  msg.Text,
		}
	}
	role := string(msg.Role)
	return map[string]any{
		"type":    "message",
		"role":    role,
		"content": []any{map[string]any{"type": "input_text", "text": msg.Text}},
	}
}

func serializeResponsesTools(tools []model.Tool) []any {
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function", "name": t.Name, "description": t.Description, "parameters": t.InputSchema,
		})
	}
	return out
}

// ParseResponse parses a Responses-shape response body (`{object:"response",
// output:[...], usage:{input_tokens,output_tokens}}`) into an
// InternalResponse, the inverse of SerializeResponse.
func (ResponsesAdapter) ParseResponse(body map[string]any) (*model.Response, error) {
	resp := &model.Response{}
	resp.ID, _ = body["id"].(string)
	resp.Model, _ = body["model"].(string)

	output, _ := body["output"].([]any)
	for _, o := range output {
		item, ok := o.(map[string]any)
		if !ok {
			continue
		}
		switch item["type"] {
		case "message":
			parts, _ := item["content"].([]any)
			for _, p := range parts {
				part, ok := p.(map[string]any)
				if !ok {
					continue
				}
				if text, ok := part["text"].(string); ok && text != "" {
					resp.Content = append(resp.Content, model.TextBlock{Text: text})
				}
			}
		case "function_call":
			name, _ := item["name"].(string)
			id, _ := item["call_id"].(string)
			var input map[string]any
			if argsStr, ok := item["arguments"].(string); ok {
				_ = json.Unmarshal([]byte(argsStr), &input)
			}
			resp.Content = append(resp.Content, model.ToolUseBlock{ID: id, Name: name, Input: input})
		}
	}

	if status, ok := body["status"].(string); ok {
		resp.StopReason = mapResponsesStatusToInternal(status)
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

func mapResponsesStatusToInternal(status string) model.StopReason {
	switch status {
	case "incomplete":
		return model.StopMaxTokens
	default:
		return model.StopEndTurn
	}
}

// SerializeResponse renders an InternalResponse as a non-streaming Responses
// body: `{object:"response", status:"completed", output:[...], usage}`.
func (ResponsesAdapter) SerializeResponse(resp *model.Response) (map[string]any, error) {
	var textParts []any
	var output []any
	for _, b := range resp.Content {
		switch block := b.(type) {
		case model.TextBlock:
			textParts = append(textParts, map[string]any{"type": "output_text", "text": block.Text})
		case model.ThinkingBlock:
			output = append(output, map[string]any{
				"type": "reasoning", "id": fmt.Sprintf("rs_%s", resp.ID),
				"content": []any{map[string]any{"type": "reasoning_text", "text": block.Text}},
			})
		case model.ToolUseBlock:
			argsJSON, _ := json.Marshal(block.Input)
			output = append(output, map[string]any{
				"type": "function_call", "call_id": block.ID, "name": block.Name, "arguments": string(argsJSON),
			})
		}
	}
	if len(textParts) > 0 {
		output = append([]any{map[string]any{
			"type": "message", "role": "assistant", "id": fmt.Sprintf("msg_%s", resp.ID), "content": textParts,
		}}, output...)
	}

	out := map[string]any{
		"id":     fmt.Sprintf("resp_%s", resp.ID),
		"object": "response",
		"status": "completed",
		"model":  resp.Model,
		"output": output,
	}
	if resp.Usage != nil {
		out["usage"] = map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		}
	}
	return out, nil
}
