// Package frontend implements the dual-dialect frontend adapters (C5):
// dialect detection, request parsing, and response serialization for the
// OpenAI chat/completions and Anthropic Messages wire formats.
package frontend

import (
	"net/http"
	"strings"
)

// Dialect identifies which wire format a client used.
type Dialect string

const (
	// ClaudeCode is the Anthropic Messages dialect.
	ClaudeCode Dialect = "claude-code"
	// Codex is the OpenAI chat/completions dialect (and the default for
	// ambiguous requests, per spec §4.5).
	Codex Dialect = "codex"
	// Responses is the OpenAI "Responses" dialect (`/v1/responses`):
	// `input`/`instructions` request fields, a `response.*` SSE event
	// vocabulary, and a `{object:"response", output:[...]}` response
	// envelope. It is routed explicitly by path, never by Detect, since its
	// wire shape carries no `messages` field for Detect's heuristics to
	// examine.
	Responses Dialect = "openai-responses"
)

// Detect inspects headers and the parsed JSON body to classify the inbound
// dialect, per spec §4.5.
func Detect(headers http.Header, body map[string]any) Dialect {
	anthropicSignal := hasAnthropicHeader(headers) || hasTopLevelAnthropicVersion(body) ||
		hasTopLevelSystem(body) || hasArrayContentMessage(body)

	openaiSignal := userAgentContainsCodex(headers) || everyMessageHasNonEmptyRole(body)

	if anthropicSignal && !openaiSignal {
		return ClaudeCode
	}
	return Codex
}

func hasAnthropicHeader(headers http.Header) bool {
	for name := range headers {
		if strings.HasPrefix(strings.ToLower(name), "anthropic-") {
			return true
		}
	}
	return false
}

func hasTopLevelAnthropicVersion(body map[string]any) bool {
	_, ok := body["anthropic_version"]
	return ok
}

func hasTopLevelSystem(body map[string]any) bool {
	_, ok := body["system"]
	return ok
}

func hasArrayContentMessage(body map[string]any) bool {
	messages, ok := body["messages"].([]any)
	if !ok {
		return false
	}
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := msg["content"].([]any); ok {
			return true
		}
	}
	return false
}

func userAgentContainsCodex(headers http.Header) bool {
	ua := headers.Get("User-Agent")
	return strings.Contains(strings.ToLower(ua), "codex")
}

func everyMessageHasNonEmptyRole(body map[string]any) bool {
	messages, ok := body["messages"].([]any)
	if !ok || len(messages) == 0 {
		return false
	}
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			return false
		}
		role, ok := msg["role"].(string)
		if !ok || role == "" {
			return false
		}
	}
	return true
}
