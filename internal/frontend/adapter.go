package frontend

import "github.com/llmrelay/llmrelay/internal/model"

// Adapter is the capability set a frontend/dialect exposes, per spec §9:
// "{name, detect(headers, body), parse_request(body), serialize_response
// (internal)}". Detection itself is the free function Detect (detect.go) since it
// must examine both candidate dialects together; each Adapter only parses
// and serializes its own wire shape.
//
// The same Adapter serves both sides of a request: ParseRequest/
// SerializeResponse handle the inbound-client half, while SerializeRequest/
// ParseResponse handle the upstream half when a provider speaks this
// Adapter's dialect (the orchestrator picks the Adapter by provider
// protocol, not by inbound dialect, for that half).
type Adapter interface {
	Name() Dialect
	ParseRequest(body map[string]any) (*model.Request, error)
	SerializeRequest(req *model.Request) (map[string]any, error)
	ParseResponse(body map[string]any) (*model.Response, error)
	SerializeResponse(resp *model.Response) (map[string]any, error)
}

// For returns the Adapter bound to dialect; any dialect other than
// ClaudeCode or Responses gets the OpenAI (Codex) adapter.
func For(dialect Dialect) Adapter {
	switch dialect {
	case ClaudeCode:
		return AnthropicAdapter{}
	case Responses:
		return ResponsesAdapter{}
	default:
		return OpenAIAdapter{}
	}
}
