// Package model holds the wire-independent internal representation the
// frontend adapters (C5) normalize into and the transcoder (C6) operates on.
package model

// Role is the sender role of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// StopReason is the normalized reason generation stopped.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopStopSequence StopReason = "stop_sequence"
)

// Block is a tagged content block. Its BlockType discriminant is what the
// wire forms call "type"; the sum-type shape here mirrors it with a Go
// interface plus concrete structs, one per §3 block kind.
type Block interface {
	BlockType() string
}

// TextBlock is plain text content.
type TextBlock struct {
	Text string
}

func (TextBlock) BlockType() string { return "text" }

// ImageBlock holds inline base64 image bytes or a remote URL, never both.
type ImageBlock struct {
	Base64   string
	MimeType string
	URL      string
}

func (ImageBlock) BlockType() string { return "image" }

// ToolUseBlock is an assistant-issued tool invocation.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

func (ToolUseBlock) BlockType() string { return "tool_use" }

// ToolResultBlock carries a tool's result back to the model. ToolUseID must
// reference a ToolUseBlock.ID introduced earlier in the same conversation;
// violating that invariant is tolerated (never synthesized) per spec §3.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (ToolResultBlock) BlockType() string { return "tool_result" }

// ThinkingBlock carries extracted reasoning/thinking content.
type ThinkingBlock struct {
	Text      string
	Signature string
}

func (ThinkingBlock) BlockType() string { return "thinking" }

// Message is one turn in a conversation. Content is either a single plain
// string (Text != "" and Blocks == nil) or an ordered sequence of Blocks;
// never both populated.
type Message struct {
	Role       Role
	Text       string
	Blocks     []Block
	ToolCallID string // populated for Role==RoleTool when resolvable (§4.5)
	Name       string
}

// HasBlocks reports whether the message uses the block-array content form.
func (m Message) HasBlocks() bool { return m.Blocks != nil }

// Tool is the internal representation of a callable tool definition.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolChoice selects how the model should use tools.
type ToolChoice struct {
	// Mode is one of "", "auto", "required", "none", or "tool".
	Mode string
	// Name is populated when Mode == "tool".
	Name string
}

// Request is the normalized, wire-independent request (§3 InternalRequest).
type Request struct {
	Model         string
	Messages      []Message
	System        string
	MaxTokens     *int
	Temperature   *float64
	Stream        bool
	Tools         []Tool
	ToolChoice    *ToolChoice
	StopSequences []string
	ExtraParams   map[string]any
}

// Response is the normalized, wire-independent response (§3 InternalResponse).
type Response struct {
	ID         string
	Model      string
	Content    []Block
	StopReason StopReason
	Usage      *Usage
	ExtraData  map[string]any
}

// Usage carries normalized token accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
