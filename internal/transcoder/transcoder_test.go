package transcoder

import (
	"encoding/json"
	"testing"

	"github.com/llmrelay/llmrelay/internal/frontend"
	"github.com/llmrelay/llmrelay/internal/sseframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFrame(t *testing.T, body map[string]any) sseframe.Frame {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return sseframe.Frame{Data: string(b)}
}

func decodeFrame(t *testing.T, f sseframe.Frame) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.Data), &out))
	return out
}

func TestNew_SelectsCorrectCaseForEachDialectPair(t *testing.T) {
	assert.IsType(t, &passthrough{}, New(frontend.ClaudeCode, frontend.ClaudeCode))
	assert.IsType(t, &openAIPassthrough{}, New(frontend.Codex, frontend.Codex))
	assert.IsType(t, &anthropicToOpenAI{}, New(frontend.Codex, frontend.ClaudeCode))
	assert.IsType(t, &openAIToAnthropic{}, New(frontend.ClaudeCode, frontend.Codex))
	assert.IsType(t, &anthropicToResponses{}, New(frontend.Responses, frontend.ClaudeCode))
	assert.IsType(t, &openAIToResponses{}, New(frontend.Responses, frontend.Codex))
}

func TestAnthropicToOpenAI_FullTextStream(t *testing.T) {
	tc := newAnthropicToOpenAI()

	frames := tc.Push(mustFrame(t, map[string]any{
		"type":    "message_start",
		"message": map[string]any{"id": "msg_1", "model": "claude-x"},
	}))
	require.Len(t, frames, 1)
	chunk := decodeFrame(t, frames[0])
	choice := chunk["choices"].([]any)[0].(map[string]any)
	delta := choice["delta"].(map[string]any)
	assert.Equal(t, "assistant", delta["role"])

	frames = tc.Push(mustFrame(t, map[string]any{
		"type": "content_block_start", "index": float64(0),
		"content_block": map[string]any{"type": "text", "text": ""},
	}))
	assert.Empty(t, frames)

	frames = tc.Push(mustFrame(t, map[string]any{
		"type": "content_block_delta", "index": float64(0),
		"delta": map[string]any{"type": "text_delta", "text": "hi"},
	}))
	require.Len(t, frames, 1)
	choice = decodeFrame(t, frames[0])["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "hi", choice["delta"].(map[string]any)["content"])

	frames = tc.Push(mustFrame(t, map[string]any{
		"type": "message_delta", "delta": map[string]any{"stop_reason": "end_turn"},
	}))
	require.Len(t, frames, 1)
	choice = decodeFrame(t, frames[0])["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "stop", choice["finish_reason"])

	frames = tc.Push(mustFrame(t, map[string]any{"type": "message_stop"}))
	require.Len(t, frames, 1)
	assert.Equal(t, "[DONE]", frames[0].Data)

	assert.Empty(t, tc.Finalize(), "already-terminated stream emits no further DONE")
}

func TestAnthropicToOpenAI_ToolUseStreaming(t *testing.T) {
	tc := newAnthropicToOpenAI()
	tc.Push(mustFrame(t, map[string]any{"type": "message_start", "message": map[string]any{"id": "m", "model": "x"}}))

	frames := tc.Push(mustFrame(t, map[string]any{
		"type": "content_block_start", "index": float64(0),
		"content_block": map[string]any{"type": "tool_use", "id": "toolu_1", "name": "calc"},
	}))
	require.Len(t, frames, 1)
	choice := decodeFrame(t, frames[0])["choices"].([]any)[0].(map[string]any)
	toolCalls := choice["delta"].(map[string]any)["tool_calls"].([]any)
	tc0 := toolCalls[0].(map[string]any)
	assert.Equal(t, "toolu_1", tc0["id"])
	assert.Equal(t, "function", tc0["type"])

	frames = tc.Push(mustFrame(t, map[string]any{
		"type": "content_block_delta", "index": float64(0),
		"delta": map[string]any{"type": "input_json_delta", "partial_json": `{"x":1}`},
	}))
	require.Len(t, frames, 1)
	choice = decodeFrame(t, frames[0])["choices"].([]any)[0].(map[string]any)
	toolCalls = choice["delta"].(map[string]any)["tool_calls"].([]any)
	assert.Equal(t, `{"x":1}`, toolCalls[0].(map[string]any)["function"].(map[string]any)["arguments"])
}

func TestAnthropicToOpenAI_FinalizeSynthesizesDoneOnTruncatedStream(t *testing.T) {
	tc := newAnthropicToOpenAI()
	tc.Push(mustFrame(t, map[string]any{"type": "message_start", "message": map[string]any{"id": "m", "model": "x"}}))
	frames := tc.Finalize()
	require.Len(t, frames, 1)
	assert.Equal(t, "[DONE]", frames[0].Data)
}

func TestOpenAIToAnthropic_FullTextStream(t *testing.T) {
	tc := newOpenAIToAnthropic()

	frames := tc.Push(mustFrame(t, map[string]any{
		"id": "chatcmpl-1", "model": "gpt-x",
		"choices": []any{map[string]any{"delta": map[string]any{"role": "assistant"}}},
	}))
	require.Len(t, frames, 1)
	assert.Equal(t, "message_start", decodeFrame(t, frames[0])["type"])

	frames = tc.Push(mustFrame(t, map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": "hi"}}},
	}))
	require.Len(t, frames, 2) // content_block_start(text) + content_block_delta
	assert.Equal(t, "content_block_start", decodeFrame(t, frames[0])["type"])
	assert.Equal(t, "content_block_delta", decodeFrame(t, frames[1])["type"])

	frames = tc.Push(mustFrame(t, map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": " there"}, "finish_reason": "stop"}},
	}))
	// content_block_delta, content_block_stop, message_delta, message_stop
	require.Len(t, frames, 4)
	assert.Equal(t, "content_block_delta", decodeFrame(t, frames[0])["type"])
	assert.Equal(t, "content_block_stop", decodeFrame(t, frames[1])["type"])
	msgDelta := decodeFrame(t, frames[2])
	assert.Equal(t, "message_delta", msgDelta["type"])
	assert.Equal(t, "end_turn", msgDelta["delta"].(map[string]any)["stop_reason"])
	assert.Equal(t, "message_stop", decodeFrame(t, frames[3])["type"])
}

func TestOpenAIToAnthropic_ToolCallsOpenDistinctBlocksPerIndex(t *testing.T) {
	tc := newOpenAIToAnthropic()
	tc.Push(mustFrame(t, map[string]any{"choices": []any{map[string]any{"delta": map[string]any{"role": "assistant"}}}}))

	frames := tc.Push(mustFrame(t, map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{
			"tool_calls": []any{
				map[string]any{"index": float64(0), "id": "call_1", "function": map[string]any{"name": "calc", "arguments": ""}},
			},
		}}},
	}))
	require.Len(t, frames, 1)
	block := decodeFrame(t, frames[0])["content_block"].(map[string]any)
	assert.Equal(t, "tool_use", block["type"])
	assert.Equal(t, "call_1", block["id"])

	frames = tc.Push(mustFrame(t, map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{
			"tool_calls": []any{
				map[string]any{"index": float64(0), "function": map[string]any{"arguments": `{"x":1}`}},
			},
		}}},
	}))
	require.Len(t, frames, 1)
	delta := decodeFrame(t, frames[0])["delta"].(map[string]any)
	assert.Equal(t, `{"x":1}`, delta["partial_json"])
}

func TestOpenAIToAnthropic_DoneSentinelClosesStream(t *testing.T) {
	tc := newOpenAIToAnthropic()
	tc.Push(mustFrame(t, map[string]any{"choices": []any{map[string]any{"delta": map[string]any{"role": "assistant"}}}}))
	tc.Push(mustFrame(t, map[string]any{"choices": []any{map[string]any{"delta": map[string]any{"content": "hi"}}}}))

	frames := tc.Push(sseframe.Frame{Data: "[DONE]"})
	// content_block_stop, message_delta, message_stop
	require.Len(t, frames, 3)
	assert.Equal(t, "message_stop", decodeFrame(t, frames[2])["type"])

	assert.Empty(t, tc.Push(sseframe.Frame{Data: "[DONE]"}), "a second DONE after termination is a no-op")
}

func TestOpenAIToAnthropic_FinalizeOnTruncatedStreamEmitsSyntheticTerminator(t *testing.T) {
	tc := newOpenAIToAnthropic()
	tc.Push(mustFrame(t, map[string]any{"choices": []any{map[string]any{"delta": map[string]any{"role": "assistant"}}}}))
	frames := tc.Finalize()
	require.NotEmpty(t, frames)
	assert.Equal(t, "message_stop", decodeFrame(t, frames[len(frames)-1])["type"])
}

func TestPassthrough_AnthropicEmitsSyntheticTerminatorOnlyIfMissing(t *testing.T) {
	p := &passthrough{}
	p.Push(mustFrame(t, map[string]any{"type": "message_start"}))
	assert.NotEmpty(t, p.Finalize())

	p2 := &passthrough{}
	p2.Push(mustFrame(t, map[string]any{"type": "message_stop"}))
	assert.Empty(t, p2.Finalize())
}

func TestOpenAIPassthrough_ExactlyOneDone(t *testing.T) {
	p := &openAIPassthrough{}
	frames := p.Push(sseframe.Frame{Data: "[DONE]"})
	require.Len(t, frames, 1)
	assert.Empty(t, p.Push(sseframe.Frame{Data: "[DONE]"}))
	assert.Empty(t, p.Finalize())
}

func TestOpenAIPassthrough_FinalizeAddsMissingDone(t *testing.T) {
	p := &openAIPassthrough{}
	p.Push(mustFrame(t, map[string]any{"choices": []any{}}))
	frames := p.Finalize()
	require.Len(t, frames, 1)
	assert.Equal(t, "[DONE]", frames[0].Data)
}

func eventNames(frames []sseframe.Frame) []string {
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Event
	}
	return names
}

func TestOpenAIToResponses_EmitsRequiredEventSequence(t *testing.T) {
	tc := newOpenAIToResponses()

	frames := tc.Push(mustFrame(t, map[string]any{
		"id": "chatcmpl-1", "model": "gpt-4o",
		"choices": []any{map[string]any{"index": float64(0), "delta": map[string]any{"content": "hi"}}},
	}))
	assert.Equal(t, []string{"response.created", "response.output_item.added", "response.output_text.delta"}, eventNames(frames))

	frames = tc.Push(mustFrame(t, map[string]any{
		"id": "chatcmpl-1", "model": "gpt-4o",
		"choices": []any{map[string]any{"index": float64(0), "delta": map[string]any{"reasoning_content": "because"}}},
	}))
	assert.Equal(t, []string{"response.reasoning_text.delta"}, eventNames(frames))

	frames = tc.Push(mustFrame(t, map[string]any{
		"id": "chatcmpl-1", "model": "gpt-4o",
		"choices": []any{map[string]any{"index": float64(0), "finish_reason": "stop"}},
	}))
	assert.Equal(t, []string{"response.output_item.done", "response.completed"}, eventNames(frames))

	assert.Empty(t, tc.Push(mustFrame(t, map[string]any{"choices": []any{}})), "Push after finish must be a no-op")
	assert.Empty(t, tc.Finalize())
}

func TestOpenAIToResponses_FinalizeSynthesizesTerminatorOnTruncatedStream(t *testing.T) {
	tc := newOpenAIToResponses()
	tc.Push(mustFrame(t, map[string]any{
		"id": "chatcmpl-1", "model": "gpt-4o",
		"choices": []any{map[string]any{"index": float64(0), "delta": map[string]any{"content": "hi"}}},
	}))
	frames := tc.Finalize()
	assert.Equal(t, []string{"response.output_item.done", "response.completed"}, eventNames(frames))
}

func TestAnthropicToResponses_EmitsRequiredEventSequence(t *testing.T) {
	tc := newAnthropicToResponses()

	frames := tc.Push(mustFrame(t, map[string]any{
		"type":    "message_start",
		"message": map[string]any{"id": "msg_1", "model": "claude-x"},
	}))
	assert.Equal(t, []string{"response.created", "response.output_item.added"}, eventNames(frames))

	frames = tc.Push(mustFrame(t, map[string]any{
		"type": "content_block_delta", "delta": map[string]any{"type": "text_delta", "text": "hi"},
	}))
	assert.Equal(t, []string{"response.output_text.delta"}, eventNames(frames))

	frames = tc.Push(mustFrame(t, map[string]any{
		"type": "content_block_delta", "delta": map[string]any{"type": "thinking_delta", "thinking": "because"},
	}))
	assert.Equal(t, []string{"response.reasoning_text.delta"}, eventNames(frames))

	frames = tc.Push(mustFrame(t, map[string]any{"type": "message_stop"}))
	assert.Equal(t, []string{"response.output_item.done", "response.completed"}, eventNames(frames))
}
