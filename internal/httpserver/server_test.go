package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmrelay/llmrelay/internal/config"
	"github.com/llmrelay/llmrelay/internal/ewma"
	"github.com/llmrelay/llmrelay/internal/orchestrator"
	"github.com/llmrelay/llmrelay/internal/ratelimit"
	"github.com/llmrelay/llmrelay/internal/transform"
	"github.com/llmrelay/llmrelay/internal/upstream"
)

func newTestServer(t *testing.T, upstreamURL string, settings Settings) *Server {
	t.Helper()
	cfg := &config.Config{
		Providers: []config.Provider{
			{Name: "primary", APIBaseURL: upstreamURL, APIKey: "sk-test", Protocol: "openai"},
		},
		Router: config.RouterConfig{Default: "primary,gpt-4o"},
	}
	cfg.APITimeoutMS = 2000

	ewmaTracker := ewma.New()
	rlTracker := ratelimit.New()
	registry := transform.NewRegistry()
	client := upstream.New(nil)
	orch := orchestrator.New(cfg, ewmaTracker, rlTracker, registry, client, orchestrator.NewDynamicBackoff(ewmaTracker))

	return New(cfg, orch, settings)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, "http://unused", DefaultSettings())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleModels(t *testing.T) {
	s := newTestServer(t, "http://unused", DefaultSettings())
	s.cfg.Providers[0].Models = []string{"gpt-4o", "gpt-4o-mini"}

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data, ok := body["data"].([]any)
	require.True(t, ok)
	assert.Len(t, data, 2)
}

func TestHandleChatCompletions_NonStreaming(t *testing.T) {
	upstreamServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"finish_reason":"stop","message":{"content":"hi"}}]}`))
	}))
	defer upstreamServer.Close()

	s := newTestServer(t, upstreamServer.URL, DefaultSettings())

	payload := map[string]any{
		"model":    "gpt-4o",
		"messages": []map[string]any{{"role": "user", "content": "hello"}},
	}
	raw, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hi")
}

func TestHandleResponses_NonStreaming(t *testing.T) {
	upstreamServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"finish_reason":"stop","message":{"content":"hi"}}]}`))
	}))
	defer upstreamServer.Close()

	s := newTestServer(t, upstreamServer.URL, DefaultSettings())

	payload := map[string]any{
		"model":        "gpt-4o",
		"instructions": "be terse",
		"input":        []map[string]any{{"type": "message", "role": "user", "content": []map[string]any{{"type": "input_text", "text": "hello"}}}},
	}
	raw, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "response", body["object"])
	output, ok := body["output"].([]any)
	require.True(t, ok)
	require.Len(t, output, 1)
	item, _ := output[0].(map[string]any)
	assert.Equal(t, "message", item["type"])
}

func TestHandleMessages_ZstdEncodedBody(t *testing.T) {
	upstreamServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","model":"claude-3","choices":[{"finish_reason":"stop","message":{"content":"hi"}}]}`))
	}))
	defer upstreamServer.Close()

	s := newTestServer(t, upstreamServer.URL, DefaultSettings())

	payload := map[string]any{
		"model":    "claude-3",
		"system":   "be terse",
		"messages": []map[string]any{{"role": "user", "content": "hello"}},
	}
	raw, _ := json.Marshal(payload)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(raw, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(compressed))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "zstd")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmissionControl_RejectsBeyondMaxStreams(t *testing.T) {
	upstreamServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"finish_reason":"stop","message":{"content":"hi"}}]}`))
	}))
	defer upstreamServer.Close()

	s := newTestServer(t, upstreamServer.URL, Settings{MaxStreams: 1, Telemetry: DefaultSettings().Telemetry})
	require.True(t, s.streamCap.Allow())
	defer s.streamCap.Release()

	payload := map[string]any{
		"model":    "gpt-4o",
		"messages": []map[string]any{{"role": "user", "content": "hello"}},
	}
	raw, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
