package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/llmrelay/llmrelay/internal/apierrors"
	"github.com/llmrelay/llmrelay/internal/config"
	"github.com/llmrelay/llmrelay/internal/ewma"
	"github.com/llmrelay/llmrelay/internal/frontend"
	"github.com/llmrelay/llmrelay/internal/model"
	"github.com/llmrelay/llmrelay/internal/ratelimit"
	"github.com/llmrelay/llmrelay/internal/sseframe"
	"github.com/llmrelay/llmrelay/internal/transform"
	"github.com/llmrelay/llmrelay/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	frames []sseframe.Frame
}

func (w *fakeWriter) WriteFrame(f sseframe.Frame) error {
	w.frames = append(w.frames, f)
	return nil
}

func newTestOrchestrator(cfg *config.Config) *Orchestrator {
	ewmaTracker := ewma.New()
	rlTracker := ratelimit.New()
	registry := transform.NewRegistry()
	client := upstream.New(nil)
	return New(cfg, ewmaTracker, rlTracker, registry, client, NewDynamicBackoff(ewmaTracker))
}

func basicConfig(providerURL string) *config.Config {
	cfg := &config.Config{
		Providers: []config.Provider{
			{Name: "primary", APIBaseURL: providerURL, APIKey: "sk-test", Protocol: "openai"},
		},
		Router: config.RouterConfig{Default: "primary,gpt-4o"},
	}
	cfg.APITimeoutMS = 2000
	return cfg
}

func TestExecute_NonStreamingSuccessOnFirstTier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"finish_reason":"stop","message":{"content":"hi there"}}]}`))
	}))
	defer server.Close()

	o := newTestOrchestrator(basicConfig(server.URL))
	req := &Request{
		Internal:       &model.Request{Model: "gpt-4o", Messages: []model.Message{{Role: model.RoleUser, Text: "hello"}}},
		InboundDialect: frontend.Codex,
	}
	result, err := o.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "primary", result.Tier)
	assert.Equal(t, "chat.completion", result.Body["object"])
}

func TestExecute_RetriesSameTierOn5xxThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"1","model":"gpt-4o","choices":[{"finish_reason":"stop","message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	cfg := basicConfig(server.URL)
	cfg.Router.TierRetries = map[string]config.TierRetryPolicy{
		"primary": {MaxRetries: 3, BaseBackoffMs: 1, BackoffMultiplier: 2.0, MaxBackoffMs: 5},
	}
	o := newTestOrchestrator(cfg)
	req := &Request{
		Internal:       &model.Request{Model: "gpt-4o", Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}}},
		InboundDialect: frontend.Codex,
	}
	result, err := o.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "primary", result.Tier)
}

func TestExecute_FatalNonRetryable4xxExhaustsAllTiers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	o := newTestOrchestrator(basicConfig(server.URL))
	req := &Request{
		Internal:       &model.Request{Model: "gpt-4o", Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}}},
		InboundDialect: frontend.Codex,
	}
	_, err := o.Execute(context.Background(), req, nil)
	require.Error(t, err)
}

func TestExecute_429RecordsBackoffAndExhausts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	o := newTestOrchestrator(basicConfig(server.URL))
	req := &Request{
		Internal:       &model.Request{Model: "gpt-4o", Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}}},
		InboundDialect: frontend.Codex,
	}
	_, err := o.Execute(context.Background(), req, nil)
	require.Error(t, err)

	snapshot, ok := o.rlTracker.Snapshot("primary")
	require.True(t, ok)
	assert.Equal(t, uint64(1), snapshot.ConsecutiveLimits)
}

func TestExecute_AllTiersBackedOffFailsImmediately(t *testing.T) {
	cfg := basicConfig("http://unused.invalid")
	o := newTestOrchestrator(cfg)
	o.rlTracker.Record429("primary", time.Minute)

	req := &Request{
		Internal:       &model.Request{Model: "gpt-4o", Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}}},
		InboundDialect: frontend.Codex,
	}
	_, err := o.Execute(context.Background(), req, nil)
	require.Error(t, err)
}

func TestExecute_StreamingOpenAIToAnthropicWritesTranscodedFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"id\":\"1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: {\"id\":\"1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: {\"id\":\"1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer server.Close()

	o := newTestOrchestrator(basicConfig(server.URL))
	req := &Request{
		Internal:       &model.Request{Model: "gpt-4o", Stream: true, Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}}},
		InboundDialect: frontend.ClaudeCode,
	}
	writer := &fakeWriter{}
	result, err := o.Execute(context.Background(), req, writer)
	require.NoError(t, err)
	assert.Equal(t, "primary", result.Tier)
	require.NotEmpty(t, writer.frames)

	var sawMessageStop bool
	for _, f := range writer.frames {
		if f.Event == "message_stop" {
			sawMessageStop = true
		}
	}
	assert.True(t, sawMessageStop)
}

func TestExecute_ClientCancellationAbortsWithoutAdvancingTiers(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(block)

	o := newTestOrchestrator(basicConfig(server.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req := &Request{
		Internal:       &model.Request{Model: "gpt-4o", Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}}},
		InboundDialect: frontend.Codex,
	}
	_, err := o.Execute(ctx, req, nil)
	require.Error(t, err)
}

func TestExecute_TruncatedStreamIsNotRetriedAndWritesExactlyOneTerminator(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"id\":\"1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\n"))
		flusher.Flush()

		hijacker, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hijacker.Hijack()
		require.NoError(t, err)
		_ = conn.Close() // abruptly close mid-stream, simulating a truncated upstream body
	}))
	defer server.Close()

	cfg := basicConfig(server.URL)
	cfg.Router.TierRetries = map[string]config.TierRetryPolicy{
		"primary": {MaxRetries: 3, BaseBackoffMs: 1, BackoffMultiplier: 2.0, MaxBackoffMs: 5},
	}
	o := newTestOrchestrator(cfg)
	req := &Request{
		Internal:       &model.Request{Model: "gpt-4o", Stream: true, Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}}},
		InboundDialect: frontend.ClaudeCode,
	}
	writer := &fakeWriter{}
	_, err := o.Execute(context.Background(), req, writer)
	require.Error(t, err)
	var exhausted *apierrors.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, exhausted.LastErr, apierrors.ErrStreamTruncated)

	assert.Equal(t, 1, calls, "a truncated stream must not be retried against upstream")

	terminators := 0
	for _, f := range writer.frames {
		if f.Event == "message_stop" {
			terminators++
		}
	}
	assert.Equal(t, 1, terminators, "exactly one terminal event must reach the client")
}

func TestActiveStreams_IncrementsAndDecrementsAcrossStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		w.(http.Flusher).Flush()
	}))
	defer server.Close()

	o := newTestOrchestrator(basicConfig(server.URL))
	req := &Request{
		Internal:       &model.Request{Model: "gpt-4o", Stream: true, Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}}},
		InboundDialect: frontend.Codex,
	}
	_, err := o.Execute(context.Background(), req, &fakeWriter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), o.ActiveStreams())
}
