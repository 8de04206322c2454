// Package upstream dispatches transformed requests to backend providers and
// returns their raw HTTP response for the orchestrator (C8) to classify.
// Adapted from the teacher's generic pkg/internal/http client, specialized
// to the provider dispatch path: protocol-specific URL suffix,
// Authorization/anthropic-version headers, and a headers-only timeout for
// streaming calls (spec §5: API_TIMEOUT_MS bounds time-to-headers, not total
// stream duration).
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/llmrelay/llmrelay/internal/config"
)

// Client dispatches one provider's upstream calls.
type Client struct {
	httpClient *http.Client
}

// New constructs a Client. httpClient may be shared across providers;
// pass nil to get a new http.Client with a pooled Transport and no overall
// timeout (timeouts are applied per call via context, see Dispatch).
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{httpClient: httpClient}
}

func upstreamPath(protocol string) string {
	if protocol == "anthropic" {
		return "/messages"
	}
	return "/chat/completions"
}

// Dispatch POSTs body (already transformer-chain output, serialized in the
// upstream dialect) to provider and returns the raw response. The caller
// owns resp.Body and must close it.
//
// timeout bounds the time until response headers arrive; once headers are
// received it no longer constrains reading the body, so a long SSE stream
// is not cut off by a short API_TIMEOUT_MS (spec §5).
func (c *Client) Dispatch(ctx context.Context, provider *config.Provider, body []byte, timeout time.Duration) (*http.Response, error) {
	url := provider.APIBaseURL + upstreamPath(provider.Protocol)

	callCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(timeout, cancel)
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() { timer.Stop() },
	}
	callCtx = httptrace.WithClientTrace(callCtx, trace)

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+provider.APIKey)
	if provider.AnthropicVersion != "" {
		req.Header.Set("anthropic-version", provider.AnthropicVersion)
	}

	resp, err := c.httpClient.Do(req)
	timer.Stop()
	if err != nil {
		cancel()
		return nil, err
	}
	// cancel() is intentionally not deferred here: callCtx must stay live for
	// the body (esp. a streaming body) to keep reading after headers arrive.
	// The caller's ctx cancellation (client disconnect) still propagates
	// through callCtx's parent.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-callCtx.Done():
		}
	}()
	return resp, nil
}

// ReadAllAndClose drains and closes resp.Body, for non-streaming responses.
func ReadAllAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
