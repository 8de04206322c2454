// Package orchestrator implements the request orchestrator (C8): the
// per-request retry/backoff state machine that walks the tier selector's
// attempt order, dispatches upstream, and drives the streaming or
// non-streaming response path through to completion.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/llmrelay/llmrelay/internal/apierrors"
	"github.com/llmrelay/llmrelay/internal/config"
	"github.com/llmrelay/llmrelay/internal/ewma"
	"github.com/llmrelay/llmrelay/internal/frontend"
	"github.com/llmrelay/llmrelay/internal/model"
	"github.com/llmrelay/llmrelay/internal/ratelimit"
	"github.com/llmrelay/llmrelay/internal/sseframe"
	"github.com/llmrelay/llmrelay/internal/tierselect"
	"github.com/llmrelay/llmrelay/internal/transcoder"
	"github.com/llmrelay/llmrelay/internal/transform"
	"github.com/llmrelay/llmrelay/internal/upstream"
	"github.com/llmrelay/llmrelay/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StreamWriter is implemented by the HTTP layer (C9) so the orchestrator can
// write transcoded SSE frames to the client incrementally, satisfying the
// first-byte-before-full-stream invariant (spec §4.6) instead of buffering.
type StreamWriter interface {
	// WriteFrame writes one frame to the client and flushes it immediately.
	WriteFrame(frame sseframe.Frame) error
}

// Orchestrator wires the tier selector, transformer registry, and upstream
// client into the per-request state machine described by spec §4.8.
type Orchestrator struct {
	cfg            *config.Config
	ewmaTracker    *ewma.Tracker
	rlTracker      *ratelimit.Tracker
	selector       *tierselect.Selector
	registry       *transform.Registry
	upstreamClient *upstream.Client
	backoff        *DynamicBackoff
	tracer         trace.Tracer
	activeStreams  int64
}

// New constructs an Orchestrator with tracing disabled. backoff may be nil
// to use the plain exponential formula from spec §4.8 with no EWMA scaling.
func New(cfg *config.Config, ewmaTracker *ewma.Tracker, rlTracker *ratelimit.Tracker, registry *transform.Registry, upstreamClient *upstream.Client, backoff *DynamicBackoff) *Orchestrator {
	return NewWithTelemetry(cfg, ewmaTracker, rlTracker, registry, upstreamClient, backoff, telemetry.DefaultSettings())
}

// NewWithTelemetry is New plus an explicit telemetry.Settings controlling the
// per-attempt `llmrelay.attempt` span (spec's Tracing/telemetry ambient
// stack section): disabled by default, same GetTracer pattern as the
// teacher's own AI SDK telemetry.
func NewWithTelemetry(cfg *config.Config, ewmaTracker *ewma.Tracker, rlTracker *ratelimit.Tracker, registry *transform.Registry, upstreamClient *upstream.Client, backoff *DynamicBackoff, settings *telemetry.Settings) *Orchestrator {
	return &Orchestrator{
		cfg:            cfg,
		ewmaTracker:    ewmaTracker,
		rlTracker:      rlTracker,
		selector:       tierselect.New(ewmaTracker, rlTracker),
		registry:       registry,
		upstreamClient: upstreamClient,
		backoff:        backoff,
		tracer:         telemetry.GetTracer(settings),
	}
}

// ActiveStreams reports the current count of in-flight streaming responses,
// for graceful-shutdown draining (spec §5).
func (o *Orchestrator) ActiveStreams() int64 {
	return atomic.LoadInt64(&o.activeStreams)
}

// Request is the orchestrator's input: the already-parsed internal request,
// the dialect it arrived in (for response serialization) and an estimate of
// its token count plus any explicit preset path (for route selection).
type Request struct {
	Internal        *model.Request
	InboundDialect  frontend.Dialect
	EstimatedTokens int
	Preset          string
}

// Result is returned for a non-streaming (or fully-buffered-by-caller)
// response; streaming responses are instead written incrementally to a
// StreamWriter and Execute returns once the stream is finished.
type Result struct {
	StatusCode int
	Body       map[string]any
	Tier       string
	Provider   string
}

// Execute runs the full tier/attempt state machine for req. sw receives
// transcoded frames if and only if the upstream response is itself
// streaming; for a non-streaming upstream response, sw is never touched and
// the parsed, re-serialized body is returned in Result.
func (o *Orchestrator) Execute(ctx context.Context, req *Request, sw StreamWriter) (*Result, error) {
	routeType := o.cfg.SelectRouteType(req.EstimatedTokens, req.Preset)
	candidates := o.cfg.CandidateTiers(routeType)

	if o.selector.AllBackedOff(candidates) {
		return nil, &apierrors.ExhaustedError{Attempts: 0, LastErr: apierrors.ErrRateLimited}
	}

	tiers := o.selector.Order(candidates)

	attempts := 0
	var lastErr error

	for _, tierRoute := range tiers {
		tierName := config.TierName(tierRoute)
		modelName := config.ModelName(tierRoute)
		provider, ok := o.cfg.ResolveProvider(tierRoute)
		if !ok {
			slog.Warn("tier route names an unconfigured provider, skipping", "tier_route", tierRoute)
			continue
		}
		policy := o.cfg.RetryPolicyFor(tierName)

		result, err := o.attemptTier(ctx, tierName, modelName, provider, policy, req, sw)
		attempts += result.attemptsUsed
		if err == nil {
			return result.result, nil
		}
		lastErr = err

		if errors.Is(err, apierrors.ErrClientCancelled) {
			return nil, err
		}
		if errors.Is(err, apierrors.ErrStreamTruncated) {
			// The client's stream already ends with a synthesized
			// terminator; a further tier would write a second stream after it.
			return nil, &apierrors.ExhaustedError{Attempts: attempts, LastErr: err}
		}
		// 429 or exhausted retries on this tier: advance to the next tier.
	}

	return nil, &apierrors.ExhaustedError{Attempts: attempts, LastErr: lastErr}
}

type tierOutcome struct {
	result       *Result
	attemptsUsed int
}

// attemptTier runs up to policy.MaxRetries attempts against one tier,
// retrying on 5xx/connect-error/timeout with backoff and breaking
// immediately on 429 or a tier-fatal 4xx.
func (o *Orchestrator) attemptTier(ctx context.Context, tierName, modelName string, provider *config.Provider, policy config.TierRetryPolicy, req *Request, sw StreamWriter) (tierOutcome, error) {
	adapter := frontend.For(req.InboundDialect)
	upstreamAdapter := protocolAdapter(provider.Protocol)

	outcome := tierOutcome{}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		outcome.attemptsUsed++

		if err := ctx.Err(); err != nil {
			return outcome, apierrors.NewTierError(apierrors.ErrClientCancelled, tierName, provider.Name, 0, "client cancelled before attempt", err)
		}

		attemptCtx, span := o.tracer.Start(ctx, "llmrelay.attempt")
		span.SetAttributes(
			attribute.String("llmrelay.tier", tierName),
			attribute.String("llmrelay.provider", provider.Name),
			attribute.String("llmrelay.model", modelName),
			attribute.Int("llmrelay.attempt_index", attempt),
		)
		result, tierErr := o.doAttempt(attemptCtx, tierName, modelName, provider, upstreamAdapter, adapter, req, sw)
		if tierErr != nil {
			telemetry.RecordErrorOnSpan(span, tierErr)
		}
		span.End()
		if tierErr == nil {
			outcome.result = result
			return outcome, nil
		}

		var te *apierrors.TierError
		if !errors.As(tierErr, &te) {
			return outcome, tierErr
		}

		switch {
		case errors.Is(te.Kind, apierrors.ErrClientCancelled):
			return outcome, te

		case errors.Is(te.Kind, apierrors.ErrRateLimited):
			o.rlTracker.Record429(tierName, time.Duration(te.RetryAfter)*time.Second)
			return outcome, te

		case errors.Is(te.Kind, apierrors.ErrTierFatal):
			return outcome, te

		case errors.Is(te.Kind, apierrors.ErrStreamTruncated):
			// A terminal frame has already been written to the client
			// (streamAttempt finalizes before returning this kind), so the
			// attempt cannot be retried without emitting a second
			// message_start/terminator onto an already-closed stream.
			return outcome, te

		case errors.Is(te.Kind, apierrors.ErrTierTransient):
			if attempt < policy.MaxRetries-1 {
				sleepBackoff(ctx, o.backoffFor(tierName, policy, attempt))
				continue
			}
			return outcome, te

		default:
			return outcome, te
		}
	}

	return outcome, apierrors.NewTierError(apierrors.ErrTierTransient, tierName, provider.Name, 0, "retries exhausted", nil)
}

// backoffFor computes the delay before retry attempt+1 on tierName:
// min(max_backoff_ms, base_backoff_ms * multiplier^attempt) per spec §4.8,
// scaled by the EWMA-derived DynamicBackoff factor if one is configured.
func (o *Orchestrator) backoffFor(tierName string, policy config.TierRetryPolicy, attempt int) time.Duration {
	if o.backoff != nil {
		return o.backoff.ExponentialWithEWMA(tierName, policy.BaseBackoffMs, policy.BackoffMultiplier, attempt, policy.MaxBackoffMs)
	}
	ms := float64(policy.BaseBackoffMs) * math.Pow(policy.BackoffMultiplier, float64(attempt))
	if ms > float64(policy.MaxBackoffMs) {
		ms = float64(policy.MaxBackoffMs)
	}
	return time.Duration(ms) * time.Millisecond
}

func sleepBackoff(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func protocolAdapter(protocol string) frontend.Adapter {
	if protocol == "anthropic" {
		return frontend.AnthropicAdapter{}
	}
	return frontend.OpenAIAdapter{}
}

// doAttempt runs exactly one dispatch attempt: build the transformer chain,
// serialize the request in the upstream dialect, dispatch, and classify the
// response per spec §4.8's state table.
func (o *Orchestrator) doAttempt(ctx context.Context, tierName, modelName string, provider *config.Provider, upstreamAdapter, inboundAdapter frontend.Adapter, req *Request, sw StreamWriter) (*Result, error) {
	timer := ewma.StartAttemptTimer(o.ewmaTracker, tierName)
	defer timer.Close()

	chainEntries := make([]transform.Entry, 0, len(provider.Transformer.Use))
	for _, use := range provider.Transformer.Use {
		chainEntries = append(chainEntries, transform.Entry{Name: use.Name, Options: use.Options})
	}
	chain := o.registry.BuildChain(chainEntries)

	outboundReq := *req.Internal
	outboundReq.Model = modelName

	wireReq, err := upstreamAdapter.SerializeRequest(&outboundReq)
	if err != nil {
		return nil, apierrors.NewTierError(apierrors.ErrTierFatal, tierName, provider.Name, 0, "serialize upstream request", err)
	}
	wireReq, err = chain.TransformRequest(wireReq)
	if err != nil {
		return nil, apierrors.NewTierError(apierrors.ErrTierFatal, tierName, provider.Name, 0, "transformer chain rejected request", err)
	}
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, apierrors.NewTierError(apierrors.ErrTierFatal, tierName, provider.Name, 0, "marshal upstream body", err)
	}

	resp, err := o.upstreamClient.Dispatch(ctx, provider, body, time.Duration(o.cfg.APITimeoutMS)*time.Millisecond)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierrors.NewTierError(apierrors.ErrClientCancelled, tierName, provider.Name, 0, "client cancelled during dispatch", err)
		}
		return nil, apierrors.NewTierError(apierrors.ErrTierTransient, tierName, provider.Name, 0, "dispatch failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		te := apierrors.NewTierError(apierrors.ErrRateLimited, tierName, provider.Name, resp.StatusCode, "rate limited", nil)
		te.RetryAfter = parseRetryAfterSeconds(resp.Header.Get("Retry-After"))
		return nil, te

	case resp.StatusCode >= 500:
		return nil, apierrors.NewTierError(apierrors.ErrTierTransient, tierName, provider.Name, resp.StatusCode, "upstream server error", nil)

	case resp.StatusCode >= 400:
		return nil, apierrors.NewTierError(apierrors.ErrTierFatal, tierName, provider.Name, resp.StatusCode, "upstream rejected request", nil)
	}

	isStream := isEventStream(resp.Header.Get("Content-Type"))

	if !isStream {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, apierrors.NewTierError(apierrors.ErrTierTransient, tierName, provider.Name, resp.StatusCode, "read upstream body", err)
		}
		var wireResp map[string]any
		if err := json.Unmarshal(raw, &wireResp); err != nil {
			return nil, apierrors.NewTierError(apierrors.ErrTierFatal, tierName, provider.Name, resp.StatusCode, "parse upstream body", err)
		}
		wireResp, err = chain.TransformResponse(wireResp)
		if err != nil {
			return nil, apierrors.NewTierError(apierrors.ErrTierFatal, tierName, provider.Name, resp.StatusCode, "transformer chain rejected response", err)
		}
		internalResp, err := upstreamAdapter.ParseResponse(wireResp)
		if err != nil {
			return nil, apierrors.NewTierError(apierrors.ErrTierFatal, tierName, provider.Name, resp.StatusCode, "parse upstream response", err)
		}
		outBody, err := inboundAdapter.SerializeResponse(internalResp)
		if err != nil {
			return nil, apierrors.NewTierError(apierrors.ErrTierFatal, tierName, provider.Name, resp.StatusCode, "serialize inbound response", err)
		}
		timer.FinishSuccess()
		o.rlTracker.RecordSuccess(tierName)
		return &Result{StatusCode: resp.StatusCode, Body: outBody, Tier: tierName, Provider: provider.Name}, nil
	}

	return o.streamAttempt(ctx, tierName, provider, inboundAdapter.Name(), upstreamDialectFor(provider.Protocol), chain, timer, resp, sw)
}

// streamAttempt drains the upstream SSE body frame by frame, transcoding
// each frame into the inbound dialect and writing it to sw as soon as it is
// available (spec §4.6's first-byte invariant). headersSent tracks whether
// the orchestrator has committed to this attempt's stream: once true, a
// broken upstream stream is handled by synthesizing a terminator rather
// than failing the attempt and retrying (spec §4.8).
func (o *Orchestrator) streamAttempt(ctx context.Context, tierName string, provider *config.Provider, inboundDialect, upstreamDialect frontend.Dialect, chain *transform.Chain, timer *ewma.AttemptTimer, resp *http.Response, sw StreamWriter) (*Result, error) {
	atomic.AddInt64(&o.activeStreams, 1)
	defer atomic.AddInt64(&o.activeStreams, -1)

	trans := transcoder.New(inboundDialect, upstreamDialect)
	var decoder sseframe.Decoder
	headersSent := false

	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			if headersSent {
				return nil, apierrors.NewTierError(apierrors.ErrClientCancelled, tierName, provider.Name, resp.StatusCode, "client cancelled mid-stream", err)
			}
			return nil, apierrors.NewTierError(apierrors.ErrClientCancelled, tierName, provider.Name, resp.StatusCode, "client cancelled before first byte", err)
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if !headersSent {
				headersSent = true
				timer.FinishSuccess()
				o.rlTracker.RecordSuccess(tierName)
			}
			for _, frame := range decoder.Push(buf[:n]) {
				wireFrame, ok := decodeTransformFrame(chain, frame)
				if !ok {
					continue
				}
				for _, out := range trans.Push(wireFrame) {
					if werr := sw.WriteFrame(out); werr != nil {
						return nil, apierrors.NewTierError(apierrors.ErrClientCancelled, tierName, provider.Name, resp.StatusCode, "client write failed", werr)
					}
				}
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				for _, out := range trans.Finalize() {
					_ = sw.WriteFrame(out)
				}
				return &Result{StatusCode: resp.StatusCode, Tier: tierName, Provider: provider.Name}, nil
			}
			if !headersSent {
				return nil, apierrors.NewTierError(apierrors.ErrTierTransient, tierName, provider.Name, resp.StatusCode, "stream read failed before headers sent", readErr)
			}
			for _, out := range trans.Finalize() {
				_ = sw.WriteFrame(out)
			}
			return nil, apierrors.NewTierError(apierrors.ErrStreamTruncated, tierName, provider.Name, resp.StatusCode, "stream truncated after headers sent", readErr)
		}
	}
}

// decodeTransformFrame parses frame's data as JSON, runs it through the
// transformer chain's response direction, and re-encodes it back into an
// sseframe.Frame for the transcoder. Non-JSON frames (notably the literal
// "[DONE]" sentinel) pass through unparsed since the chain only operates on
// structured payloads.
func decodeTransformFrame(chain *transform.Chain, frame sseframe.Frame) (sseframe.Frame, bool) {
	if frame.Data == "" && frame.Event == "" {
		return frame, false
	}
	if frame.Data == "[DONE]" {
		return frame, true
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(frame.Data), &payload); err != nil {
		return frame, true
	}
	transformed, err := chain.TransformResponse(payload)
	if err != nil {
		return frame, true
	}
	encoded, err := json.Marshal(transformed)
	if err != nil {
		return frame, true
	}
	frame.Data = string(encoded)
	return frame, true
}

func upstreamDialectFor(protocol string) frontend.Dialect {
	if protocol == "anthropic" {
		return frontend.ClaudeCode
	}
	return frontend.Codex
}

func isEventStream(contentType string) bool {
	return strings.Contains(contentType, "text/event-stream")
}

func parseRetryAfterSeconds(header string) int {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}
	return seconds
}
