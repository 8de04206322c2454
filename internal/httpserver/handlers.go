package httpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/llmrelay/llmrelay/internal/frontend"
	"github.com/llmrelay/llmrelay/internal/model"
	"github.com/llmrelay/llmrelay/internal/orchestrator"
	"github.com/llmrelay/llmrelay/internal/sseframe"
	"go.opentelemetry.io/otel/attribute"
)

// estimateTokens is a cheap, dependency-free token count heuristic (roughly
// 4 bytes/token in English text) used only to pick a route type against
// longContextThreshold (spec §4.7); it is never used for billing or
// truncation, so the approximation is acceptable. No tokenizer library
// appears anywhere in the retrieved example corpus, so this one component
// stays on the standard library by necessity rather than preference.
func estimateTokens(req *model.Request) int {
	n := len(req.System)
	for _, m := range req.Messages {
		n += len(m.Text)
		for _, b := range m.Blocks {
			if tb, ok := b.(model.TextBlock); ok {
				n += len(tb.Text)
			}
		}
	}
	return n / 4
}

// errorFrame renders a best-effort terminal SSE event for an error that
// occurred after stream headers were already committed to the client. The
// Responses dialect names a distinct `response.failed` terminal event
// instead of a bare `error` event.
func errorFrame(err error, dialect frontend.Dialect) sseframe.Frame {
	if dialect == frontend.Responses {
		data, _ := json.Marshal(map[string]any{
			"type":     "response.failed",
			"response": map[string]any{"status": "failed", "error": map[string]any{"message": err.Error()}},
		})
		return sseframe.Frame{Event: "response.failed", Data: string(data)}
	}
	data, _ := json.Marshal(map[string]any{"error": err.Error()})
	return sseframe.Frame{Event: "error", Data: string(data)}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "", "")
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "", "")
}

// handleResponses serves the OpenAI "Responses" dialect (`/v1/responses`).
// Its wire shape (`input`/`instructions`, no `messages` field) carries none
// of the signals frontend.Detect inspects, so the dialect is forced rather
// than detected; the request still flows through the same orchestrator
// pipeline as every other route.
func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "", frontend.Responses)
}

func (s *Server) handlePresetMessages(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.serve(w, r, name, "")
}

// serve detects the inbound dialect from headers and body (spec §4.5, run
// uniformly regardless of which named route received the request) unless
// forcedDialect is set, parses the body in that dialect, runs it through the
// orchestrator, and writes either a streaming or buffered response per spec
// §6's ingress table.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, preset string, forcedDialect frontend.Dialect) {
	ctx, span := s.tracer.Start(r.Context(), "llmrelay.serve")
	defer span.End()

	raw, err := s.zstd.decodeBody(r)
	if err != nil {
		writeJSONBadRequest(w, "invalid request body")
		return
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		writeJSONBadRequest(w, "malformed JSON body")
		return
	}

	detected := forcedDialect
	if detected == "" {
		detected = frontend.Detect(r.Header, body)
	}
	internalReq, err := frontend.For(detected).ParseRequest(body)
	if err != nil {
		writeJSONBadRequest(w, "could not parse request for dialect "+string(detected))
		return
	}

	span.SetAttributes(attribute.String("llmrelay.dialect", string(detected)), attribute.Bool("llmrelay.stream", internalReq.Stream))

	req := &orchestrator.Request{
		Internal:        internalReq,
		InboundDialect:  detected,
		EstimatedTokens: estimateTokens(internalReq),
		Preset:          preset,
	}

	if internalReq.Stream {
		s.serveStreaming(ctx, w, req)
		return
	}
	s.serveBuffered(ctx, w, req)
}

func (s *Server) serveBuffered(ctx context.Context, w http.ResponseWriter, req *orchestrator.Request) {
	result, err := s.orchestrator.Execute(ctx, req, nil)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if result.StatusCode != 0 {
		w.WriteHeader(result.StatusCode)
	}
	_ = json.NewEncoder(w).Encode(result.Body)
}

func (s *Server) serveStreaming(ctx context.Context, w http.ResponseWriter, req *orchestrator.Request) {
	sw, err := newSSEWriter(w)
	if err != nil {
		writeJSONBadRequest(w, "streaming unsupported by this connection")
		return
	}
	if _, err := s.orchestrator.Execute(ctx, req, sw); err != nil {
		// Headers are already committed to the wire by newSSEWriter; the best
		// we can do is emit a best-effort error frame rather than a JSON body.
		_ = sw.WriteFrame(errorFrame(err, req.InboundDialect))
	}
}
