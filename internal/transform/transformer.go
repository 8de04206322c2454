// Package transform implements the per-provider request/response transformer
// chain (C2): ordered, pure JSON-to-JSON rewriters applied before upstream
// dispatch and, in reverse, to the upstream response (including per-SSE-frame
// JSON during streaming).
package transform

// JSON is the loosely-typed wire representation transformers operate on.
// Using map[string]any (rather than the typed internal model) matches §4.2:
// a transformer is a pair of pure functions request_json -> request_json,
// response_json -> response_json.
type JSON = map[string]any

// Transformer is one named, pure request/response JSON rewrite step.
type Transformer interface {
	Name() string
	TransformRequest(req JSON) (JSON, error)
	TransformResponse(resp JSON) (JSON, error)
}

// Chain is an ordered list of Transformers. Request-direction transforms run
// in configuration order; response-direction transforms (including one call
// per streaming SSE frame's parsed JSON) run in the reverse order.
type Chain struct {
	transformers []Transformer
}

// NewChain constructs an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// With appends t to the chain and returns the chain for fluent construction.
func (c *Chain) With(t Transformer) *Chain {
	c.transformers = append(c.transformers, t)
	return c
}

// Len reports the number of transformers in the chain.
func (c *Chain) Len() int {
	return len(c.transformers)
}

// TransformRequest runs every transformer's TransformRequest in config order.
// A transformer error is fatal to the whole chain (treated as TierFatal by
// the orchestrator, per §7).
func (c *Chain) TransformRequest(req JSON) (JSON, error) {
	var err error
	for _, t := range c.transformers {
		req, err = t.TransformRequest(req)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

// TransformResponse runs every transformer's TransformResponse in reverse
// config order. It is also the hook used once per parsed SSE frame during
// streaming (§4.2: "including on each streaming frame's parsed JSON").
func (c *Chain) TransformResponse(resp JSON) (JSON, error) {
	var err error
	for i := len(c.transformers) - 1; i >= 0; i-- {
		resp, err = c.transformers[i].TransformResponse(resp)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// IdentityTransformer performs no rewriting in either direction. Grounded on
// original_source/src/transformer.rs's IdentityTransformer. NewRegistry does
// not register it, so a configured transformer list cannot name it.
type IdentityTransformer struct{}

func (IdentityTransformer) Name() string { return "identity" }

func (IdentityTransformer) TransformRequest(req JSON) (JSON, error) { return req, nil }

func (IdentityTransformer) TransformResponse(resp JSON) (JSON, error) { return resp, nil }
