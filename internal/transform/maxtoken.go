package transform

// MaxTokenTransformer overrides the `max_tokens` field in requests to
// enforce a consistent limit. When OverrideIfHigher is true (the default)
// it only raises the limit, never lowers it — spec §9 flags this as an open
// question for whether every provider wants that asymmetry; absent further
// instruction the behavior is kept as specified.
type MaxTokenTransformer struct {
	MaxTokens        int
	OverrideIfHigher bool
}

// NewMaxTokenTransformer builds a transformer from its two options, applying
// the spec default (65536, override_if_higher=true) when opts is nil.
func NewMaxTokenTransformer(opts JSON) *MaxTokenTransformer {
	t := &MaxTokenTransformer{MaxTokens: 65536, OverrideIfHigher: true}
	if opts == nil {
		return t
	}
	if v, ok := opts["max_tokens"]; ok {
		if n, ok := asInt(v); ok {
			t.MaxTokens = n
		}
	}
	if v, ok := opts["override_if_higher"]; ok {
		if b, ok := v.(bool); ok {
			t.OverrideIfHigher = b
		}
	}
	return t
}

func (t *MaxTokenTransformer) Name() string { return "maxtoken" }

func (t *MaxTokenTransformer) TransformRequest(req JSON) (JSON, error) {
	out := cloneJSON(req)

	existing, hasExisting := out["max_tokens"]
	current, currentIsNumber := asInt(existing)

	switch {
	case !hasExisting:
		out["max_tokens"] = t.MaxTokens
	case !currentIsNumber:
		out["max_tokens"] = t.MaxTokens
	case t.OverrideIfHigher:
		if t.MaxTokens > current {
			out["max_tokens"] = t.MaxTokens
		}
	default:
		out["max_tokens"] = t.MaxTokens
	}

	return out, nil
}

func (t *MaxTokenTransformer) TransformResponse(resp JSON) (JSON, error) {
	return resp, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
