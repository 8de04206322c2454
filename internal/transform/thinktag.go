package transform

import (
	"regexp"
	"strings"
)

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>|<thinking>.*?</thinking>|<reasoning>.*?</reasoning>`)

// ThinkTagTransformer strips `<think>`, `<thinking>`, and `<reasoning>`
// regions wholesale from response text content. Unlike GlmTransformer and
// KimiTransformer it discards the extracted text rather than routing it to
// a reasoning field, and it has no streaming partial-token buffering: it is
// meant for providers whose think-tagged output always arrives whole.
type ThinkTagTransformer struct{}

func (ThinkTagTransformer) Name() string { return "thinktag" }

func (ThinkTagTransformer) TransformRequest(req JSON) (JSON, error) {
	return req, nil
}

func (ThinkTagTransformer) TransformResponse(resp JSON) (JSON, error) {
	choices, ok := resp["choices"].([]any)
	if !ok {
		return resp, nil
	}
	for _, c := range choices {
		choice, ok := c.(JSON)
		if !ok {
			continue
		}
		for _, key := range []string{"delta", "message"} {
			container, ok := choice[key].(JSON)
			if !ok {
				continue
			}
			if content, ok := container["content"].(string); ok && content != "" {
				container["content"] = strings.TrimSpace(thinkTagPattern.ReplaceAllString(content, ""))
			}
		}
	}
	return resp, nil
}
