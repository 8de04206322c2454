package transform

import "strings"

// thinkTagState is the streaming-safe partial-tag buffer shared by the GLM
// and Kimi transformers. Both strip a pair of open/close delimiter tokens
// from response text, routing the delimited region to a separate reasoning
// channel, without ever emitting a partial delimiter as visible content or
// reasoning (spec §4.2, glm/kimi rows).
type thinkTagState struct {
	openTag  string
	closeTag string
	inThink  bool
	pending  string
}

func newThinkTagState(openTag, closeTag string) *thinkTagState {
	return &thinkTagState{openTag: openTag, closeTag: closeTag}
}

// process consumes one chunk of response text and returns the visible
// (non-reasoning) text and the reasoning text extracted from it. Any
// delimiter split across the chunk boundary is held in s.pending until the
// next call resolves it.
func (s *thinkTagState) process(chunk string) (visible, reasoning string) {
	buf := s.pending + chunk
	s.pending = ""
	i := 0

	for i < len(buf) {
		tag := s.openTag
		if s.inThink {
			tag = s.closeTag
		}

		idx := strings.Index(buf[i:], tag)
		if idx == -1 {
			partial := trailingPartialLen(buf[i:], tag)
			text := buf[i : len(buf)-partial]
			if s.inThink {
				reasoning += text
			} else {
				visible += text
			}
			s.pending = buf[len(buf)-partial:]
			break
		}

		text := buf[i : i+idx]
		if s.inThink {
			reasoning += text
		} else {
			visible += text
		}
		i += idx + len(tag)
		s.inThink = !s.inThink
	}

	return visible, reasoning
}

// trailingPartialLen returns the length of the longest suffix of s that is
// also a proper (non-empty, non-full) prefix of tag, i.e. the number of
// trailing bytes of s that might be the start of tag split across a chunk
// boundary.
func trailingPartialLen(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for k := max; k >= 1; k-- {
		if strings.HasSuffix(s, tag[:k]) {
			return k
		}
	}
	return 0
}
