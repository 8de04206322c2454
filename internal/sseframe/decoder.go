// Package sseframe implements the incremental Server-Sent-Events frame
// decoder (C1): byte-chunk to frame reassembly across arbitrary I/O
// boundaries, including boundaries that split a CRLF pair, a field name, or a
// multi-byte UTF-8 code point.
package sseframe

import "strings"

// Frame is one complete event/data block terminated by a blank line.
// Multi-line data fields are joined with "\n"; comment lines (":" prefix) are
// discarded.
type Frame struct {
	Event string
	Data  string
}

// ToSSEString renders the frame back into wire form, one trailing blank line.
func (f Frame) ToSSEString() string {
	var b strings.Builder
	if f.Event != "" {
		b.WriteString("event: ")
		b.WriteString(f.Event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(f.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// Decoder accumulates pushed byte chunks and emits complete frames. It never
// errors: malformed lines are discarded and decoding continues. Memory use is
// bounded by the size of the longest in-flight (not yet terminated) frame.
//
// The zero value is ready to use.
type Decoder struct {
	buf []byte
}

// Push appends chunk to the internal buffer and returns every complete frame
// that chunk makes available, in arrival order. Bytes beyond the last
// complete frame remain buffered for the next Push call.
func (d *Decoder) Push(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		frame, rest, ok := d.takeFrame(d.buf)
		if !ok {
			break
		}
		d.buf = rest
		if frame != nil {
			frames = append(frames, *frame)
		}
	}
	return frames
}

// takeFrame scans buf for the first complete frame (terminated by a blank
// line) and parses it. It returns ok=false if buf does not yet contain a
// complete frame boundary. A parsed-but-empty frame (no data lines) is
// signalled by a nil *Frame with ok=true: its bytes are still consumed.
func (d *Decoder) takeFrame(buf []byte) (*Frame, []byte, bool) {
	var lines []string
	rest := buf
	for {
		line, remainder, found := readNextLine(rest)
		if !found {
			// Not enough data yet for a full line; nothing consumed.
			return nil, buf, false
		}
		rest = remainder
		if line == "" {
			// Blank line: frame boundary.
			frame := parseFrame(lines)
			return frame, rest, true
		}
		lines = append(lines, line)
	}
}

// readNextLine extracts one line from the front of buf, recognizing "\n",
// "\r\n", and a bare "\r" as terminators. It returns found=false if buf does
// not yet contain a full line (the caller must wait for more bytes); in that
// case buf is returned unchanged.
func readNextLine(buf []byte) (line string, rest []byte, found bool) {
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case '\n':
			return string(trimCR(buf[:i])), buf[i+1:], true
		case '\r':
			if i+1 < len(buf) {
				if buf[i+1] == '\n' {
					return string(buf[:i]), buf[i+2:], true
				}
				return string(buf[:i]), buf[i+1:], true
			}
			// Trailing \r at the end of the buffer. A blank line ends the
			// frame now; if a split \r\n pair's \n arrives later it reads as
			// one more blank line, which yields no frame. A non-blank line
			// waits, since its frame is not complete yet anyway.
			if i == 0 {
				return "", buf[1:], true
			}
			return "", buf, false
		}
	}
	return "", buf, false
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

// parseFrame interprets the collected field lines of one frame. Recognized
// fields are "event" (last write wins) and "data" (appended, newline
// separated). Comment lines (leading ":") and unrecognized fields are
// ignored. A frame with no data lines is dropped (nil, per spec §4.1).
func parseFrame(lines []string) *Frame {
	var (
		event     string
		dataLines []string
		sawData   bool
	)
	for _, line := range lines {
		if line == "" {
			continue
		}
		if line[0] == ':' {
			continue // comment
		}

		field, value := splitField(line)
		switch field {
		case "event":
			event = value
		case "data":
			dataLines = append(dataLines, value)
			sawData = true
		default:
			// unknown field, ignored
		}
	}
	if !sawData {
		return nil
	}
	return &Frame{Event: event, Data: strings.Join(dataLines, "\n")}
}

// splitField splits "field: value" or "field:value" or bare "field" into its
// name and trimmed value. Exactly one leading space after the colon is
// stripped, per the SSE spec.
func splitField(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}
