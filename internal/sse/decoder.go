// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bytes"
	"encoding/json"
)

// dataPrefix marks an event-data line. Comment lines start with ':' and
// everything without the prefix is noise to be discarded.
var dataPrefix = []byte("data:")

// doneSentinel terminates the stream without further parsing.
const doneSentinel = "[DONE]"

// streamPayload mirrors the completion endpoint's chunk shape. Only the
// first choice's delta content is ever consumed.
type streamPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns an SSE byte stream into discrete text deltas.
type Decoder struct {
	buf  []byte
	done bool

	// stalled is set when a data line parsed as truncated JSON and was put
	// back into the buffer. Scanning resumes only when new bytes arrive, so
	// a single Feed call never spins on the same bytes.
	stalled bool
}

// NewDecoder creates a decoder for one connection.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Done reports whether the [DONE] sentinel has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed appends a raw fragment and returns the content deltas completed by
// it, in arrival order. Returns nil once the stream has finished.
func (d *Decoder) Feed(p []byte) []string {
	if d.done {
		return nil
	}
	if len(p) > 0 {
		d.buf = append(d.buf, p...)
		d.stalled = false
	}
	return d.scan(false)
}

// Flush processes any residual buffered content after the remote closed the
// connection. Unterminated trailing content is reprocessed best-effort;
// leftover non-data content never produces an error.
func (d *Decoder) Flush() []string {
	if d.done {
		return nil
	}
	d.stalled = false
	chunks := d.scan(true)
	d.buf = nil
	return chunks
}

// scan consumes complete lines from the buffer. At EOF the unterminated
// tail is treated as one final line.
func (d *Decoder) scan(eof bool) []string {
	var chunks []string

	for !d.done && !d.stalled {
		nl := bytes.IndexByte(d.buf, '\n')
		var line []byte
		switch {
		case nl >= 0:
			line = d.buf[:nl]
			d.buf = d.buf[nl+1:]
		case eof && len(d.buf) > 0:
			line = d.buf
			d.buf = nil
		default:
			return chunks
		}

		chunk, ok := d.processLine(line, eof)
		if ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// processLine applies the per-line rules and returns a content delta when
// the line carried one.
func (d *Decoder) processLine(line []byte, eof bool) (string, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))

	// Blank lines and ':' comments are keep-alive noise.
	if len(line) == 0 || line[0] == ':' {
		return "", false
	}
	if !bytes.HasPrefix(line, dataPrefix) {
		return "", false
	}

	data := bytes.TrimSpace(line[len(dataPrefix):])
	if string(data) == doneSentinel {
		d.done = true
		return "", false
	}

	var payload streamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		// A line boundary does not guarantee a complete JSON body: the
		// payload itself may have been split across network reads. Put the
		// raw line back (without its terminator, so the continuation joins
		// it) and wait for more bytes. At EOF nothing more is coming and
		// the line is dropped.
		if !eof {
			rebuf := make([]byte, 0, len(line)+len(d.buf))
			rebuf = append(rebuf, line...)
			d.buf = append(rebuf, d.buf...)
			d.stalled = true
		}
		return "", false
	}

	if len(payload.Choices) == 0 || payload.Choices[0].Delta.Content == "" {
		return "", false
	}
	return payload.Choices[0].Delta.Content, true
}
