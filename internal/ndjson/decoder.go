// Package ndjson reassembles newline-delimited JSON generate responses that
// arrive split across arbitrary transport chunks.
package ndjson

import (
	"bytes"
	"encoding/json"
)

// DefaultMaxLine is the line length above which a line is reported as
// oversized. Oversized lines are still buffered and decoded.
const DefaultMaxLine = 1 << 20

// Decoder extracts the "response" field from each complete line of an
// upstream generate stream. A Decoder belongs to a single stream and is not
// safe for concurrent use.
type Decoder struct {
	buf []byte
	// bytes of buf already known to hold no newline
	scanned   int
	maxLine   int
	lines     int
	skipped   int
	oversized int
}

// NewDecoder returns an empty decoder using DefaultMaxLine.
func NewDecoder() *Decoder {
	return &Decoder{maxLine: DefaultMaxLine}
}

// SetMaxLine changes the oversized line threshold. Values of zero or less
// restore DefaultMaxLine.
func (d *Decoder) SetMaxLine(n int) {
	if n <= 0 {
		n = DefaultMaxLine
	}
	d.maxLine = n
}

// MaxLine reports the oversized line threshold.
func (d *Decoder) MaxLine() int { return d.maxLine }

type line struct {
	Response *string `json:"response"`
}

// Feed appends chunk to the pending buffer and returns the fragments of every
// line completed by it, in line order. The trailing unterminated part of the
// buffer is kept for the next call.
func (d *Decoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)
	var out []string
	start, from := 0, d.scanned
	for {
		i := bytes.IndexByte(d.buf[from:], '\n')
		if i < 0 {
			break
		}
		end := from + i
		if frag, ok := d.decodeLine(d.buf[start:end]); ok {
			out = append(out, frag)
		}
		start = end + 1
		from = start
	}
	if start > 0 {
		n := copy(d.buf, d.buf[start:])
		d.buf = d.buf[:n]
	}
	d.scanned = len(d.buf)
	return out
}

// Finish flushes the buffered tail at end of stream. Content without a final
// newline is decoded once and the buffer is cleared.
func (d *Decoder) Finish() []string {
	defer func() {
		d.buf = nil
		d.scanned = 0
	}()
	if frag, ok := d.decodeLine(d.buf); ok {
		return []string{frag}
	}
	return nil
}

// Buffered reports the number of bytes waiting for a newline.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Lines reports how many non-blank lines have been examined.
func (d *Decoder) Lines() int { return d.lines }

// Skipped reports how many non-blank lines could not be decoded.
func (d *Decoder) Skipped() int { return d.skipped }

// Oversized reports how many lines were longer than the max line length.
func (d *Decoder) Oversized() int { return d.oversized }

func (d *Decoder) decodeLine(raw []byte) (string, bool) {
	if d.maxLine > 0 && len(raw) > d.maxLine {
		d.oversized++
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	d.lines++
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		d.skipped++
		return "", false
	}
	if l.Response == nil {
		return "", false
	}
	return *l.Response, true
}
