// Package sse implements the line-delimited "data: " + JSON framing used
// both by the upstream Q&A transport and toward downstream clients.
package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Frame is the union of payload shapes carried on the wire. A delta frame
// sets Content, a terminal frame sets Done (plus MessageCount and SessionID
// when sent downstream), an error frame sets Error.
type Frame struct {
	Content      string `json:"content,omitempty"`
	Done         bool   `json:"done,omitempty"`
	MessageCount int    `json:"messageCount,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Decoder reads frames from an event stream. Partial lines are buffered
// across reads, so a frame split over two transport chunks is reassembled
// before parsing.
type Decoder struct {
	r       *bufio.Reader
	skipped int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next well-formed frame. Blank lines, comment lines and
// unparseable payloads are skipped, not surfaced as errors. Returns io.EOF
// once the stream is exhausted.
func (d *Decoder) Next() (Frame, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimSpace(line) != "" {
				// Stream ended without a trailing newline.
				if frame, ok := d.parseLine(line); ok {
					return frame, nil
				}
			}
			return Frame{}, err
		}

		if frame, ok := d.parseLine(line); ok {
			return frame, nil
		}
	}
}

// Skipped reports how many non-blank lines were discarded as malformed.
func (d *Decoder) Skipped() int {
	return d.skipped
}

func (d *Decoder) parseLine(line string) (Frame, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Frame{}, false
	}

	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		d.skipped++
		return Frame{}, false
	}

	var frame Frame
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &frame); err != nil {
		d.skipped++
		return Frame{}, false
	}
	return frame, true
}
