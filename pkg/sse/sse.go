// Package sse parses Server-Sent Events streams incrementally. Chunks are
// appended to one reusable buffer; complete messages are sliced off the
// front, so peak memory stays around one message plus one chunk. Every
// message is stamped with the monotonic arrival instant of the chunk that
// completed it, which downstream latency metrics depend on.
package sse

import (
	"bytes"
	"fmt"
	"strings"
)

// ResponseError reports an error event embedded in the stream.
type ResponseError struct {
	Code    int
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("sse error event (code %d): %s", e.Code, e.Message)
}

// ErrorCode surfaces the mapped status for error summaries.
func (e *ResponseError) ErrorCode() int { return e.Code }

// Field is one "name: value" line of an SSE message. Comment lines carry an
// empty name.
type Field struct {
	Name  string
	Value string
}

// Message is one complete SSE message. PerfNS is the monotonic arrival
// instant of the chunk that completed it, not of its first byte.
type Message struct {
	PerfNS int64
	Fields []Field
}

// Data joins the values of the message's data fields with newlines, per the
// SSE dispatch rules.
func (m *Message) Data() string {
	var parts []string
	for _, f := range m.Fields {
		if f.Name == "data" {
			parts = append(parts, f.Value)
		}
	}
	return strings.Join(parts, "\n")
}

// Comment returns the first comment line's text, if any.
func (m *Message) Comment() string {
	for _, f := range m.Fields {
		if f.Name == "" {
			return f.Value
		}
	}
	return ""
}

func (m *Message) isErrorEvent() bool {
	for _, f := range m.Fields {
		if f.Name == "event" && f.Value == "error" {
			return true
		}
	}
	return false
}

var (
	crlfDelim = []byte("\r\n\r\n")
	lfDelim   = []byte("\n\n")
)

// Reader accumulates stream chunks and yields complete messages.
type Reader struct {
	buf []byte
}

// Feed appends one chunk and returns every message it completes, each
// stamped with perfNS. An error event in the stream surfaces as a
// *ResponseError with code 502; messages completed before it are still
// returned.
func (r *Reader) Feed(chunk []byte, perfNS int64) ([]Message, error) {
	r.buf = append(r.buf, chunk...)

	var msgs []Message
	for {
		raw, ok := r.next()
		if !ok {
			return msgs, nil
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		msg := parseMessage(raw, perfNS)
		if msg.isErrorEvent() {
			text := msg.Comment()
			if text == "" {
				text = string(raw)
			}
			return msgs, &ResponseError{Code: 502, Message: text}
		}
		msgs = append(msgs, msg)
	}
}

// Finish flushes any buffered trailing bytes as one final message. Streams
// that end without a closing delimiter still deliver their last message.
func (r *Reader) Finish(perfNS int64) (Message, bool) {
	raw := r.buf
	r.buf = nil
	if len(bytes.TrimSpace(raw)) == 0 {
		return Message{}, false
	}
	return parseMessage(raw, perfNS), true
}

// next slices the first complete message off the buffer. CRLF delimiters are
// preferred; bare LF is the fallback for non-conforming servers.
func (r *Reader) next() ([]byte, bool) {
	idx := bytes.Index(r.buf, crlfDelim)
	dlen := len(crlfDelim)
	if idx < 0 {
		idx = bytes.Index(r.buf, lfDelim)
		dlen = len(lfDelim)
	}
	if idx < 0 {
		return nil, false
	}

	raw := append([]byte(nil), r.buf[:idx]...)
	n := copy(r.buf, r.buf[idx+dlen:])
	r.buf = r.buf[:n]
	return raw, true
}

func parseMessage(raw []byte, perfNS int64) Message {
	msg := Message{PerfNS: perfNS}
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}
		name, value, found := bytes.Cut(line, []byte(":"))
		if !found {
			msg.Fields = append(msg.Fields, Field{Name: string(line)})
			continue
		}
		msg.Fields = append(msg.Fields, Field{
			Name:  string(name),
			Value: string(bytes.TrimPrefix(value, []byte(" "))),
		})
	}
	return msg
}
