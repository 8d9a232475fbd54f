package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
	readChunk    = 4 * 1024
)

// StreamEvent is one semantic event produced from a provider stream.
// At most one event is produced per parsed JSON object.
type StreamEvent struct {
	ContentDelta string
	Finished     bool
	// ErrorPayload is an error reported by the provider inside the stream.
	ErrorPayload string
	// Err is a transport failure while reading the stream.
	Err error
}

// Terminal reports whether no further events follow this one.
func (e StreamEvent) Terminal() bool {
	return e.Finished || e.ErrorPayload != "" || e.Err != nil
}

// chunkResult is what a response shape extracts from one JSON payload.
type chunkResult struct {
	Content  string
	Finished bool
	Error    string
}

// chunkParser decodes a single data payload. It returns an error for invalid JSON.
type chunkParser func(payload []byte) (chunkResult, error)

// StreamDecoder splits an SSE byte stream into events. It keeps the trailing,
// possibly incomplete line buffered until the next chunk completes it.
type StreamDecoder struct {
	parse    chunkParser
	provider string
	buf      []byte
	done     bool
}

func newStreamDecoder(provider string, parse chunkParser) *StreamDecoder {
	return &StreamDecoder{parse: parse, provider: provider}
}

// Feed appends a raw chunk and returns the events of every completed line.
func (d *StreamDecoder) Feed(chunk []byte) []StreamEvent {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var out []StreamEvent
	for !d.done {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if ev, ok := d.line(line); ok {
			out = append(out, ev)
			d.done = ev.Terminal()
		}
	}
	d.buf = append([]byte(nil), d.buf...)
	return out
}

// Flush processes whatever is left once the stream has ended. A stream that
// closes without a sentinel still counts as finished.
func (d *StreamDecoder) Flush() []StreamEvent {
	if d.done {
		return nil
	}
	var out []StreamEvent
	if len(d.buf) > 0 {
		line := d.buf
		d.buf = nil
		if ev, ok := d.line(line); ok {
			out = append(out, ev)
			d.done = ev.Terminal()
		}
	}
	if !d.done {
		d.done = true
		out = append(out, StreamEvent{Finished: true})
	}
	return out
}

func (d *StreamDecoder) line(raw []byte) (StreamEvent, bool) {
	line := bytes.TrimRight(raw, "\r")
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return StreamEvent{}, false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return StreamEvent{}, false
	}
	if string(payload) == doneSentinel {
		return StreamEvent{Finished: true}, true
	}

	res, err := d.parse(payload)
	if err != nil {
		slog.Debug("Skipping malformed stream line", "provider", d.provider, "error", err)
		return StreamEvent{}, false
	}
	if res.Error != "" {
		return StreamEvent{ErrorPayload: res.Error}, true
	}
	if res.Content == "" && !res.Finished {
		return StreamEvent{}, false
	}
	return StreamEvent{ContentDelta: res.Content, Finished: res.Finished}, true
}

// Consume reads r until a terminal event and hands each event to emit in order.
// Exactly one terminal event is emitted. It does not retry.
func (d *StreamDecoder) Consume(ctx context.Context, r io.Reader, emit func(StreamEvent)) {
	buf := make([]byte, readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range d.Feed(buf[:n]) {
				emit(ev)
				if ev.Terminal() {
					return
				}
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			for _, ev := range d.Flush() {
				emit(ev)
			}
			return
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		d.done = true
		emit(StreamEvent{Err: err})
		return
	}
}
