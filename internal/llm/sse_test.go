package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessageDecoder() *StreamDecoder {
	return newStreamDecoder("test", ShapeMessage.parser())
}

func contentOf(events []StreamEvent) []string {
	var out []string
	for _, ev := range events {
		if ev.ContentDelta != "" {
			out = append(out, ev.ContentDelta)
		}
	}
	return out
}

func TestStreamDecoder_Feed(t *testing.T) {
	t.Run("Partial line is kept until the next chunk completes it", func(t *testing.T) {
		dec := newMessageDecoder()

		evs := dec.Feed([]byte(`data: {"choices":[{"delta":{"content":"Hel`))
		assert.Empty(t, evs)

		evs = dec.Feed([]byte("lo\"}}]}\n\n"))
		require.Len(t, evs, 1)
		assert.Equal(t, "Hello", evs[0].ContentDelta)
		assert.False(t, evs[0].Finished)
	})

	t.Run("Each JSON object yields its own event", func(t *testing.T) {
		dec := newMessageDecoder()
		evs := dec.Feed([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n",
		))
		assert.Equal(t, []string{"a", "b"}, contentOf(evs))
	})

	t.Run("Comments, blank lines and other fields are ignored", func(t *testing.T) {
		dec := newMessageDecoder()
		evs := dec.Feed([]byte(": OPENROUTER PROCESSING\n\nevent: ping\nid: 3\n\n"))
		assert.Empty(t, evs)
	})

	t.Run("Malformed line is skipped and the stream continues", func(t *testing.T) {
		dec := newMessageDecoder()
		evs := dec.Feed([]byte(
			"data: {not json\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"still here\"}}]}\n\n",
		))
		require.Len(t, evs, 1)
		assert.Equal(t, "still here", evs[0].ContentDelta)
	})

	t.Run("Done sentinel finishes the stream", func(t *testing.T) {
		dec := newMessageDecoder()
		evs := dec.Feed([]byte("data: [DONE]\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n\n"))
		require.Len(t, evs, 1)
		assert.True(t, evs[0].Finished)
		assert.Empty(t, dec.Feed([]byte("data: [DONE]\n")))
	})

	t.Run("Finish reason carries the last content on the same event", func(t *testing.T) {
		dec := newMessageDecoder()
		evs := dec.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"end\"},\"finish_reason\":\"stop\"}]}\r\n"))
		require.Len(t, evs, 1)
		assert.Equal(t, "end", evs[0].ContentDelta)
		assert.True(t, evs[0].Finished)
	})

	t.Run("Error object in the stream is terminal", func(t *testing.T) {
		dec := newMessageDecoder()
		evs := dec.Feed([]byte("data: {\"error\":{\"message\":\"Rate limit exceeded\"}}\n\n"))
		require.Len(t, evs, 1)
		assert.Equal(t, "Rate limit exceeded", evs[0].ErrorPayload)
		assert.True(t, evs[0].Terminal())
	})

	t.Run("Flat shape chunks", func(t *testing.T) {
		dec := newStreamDecoder("test", ShapeFlat.parser())
		evs := dec.Feed([]byte("data: {\"response\":\"hi\",\"done\":false}\n\ndata: {\"response\":\"\",\"done\":true}\n\n"))
		require.Len(t, evs, 2)
		assert.Equal(t, "hi", evs[0].ContentDelta)
		assert.True(t, evs[1].Finished)
	})
}

func TestStreamDecoder_Flush(t *testing.T) {
	t.Run("Trailing line without newline is processed at end of stream", func(t *testing.T) {
		dec := newMessageDecoder()
		assert.Empty(t, dec.Feed([]byte(`data: {"choices":[{"delta":{"content":"tail"}}]}`)))

		evs := dec.Flush()
		require.Len(t, evs, 2)
		assert.Equal(t, "tail", evs[0].ContentDelta)
		assert.True(t, evs[1].Finished)
	})

	t.Run("Nothing after a terminal event", func(t *testing.T) {
		dec := newMessageDecoder()
		dec.Feed([]byte("data: [DONE]\n"))
		assert.Empty(t, dec.Flush())
	})
}

// chunkedReader returns its parts one Read at a time, then err.
type chunkedReader struct {
	parts []string
	err   error
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.parts) == 0 {
		return 0, r.err
	}
	n := copy(p, r.parts[0])
	r.parts = r.parts[1:]
	return n, nil
}

func TestStreamDecoder_Consume(t *testing.T) {
	ctx := context.Background()

	t.Run("Deltas are delivered in order followed by one terminal event", func(t *testing.T) {
		r := &chunkedReader{
			parts: []string{
				"data: {\"choices\":[{\"delta\":{\"content\":\"The \"}}]}\n",
				"\ndata: {\"choices\":[{\"delta\":{\"con",
				"tent\":\"answer\"}}]}\n\ndata: [DONE]\n\n",
			},
			err: io.EOF,
		}
		var events []StreamEvent
		newMessageDecoder().Consume(ctx, r, func(ev StreamEvent) { events = append(events, ev) })

		assert.Equal(t, []string{"The ", "answer"}, contentOf(events))
		require.NotEmpty(t, events)
		assert.True(t, events[len(events)-1].Finished)
	})

	t.Run("Connection drop yields a single error event", func(t *testing.T) {
		drop := errors.New("connection reset by peer")
		r := &chunkedReader{
			parts: []string{"data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n"},
			err:   drop,
		}
		var events []StreamEvent
		newMessageDecoder().Consume(ctx, r, func(ev StreamEvent) { events = append(events, ev) })

		require.Len(t, events, 2)
		assert.Equal(t, "par", events[0].ContentDelta)
		assert.ErrorIs(t, events[1].Err, drop)
	})

	t.Run("EOF without sentinel counts as finished", func(t *testing.T) {
		var events []StreamEvent
		newMessageDecoder().Consume(ctx, strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n"),
			func(ev StreamEvent) { events = append(events, ev) })

		require.Len(t, events, 2)
		assert.True(t, events[1].Finished)
	})
}
