package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindmuse/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sseData(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n"
}

func concat(events []domain.StreamEvent) (string, bool) {
	var b strings.Builder
	done := false
	for _, ev := range events {
		if ev.Done {
			done = true
			continue
		}
		b.WriteString(ev.Delta)
	}
	return b.String(), done
}

func decodeAll(d *StreamDecoder, chunks ...string) []domain.StreamEvent {
	var out []domain.StreamEvent
	for _, c := range chunks {
		out = append(out, d.Feed([]byte(c))...)
	}
	return append(out, d.Flush()...)
}

func TestStreamDecoderBasic(t *testing.T) {
	raw := sseData("Hel") + "\n" + sseData("lo") + "\n" + "data: [DONE]\n\n"
	events := decodeAll(NewStreamDecoder("t1"), raw)

	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0].Delta)
	assert.Equal(t, "lo", events[1].Delta)
	assert.True(t, events[2].Done)
	for _, ev := range events {
		assert.Equal(t, "t1", ev.TurnID)
	}
}

func TestStreamDecoderChunkingInvariance(t *testing.T) {
	raw := ": keep-alive\n" +
		sseData("I hear ") +
		"\r\n" +
		sseData("you. ") +
		"data: {bad json}\n" +
		sseData("Tell me more") +
		"data: [DONE]\n" +
		sseData("ignored after done")

	want, wantDone := concat(decodeAll(NewStreamDecoder("t"), raw))
	require.Equal(t, "I hear you. Tell me more", want)
	require.True(t, wantDone)

	for size := 1; size <= len(raw); size++ {
		var chunks []string
		for i := 0; i < len(raw); i += size {
			end := i + size
			if end > len(raw) {
				end = len(raw)
			}
			chunks = append(chunks, raw[i:end])
		}
		got, done := concat(decodeAll(NewStreamDecoder("t"), chunks...))
		if got != want || done != wantDone {
			t.Fatalf("chunk size %d: got %q (done=%v), want %q (done=%v)", size, got, done, want, wantDone)
		}
	}
}

func TestStreamDecoderDecodeResilience(t *testing.T) {
	raw := "data: {bad json}\n" + sseData("hi") + "data: [DONE]\n"
	d := NewStreamDecoder("t")
	got, done := concat(decodeAll(d, raw))

	assert.Equal(t, "hi", got)
	assert.True(t, done)
	assert.Equal(t, 1, d.DecodeErrors())
	assert.True(t, errors.Is(d.LastDecodeError(), domain.ErrDecode))
}

func TestStreamDecoderCRLF(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\r\n\r\ndata: [DONE]\r\n"
	got, done := concat(decodeAll(NewStreamDecoder("t"), raw))
	assert.Equal(t, "a", got)
	assert.True(t, done)
}

func TestStreamDecoderFlushUnterminatedLine(t *testing.T) {
	d := NewStreamDecoder("t")
	events := d.Feed([]byte(`data: {"choices":[{"delta":{"content":"tail"}}]}`))
	assert.Empty(t, events, "no newline yet")

	events = d.Flush()
	require.Len(t, events, 1)
	assert.Equal(t, "tail", events[0].Delta)
	assert.False(t, d.Done())
}

func TestStreamDecoderSkipsEmptyAndForeignLines(t *testing.T) {
	raw := "event: message\nid: 7\n" +
		`data: {"choices":[{"delta":{"role":"assistant"}}]}` + "\n" +
		`data: {"choices":[]}` + "\n" +
		"data:" + `{"choices":[{"delta":{"content":"x"}}]}` + "\n"
	d := NewStreamDecoder("t")
	got, done := concat(decodeAll(d, raw))
	assert.Equal(t, "x", got)
	assert.False(t, done)
	assert.Zero(t, d.DecodeErrors())
}

func TestDecodeStreamEmitsTaggedEvents(t *testing.T) {
	raw := sseData("one ") + sseData("two") + "data: [DONE]\n"
	ch := DecodeStream(context.Background(), io.NopCloser(strings.NewReader(raw)), "turn-9", discardLogger())

	var events []domain.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	got, done := concat(events)
	assert.Equal(t, "one two", got)
	assert.True(t, done)
	for _, ev := range events {
		assert.Equal(t, "turn-9", ev.TurnID)
	}
}

func TestDecodeStreamEOFWithoutDone(t *testing.T) {
	raw := sseData("partial")
	ch := DecodeStream(context.Background(), io.NopCloser(strings.NewReader(raw)), "t", discardLogger())

	var events []domain.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	got, done := concat(events)
	assert.Equal(t, "partial", got)
	assert.False(t, done)
}

type closeTracker struct {
	io.Reader
	closed chan struct{}
}

func (c *closeTracker) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	if pr, ok := c.Reader.(*io.PipeReader); ok {
		return pr.Close()
	}
	return nil
}

func TestDecodeStreamContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	body := &closeTracker{Reader: pr, closed: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	ch := DecodeStream(ctx, body, "t", discardLogger())

	go func() { _, _ = pw.Write([]byte(sseData("first"))) }()
	select {
	case ev := <-ch:
		assert.Equal(t, "first", ev.Delta)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first event")
	}

	cancel()

	select {
	case <-body.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("body not closed after cancel")
	}
	for range ch {
	}
}
