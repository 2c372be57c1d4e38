package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"mindmuse/internal/domain"
)

var (
	ssePrefix = []byte("data:")
	sseDone   = []byte("[DONE]")
)

const readChunk = 4096

// StreamDecoder turns raw event-stream bytes into content events. Bytes may
// be fed in chunks of any size; a partial trailing line is buffered until
// the next Feed or Flush.
type StreamDecoder struct {
	turnID       string
	buf          []byte
	done         bool
	decodeErrors int
	lastErr      error
}

// NewStreamDecoder returns a decoder whose events are tagged with turnID.
func NewStreamDecoder(turnID string) *StreamDecoder {
	return &StreamDecoder{turnID: turnID}
}

// Feed consumes chunk and returns the events completed by it.
// Events after the terminal marker are never produced.
func (d *StreamDecoder) Feed(chunk []byte) []domain.StreamEvent {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var events []domain.StreamEvent
	for !d.done {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if ev, ok := d.parseLine(line); ok {
			events = append(events, ev)
		}
	}
	if d.done {
		d.buf = nil
	} else if len(d.buf) == 0 {
		// Reset so the backing array does not grow without bound.
		d.buf = d.buf[:0:0]
	}
	return events
}

// Flush parses any buffered unterminated line. Call it once at end of input.
func (d *StreamDecoder) Flush() []domain.StreamEvent {
	if d.done || len(d.buf) == 0 {
		d.buf = nil
		return nil
	}
	line := d.buf
	d.buf = nil
	if ev, ok := d.parseLine(line); ok {
		return []domain.StreamEvent{ev}
	}
	return nil
}

// Done reports whether the terminal marker has been seen.
func (d *StreamDecoder) Done() bool { return d.done }

// DecodeErrors returns how many data lines failed to parse.
func (d *StreamDecoder) DecodeErrors() int { return d.decodeErrors }

// LastDecodeError returns the most recent parse failure, wrapping domain.ErrDecode.
func (d *StreamDecoder) LastDecodeError() error { return d.lastErr }

func (d *StreamDecoder) parseLine(line []byte) (domain.StreamEvent, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) == 0 || line[0] == ':' {
		return domain.StreamEvent{}, false
	}
	if !bytes.HasPrefix(line, ssePrefix) {
		// event:, id:, retry: fields carry nothing we use.
		return domain.StreamEvent{}, false
	}
	data := bytes.TrimPrefix(line[len(ssePrefix):], []byte(" "))

	if bytes.Equal(bytes.TrimSpace(data), sseDone) {
		d.done = true
		return domain.StreamEvent{TurnID: d.turnID, Done: true}, true
	}

	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		d.decodeErrors++
		d.lastErr = fmt.Errorf("%w: %v", domain.ErrDecode, err)
		return domain.StreamEvent{}, false
	}
	content := chunk.content()
	if content == "" {
		return domain.StreamEvent{}, false
	}
	return domain.StreamEvent{TurnID: d.turnID, Delta: content}, true
}

// DecodeStream reads body until the terminal marker, EOF, a read error or
// ctx cancellation, emitting events tagged with turnID. The channel is
// closed when decoding stops and body is always closed.
func DecodeStream(ctx context.Context, body io.ReadCloser, turnID string, logger *slog.Logger) <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, 16)
	// Unblocks a pending Read when the turn is abandoned.
	stop := context.AfterFunc(ctx, func() { body.Close() })

	go func() {
		defer close(ch)
		defer stop()
		defer body.Close()

		dec := NewStreamDecoder(turnID)
		emit := func(events []domain.StreamEvent) bool {
			for _, ev := range events {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		buf := make([]byte, readChunk)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				if !emit(dec.Feed(buf[:n])) || dec.Done() {
					break
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					emit(dec.Flush())
				} else if ctx.Err() == nil {
					logger.Debug("stream read failed", "turn_id", turnID, "error", err)
				}
				break
			}
		}
		if dec.DecodeErrors() > 0 {
			logger.Debug("skipped malformed stream lines",
				"turn_id", turnID,
				"count", dec.DecodeErrors(),
				"error", dec.LastDecodeError(),
			)
		}
	}()
	return ch
}
