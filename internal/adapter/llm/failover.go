package llm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mindmuse/internal/domain"
	"mindmuse/internal/infra/tracer"
)

const defaultFirstByteTimeout = 30 * time.Second

// FallbackSelector tries candidate models strictly in order, one attempt
// each, and returns the first that answers 2xx and yields a byte within the
// first-byte timeout.
type FallbackSelector struct {
	streamer         domain.ModelStreamer
	firstByteTimeout time.Duration
	quota            *rate.Limiter
	logger           *slog.Logger
}

// SelectorOption configures a FallbackSelector.
type SelectorOption func(*FallbackSelector)

// WithFirstByteTimeout bounds how long one candidate may stay silent.
func WithFirstByteTimeout(d time.Duration) SelectorOption {
	return func(s *FallbackSelector) {
		if d > 0 {
			s.firstByteTimeout = d
		}
	}
}

// WithQuota makes every attempt wait on l first. Share one limiter between
// selectors to cap the combined attempt rate.
func WithQuota(l *rate.Limiter) SelectorOption {
	return func(s *FallbackSelector) { s.quota = l }
}

// NewFallbackSelector creates a selector over streamer.
func NewFallbackSelector(streamer domain.ModelStreamer, logger *slog.Logger, opts ...SelectorOption) *FallbackSelector {
	s := &FallbackSelector{
		streamer:         streamer,
		firstByteTimeout: defaultFirstByteTimeout,
		logger:           logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ domain.StreamSelector = (*FallbackSelector)(nil)

// Send walks candidates in order. Cancelling ctx aborts the walk and is
// returned as-is. When every candidate fails the result is a
// *domain.AllModelsExhaustedError carrying the last failure.
func (s *FallbackSelector) Send(ctx context.Context, req domain.ChatRequest, candidates []domain.ModelCandidate) (*domain.ModelStream, error) {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanLLMFallback)
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr(tracer.AttrStreamer, s.streamer.Name()),
		tracer.IntAttr(tracer.AttrCandidates, len(candidates)),
	)

	var lastErr error
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.quota != nil {
			if err := s.quota.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("%w: %v", domain.ErrRateLimit, err)
			}
		}

		body, err := s.attempt(ctx, c.ID, req)
		if err == nil {
			s.logger.Info("model answered", "model", c.ID, "attempt", i+1)
			tracer.Answered(span, c.ID, i+1)
			tracer.SetOK(span)
			return &domain.ModelStream{Model: c.ID, Attempts: i + 1, Body: body}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = fmt.Errorf("model %s: %w", c.ID, err)
		s.logger.Warn("model attempt failed",
			"model", c.ID,
			"attempt", i+1,
			"code", domain.ErrorCodeOf(err),
			"error", err,
		)
		tracer.AddEvent(span, tracer.EventAttemptFailed,
			tracer.ModelAttr(c.ID),
			tracer.CodeAttr(string(domain.ErrorCodeOf(err))),
		)
	}

	err := &domain.AllModelsExhaustedError{Attempts: len(candidates), LastErr: lastErr}
	tracer.RecordError(span, err)
	return nil, err
}

// attempt opens one candidate and waits for its first byte. The returned
// body keeps the attempt context alive until it is closed. A first-byte
// timeout cancels the attempt with domain.ErrTimeout as the cause.
func (s *FallbackSelector) attempt(ctx context.Context, model string, req domain.ChatRequest) (io.ReadCloser, error) {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(s.firstByteTimeout, func() { cancel(domain.ErrTimeout) })
	timeoutErr := func() error {
		return fmt.Errorf("%w: no first byte within %s", domain.ErrTimeout, s.firstByteTimeout)
	}
	timedOut := func() bool { return errors.Is(context.Cause(attemptCtx), domain.ErrTimeout) }

	body, err := s.streamer.OpenStream(attemptCtx, model, req)
	if err != nil {
		timer.Stop()
		cancel(context.Canceled)
		if timedOut() {
			return nil, timeoutErr()
		}
		return nil, err
	}

	br := bufio.NewReader(body)
	_, peekErr := br.Peek(1)
	if !timer.Stop() {
		body.Close()
		cancel(context.Canceled)
		return nil, timeoutErr()
	}
	if peekErr != nil {
		body.Close()
		cancel(context.Canceled)
		if errors.Is(peekErr, io.EOF) {
			return nil, domain.ErrEmptyStream
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTransport, peekErr)
	}

	return &attemptBody{Reader: br, body: body, cancel: func() { cancel(context.Canceled) }}, nil
}

// attemptBody reads through the peeked buffer and tears down the attempt
// context on Close.
type attemptBody struct {
	io.Reader
	body   io.Closer
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func (b *attemptBody) Close() error {
	b.once.Do(func() {
		b.err = b.body.Close()
		b.cancel()
	})
	return b.err
}
