package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"mindmuse/internal/domain"
	"mindmuse/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerStreamer wraps a ModelStreamer with one breaker per model.
// A model that keeps failing is skipped fast by the fallback selector while
// healthy models keep serving. The breaker guards stream opening only;
// errors after the first byte do not trip it.
type CircuitBreakerStreamer struct {
	inner    domain.ModelStreamer
	settings config.CircuitBreakerConfig
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[io.ReadCloser]
}

// NewCircuitBreakerStreamer wraps inner. Zero-valued settings use defaults.
func NewCircuitBreakerStreamer(inner domain.ModelStreamer, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerStreamer {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultCBMaxFailures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCBTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultCBInterval
	}
	return &CircuitBreakerStreamer{
		inner:    inner,
		settings: cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[io.ReadCloser]),
	}
}

func (s *CircuitBreakerStreamer) breaker(model string) *gobreaker.CircuitBreaker[io.ReadCloser] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[model]; ok {
		return cb
	}
	maxFailures := s.settings.MaxFailures
	cb := gobreaker.NewCircuitBreaker[io.ReadCloser](gobreaker.Settings{
		Name:        "model:" + model,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    s.settings.Interval,
		Timeout:     s.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// An abandoned turn says nothing about the model's health.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrTurnSuperseded)
		},
	})
	s.breakers[model] = cb
	return cb
}

// OpenStream implements domain.ModelStreamer.
func (s *CircuitBreakerStreamer) OpenStream(ctx context.Context, model string, req domain.ChatRequest) (io.ReadCloser, error) {
	body, err := s.breaker(model).Execute(func() (io.ReadCloser, error) {
		body, err := s.inner.OpenStream(ctx, model, req)
		if err != nil && errors.Is(context.Cause(ctx), domain.ErrTimeout) {
			// A first-byte timeout counts against the model.
			return nil, fmt.Errorf("model %q: %w: %v", model, domain.ErrTimeout, err)
		}
		return body, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("model %q: %w: %w", model, domain.ErrCircuitOpen, err)
		}
		return nil, err
	}
	return body, nil
}

// Name implements domain.ModelStreamer.
func (s *CircuitBreakerStreamer) Name() string { return s.inner.Name() }

// State returns the breaker state for model. Models never attempted are closed.
func (s *CircuitBreakerStreamer) State(model string) gobreaker.State {
	s.mu.Lock()
	cb, ok := s.breakers[model]
	s.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// Counts returns the failure/success counts for model.
func (s *CircuitBreakerStreamer) Counts(model string) gobreaker.Counts {
	s.mu.Lock()
	cb, ok := s.breakers[model]
	s.mu.Unlock()
	if !ok {
		return gobreaker.Counts{}
	}
	return cb.Counts()
}

var _ domain.ModelStreamer = (*CircuitBreakerStreamer)(nil)
