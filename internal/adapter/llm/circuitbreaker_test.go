package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindmuse/internal/domain"
	"mindmuse/internal/infra/config"
)

// --- Circuit Breaker Tests ---

func TestCircuitBreakerPassesThrough(t *testing.T) {
	s := newScriptedStreamer()
	s.on("m", bodyOf("ok"))

	cb := NewCircuitBreakerStreamer(s, config.CircuitBreakerConfig{}, discardLogger())
	body, err := cb.OpenStream(context.Background(), "m", domain.ChatRequest{})
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, "scripted", cb.Name())
}

func TestCircuitBreakerOpensPerModel(t *testing.T) {
	s := newScriptedStreamer()
	s.on("healthy", bodyOf("ok"))
	// "flaky" falls through to the scripted 503.

	cfg := config.CircuitBreakerConfig{MaxFailures: 3, Timeout: 5 * time.Second, Interval: time.Minute}
	cb := NewCircuitBreakerStreamer(s, cfg, discardLogger())

	for i := 0; i < 3; i++ {
		_, err := cb.OpenStream(context.Background(), "flaky", domain.ChatRequest{})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUpstreamStatus)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State("flaky"))

	// Fails fast without reaching the streamer.
	_, err := cb.OpenStream(context.Background(), "flaky", domain.ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, domain.IsRetryableError(err))
	assert.Len(t, s.attempts(), 3)

	// Other models are unaffected.
	assert.Equal(t, gobreaker.StateClosed, cb.State("healthy"))
	_, err = cb.OpenStream(context.Background(), "healthy", domain.ChatRequest{})
	require.NoError(t, err)
}

func TestCircuitBreakerClosesAfterSuccess(t *testing.T) {
	shouldFail := true
	s := newScriptedStreamer()
	s.on("m", func(context.Context) (io.ReadCloser, error) {
		if shouldFail {
			return nil, errors.New("down")
		}
		return io.NopCloser(nil), nil
	})

	cfg := config.CircuitBreakerConfig{MaxFailures: 2, Timeout: 50 * time.Millisecond, Interval: time.Minute}
	cb := NewCircuitBreakerStreamer(s, cfg, discardLogger())

	for i := 0; i < 2; i++ {
		_, _ = cb.OpenStream(context.Background(), "m", domain.ChatRequest{})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State("m"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State("m"))

	shouldFail = false
	_, err := cb.OpenStream(context.Background(), "m", domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State("m"))
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	s := newScriptedStreamer()
	s.on("m", func(context.Context) (io.ReadCloser, error) { return nil, context.Canceled })

	cb := NewCircuitBreakerStreamer(s, config.CircuitBreakerConfig{MaxFailures: 1}, discardLogger())
	for i := 0; i < 3; i++ {
		_, err := cb.OpenStream(context.Background(), "m", domain.ChatRequest{})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State("m"))
	assert.Equal(t, uint32(0), cb.Counts("m").ConsecutiveFailures)
}

// hangingUpstream accepts requests and never sends headers.
func hangingUpstream(t *testing.T) *OpenRouterClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return NewOpenRouterClientWithHTTP(config.UpstreamConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
}

func TestCircuitBreakerIgnoresCancelledUpstreamRequest(t *testing.T) {
	cb := NewCircuitBreakerStreamer(hangingUpstream(t), config.CircuitBreakerConfig{MaxFailures: 1}, discardLogger())

	for _, cause := range []error{context.Canceled, domain.ErrTurnSuperseded} {
		ctx, cancel := context.WithCancelCause(context.Background())
		timer := time.AfterFunc(30*time.Millisecond, func() { cancel(cause) })

		_, err := cb.OpenStream(ctx, "m", domain.ChatRequest{})
		timer.Stop()
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTransport)
		assert.False(t, errors.Is(err, domain.ErrCircuitOpen))
	}
	assert.Equal(t, uint32(0), cb.Counts("m").ConsecutiveFailures)
	assert.Equal(t, gobreaker.StateClosed, cb.State("m"))
}

func TestCircuitBreakerCountsFirstByteTimeout(t *testing.T) {
	cb := NewCircuitBreakerStreamer(hangingUpstream(t), config.CircuitBreakerConfig{MaxFailures: 5}, discardLogger())
	sel := NewFallbackSelector(cb, discardLogger(), WithFirstByteTimeout(30*time.Millisecond))

	_, err := sel.Send(context.Background(), domain.ChatRequest{}, candidates("m"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllModelsExhausted)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, uint32(1), cb.Counts("m").ConsecutiveFailures)
}

func TestCircuitBreakerDefaultConfig(t *testing.T) {
	cb := NewCircuitBreakerStreamer(newScriptedStreamer(), config.CircuitBreakerConfig{}, discardLogger())
	assert.Equal(t, defaultCBMaxFailures, cb.settings.MaxFailures)
	assert.Equal(t, defaultCBTimeout, cb.settings.Timeout)
	assert.Equal(t, defaultCBInterval, cb.settings.Interval)
	assert.Equal(t, gobreaker.Counts{}, cb.Counts("never-tried"))
}

func TestCircuitBreakerInsideSelectorSkipsOpenModel(t *testing.T) {
	s := newScriptedStreamer()
	s.on("backup", bodyOf("data: [DONE]\n"))
	cb := NewCircuitBreakerStreamer(s, config.CircuitBreakerConfig{MaxFailures: 1}, discardLogger())
	sel := NewFallbackSelector(cb, discardLogger())

	// First turn trips "primary".
	stream, err := sel.Send(context.Background(), domain.ChatRequest{}, candidates("primary", "backup"))
	require.NoError(t, err)
	stream.Body.Close()

	// Second turn skips it without an upstream call.
	stream, err = sel.Send(context.Background(), domain.ChatRequest{}, candidates("primary", "backup"))
	require.NoError(t, err)
	stream.Body.Close()

	assert.Equal(t, []string{"primary", "backup", "backup"}, s.attempts())
}

// --- Connection Pooling Tests ---

func TestNewPooledTransport_Defaults(t *testing.T) {
	tr := NewPooledTransport(0, 0, config.PoolConfig{})

	assert.Equal(t, defaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultMaxConnsPerHost, tr.MaxConnsPerHost)
	assert.Equal(t, defaultIdleConnTimeout, tr.IdleConnTimeout)
	assert.Equal(t, defaultRespTimeout, tr.ResponseHeaderTimeout)
	assert.Equal(t, 10*time.Second, tr.TLSHandshakeTimeout)
	assert.True(t, tr.ForceAttemptHTTP2)
}

func TestNewPooledTransport_CustomConfig(t *testing.T) {
	pool := config.PoolConfig{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     30,
		IdleConnTimeout:     5 * time.Minute,
	}
	tr := NewPooledTransport(15*time.Second, 60*time.Second, pool)

	assert.Equal(t, 50, tr.MaxIdleConns)
	assert.Equal(t, 25, tr.MaxIdleConnsPerHost)
	assert.Equal(t, 30, tr.MaxConnsPerHost)
	assert.Equal(t, 5*time.Minute, tr.IdleConnTimeout)
	assert.Equal(t, 60*time.Second, tr.ResponseHeaderTimeout)
}

func TestNewHTTPClientHasNoOverallTimeout(t *testing.T) {
	c := NewHTTPClient(time.Second, time.Second, config.PoolConfig{})
	assert.Zero(t, c.Timeout)
	_, ok := c.Transport.(*http.Transport)
	assert.True(t, ok)
}
