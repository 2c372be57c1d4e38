package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindmuse/internal/domain"
	"mindmuse/internal/infra/config"
)

// --- test doubles ---

type staticKey bool

func (k staticKey) HasKey() bool { return bool(k) }

type stubSelector struct {
	mu         sync.Mutex
	req        domain.ChatRequest
	candidates []domain.ModelCandidate
	body       string
	err        error
}

func (s *stubSelector) Send(_ context.Context, req domain.ChatRequest, candidates []domain.ModelCandidate) (*domain.ModelStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.req = req
	s.candidates = candidates
	if s.err != nil {
		return nil, s.err
	}
	return &domain.ModelStream{
		Model:    candidates[0].ID,
		Attempts: 1,
		Body:     io.NopCloser(strings.NewReader(s.body)),
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUpstream() config.UpstreamConfig {
	cfg := config.Defaults().Upstream
	cfg.DefaultModel = "default/model:free"
	cfg.FallbackModels = []string{"safe/a:free", "safe/b:free"}
	return cfg
}

func newTestChatHandler(t *testing.T, sel domain.StreamSelector, hasKey bool, mode string) *ChatHandler {
	t.Helper()
	proxy := config.Defaults().Proxy
	proxy.PromptMode = mode
	h, err := NewChatHandler(sel, staticKey(hasKey), testUpstream(), proxy, discardLogger())
	require.NoError(t, err)
	return h
}

func postChat(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// --- tests ---

func TestChatMissingKey(t *testing.T) {
	sel := &stubSelector{}
	rec := postChat(newTestChatHandler(t, sel, false, ""), `{"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "API key not configured", decodeError(t, rec)["error"])
	assert.Empty(t, sel.candidates, "no upstream call without a key")
}

func TestChatInvalidBody(t *testing.T) {
	h := newTestChatHandler(t, &stubSelector{}, true, "")
	for name, body := range map[string]string{
		"not json":         `{`,
		"missing messages": `{"model":"x"}`,
		"bad role":         `{"messages":[{"role":"tool","content":"x"}]}`,
		"bad content":      `{"messages":[{"role":"user","content":42}]}`,
		"bad part type":    `{"messages":[{"role":"user","content":[{"type":"audio"}]}]}`,
		"bad temperature":  `{"messages":[],"temperature":"hot"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := postChat(h, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid request", decodeError(t, rec)["error"])
		})
	}
}

func TestChatMethodNotAllowed(t *testing.T) {
	h := newTestChatHandler(t, &stubSelector{}, true, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChatStreamsPassthrough(t *testing.T) {
	upstream := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n\n"
	sel := &stubSelector{body: upstream}
	h := newTestChatHandler(t, sel, true, "")

	rec := postChat(h, `{"model":"picked/model","stream":true,"messages":[
		{"role":"system","content":"be kind"},
		{"role":"user","content":[{"type":"text","text":"what is this"},{"type":"image_url","image_url":{"url":"https://x/y.png"}}]}
	]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, upstream, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/event-stream"))

	ids := make([]string, len(sel.candidates))
	for i, c := range sel.candidates {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"picked/model", "safe/a:free", "safe/b:free"}, ids)
	assert.True(t, sel.req.Stream)
	assert.InDelta(t, 0.7, sel.req.Temperature, 1e-9)
	assert.Equal(t, 1000, sel.req.MaxTokens)
	require.Len(t, sel.req.Messages, 2)
	require.Len(t, sel.req.Messages[1].Parts, 2)
	assert.Equal(t, "https://x/y.png", sel.req.Messages[1].Parts[1].ImageURL.URL)
}

func TestChatRelaysJSON(t *testing.T) {
	sel := &stubSelector{body: `{"choices":[{"message":{"content":"ok"}}]}`}
	h := newTestChatHandler(t, sel, true, "")

	rec := postChat(h, `{"messages":[{"role":"user","content":"hi"}],"temperature":0.2,"max_tokens":50}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"choices":[{"message":{"content":"ok"}}]}`, rec.Body.String())
	assert.Equal(t, "default/model:free", sel.candidates[0].ID)
	assert.False(t, sel.req.Stream)
	assert.InDelta(t, 0.2, sel.req.Temperature, 1e-9)
	assert.Equal(t, 50, sel.req.MaxTokens)
}

func TestChatExhausted(t *testing.T) {
	sel := &stubSelector{err: &domain.AllModelsExhaustedError{
		Attempts: 3,
		LastErr:  &domain.UpstreamStatusError{StatusCode: 502, Body: "upstream down"},
	}}
	rec := postChat(newTestChatHandler(t, sel, true, ""), `{"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "All AI models are currently unavailable. Please try again later.", body["error"])
	assert.Equal(t, "upstream down", body["details"])
}

func TestChatReportMode(t *testing.T) {
	sel := &stubSelector{body: "data: [DONE]\n"}
	h := newTestChatHandler(t, sel, true, PromptModeReport)

	rec := postChat(h, `{"stream":true,"messages":[
		{"role":"system","content":"ignored"},
		{"role":"user","content":"I can't focus"},
		{"role":"assistant","content":"tell me more"},
		{"role":"user","content":"work is a lot"}
	]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sel.req.Messages, 2)
	assert.True(t, strings.HasPrefix(sel.req.Messages[0].Content, "You are an empathetic mental-health assistant."))
	assert.Equal(t, "I can't focus\nwork is a lot", sel.req.Messages[1].Content)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "OK", body["status"])
	_, err := time.Parse(time.RFC3339, body["timestamp"])
	assert.NoError(t, err)
}
