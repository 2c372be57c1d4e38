package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kaptinlin/jsonschema"

	"mindmuse/internal/domain"
	"mindmuse/internal/infra/config"
	"mindmuse/internal/infra/tracer"
	"mindmuse/internal/usecase"
)

// Prompt modes of the chat endpoint.
const (
	PromptModePassthrough = "passthrough"
	PromptModeReport      = "report"
)

const (
	errMsgNoKey       = "API key not configured"
	errMsgUnavailable = "All AI models are currently unavailable. Please try again later."
	errMsgInternal    = "Internal server error"

	relayChunk = 4096
)

// chatRequestSchema describes the body of POST /api/chat.
const chatRequestSchema = `{
	"type": "object",
	"required": ["messages"],
	"properties": {
		"model": {"type": "string"},
		"temperature": {"type": "number", "minimum": 0, "maximum": 2},
		"max_tokens": {"type": "integer", "minimum": 1},
		"stream": {"type": "boolean"},
		"messages": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["role", "content"],
				"properties": {
					"role": {"enum": ["system", "user", "assistant"]},
					"content": {
						"oneOf": [
							{"type": "string"},
							{
								"type": "array",
								"items": {
									"type": "object",
									"required": ["type"],
									"properties": {
										"type": {"enum": ["text", "image_url"]},
										"text": {"type": "string"},
										"image_url": {
											"type": "object",
											"required": ["url"],
											"properties": {"url": {"type": "string"}}
										}
									}
								}
							}
						]
					}
				}
			}
		}
	}
}`

// chatBody is the decoded body of POST /api/chat.
type chatBody struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	Stream      bool             `json:"stream"`
}

// KeyChecker reports whether the upstream credential is configured.
type KeyChecker interface {
	HasKey() bool
}

// ChatHandler serves POST /api/chat: it forwards the conversation to the
// upstream completion API, walking its own fallback list, and relays the
// answer.
type ChatHandler struct {
	selector   domain.StreamSelector
	keys       KeyChecker
	upstream   config.UpstreamConfig
	promptMode string
	maxBody    int64
	schema     *jsonschema.Schema
	logger     *slog.Logger
}

// NewChatHandler creates the chat endpoint.
func NewChatHandler(selector domain.StreamSelector, keys KeyChecker, upstream config.UpstreamConfig, proxy config.ProxyConfig, logger *slog.Logger) (*ChatHandler, error) {
	schema, err := jsonschema.NewCompiler().Compile([]byte(chatRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("compile chat request schema: %w", err)
	}
	mode := proxy.PromptMode
	if mode == "" {
		mode = PromptModePassthrough
	}
	return &ChatHandler{
		selector:   selector,
		keys:       keys,
		upstream:   upstream,
		promptMode: mode,
		maxBody:    proxy.MaxBodyBytes,
		schema:     schema,
		logger:     logger,
	}, nil
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, span := tracer.StartSpan(r.Context(), tracer.SpanProxyChat)
	defer span.End()

	body, err := h.decode(w, r)
	if err != nil {
		tracer.RecordError(span, err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request", "details": err.Error()})
		return
	}
	if !h.keys.HasKey() {
		h.logger.Error("chat request rejected: upstream API key not configured")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": errMsgNoKey})
		return
	}

	messages := body.Messages
	if h.promptMode == PromptModeReport {
		messages = usecase.ReportMessages(messages)
	}
	req := domain.ChatRequest{
		Messages:    messages,
		Temperature: body.Temperature,
		MaxTokens:   body.MaxTokens,
		Stream:      body.Stream,
	}
	if req.Temperature == 0 {
		req.Temperature = h.upstream.DefaultTemperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = h.upstream.DefaultMaxTokens
	}
	primary := body.Model
	if primary == "" {
		primary = h.upstream.DefaultModel
	}
	candidates := domain.CandidateList(primary, h.upstream.FallbackModels)
	span.SetAttributes(
		tracer.StringAttr(tracer.AttrPromptMode, h.promptMode),
		tracer.BoolAttr(tracer.AttrStream, body.Stream),
		tracer.IntAttr(tracer.AttrMessages, len(messages)),
	)

	stream, err := h.selector.Send(ctx, req, candidates)
	if err != nil {
		h.writeSendError(w, r, err)
		tracer.RecordError(span, err)
		return
	}
	defer stream.Body.Close()
	tracer.Answered(span, stream.Model, stream.Attempts)

	if body.Stream {
		h.relayStream(w, stream)
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, stream.Body); err != nil && ctx.Err() == nil {
			h.logger.Warn("relay response failed", "model", stream.Model, "error", err)
		}
	}
	tracer.SetOK(span)
}

func (h *ChatHandler) decode(w http.ResponseWriter, r *http.Request) (*chatBody, error) {
	var reader io.Reader = r.Body
	if h.maxBody > 0 {
		reader = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if result := h.schema.Validate(generic); !result.IsValid() {
		return nil, fmt.Errorf("%s", result.Error())
	}

	var body chatBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &body, nil
}

// relayStream copies the upstream body to the client chunk by chunk,
// flushing after every write.
func (h *ChatHandler) relayStream(w http.ResponseWriter, stream *domain.ModelStream) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	buf := make([]byte, relayChunk)
	var relayed int64
	for {
		n, err := stream.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				h.logger.Debug("client went away mid-stream", "model", stream.Model, "bytes", relayed)
				return
			}
			relayed += int64(n)
			_ = rc.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Debug("upstream stream ended", "model", stream.Model, "bytes", relayed, "error", err)
			}
			return
		}
	}
}

func (h *ChatHandler) writeSendError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case r.Context().Err() != nil:
		h.logger.Debug("client cancelled chat request", "error", err)
	case errors.Is(err, domain.ErrAllModelsExhausted):
		h.logger.Error("all models failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":   errMsgUnavailable,
			"details": lastFailure(err),
		})
	case errors.Is(err, domain.ErrRateLimit):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	default:
		h.logger.Error("chat request failed", "code", domain.ErrorCodeOf(err), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": errMsgInternal})
	}
}

// lastFailure extracts the upstream detail of the final failed attempt.
func lastFailure(err error) string {
	var ex *domain.AllModelsExhaustedError
	if !errors.As(err, &ex) || ex.LastErr == nil {
		return err.Error()
	}
	var status *domain.UpstreamStatusError
	if errors.As(ex.LastErr, &status) && strings.TrimSpace(status.Body) != "" {
		return status.Body
	}
	return ex.LastErr.Error()
}

// healthHandler serves GET /api/health.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
