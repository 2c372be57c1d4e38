package tracer

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanChatTurn    = "chat.turn"
	SpanLLMFallback = "llm.fallback"
	SpanProxyChat   = "proxy.chat"
)

// Event names.
const (
	EventAttemptFailed = "llm.attempt_failed"
	EventDegraded      = "chat.degraded"
	EventSuperseded    = "chat.superseded"
)

// Attribute keys shared across spans.
const (
	AttrModel          = "llm.model"
	AttrAttempts       = "llm.attempts"
	AttrCandidates     = "llm.candidates"
	AttrStreamer       = "llm.streamer"
	AttrErrorCode      = "error.code"
	AttrConversationID = "chat.conversation_id"
	AttrTurnID         = "chat.turn_id"
	AttrPersona        = "chat.persona"
	AttrStyle          = "chat.style"
	AttrReplyChars     = "chat.reply_chars"
	AttrPromptMode     = "proxy.prompt_mode"
	AttrStream         = "proxy.stream"
	AttrMessages       = "proxy.messages"
)

// ModelAttr tags the candidate model a span or event is about.
func ModelAttr(model string) attribute.KeyValue {
	return attribute.String(AttrModel, model)
}

// CodeAttr tags a machine-readable error code.
func CodeAttr(code string) attribute.KeyValue {
	return attribute.String(AttrErrorCode, code)
}

// Answered records which candidate served a request and after how many
// attempts.
func Answered(span trace.Span, model string, attempts int) {
	span.SetAttributes(ModelAttr(model), attribute.Int(AttrAttempts, attempts))
}
