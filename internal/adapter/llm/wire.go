package llm

import "mindmuse/internal/domain"

// chatCompletionRequest is the OpenAI-compatible body sent to the proxy and
// to the upstream API.
type chatCompletionRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.WireMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature float64              `json:"temperature"`
	Stream      bool                 `json:"stream"`
}

func toWireRequest(model string, req domain.ChatRequest) chatCompletionRequest {
	msgs := make([]domain.WireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, m.ToWire())
	}
	return chatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
}

// streamChunk is one "data:" payload of a streaming completion.
type streamChunk struct {
	Choices []streamChoice `json:"choices"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamDelta struct {
	Content string `json:"content,omitempty"`
}

// content returns the first choice's delta text, or "" when absent.
func (c streamChunk) content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}
