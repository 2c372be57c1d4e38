package usecase

import (
	"sync"
	"time"

	"mindmuse/internal/domain"
)

// DefaultWindowSize is how many stored messages are sent per turn.
const DefaultWindowSize = 10

// ConversationWindow keeps the full message history of one conversation
// and builds the bounded request window from it. Messages are appended as
// copies and never edited afterwards.
type ConversationWindow struct {
	mu      sync.Mutex
	history []domain.Message
	size    int

	counter   domain.TokenCounter
	maxTokens int

	now func() time.Time
}

// NewConversationWindow creates a window sending the last size messages.
// A non-positive size uses DefaultWindowSize.
func NewConversationWindow(size int) *ConversationWindow {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &ConversationWindow{size: size, now: time.Now}
}

// WithTokenGuard additionally drops the oldest windowed messages until the
// request fits maxTokens. The newest message is always kept.
func (w *ConversationWindow) WithTokenGuard(counter domain.TokenCounter, maxTokens int) *ConversationWindow {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counter = counter
	w.maxTokens = maxTokens
	return w
}

// AppendUser records a plain-text user message.
func (w *ConversationWindow) AppendUser(text string) domain.Message {
	return w.Append(domain.Message{Role: domain.RoleUser, Content: text})
}

// AppendUserParts records a multimodal user message.
func (w *ConversationWindow) AppendUserParts(parts []domain.ContentPart) domain.Message {
	return w.Append(domain.Message{Role: domain.RoleUser, Parts: parts})
}

// AppendAssistant records a completed assistant reply.
func (w *ConversationWindow) AppendAssistant(text string) domain.Message {
	return w.Append(domain.Message{Role: domain.RoleAssistant, Content: text})
}

// Append stores a copy of msg, stamping it if it has no timestamp, and
// returns the stored copy.
func (w *ConversationWindow) Append(msg domain.Message) domain.Message {
	msg = msg.Clone()
	w.mu.Lock()
	defer w.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = w.now()
	}
	w.history = append(w.history, msg)
	return msg.Clone()
}

// Len returns the number of stored messages.
func (w *ConversationWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.history)
}

// History returns a copy of every stored message, oldest first.
func (w *ConversationWindow) History() []domain.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.Message, len(w.history))
	for i, m := range w.history {
		out[i] = m.Clone()
	}
	return out
}

// Reset forgets the stored history.
func (w *ConversationWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = nil
}

// BuildRequestMessages returns a fresh system message followed by the last
// window-size stored messages, oldest first.
func (w *ConversationWindow) BuildRequestMessages(systemPrompt string) []domain.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := len(w.history) - w.size
	if start < 0 {
		start = 0
	}
	tail := w.history[start:]

	system := domain.Message{Role: domain.RoleSystem, Content: systemPrompt}
	if w.counter != nil && w.maxTokens > 0 {
		for len(tail) > 1 && w.counter.CountMessages(append([]domain.Message{system}, tail...)) > w.maxTokens {
			tail = tail[1:]
		}
	}

	out := make([]domain.Message, 0, len(tail)+1)
	out = append(out, system)
	for _, m := range tail {
		out = append(out, m.Clone())
	}
	return out
}
