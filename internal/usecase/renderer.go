package usecase

import (
	"strings"
	"time"

	"mindmuse/internal/domain"
)

// Presenter is the UI side of a conversation.
type Presenter interface {
	// OnPartialUpdate receives the cumulative reply text so far.
	OnPartialUpdate(text string)
	// OnFinalMessage receives the completed reply, exactly once per turn.
	OnFinalMessage(msg domain.Message)
}

// StateObserver is implemented by presenters that want turn transitions.
type StateObserver interface {
	OnStateChange(turnID string, state domain.TurnState)
}

// Renderer accumulates the deltas of one turn and hands the result to a
// Presenter. A Renderer is not safe for concurrent use; the Controller
// serializes calls to it.
type Renderer struct {
	turnID    string
	window    *ConversationWindow
	presenter Presenter

	partial   strings.Builder
	finalized bool
	final     domain.Message
}

// NewRenderer creates a renderer for turnID. The finalized reply is
// appended to window.
func NewRenderer(turnID string, window *ConversationWindow, presenter Presenter) *Renderer {
	return &Renderer{turnID: turnID, window: window, presenter: presenter}
}

// OnEvent applies ev. Events for other turns and events after
// finalization are ignored. It reports whether the turn is finalized.
func (r *Renderer) OnEvent(ev domain.StreamEvent) bool {
	if r.finalized || ev.TurnID != r.turnID {
		return r.finalized
	}
	if ev.Done {
		r.finalize()
		return true
	}
	if ev.Delta == "" {
		return false
	}
	r.partial.WriteString(ev.Delta)
	r.presenter.OnPartialUpdate(r.partial.String())
	return false
}

// Finalize completes a turn whose stream ended without the terminal
// marker. It returns false when no content arrived at all.
func (r *Renderer) Finalize() (domain.Message, bool) {
	if r.finalized {
		return r.final, r.final.Content != ""
	}
	if r.partial.Len() == 0 {
		return domain.Message{}, false
	}
	r.finalize()
	return r.final, true
}

// Partial returns the text received so far.
func (r *Renderer) Partial() string { return r.partial.String() }

// Finalized reports whether the reply has been delivered.
func (r *Renderer) Finalized() bool { return r.finalized }

// Message returns the finalized reply, or the zero Message.
func (r *Renderer) Message() domain.Message { return r.final }

func (r *Renderer) finalize() {
	r.finalized = true
	if r.partial.Len() == 0 {
		// Terminal marker with no content; the caller degrades.
		return
	}
	msg := domain.Message{Role: domain.RoleAssistant, Content: r.partial.String(), Timestamp: time.Now()}
	if r.window != nil {
		msg = r.window.Append(msg)
	}
	r.final = msg
	r.presenter.OnFinalMessage(msg.Clone())
}
