package domain

// StreamEvent is one decoded unit of a streaming chat response: either a
// content delta or the terminal marker.
type StreamEvent struct {
	TurnID string `json:"turn_id,omitempty"`
	Delta  string `json:"delta,omitempty"`
	Done   bool   `json:"done,omitempty"`
}

// TurnState is a step in the lifecycle of one user turn.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnAwaitingFirstByte
	TurnStreaming
	TurnExhausted
	TurnDegraded
	TurnFinalized
)

// String returns the state name used in logs and UI frames.
func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnAwaitingFirstByte:
		return "awaiting_first_byte"
	case TurnStreaming:
		return "streaming"
	case TurnExhausted:
		return "exhausted"
	case TurnDegraded:
		return "degraded"
	case TurnFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a turn's visible lifecycle.
func (s TurnState) Terminal() bool {
	return s == TurnDegraded || s == TurnFinalized
}
