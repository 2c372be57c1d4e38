package gateway

import "mindmuse/internal/domain"

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

// Client → server.
const (
	FrameTypeSubmit FrameType = "submit"
	FrameTypeCancel FrameType = "cancel"
	FrameTypeReset  FrameType = "reset"
)

// Server → client.
const (
	FrameTypePartial FrameType = "partial"
	FrameTypeFinal   FrameType = "final"
	FrameTypeState   FrameType = "state"
	FrameTypeError   FrameType = "error"
)

// Frame is the envelope exchanged between browser and server over WebSocket.
type Frame struct {
	Type    FrameType            `json:"type"`
	TurnID  string               `json:"turn_id,omitempty"`
	Text    string               `json:"text,omitempty"`  // submit input or cumulative partial reply
	Parts   []domain.ContentPart `json:"parts,omitempty"` // multimodal submit
	Message *domain.Message      `json:"message,omitempty"`
	State   string               `json:"state,omitempty"`
	Error   string               `json:"error,omitempty"`
	Code    string               `json:"code,omitempty"`
}
