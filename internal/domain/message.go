package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content part types for multimodal messages.
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ImageURL references an image attached to a user turn.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one typed element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart builds an image_url content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: url}}
}

// Message represents a single message in a conversation.
// Content holds plain text; Parts is set instead for multimodal turns.
type Message struct {
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	Parts     []ContentPart `json:"parts,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Text returns the textual content of the message, joining text parts
// with newlines for multimodal messages.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type != PartText || p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// IsEmpty reports whether the message carries no text and no image.
func (m Message) IsEmpty() bool {
	if m.Content != "" {
		return false
	}
	for _, p := range m.Parts {
		if p.Text != "" || (p.ImageURL != nil && p.ImageURL.URL != "") {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers cannot mutate stored history.
func (m Message) Clone() Message {
	if m.Parts != nil {
		parts := make([]ContentPart, len(m.Parts))
		for i, p := range m.Parts {
			parts[i] = p
			if p.ImageURL != nil {
				img := *p.ImageURL
				parts[i].ImageURL = &img
			}
		}
		m.Parts = parts
	}
	return m
}

// WireMessage is the {role, content} shape sent over the chat API, where
// content is either a string or an ordered list of typed parts.
type WireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ToWire converts m into its wire representation.
func (m Message) ToWire() WireMessage {
	if len(m.Parts) > 0 {
		return WireMessage{Role: m.Role, Content: m.Parts}
	}
	return WireMessage{Role: m.Role, Content: m.Content}
}

// UnmarshalJSON accepts both the stored form and the wire form, where
// "content" may be a list of parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role      string          `json:"role"`
		Content   json.RawMessage `json:"content"`
		Parts     []ContentPart   `json:"parts,omitempty"`
		Timestamp time.Time       `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Parts = raw.Parts
	m.Timestamp = raw.Timestamp
	m.Content = ""
	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return nil
	}
	switch raw.Content[0] {
	case '"':
		return json.Unmarshal(raw.Content, &m.Content)
	case '[':
		return json.Unmarshal(raw.Content, &m.Parts)
	default:
		return fmt.Errorf("message content: unsupported JSON value %s", raw.Content)
	}
}

// ChatRequest is the body of a streaming chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

// Conversation holds an ordered sequence of persisted messages.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
