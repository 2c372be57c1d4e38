package domain

import (
	"context"
	"strings"
	"time"
)

// ResponseStyle is the user-selected verbosity of assistant replies.
type ResponseStyle string

const (
	StyleConcise  ResponseStyle = "concise"
	StyleBalanced ResponseStyle = "balanced"
	StyleDetailed ResponseStyle = "detailed"
)

// ParseResponseStyle normalizes s; unknown values fall back to balanced.
func ParseResponseStyle(s string) ResponseStyle {
	switch ResponseStyle(strings.ToLower(strings.TrimSpace(s))) {
	case StyleConcise:
		return StyleConcise
	case StyleDetailed:
		return StyleDetailed
	default:
		return StyleBalanced
	}
}

// DefaultModel is the free-tier model used when no model has been selected.
const DefaultModel = "meta-llama/llama-3.1-8b-instruct:free"

// Settings keys persisted by the settings collaborator.
const (
	SettingAIModel       = "aiModel"
	SettingResponseStyle = "responseStyle"
	SettingPersona       = "persona"
)

// Settings is the user-configurable subset read before every turn.
type Settings struct {
	AIModel       string        `json:"aiModel"`
	ResponseStyle ResponseStyle `json:"responseStyle"`
	// Persona is empty unless the user picked one; callers apply their
	// configured default.
	Persona string `json:"persona,omitempty"`
}

// DefaultSettings returns the settings used when nothing is persisted.
func DefaultSettings() Settings {
	return Settings{AIModel: DefaultModel, ResponseStyle: StyleBalanced}
}

// SettingsStore is the persisted key-value settings collaborator.
type SettingsStore interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// LoadSettings reads Settings from store, applying defaults for missing keys.
// A nil store yields the defaults.
func LoadSettings(ctx context.Context, store SettingsStore) (Settings, error) {
	return LoadSettingsOver(ctx, store, DefaultSettings())
}

// LoadSettingsOver is LoadSettings with caller-supplied defaults.
func LoadSettingsOver(ctx context.Context, store SettingsStore, base Settings) (Settings, error) {
	s := base
	if store == nil {
		return s, nil
	}
	if v, err := store.Get(ctx, SettingAIModel); err == nil && strings.TrimSpace(v) != "" {
		s.AIModel = strings.TrimSpace(v)
	} else if err != nil && !IsNotFound(err) {
		return s, WrapOp("LoadSettings", err)
	}
	if v, err := store.Get(ctx, SettingResponseStyle); err == nil {
		s.ResponseStyle = ParseResponseStyle(v)
	} else if !IsNotFound(err) {
		return s, WrapOp("LoadSettings", err)
	}
	if v, err := store.Get(ctx, SettingPersona); err == nil {
		s.Persona = strings.TrimSpace(v)
	} else if !IsNotFound(err) {
		return s, WrapOp("LoadSettings", err)
	}
	return s, nil
}

// TranscriptStore persists completed conversation messages.
type TranscriptStore interface {
	AppendMessage(ctx context.Context, conversationID string, msg Message) error
	LoadConversation(ctx context.Context, conversationID string) (*Conversation, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
