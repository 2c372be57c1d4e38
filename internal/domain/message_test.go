package domain

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMessageJSONRoundTrip(t *testing.T) {
	msg := Message{
		Role:      RoleUser,
		Content:   "hello",
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Role != msg.Role || got.Content != msg.Content || !got.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

func TestMessageUnmarshalWireParts(t *testing.T) {
	raw := `{"role":"user","content":[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"https://x/y.png"}}]}`

	var got Message
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(got.Parts))
	}
	if got.Parts[1].ImageURL == nil || got.Parts[1].ImageURL.URL != "https://x/y.png" {
		t.Errorf("image part = %+v", got.Parts[1])
	}
	if got.Text() != "look" {
		t.Errorf("Text() = %q, want look", got.Text())
	}
}

func TestMessageUnmarshalRejectsNumberContent(t *testing.T) {
	var got Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &got); err == nil {
		t.Fatal("expected error for numeric content")
	}
}

func TestMessageToWire(t *testing.T) {
	plain := Message{Role: RoleUser, Content: "hi"}
	if w := plain.ToWire(); w.Content != "hi" {
		t.Errorf("plain wire content = %v", w.Content)
	}

	multi := Message{Role: RoleUser, Parts: []ContentPart{TextPart("a"), ImagePart("u")}}
	data, err := json.Marshal(multi.ToWire())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"role":"user","content":[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"u"}}]}`
	if string(data) != want {
		t.Errorf("wire = %s\nwant  %s", data, want)
	}
}

func TestMessageCloneIsDeep(t *testing.T) {
	orig := Message{Role: RoleUser, Parts: []ContentPart{ImagePart("one")}}
	cp := orig.Clone()
	cp.Parts[0].ImageURL.URL = "two"
	if orig.Parts[0].ImageURL.URL != "one" {
		t.Fatal("clone shares image pointer with original")
	}
}

func TestMessageIsEmpty(t *testing.T) {
	if !(Message{Role: RoleUser}).IsEmpty() {
		t.Error("zero message should be empty")
	}
	if (Message{Parts: []ContentPart{ImagePart("u")}}).IsEmpty() {
		t.Error("image-only message should not be empty")
	}
}

func TestCandidateListDedup(t *testing.T) {
	got := CandidateList("a", []string{"b", "a", "", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, c := range got {
		if c.ID != want[i] || c.Order != i {
			t.Errorf("candidate %d = %+v, want id %q order %d", i, c, want[i], i)
		}
	}
}

func TestParseResponseStyle(t *testing.T) {
	cases := map[string]ResponseStyle{
		"concise":   StyleConcise,
		" Detailed": StyleDetailed,
		"balanced":  StyleBalanced,
		"":          StyleBalanced,
		"chatty":    StyleBalanced,
	}
	for in, want := range cases {
		if got := ParseResponseStyle(in); got != want {
			t.Errorf("ParseResponseStyle(%q) = %q, want %q", in, got, want)
		}
	}
}

type mapSettings map[string]string

func (m mapSettings) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", NewDomainError("mapSettings.Get", ErrNotFound, key)
	}
	return v, nil
}

func (m mapSettings) Set(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(context.Background(), mapSettings{})
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.AIModel != DefaultModel || s.ResponseStyle != StyleBalanced {
		t.Errorf("defaults = %+v", s)
	}

	s, err = LoadSettings(context.Background(), mapSettings{SettingAIModel: "m", SettingResponseStyle: "concise"})
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.AIModel != "m" || s.ResponseStyle != StyleConcise {
		t.Errorf("stored = %+v", s)
	}
}
