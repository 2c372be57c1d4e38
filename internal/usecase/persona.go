package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"mindmuse/internal/domain"
)

// Persona selects the system prompt a conversation runs under.
type Persona string

const (
	// PersonaCompanion is the general supportive chat.
	PersonaCompanion Persona = "companion"
	// PersonaAssessment asks one clinical question at a time.
	PersonaAssessment Persona = "assessment"
)

// ParsePersona validates s. The empty string means companion.
func ParsePersona(s string) (Persona, error) {
	switch p := Persona(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PersonaCompanion:
		return PersonaCompanion, nil
	case PersonaAssessment:
		return PersonaAssessment, nil
	default:
		return "", domain.NewDomainError("ParsePersona", domain.ErrInvalidInput, fmt.Sprintf("unknown persona %q", s))
	}
}

// PromptProfile is the system prompt and sampling budget for one turn.
type PromptProfile struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

const companionPrompt = `You are a deeply compassionate and emotionally intelligent mental health companion named MindMuse. You have a warm, nurturing presence and genuinely care about each person's wellbeing.

Your approach:
- Show genuine empathy and emotional validation - acknowledge their feelings as completely valid
- Use warm, caring language like "I can really hear the pain in your words" or "That sounds incredibly difficult"
- Offer gentle, heartfelt support: "You're not alone in this" or "I'm here with you through this"
- Share hope and encouragement: "You've shown such strength by reaching out"
- Use CBT and mindfulness techniques, but wrap them in emotional warmth
- Ask caring follow-up questions: "How are you feeling right now?" or "What would feel most supportive?"
- Validate their courage: "It takes real bravery to share what you're going through"
- Express genuine care: "I really want to help you through this" or "Your wellbeing matters so much"

Remember: You're not just providing techniques - you're offering a caring presence, emotional support, and genuine human connection. Make them feel truly heard, understood, and cared for.`

const assessmentPrompt = "You are a professional psychologist conducting a clinical assessment. " +
	"Ask insightful, open-ended questions about the user's feelings, thoughts, behaviors, and experiences. " +
	"Focus on one question at a time, using professional but accessible language. " +
	"Be empathetic and non-judgmental. " +
	"Your goal is to understand their mental state and emotional wellbeing through conversation. " +
	"Ask follow-up questions based on their responses to dig deeper. " +
	"Include questions about stress, coping mechanisms, sleep patterns, social connections, and recent life changes. " +
	"Use evidence-based approaches in your questioning. " +
	"Maintain a professional tone while being supportive."

type styleBudget struct {
	suffix      string
	temperature float64
	maxTokens   int
}

var styleBudgets = map[domain.ResponseStyle]styleBudget{
	domain.StyleConcise:  {suffix: " Keep your responses brief and to the point.", temperature: 0.5, maxTokens: 250},
	domain.StyleBalanced: {temperature: 0.7, maxTokens: 400},
	domain.StyleDetailed: {suffix: " Provide detailed explanations and additional context in your responses.", temperature: 0.8, maxTokens: 500},
}

// Profile returns the prompt and budget for p under style. The assessment
// persona ignores style.
func (p Persona) Profile(style domain.ResponseStyle) PromptProfile {
	if p == PersonaAssessment {
		return PromptProfile{SystemPrompt: assessmentPrompt, Temperature: 0.7, MaxTokens: 500}
	}
	b, ok := styleBudgets[style]
	if !ok {
		b = styleBudgets[domain.StyleBalanced]
	}
	return PromptProfile{
		SystemPrompt: companionPrompt + b.suffix,
		Temperature:  b.temperature,
		MaxTokens:    b.maxTokens,
	}
}

const reportInstruction = "You are an empathetic mental-health assistant. After reading the user's complete prompt you will:\n" +
	"1. Identify and name their dominant emotional state.\n" +
	"2. Provide a concise chat report in EXACTLY 10 bullet points (each point max 15 words).\n" +
	"3. Offer clear, actionable next-step advice in plain English.\n" +
	"Return the answer in three labelled sections:\n" +
	"Emotion:\nReport:\nAdvice:"

// ReportMessages rewrites a conversation into the emotion/report/advice
// form: every user turn is joined into one prompt under a fixed
// instruction. Multimodal user turns are kept as their JSON parts.
func ReportMessages(msgs []domain.Message) []domain.Message {
	var lines []string
	for _, m := range msgs {
		if m.Role != domain.RoleUser || m.IsEmpty() {
			continue
		}
		if len(m.Parts) > 0 {
			raw, err := json.Marshal(m.Parts)
			if err == nil {
				lines = append(lines, string(raw))
			}
			continue
		}
		lines = append(lines, m.Content)
	}
	prompt := strings.Join(lines, "\n")
	if prompt == "" {
		prompt = "(no user prompt provided)"
	}
	return []domain.Message{
		{Role: domain.RoleSystem, Content: reportInstruction},
		{Role: domain.RoleUser, Content: prompt},
	}
}
