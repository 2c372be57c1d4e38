package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"mindmuse/internal/domain"
	"mindmuse/internal/usecase"
)

const settingsTimeout = 5 * time.Second

const helpText = `Commands:
  /style <concise|balanced|detailed>  How long replies should be
  /model [id]                         Show or change the AI model
  /persona <companion|assessment>     Switch persona (starts a new conversation)
  /clear                              Start a new conversation
  /cancel                             Stop the reply in progress
  /quit                               Exit

Keys:
  Enter      Send
  Alt+Enter  New line
  PgUp/PgDn  Scroll
  Ctrl+C     Cancel reply / quit`

// SettingChangedMsg reports a persisted settings change.
type SettingChangedMsg struct {
	Key   string
	Value string
	Note  string
	Reset bool // the conversation must restart under the new setting
}

// SettingsMsg carries the settings loaded at startup.
type SettingsMsg struct {
	Settings domain.Settings
}

// parseSlashCommand extracts the command and its arguments.
func parseSlashCommand(input string) (cmd string, args []string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil, false
	}
	parts := strings.Fields(input)
	return strings.ToLower(parts[0]), parts[1:], true
}

// submitCmd runs one turn in the background. Submit blocks until the turn
// is finalized, degraded, or abandoned.
func submitCmd(ctx context.Context, conv Conversation, text string, gen uint64) tea.Cmd {
	return func() tea.Msg {
		return TurnDoneMsg{Err: conv.Submit(ctx, text), Gen: gen}
	}
}

// cancelCmd stops the current turn off the event loop: the controller may
// be blocked delivering into the program while it holds its turn lock.
func cancelCmd(conv Conversation) tea.Cmd {
	return func() tea.Msg {
		conv.Cancel()
		return nil
	}
}

func resetCmd(conv Conversation, note string) tea.Cmd {
	return func() tea.Msg {
		conv.Reset()
		return ResetMsg{Note: note}
	}
}

func loadSettingsCmd(store domain.SettingsStore, defaults domain.Settings) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
		defer cancel()
		s, err := domain.LoadSettingsOver(ctx, store, defaults)
		if err != nil {
			return NoteMsg{Text: friendlyError(err), IsError: true}
		}
		return SettingsMsg{Settings: s}
	}
}

func setSettingCmd(store domain.SettingsStore, key, value, note string, reset bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
		defer cancel()
		if err := store.Set(ctx, key, value); err != nil {
			return NoteMsg{Text: friendlyError(err), IsError: true}
		}
		return SettingChangedMsg{Key: key, Value: value, Note: note, Reset: reset}
	}
}

func noteCmd(text string, isError bool) tea.Cmd {
	return func() tea.Msg { return NoteMsg{Text: text, IsError: isError} }
}

// handleSlashCommand processes a slash command.
func (m ChatModel) handleSlashCommand(cmd string, args []string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.transcript.add(entry{kind: entryNote, content: helpText})
		return m, nil

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/clear":
		return m, resetCmd(m.deps.Conversation, "Started a new conversation.")

	case "/cancel":
		if !m.waiting {
			m.transcript.add(entry{kind: entryNote, content: "No reply in progress."})
			return m, nil
		}
		return m.cancelTurn("Reply cancelled.")

	case "/style":
		if len(args) != 1 {
			return m, noteCmd("Usage: /style <concise|balanced|detailed>", true)
		}
		style := domain.ResponseStyle(strings.ToLower(args[0]))
		switch style {
		case domain.StyleConcise, domain.StyleBalanced, domain.StyleDetailed:
		default:
			return m, noteCmd(fmt.Sprintf("Unknown style %q. Use concise, balanced or detailed.", args[0]), true)
		}
		return m.changeSetting(domain.SettingResponseStyle, string(style), "Response style set to "+string(style)+".", false)

	case "/model":
		if len(args) == 0 {
			return m, noteCmd("Current model: "+m.settings.AIModel, false)
		}
		return m.changeSetting(domain.SettingAIModel, args[0], "Model set to "+args[0]+".", false)

	case "/persona":
		if len(args) != 1 {
			return m, noteCmd("Usage: /persona <companion|assessment>", true)
		}
		p, err := usecase.ParsePersona(args[0])
		if err != nil {
			return m, noteCmd(friendlyError(err), true)
		}
		return m.changeSetting(domain.SettingPersona, string(p), "Persona set to "+string(p)+". Started a new conversation.", true)

	default:
		m.transcript.add(entry{kind: entryNote, content: fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd)})
		return m, nil
	}
}

func (m ChatModel) changeSetting(key, value, note string, reset bool) (tea.Model, tea.Cmd) {
	if m.deps.Settings == nil {
		return m, noteCmd("Settings are not available in this session.", true)
	}
	return m, setSettingCmd(m.deps.Settings, key, value, note, reset)
}
