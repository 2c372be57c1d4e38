package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mindmuse/internal/domain"
	"mindmuse/internal/usecase"
)

// Conversation runs user turns. *usecase.Controller satisfies it.
type Conversation interface {
	Submit(ctx context.Context, text string) error
	Cancel()
	Reset()
}

var _ Conversation = (*usecase.Controller)(nil)

// ChatModelDeps are dependencies injected into the chat model.
type ChatModelDeps struct {
	Conversation Conversation
	Settings     domain.SettingsStore // optional, nil = settings commands disabled
	DefaultModel string               // optional, "" = domain.DefaultModel
	Logger       *slog.Logger
}

// ChatModel is the root Bubble Tea model for the terminal chat.
type ChatModel struct {
	deps ChatModelDeps

	transcript transcript
	input      textarea.Model
	spinner    spinner.Model
	settings   domain.Settings

	waiting   bool // a turn is in flight
	streaming bool // the newest transcript entry is the reply being streamed
	offline   bool // the current turn is answered by the degraded responder
	state     domain.TurnState
	width     int
	height    int
	quitting  bool

	// gen is bumped on every submission; completions of older ones are dropped.
	gen      uint64
	cancelFn context.CancelFunc
}

// NewChatModel creates the root chat model.
func NewChatModel(deps ChatModelDeps) ChatModel {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorWarm)

	ta := textarea.New()
	ta.Placeholder = "Share what's on your mind..."
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = inputPrompt
	ta.FocusedStyle.Placeholder = inputPlaceholder
	ta.Focus()

	settings := domain.DefaultSettings()
	if deps.DefaultModel != "" {
		settings.AIModel = deps.DefaultModel
	}

	return ChatModel{
		deps:       deps,
		transcript: newTranscript(),
		input:      ta,
		spinner:    s,
		settings:   settings,
	}
}

// Init loads the persisted settings for the status bar.
func (m ChatModel) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink}
	if m.deps.Settings != nil {
		cmds = append(cmds, loadSettingsCmd(m.deps.Settings, m.settings))
	}
	return tea.Batch(cmds...)
}

// Update handles all incoming messages.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.update(msg)
		return m, cmd

	case PartialMsg:
		if !m.waiting {
			return m, nil
		}
		if !m.streaming {
			m.transcript.add(entry{kind: entryAssistant, content: msg.Text})
			m.streaming = true
		} else {
			m.transcript.updateLast(msg.Text, false)
		}
		return m, nil

	case FinalMsg:
		if !m.waiting {
			return m, nil
		}
		if m.streaming {
			m.transcript.updateLast(msg.Message.Content, m.offline)
		} else {
			m.transcript.add(entry{kind: entryAssistant, content: msg.Message.Content, offline: m.offline, at: msg.Message.Timestamp})
		}
		m.streaming = false
		return m, nil

	case StateMsg:
		m.state = msg.State
		if msg.State == domain.TurnDegraded {
			m.offline = true
		}
		return m, nil

	case TurnDoneMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		if !silentError(msg.Err) {
			m.deps.Logger.Warn("chat turn failed", "error", msg.Err)
			m.transcript.add(entry{kind: entryError, content: friendlyError(msg.Err)})
		}
		return m, m.finishTurn()

	case SettingsMsg:
		m.settings = msg.Settings
		return m, nil

	case SettingChangedMsg:
		switch msg.Key {
		case domain.SettingAIModel:
			m.settings.AIModel = msg.Value
		case domain.SettingResponseStyle:
			m.settings.ResponseStyle = domain.ParseResponseStyle(msg.Value)
		case domain.SettingPersona:
			m.settings.Persona = msg.Value
		}
		if msg.Reset {
			m.abort()
			return m, resetCmd(m.deps.Conversation, msg.Note)
		}
		m.transcript.add(entry{kind: entryNote, content: msg.Note})
		return m, nil

	case ResetMsg:
		m.transcript.clear()
		if msg.Note != "" {
			m.transcript.add(entry{kind: entryNote, content: msg.Note})
		}
		return m, m.finishTurn()

	case NoteMsg:
		kind := entryNote
		if msg.IsError {
			kind = entryError
		}
		m.transcript.add(entry{kind: kind, content: msg.Text})
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.waiting {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleKey processes keyboard input.
func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			return m.cancelTurn("Reply cancelled.")
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyCtrlL:
		return m.handleSlashCommand("/clear", nil)

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.update(msg)
		return m, cmd

	case tea.KeyEnter:
		if msg.Alt {
			break
		}
		if m.waiting {
			return m, nil
		}
		value := strings.TrimSpace(m.input.Value())
		if value == "" {
			return m, nil
		}
		m.input.Reset()
		return m.handleSubmit(value)
	}

	if m.waiting {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleSubmit sends user text as a new turn, or runs a slash command.
func (m ChatModel) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, args, ok := parseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd, args)
	}

	if m.cancelFn != nil {
		m.cancelFn()
	}

	m.transcript.add(entry{kind: entryUser, content: value})

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel

	m.waiting = true
	m.streaming = false
	m.offline = false
	m.state = domain.TurnIdle
	m.input.Blur()

	return m, tea.Batch(submitCmd(ctx, m.deps.Conversation, value, m.gen), m.spinner.Tick)
}

// cancelTurn abandons the turn in flight. Whatever was streamed stays on screen.
func (m ChatModel) cancelTurn(note string) (tea.Model, tea.Cmd) {
	m.abort()
	m.transcript.add(entry{kind: entryNote, content: note})
	return m, tea.Batch(cancelCmd(m.deps.Conversation), m.finishTurn())
}

// abort drops the in-flight turn without touching the conversation.
func (m *ChatModel) abort() {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	m.gen++
	m.waiting = false
	m.streaming = false
}

// finishTurn re-enables input after a turn.
func (m *ChatModel) finishTurn() tea.Cmd {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	m.waiting = false
	m.streaming = false
	m.state = domain.TurnIdle
	return m.input.Focus()
}

// View renders the chat UI.
func (m ChatModel) View() string {
	if m.quitting {
		return "Take care. Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	inputView := m.input.View()
	if m.waiting {
		inputView = mutedText.Render("> waiting for MindMuse...") + "\n" + m.spinner.View() + " " + m.stateLabel()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.transcript.view(),
		divider.Render(strings.Repeat("─", m.width)),
		inputView,
		m.statusView(),
	)
}

func (m ChatModel) stateLabel() string {
	switch m.state {
	case domain.TurnStreaming:
		return "Replying..."
	case domain.TurnExhausted, domain.TurnDegraded:
		return "Models unavailable, answering offline..."
	default:
		return "Thinking..."
	}
}

func (m ChatModel) statusView() string {
	hints := []string{
		statusKey.Render("Enter") + ": Send",
		statusKey.Render("/help") + ": Commands",
		statusKey.Render("Ctrl+C") + ": Cancel/Quit",
	}
	left := strings.Join(hints, "  ")

	persona := m.settings.Persona
	if persona == "" {
		persona = string(usecase.PersonaCompanion)
	}
	right := mutedText.Render(m.settings.AIModel + " • " + string(m.settings.ResponseStyle) + " • " + persona)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return statusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

// layout recalculates sizes for all sub-models.
func (m *ChatModel) layout() {
	const inputH, statusH, dividerH = 3, 1, 1
	contentH := m.height - inputH - statusH - dividerH
	if contentH < 5 {
		contentH = 5
	}
	m.transcript.setSize(m.width, contentH)
	m.input.SetWidth(m.width - 2)
}
