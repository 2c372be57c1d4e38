package chat

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryNote
	entryError
)

// entry is one block of the on-screen transcript.
type entry struct {
	kind     entryKind
	content  string
	offline  bool   // canned reply shown while every model was unavailable
	rendered string // cached markdown render; empty means stale
	at       time.Time
}

// transcript is a scrolling view of entries. It follows new output while
// the user is at the bottom and stops following once they scroll up.
type transcript struct {
	entries  []entry
	viewport viewport.Model
	md       *glamour.TermRenderer
	width    int
	ready    bool
	atBottom bool
}

func newTranscript() transcript {
	return transcript{atBottom: true}
}

func (t *transcript) setSize(w, h int) {
	if w != t.width {
		t.width = w
		t.md = nil
		for i := range t.entries {
			t.entries[i].rendered = ""
		}
	}
	if !t.ready {
		t.viewport = viewport.New(w, h)
		t.viewport.MouseWheelEnabled = true
		t.viewport.MouseWheelDelta = 3
		t.ready = true
	} else {
		t.viewport.Width = w
		t.viewport.Height = h
	}
	t.refresh()
}

func (t *transcript) add(e entry) {
	if e.at.IsZero() {
		e.at = time.Now()
	}
	t.entries = append(t.entries, e)
	t.refresh()
}

// updateLast replaces the content of the newest entry.
func (t *transcript) updateLast(content string, offline bool) {
	if len(t.entries) == 0 {
		return
	}
	last := &t.entries[len(t.entries)-1]
	last.content = content
	last.offline = offline
	last.rendered = ""
	t.refresh()
}

func (t *transcript) last() (entry, bool) {
	if len(t.entries) == 0 {
		return entry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

func (t *transcript) clear() {
	t.entries = nil
	t.atBottom = true
	t.refresh()
	if t.ready {
		t.viewport.GotoTop()
	}
}

func (t transcript) update(msg tea.Msg) (transcript, tea.Cmd) {
	if !t.ready {
		return t, nil
	}
	var cmd tea.Cmd
	t.viewport, cmd = t.viewport.Update(msg)
	t.atBottom = t.viewport.AtBottom()
	return t, cmd
}

func (t transcript) view() string {
	if !t.ready {
		return "  Initializing..."
	}
	return t.viewport.View()
}

func (t *transcript) refresh() {
	if !t.ready {
		return
	}
	t.viewport.SetContent(t.render())
	if t.atBottom {
		t.viewport.GotoBottom()
	}
}

func (t *transcript) render() string {
	if len(t.entries) == 0 {
		return mutedText.Render("  Hi, I'm MindMuse. How are you feeling today?")
	}
	width := t.width - 4
	if width > maxContentWidth {
		width = maxContentWidth
	}
	if width < 40 {
		width = 40
	}

	var sb strings.Builder
	for i := range t.entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(t.renderEntry(&t.entries[i], width))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (t *transcript) renderEntry(e *entry, width int) string {
	header := labelFor(e) + " " + timestamp.Render(e.at.Format("15:04"))
	var body string
	switch e.kind {
	case entryAssistant:
		if e.rendered == "" {
			e.rendered = t.markdown(e.content, width)
		}
		body = strings.TrimRight(e.rendered, "\n")
	case entryError:
		body = lipgloss.NewStyle().Foreground(colorError).Width(width).PaddingLeft(2).Render(e.content)
	default:
		body = lipgloss.NewStyle().Width(width).PaddingLeft(2).Render(e.content)
	}
	return header + "\n" + body
}

func labelFor(e *entry) string {
	switch e.kind {
	case entryUser:
		return userLabel.Render("You")
	case entryAssistant:
		label := botLabel.Render("MindMuse")
		if e.offline {
			label += " " + offlineBadge.Render("(offline reply)")
		}
		return label
	case entryError:
		return errorLabel.Render("Error")
	default:
		return noteLabel.Render("Note")
	}
}

func (t *transcript) markdown(content string, width int) string {
	if t.md == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return "  " + content
		}
		t.md = r
	}
	out, err := t.md.Render(content)
	if err != nil {
		return "  " + content
	}
	return out
}
