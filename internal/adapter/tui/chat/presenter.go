package chat

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"mindmuse/internal/domain"
	"mindmuse/internal/usecase"
)

// Sender delivers messages into a running Bubble Tea program.
// *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// ProgramPresenter forwards controller output into the TUI event loop.
// Output produced before Attach is dropped.
type ProgramPresenter struct {
	sender atomic.Pointer[senderBox]
}

type senderBox struct{ s Sender }

var (
	_ usecase.Presenter     = (*ProgramPresenter)(nil)
	_ usecase.StateObserver = (*ProgramPresenter)(nil)
)

// NewProgramPresenter creates a detached presenter.
func NewProgramPresenter() *ProgramPresenter {
	return &ProgramPresenter{}
}

// Attach connects the presenter to a running program.
func (p *ProgramPresenter) Attach(s Sender) {
	p.sender.Store(&senderBox{s: s})
}

func (p *ProgramPresenter) send(msg tea.Msg) {
	if box := p.sender.Load(); box != nil {
		box.s.Send(msg)
	}
}

func (p *ProgramPresenter) OnPartialUpdate(text string) { p.send(PartialMsg{Text: text}) }

func (p *ProgramPresenter) OnFinalMessage(msg domain.Message) { p.send(FinalMsg{Message: msg}) }

func (p *ProgramPresenter) OnStateChange(turnID string, state domain.TurnState) {
	p.send(StateMsg{TurnID: turnID, State: state})
}
