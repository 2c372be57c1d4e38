package chat

import (
	"context"
	"errors"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"mindmuse/internal/usecase"
)

// ControllerFactory builds the controller that drives the given presenter.
type ControllerFactory func(p usecase.Presenter) *usecase.Controller

// Run starts the terminal chat and blocks until the user quits or ctx ends.
// deps.Conversation is replaced by the controller newController builds.
func Run(ctx context.Context, newController ControllerFactory, deps ChatModelDeps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	presenter := NewProgramPresenter()
	ctrl := newController(presenter)
	defer ctrl.Cancel()

	deps.Conversation = ctrl
	model := NewChatModel(deps)
	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	presenter.Attach(p)

	deps.Logger.Info("terminal chat started", "conversation_id", ctrl.ConversationID())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
