package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"mindmuse/internal/adapter/tui/chat"
	"mindmuse/internal/domain"
	"mindmuse/internal/usecase"
)

func runChat() error {
	ctx, cancel := signalContext()
	defer cancel()

	env, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer env.cleanup()
	cfg, log := env.cfg, env.log

	stores, closeStore, err := initStore(cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	factory, err := newControllerFactory(cfg, newClientSelector(cfg, log), stores, cfg.Client.DefaultModel, log)
	if err != nil {
		return err
	}

	return chat.Run(ctx, factory, chat.ChatModelDeps{
		Settings:     stores.Settings,
		DefaultModel: cfg.Client.DefaultModel,
		Logger:       log,
	})
}

func runAsk(args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		return fmt.Errorf("nothing to ask: pass the message as an argument or on stdin")
	}

	ctx, cancel := signalContext()
	defer cancel()

	env, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer env.cleanup()
	cfg, log := env.cfg, env.log

	stores, closeStore, err := initStore(cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	factory, err := newControllerFactory(cfg, newClientSelector(cfg, log), stores, cfg.Client.DefaultModel, log)
	if err != nil {
		return err
	}

	out := newAskPresenter(os.Stdout, os.Stderr)
	ctrl := factory(out)
	return ctrl.Submit(ctx, text)
}

// askPresenter prints a reply as it streams. Notices go to notes.
type askPresenter struct {
	w       io.Writer
	notes   io.Writer
	printed string
}

var (
	_ usecase.Presenter     = (*askPresenter)(nil)
	_ usecase.StateObserver = (*askPresenter)(nil)
)

func newAskPresenter(w, notes io.Writer) *askPresenter {
	return &askPresenter{w: w, notes: notes}
}

func (p *askPresenter) OnPartialUpdate(text string) {
	if strings.HasPrefix(text, p.printed) {
		fmt.Fprint(p.w, text[len(p.printed):])
	} else {
		fmt.Fprint(p.w, "\n"+text)
	}
	p.printed = text
}

func (p *askPresenter) OnFinalMessage(msg domain.Message) {
	if p.printed != "" && strings.HasPrefix(msg.Content, p.printed) {
		fmt.Fprintln(p.w, msg.Content[len(p.printed):])
	} else {
		if p.printed != "" {
			fmt.Fprintln(p.w)
		}
		fmt.Fprintln(p.w, msg.Content)
	}
	p.printed = ""
}

func (p *askPresenter) OnStateChange(_ string, state domain.TurnState) {
	if state == domain.TurnDegraded {
		fmt.Fprintln(p.notes, "(every model is unavailable right now; this is an offline reply)")
	}
}
