package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"mindmuse/internal/domain"
	"mindmuse/internal/infra/tracer"
)

// DecodeFunc turns an open response body into the events of one turn.
// The channel closes when the body is exhausted or ctx is cancelled.
type DecodeFunc func(ctx context.Context, body io.ReadCloser, turnID string, logger *slog.Logger) <-chan domain.StreamEvent

// ControllerDeps holds injected dependencies for a Controller.
type ControllerDeps struct {
	Selector  domain.StreamSelector
	Decode    DecodeFunc
	Window    *ConversationWindow
	Presenter Presenter
	Logger    *slog.Logger

	Settings       domain.SettingsStore   // optional, nil = defaults
	Transcripts    domain.TranscriptStore // optional, nil = no persistence
	DefaultModel   string                 // optional, "" = domain.DefaultModel
	SafetyModels   []string
	Persona        Persona // used when the user picked none
	ConversationID string  // optional, generated when empty
}

// Controller runs user turns against the model candidates and drives the
// presenter. At most one turn is current; starting a new one cancels the
// previous turn, whose late events are then dropped.
type Controller struct {
	deps     ControllerDeps
	degraded DegradedResponder

	mu      sync.Mutex
	current string
	cancel  context.CancelCauseFunc
}

// NewController creates a controller with the given dependencies.
func NewController(deps ControllerDeps) *Controller {
	if deps.Window == nil {
		deps.Window = NewConversationWindow(DefaultWindowSize)
	}
	if deps.Persona == "" {
		deps.Persona = PersonaCompanion
	}
	if deps.ConversationID == "" {
		deps.ConversationID = ulid.Make().String()
	}
	return &Controller{deps: deps}
}

// ConversationID identifies the persisted transcript of this controller.
func (c *Controller) ConversationID() string { return c.deps.ConversationID }

// Window returns the conversation window.
func (c *Controller) Window() *ConversationWindow { return c.deps.Window }

// Submit runs one plain-text turn. Blank text is rejected with
// domain.ErrNoUserInput and nothing is sent.
func (c *Controller) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrNoUserInput
	}
	return c.run(ctx, domain.Message{Role: domain.RoleUser, Content: text})
}

// SubmitParts runs one multimodal turn.
func (c *Controller) SubmitParts(ctx context.Context, parts []domain.ContentPart) error {
	msg := domain.Message{Role: domain.RoleUser, Parts: parts}
	if msg.IsEmpty() {
		return domain.ErrNoUserInput
	}
	return c.run(ctx, msg)
}

// Cancel abandons the current turn, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel(domain.ErrTurnSuperseded)
		c.cancel = nil
	}
	c.current = ""
}

// Reset cancels the current turn and clears the history.
func (c *Controller) Reset() {
	c.Cancel()
	c.deps.Window.Reset()
}

func (c *Controller) run(ctx context.Context, userMsg domain.Message) error {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanChatTurn,
		trace.WithAttributes(tracer.StringAttr(tracer.AttrConversationID, c.deps.ConversationID)),
	)
	defer span.End()

	defaults := domain.DefaultSettings()
	if c.deps.DefaultModel != "" {
		defaults.AIModel = c.deps.DefaultModel
	}
	settings, err := domain.LoadSettingsOver(ctx, c.deps.Settings, defaults)
	if err != nil {
		c.deps.Logger.Warn("settings unavailable, using defaults", "error", err)
	}
	persona := c.deps.Persona
	if settings.Persona != "" {
		if p, perr := ParsePersona(settings.Persona); perr == nil {
			persona = p
		}
	}
	profile := persona.Profile(settings.ResponseStyle)

	turnCtx, turnID, stored := c.begin(ctx, userMsg)
	defer c.end(turnID)
	span.SetAttributes(
		tracer.StringAttr(tracer.AttrTurnID, turnID),
		tracer.StringAttr(tracer.AttrPersona, string(persona)),
		tracer.StringAttr(tracer.AttrStyle, string(settings.ResponseStyle)),
	)
	c.persist(ctx, stored)

	req := domain.ChatRequest{
		Messages:    c.deps.Window.BuildRequestMessages(profile.SystemPrompt),
		MaxTokens:   profile.MaxTokens,
		Temperature: profile.Temperature,
		Stream:      true,
	}
	candidates := domain.CandidateList(settings.AIModel, c.deps.SafetyModels)

	c.transition(turnID, domain.TurnAwaitingFirstByte)
	stream, err := c.deps.Selector.Send(turnCtx, req, candidates)
	if err != nil {
		if turnCtx.Err() != nil {
			return c.abandoned(turnCtx, span)
		}
		c.deps.Logger.Warn("all models failed, answering in degraded mode",
			"turn_id", turnID,
			"code", domain.ErrorCodeOf(err),
			"error", err,
		)
		tracer.AddEvent(span, tracer.EventDegraded, tracer.CodeAttr(string(domain.ErrorCodeOf(err))))
		c.transition(turnID, domain.TurnExhausted)
		return c.degrade(turnID, userMsg.Text())
	}
	tracer.Answered(span, stream.Model, stream.Attempts)

	c.transition(turnID, domain.TurnStreaming)
	r := NewRenderer(turnID, c.deps.Window, c.deps.Presenter)
	for ev := range c.deps.Decode(turnCtx, stream.Body, turnID, c.deps.Logger) {
		c.deliver(turnID, func() { r.OnEvent(ev) })
	}
	if turnCtx.Err() != nil && !r.Finalized() {
		return c.abandoned(turnCtx, span)
	}

	var (
		final domain.Message
		ok    bool
	)
	if !c.deliver(turnID, func() { final, ok = r.Finalize() }) {
		// Superseded after the terminal marker: the reply was already shown.
		if !r.Finalized() || r.Message().Content == "" {
			return domain.ErrTurnSuperseded
		}
		final, ok = r.Message(), true
	}
	if !ok {
		c.deps.Logger.Warn("model stream carried no content, answering in degraded mode",
			"turn_id", turnID, "model", stream.Model)
		tracer.AddEvent(span, tracer.EventDegraded, tracer.CodeAttr(string(domain.CodeEmptyStream)))
		return c.degrade(turnID, userMsg.Text())
	}

	c.persist(ctx, final)
	c.transition(turnID, domain.TurnFinalized)
	span.SetAttributes(tracer.IntAttr(tracer.AttrReplyChars, len(final.Content)))
	tracer.SetOK(span)
	return nil
}

// begin makes a new turn current, cancelling the previous one, and appends
// the user message while holding the turn lock.
func (c *Controller) begin(ctx context.Context, userMsg domain.Message) (context.Context, string, domain.Message) {
	turnCtx, cancel := context.WithCancelCause(ctx)
	turnID := ulid.Make().String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel(domain.ErrTurnSuperseded)
	}
	c.current = turnID
	c.cancel = cancel
	stored := c.deps.Window.Append(userMsg)
	return turnCtx, turnID, stored
}

func (c *Controller) end(turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != turnID {
		return
	}
	if c.cancel != nil {
		c.cancel(context.Canceled)
		c.cancel = nil
	}
}

// deliver runs fn only while turnID is still current, so a stale turn
// never touches the window or the presenter.
func (c *Controller) deliver(turnID string, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != turnID {
		return false
	}
	fn()
	return true
}

func (c *Controller) transition(turnID string, state domain.TurnState) {
	obs, ok := c.deps.Presenter.(StateObserver)
	c.deliver(turnID, func() {
		c.deps.Logger.Debug("turn state", "turn_id", turnID, "state", state.String())
		if ok {
			obs.OnStateChange(turnID, state)
		}
	})
}

// degrade answers the turn locally. The canned reply is shown but not
// added to the history sent to models.
func (c *Controller) degrade(turnID, userText string) error {
	c.transition(turnID, domain.TurnDegraded)
	reply := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   c.degraded.Respond(userText),
		Timestamp: time.Now(),
	}
	if !c.deliver(turnID, func() { c.deps.Presenter.OnFinalMessage(reply) }) {
		return domain.ErrTurnSuperseded
	}
	c.transition(turnID, domain.TurnFinalized)
	return nil
}

func (c *Controller) abandoned(turnCtx context.Context, span trace.Span) error {
	err := context.Cause(turnCtx)
	if errors.Is(err, domain.ErrTurnSuperseded) {
		tracer.AddEvent(span, tracer.EventSuperseded)
		return domain.ErrTurnSuperseded
	}
	tracer.RecordError(span, err)
	return err
}

func (c *Controller) persist(ctx context.Context, msg domain.Message) {
	if c.deps.Transcripts == nil {
		return
	}
	if err := c.deps.Transcripts.AppendMessage(ctx, c.deps.ConversationID, msg); err != nil {
		c.deps.Logger.Warn("failed to persist message",
			"conversation_id", c.deps.ConversationID,
			"role", msg.Role,
			"error", err,
		)
	}
}
