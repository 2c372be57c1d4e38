package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"mindmuse/internal/domain"
	"mindmuse/internal/usecase"
)

const (
	sendQueueSize = 64
	writeTimeout  = 5 * time.Second
)

// ControllerFactory builds the controller serving one connection.
type ControllerFactory func(p usecase.Presenter) *usecase.Controller

// ChatBridge serves the browser chat over WebSocket. Every connection gets
// its own controller, so connections share no conversation state.
type ChatBridge struct {
	newController ControllerFactory
	origins       []string
	logger        *slog.Logger
	nextID        atomic.Uint64
	active        sync.Map // connID (uint64) -> *wsPresenter
}

// NewChatBridge creates the WebSocket bridge. allowedOrigins lists extra
// origins besides localhost.
func NewChatBridge(factory ControllerFactory, allowedOrigins []string, logger *slog.Logger) *ChatBridge {
	origins := []string{
		"localhost",
		"localhost:*",
		"127.0.0.1",
		"127.0.0.1:*",
		"[::1]",
		"[::1]:*",
	}
	for _, o := range allowedOrigins {
		if o == "*" {
			origins = append(origins, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			origins = append(origins, u.Host)
		} else {
			origins = append(origins, o)
		}
	}
	return &ChatBridge{newController: factory, origins: origins, logger: logger}
}

// wsPresenter forwards controller output to a connection's send queue.
type wsPresenter struct {
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func (p *wsPresenter) OnPartialUpdate(text string) {
	// Partials are cumulative; a dropped one is covered by the next.
	select {
	case p.sendCh <- Frame{Type: FrameTypePartial, Text: text}:
	default:
		p.logger.Debug("bridge: dropped partial for slow client")
	}
}

func (p *wsPresenter) OnFinalMessage(msg domain.Message) {
	select {
	case p.sendCh <- Frame{Type: FrameTypeFinal, Message: &msg}:
	case <-p.done:
	}
}

func (p *wsPresenter) OnStateChange(turnID string, state domain.TurnState) {
	frame := Frame{Type: FrameTypeState, TurnID: turnID, State: state.String()}
	if state.Terminal() {
		// The browser unlocks its input on these; they must arrive.
		select {
		case p.sendCh <- frame:
		case <-p.done:
		}
		return
	}
	select {
	case p.sendCh <- frame:
	default:
		p.logger.Debug("bridge: dropped state frame for slow client", "state", state.String())
	}
}

func (p *wsPresenter) sendError(err error) {
	select {
	case p.sendCh <- Frame{Type: FrameTypeError, Error: err.Error(), Code: string(domain.ErrorCodeOf(err))}:
	case <-p.done:
	}
}

func (p *wsPresenter) close() { p.closeOnce.Do(func() { close(p.done) }) }

// Close disconnects every client.
func (b *ChatBridge) Close() {
	b.active.Range(func(key, value any) bool {
		value.(*wsPresenter).close()
		b.active.Delete(key)
		return true
	})
}

func (b *ChatBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.origins})
	if err != nil {
		b.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := b.nextID.Add(1)
	p := &wsPresenter{
		sendCh: make(chan Frame, sendQueueSize),
		done:   make(chan struct{}),
		logger: b.logger,
	}
	b.active.Store(connID, p)
	ctrl := b.newController(p)
	b.logger.Info("chat client connected", "conn_id", connID, "conversation_id", ctrl.ConversationID())

	ctx, cancel := context.WithCancel(r.Context())
	go func() {
		b.writeLoop(ws, p)
		cancel()
	}()

	b.readLoop(ctx, ws, p, ctrl)

	cancel()
	ctrl.Cancel()
	p.close()
	b.active.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	b.logger.Info("chat client disconnected", "conn_id", connID)
}

func (b *ChatBridge) readLoop(ctx context.Context, ws *websocket.Conn, p *wsPresenter, ctrl *usecase.Controller) {
	for {
		select {
		case <-p.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			return
		}

		switch frame.Type {
		case FrameTypeSubmit:
			go b.submit(ctx, p, ctrl, frame)
		case FrameTypeCancel:
			ctrl.Cancel()
		case FrameTypeReset:
			ctrl.Reset()
		default:
			p.sendError(domain.NewDomainError("bridge", domain.ErrInvalidInput, "unknown frame type "+string(frame.Type)))
		}
	}
}

func (b *ChatBridge) submit(ctx context.Context, p *wsPresenter, ctrl *usecase.Controller, frame Frame) {
	var err error
	if len(frame.Parts) > 0 {
		err = ctrl.SubmitParts(ctx, frame.Parts)
	} else {
		err = ctrl.Submit(ctx, frame.Text)
	}
	switch {
	case err == nil, errors.Is(err, domain.ErrTurnSuperseded), ctx.Err() != nil:
	default:
		p.sendError(err)
	}
}

func (b *ChatBridge) writeLoop(ws *websocket.Conn, p *wsPresenter) {
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, ws, frame)
			cancel()
			if err != nil {
				p.close()
				return
			}
		}
	}
}
