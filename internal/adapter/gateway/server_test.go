package gateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"mindmuse/internal/adapter/llm"
	"mindmuse/internal/domain"
	"mindmuse/internal/infra/config"
	"mindmuse/internal/usecase"
)

func startTestServer(t *testing.T, cfg config.ProxyConfig, chat http.Handler, bridge *ChatBridge) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	srv := NewServer(cfg, chat, bridge, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	started := make(chan struct{})
	go func() {
		// Wait for server to bind.
		go func() {
			for srv.BoundAddr() == "" {
				time.Sleep(5 * time.Millisecond)
			}
			close(started)
		}()
		_ = srv.Start(ctx)
	}()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start in time")
	}

	t.Cleanup(func() {
		srv.Stop(context.Background())
	})
	return srv
}

// sseSelector answers every turn with the given deltas.
type sseSelector struct{ deltas []string }

func (s sseSelector) Send(_ context.Context, _ domain.ChatRequest, candidates []domain.ModelCandidate) (*domain.ModelStream, error) {
	var b strings.Builder
	for _, d := range s.deltas {
		b.WriteString(`data: {"choices":[{"delta":{"content":"` + d + `"}}]}` + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return &domain.ModelStream{Model: candidates[0].ID, Attempts: 1, Body: io.NopCloser(strings.NewReader(b.String()))}, nil
}

func testBridge(sel domain.StreamSelector) *ChatBridge {
	factory := func(p usecase.Presenter) *usecase.Controller {
		return usecase.NewController(usecase.ControllerDeps{
			Selector:  sel,
			Decode:    llm.DecodeStream,
			Presenter: p,
			Logger:    discardLogger(),
		})
	}
	return NewChatBridge(factory, nil, discardLogger())
}

func TestServerHealthThroughMiddleware(t *testing.T) {
	chat := newTestChatHandler(t, &stubSelector{}, true, "")
	srv := startTestServer(t, config.Defaults().Proxy, chat, nil)

	req, _ := http.NewRequest(http.MethodGet, "http://"+srv.BoundAddr()+"/api/health", nil)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("CORS origin = %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestServerRateLimit(t *testing.T) {
	cfg := config.Defaults().Proxy
	cfg.RateLimit = config.QuotaConfig{RequestsPerMin: 1, Burst: 1}
	chat := newTestChatHandler(t, &stubSelector{}, true, "")
	srv := startTestServer(t, cfg, chat, nil)

	url := "http://" + srv.BoundAddr() + "/api/health"
	first, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	first.Body.Close()
	second, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", second.StatusCode)
	}
}

func TestServerWebSocketDisabled(t *testing.T) {
	chat := newTestChatHandler(t, &stubSelector{}, true, "")
	srv := startTestServer(t, config.Defaults().Proxy, chat, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws", nil); err == nil {
		t.Fatal("expected dial to fail without a bridge")
	}
}

func TestBridgeTurnRoundtrip(t *testing.T) {
	chat := newTestChatHandler(t, &stubSelector{}, true, "")
	srv := startTestServer(t, config.Defaults().Proxy, chat, testBridge(sseSelector{deltas: []string{"Hi", " there"}}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, ws, Frame{Type: FrameTypeSubmit, Text: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var states []string
	for {
		var f Frame
		if err := wsjson.Read(ctx, ws, &f); err != nil {
			t.Fatalf("read: %v", err)
		}
		if f.Type == FrameTypeState {
			states = append(states, f.State)
		}
		if f.Type == FrameTypeFinal {
			if f.Message == nil || f.Message.Content != "Hi there" {
				t.Fatalf("final = %+v", f.Message)
			}
			break
		}
	}
	if len(states) < 2 || states[0] != "awaiting_first_byte" || states[1] != "streaming" {
		t.Errorf("states = %v", states)
	}
}

func TestBridgeRejectsEmptySubmit(t *testing.T) {
	chat := newTestChatHandler(t, &stubSelector{}, true, "")
	srv := startTestServer(t, config.Defaults().Proxy, chat, testBridge(sseSelector{}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, ws, Frame{Type: FrameTypeSubmit, Text: "   "}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var f Frame
	if err := wsjson.Read(ctx, ws, &f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Type != FrameTypeError || f.Code != string(domain.CodeNoUserInput) {
		t.Errorf("frame = %+v", f)
	}
}
