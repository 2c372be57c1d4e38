package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"mindmuse/internal/infra/config"
	"mindmuse/internal/infra/middleware"
)

const shutdownTimeout = 5 * time.Second

// Server is the chat proxy: POST /api/chat, GET /api/health and, when
// enabled, the /ws browser bridge.
type Server struct {
	cfg       config.ProxyConfig
	chat      http.Handler
	bridge    *ChatBridge
	logger    *slog.Logger
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a proxy server. bridge may be nil.
func NewServer(cfg config.ProxyConfig, chat http.Handler, bridge *ChatBridge, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, chat: chat, bridge: bridge, logger: logger}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/chat", s.chat)
	mux.HandleFunc("/api/health", healthHandler)
	if s.bridge != nil {
		mux.Handle("/ws", s.bridge)
	}

	var h http.Handler = mux
	h = middleware.RateLimitWithConfig(ctx, middleware.RateLimitConfig{
		RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.Burst,
		TrustedProxies: s.cfg.TrustedProxies,
		OnLimit: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		},
	})(h)
	h = middleware.CORS(s.cfg.AllowedOrigins)(h)
	h = middleware.SecurityHeaders(h)
	return h
}

// Start begins serving. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("proxy listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	s.logger.Info("proxy started", "addr", s.boundAddr, "websocket", s.bridge != nil)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("proxy serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.bridge != nil {
		s.bridge.Close()
	}
	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }
