package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mindmuse/internal/adapter/gateway"
	"mindmuse/internal/adapter/llm"
	"mindmuse/internal/domain"
	"mindmuse/internal/infra/config"
	"mindmuse/internal/usecase"
)

// proxyComponents holds the upstream side of the proxy.
type proxyComponents struct {
	Client   *llm.OpenRouterClient
	Selector domain.StreamSelector
}

// initUpstream builds the OpenRouter client and the fallback walk over it.
// The breaker guards each model separately so one failing model does not
// block the others.
func initUpstream(cfg *config.Config, log *slog.Logger) *proxyComponents {
	client := llm.NewOpenRouterClient(cfg.Upstream)

	var streamer domain.ModelStreamer = client
	if cfg.Upstream.CircuitBreaker.Enabled {
		streamer = llm.NewCircuitBreakerStreamer(client, cfg.Upstream.CircuitBreaker, log)
	}

	return &proxyComponents{
		Client:   client,
		Selector: newSelector(streamer, cfg.Upstream.FirstByteTimeout, nil, log),
	}
}

func runServe() error {
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

	upstream := initUpstream(cfg, log)
	if !upstream.Client.HasKey() {
		log.Warn("no upstream API key configured; /api/chat will answer 500 until OPENROUTER_API_KEY is set")
	}

	chatHandler, err := gateway.NewChatHandler(upstream.Selector, upstream.Client, cfg.Upstream, cfg.Proxy, log)
	if err != nil {
		return fmt.Errorf("chat handler: %w", err)
	}

	var bridge *gateway.ChatBridge
	if cfg.Proxy.WebSocket {
		factory, err := newControllerFactory(cfg, upstream.Selector, stores, cfg.Upstream.DefaultModel, log)
		if err != nil {
			return err
		}
		bridge = gateway.NewChatBridge(factory, cfg.Proxy.AllowedOrigins, log)
	}

	if cfg.Store.Retention.Enabled && stores.Transcripts != nil {
		job, err := usecase.NewRetentionJob(stores.Transcripts, cfg.Store.Retention.Schedule, cfg.Store.Retention.MaxAge, log)
		if err != nil {
			return fmt.Errorf("retention: %w", err)
		}
		job.Start(ctx)
		defer job.Stop()
	}

	srv := gateway.NewServer(cfg.Proxy, chatHandler, bridge, log)
	log.Info("mindmuse proxy starting",
		"version", version,
		"addr", cfg.Proxy.Addr,
		"default_model", cfg.Upstream.DefaultModel,
		"fallback_models", len(cfg.Upstream.FallbackModels),
		"prompt_mode", cfg.Proxy.PromptMode,
		"websocket", bridge != nil,
		"circuit_breaker", cfg.Upstream.CircuitBreaker.Enabled,
	)

	err = srv.Start(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if serr := srv.Stop(shutdownCtx); serr != nil {
		log.Error("proxy shutdown error", "error", serr)
	}
	return err
}
