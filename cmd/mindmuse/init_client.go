package main

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"mindmuse/internal/adapter/llm"
	"mindmuse/internal/domain"
	"mindmuse/internal/infra/config"
	"mindmuse/internal/usecase"
)

// controllerFactory builds one controller per presenter: a terminal session
// or a WebSocket connection.
type controllerFactory = func(p usecase.Presenter) *usecase.Controller

// newQuota returns a limiter for q, or nil when q is disabled.
func newQuota(q config.QuotaConfig) *rate.Limiter {
	if q.RequestsPerMin <= 0 {
		return nil
	}
	burst := q.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(q.RequestsPerMin)/60.0), burst)
}

// newSelector builds the fallback walk over streamer.
func newSelector(streamer domain.ModelStreamer, firstByte time.Duration, quota *rate.Limiter, log *slog.Logger) *llm.FallbackSelector {
	opts := []llm.SelectorOption{llm.WithFirstByteTimeout(firstByte)}
	if quota != nil {
		opts = append(opts, llm.WithQuota(quota))
	}
	return llm.NewFallbackSelector(streamer, log, opts...)
}

// newClientSelector walks candidates through the proxy at client.proxy_url.
func newClientSelector(cfg *config.Config, log *slog.Logger) domain.StreamSelector {
	return newSelector(llm.NewProxyClient(cfg.Client), cfg.Client.FirstByteTimeout, newQuota(cfg.Client.Quota), log)
}

// newControllerFactory wires controllers over selector with the client
// window, persona and safety list. defaultModel applies until the user picks one.
func newControllerFactory(cfg *config.Config, selector domain.StreamSelector, stores *storeComponents, defaultModel string, log *slog.Logger) (controllerFactory, error) {
	persona, err := usecase.ParsePersona(cfg.Client.Persona)
	if err != nil {
		return nil, fmt.Errorf("client.persona: %w", err)
	}

	var counter domain.TokenCounter
	if cfg.Client.TokenGuard.Enabled {
		counter = llm.NewTokenCounter(cfg.Client.TokenGuard.Encoding, log)
	}

	return func(p usecase.Presenter) *usecase.Controller {
		window := usecase.NewConversationWindow(cfg.Client.WindowSize)
		if counter != nil {
			window = window.WithTokenGuard(counter, cfg.Client.TokenGuard.MaxTokens)
		}
		return usecase.NewController(usecase.ControllerDeps{
			Selector:     selector,
			Decode:       llm.DecodeStream,
			Window:       window,
			Presenter:    p,
			Logger:       log,
			Settings:     stores.Settings,
			Transcripts:  stores.Transcripts,
			DefaultModel: defaultModel,
			SafetyModels: cfg.Client.SafetyModels,
			Persona:      persona,
		})
	}, nil
}
