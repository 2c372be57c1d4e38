package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateClient(cfg, ve)
	validateProxy(cfg, ve)
	validateUpstream(cfg, ve)
	validateStore(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validPersonas = map[string]bool{
	"companion":  true,
	"assessment": true,
}

func validateClient(cfg *Config, ve *ValidationError) {
	c := cfg.Client
	if err := validateHTTPURL(c.ProxyURL); err != nil {
		ve.Add("client.proxy_url: %v", err)
	}
	if c.WindowSize <= 0 {
		ve.Add("client.window_size must be > 0")
	}
	if c.FirstByteTimeout <= 0 {
		ve.Add("client.first_byte_timeout must be > 0")
	}
	if !validPersonas[c.Persona] {
		ve.Add("client.persona %q is invalid (want companion or assessment)", c.Persona)
	}
	if c.TokenGuard.Enabled && c.TokenGuard.MaxTokens <= 0 {
		ve.Add("client.token_guard.max_tokens must be > 0 when the guard is enabled")
	}
	if c.Quota.RequestsPerMin < 0 || c.Quota.Burst < 0 {
		ve.Add("client.quota values must be >= 0")
	}
	for i, m := range c.SafetyModels {
		if strings.TrimSpace(m) == "" {
			ve.Add("client.safety_models[%d] must not be empty", i)
		}
	}
}

var validPromptModes = map[string]bool{
	"passthrough": true,
	"report":      true,
}

func validateProxy(cfg *Config, ve *ValidationError) {
	p := cfg.Proxy
	if p.Addr == "" {
		ve.Add("proxy.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(p.Addr); err != nil {
		ve.Add("proxy.addr %q is invalid: %v", p.Addr, err)
	}
	if !validPromptModes[p.PromptMode] {
		ve.Add("proxy.prompt_mode %q is invalid (want passthrough or report)", p.PromptMode)
	}
	if p.RateLimit.RequestsPerMin < 0 || p.RateLimit.Burst < 0 {
		ve.Add("proxy.rate_limit values must be >= 0")
	}
	if p.MaxBodyBytes <= 0 {
		ve.Add("proxy.max_body_bytes must be > 0")
	}
	for _, cidr := range p.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			ve.Add("proxy.trusted_proxies: invalid CIDR %q", cidr)
		}
	}
}

func validateUpstream(cfg *Config, ve *ValidationError) {
	u := cfg.Upstream
	if err := validateHTTPURL(u.BaseURL); err != nil {
		ve.Add("upstream.base_url: %v", err)
	}
	// api_key may be empty: the proxy answers 500 per request instead.
	if u.DefaultTemperature < 0 || u.DefaultTemperature > 2 {
		ve.Add("upstream.default_temperature must be within [0, 2]")
	}
	if u.DefaultMaxTokens <= 0 {
		ve.Add("upstream.default_max_tokens must be > 0")
	}
	if u.FirstByteTimeout <= 0 {
		ve.Add("upstream.first_byte_timeout must be > 0")
	}
	if u.CircuitBreaker.Enabled {
		if u.CircuitBreaker.MaxFailures == 0 {
			ve.Add("upstream.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if u.CircuitBreaker.Timeout <= 0 {
			ve.Add("upstream.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	r := cfg.Store.Retention
	if !r.Enabled {
		return
	}
	if cfg.Store.Path == "" {
		ve.Add("store.path is required when retention is enabled")
	}
	if r.Schedule == "" {
		ve.Add("store.retention.schedule must not be empty when retention is enabled")
	}
	if r.MaxAge <= 0 {
		ve.Add("store.retention.max_age must be > 0 when retention is enabled")
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
	if f := cfg.Logger.Format; f != "text" && f != "json" {
		ve.Add("logger.format %q is invalid (want text or json)", f)
	}
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
