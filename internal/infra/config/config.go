package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Client   ClientConfig   `yaml:"client"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Store    StoreConfig    `yaml:"store"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// ClientConfig holds settings for the chat client that talks to the proxy.
type ClientConfig struct {
	ProxyURL         string           `yaml:"proxy_url"`
	DefaultModel     string           `yaml:"default_model"`
	SafetyModels     []string         `yaml:"safety_models"`
	WindowSize       int              `yaml:"window_size"`
	FirstByteTimeout time.Duration    `yaml:"first_byte_timeout"`
	Persona          string           `yaml:"persona"` // "companion" or "assessment"
	TokenGuard       TokenGuardConfig `yaml:"token_guard"`
	Quota            QuotaConfig      `yaml:"quota"`
	ConnTimeout      time.Duration    `yaml:"conn_timeout"`
	RespTimeout      time.Duration    `yaml:"resp_timeout"`
}

// TokenGuardConfig enables token-aware trimming of the request window.
type TokenGuardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	MaxTokens int    `yaml:"max_tokens"`
	Encoding  string `yaml:"encoding"` // tiktoken encoding, e.g. "cl100k_base"
}

// QuotaConfig limits how fast model attempts are issued. Zero disables it.
type QuotaConfig struct {
	RequestsPerMin int `yaml:"requests_per_min"`
	Burst          int `yaml:"burst"`
}

// ProxyConfig holds settings for the /api/chat proxy server.
type ProxyConfig struct {
	Addr           string        `yaml:"addr"`
	PromptMode     string        `yaml:"prompt_mode"` // "passthrough" or "report"
	RateLimit      QuotaConfig   `yaml:"rate_limit"`
	TrustedProxies []string      `yaml:"trusted_proxies,omitempty"`
	AllowedOrigins []string      `yaml:"allowed_origins,omitempty"`
	WebSocket      bool          `yaml:"websocket"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// UpstreamConfig holds settings for the completion API behind the proxy.
type UpstreamConfig struct {
	BaseURL            string               `yaml:"base_url"`
	APIKey             string               `yaml:"api_key"`
	DefaultModel       string               `yaml:"default_model"`
	FallbackModels     []string             `yaml:"fallback_models"`
	SiteURL            string               `yaml:"site_url"`
	SiteName           string               `yaml:"site_name"`
	DefaultTemperature float64              `yaml:"default_temperature"`
	DefaultMaxTokens   int                  `yaml:"default_max_tokens"`
	FirstByteTimeout   time.Duration        `yaml:"first_byte_timeout"`
	ConnTimeout        time.Duration        `yaml:"conn_timeout"`
	RespTimeout        time.Duration        `yaml:"resp_timeout"`
	Pool               PoolConfig           `yaml:"pool"`
	CircuitBreaker     CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds per-model circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// StoreConfig holds settings and transcript persistence settings.
type StoreConfig struct {
	Path      string          `yaml:"path"` // empty = in-memory settings, no transcripts
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig controls scheduled pruning of stored transcripts.
type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"` // cron expression, e.g. "@daily"
	MaxAge   time.Duration `yaml:"max_age"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultSafetyModels is the fixed list tried after the selected model.
var defaultSafetyModels = []string{
	"meta-llama/llama-3.1-8b-instruct:free",
	"microsoft/phi-3-mini-128k-instruct:free",
	"huggingfaceh4/zephyr-7b-beta:free",
}

// defaultDataDir returns the persistent data directory under $HOME/.mindmuse.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".mindmuse")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Client: ClientConfig{
			ProxyURL:         "http://localhost:3000",
			DefaultModel:     "meta-llama/llama-3.1-8b-instruct:free",
			SafetyModels:     append([]string(nil), defaultSafetyModels...),
			WindowSize:       10,
			FirstByteTimeout: 30 * time.Second,
			Persona:          "companion",
			TokenGuard: TokenGuardConfig{
				Enabled:   false,
				MaxTokens: 8000,
				Encoding:  "cl100k_base",
			},
			ConnTimeout: 10 * time.Second,
			RespTimeout: 120 * time.Second,
		},
		Proxy: ProxyConfig{
			Addr:       ":3000",
			PromptMode: "passthrough",
			RateLimit: QuotaConfig{
				RequestsPerMin: 100,
				Burst:          20,
			},
			WebSocket:    true,
			MaxBodyBytes: 1 << 20,
			WriteTimeout: 5 * time.Minute,
		},
		Upstream: UpstreamConfig{
			BaseURL:            "https://openrouter.ai/api/v1",
			DefaultModel:       "meta-llama/llama-3.1-8b-instruct:free",
			FallbackModels:     append([]string(nil), defaultSafetyModels...),
			SiteURL:            "https://mindmuseai.app",
			SiteName:           "MindMuseAI",
			DefaultTemperature: 0.7,
			DefaultMaxTokens:   1000,
			FirstByteTimeout:   30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Store: StoreConfig{
			Path: filepath.Join(defaultDataDir(), "mindmuse.db"),
			Retention: RetentionConfig{
				Enabled:  false,
				Schedule: "@daily",
				MaxAge:   30 * 24 * time.Hour,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("MINDMUSE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies MINDMUSE_* variables and the deployment variables
// used by the hosted proxy (OPENROUTER_API_KEY, DEFAULT_MODEL, SITE_URL,
// SITE_NAME, PORT).
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("DEFAULT_MODEL"); v != "" {
		cfg.Upstream.DefaultModel = v
	}
	if v := os.Getenv("SITE_URL"); v != "" {
		cfg.Upstream.SiteURL = v
	}
	if v := os.Getenv("SITE_NAME"); v != "" {
		cfg.Upstream.SiteName = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			cfg.Proxy.Addr = ":" + v
		}
	}

	if v := os.Getenv("MINDMUSE_PROXY_ADDR"); v != "" {
		cfg.Proxy.Addr = v
	}
	if v := os.Getenv("MINDMUSE_PROXY_PROMPT_MODE"); v != "" {
		cfg.Proxy.PromptMode = v
	}
	if v := os.Getenv("MINDMUSE_PROXY_WEBSOCKET"); v != "" {
		cfg.Proxy.WebSocket = v == "true"
	}
	if v := os.Getenv("MINDMUSE_UPSTREAM_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("MINDMUSE_UPSTREAM_FALLBACK_MODELS"); v != "" {
		cfg.Upstream.FallbackModels = splitAndTrim(v, ",")
	}
	if v := os.Getenv("MINDMUSE_CLIENT_PROXY_URL"); v != "" {
		cfg.Client.ProxyURL = v
	}
	if v := os.Getenv("MINDMUSE_CLIENT_DEFAULT_MODEL"); v != "" {
		cfg.Client.DefaultModel = v
	}
	if v := os.Getenv("MINDMUSE_CLIENT_SAFETY_MODELS"); v != "" {
		cfg.Client.SafetyModels = splitAndTrim(v, ",")
	}
	if v := os.Getenv("MINDMUSE_CLIENT_WINDOW_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Client.WindowSize = n
		}
	}
	if v := os.Getenv("MINDMUSE_CLIENT_FIRST_BYTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Client.FirstByteTimeout = d
		}
	}
	if v := os.Getenv("MINDMUSE_CLIENT_PERSONA"); v != "" {
		cfg.Client.Persona = v
	}
	if v := os.Getenv("MINDMUSE_CLIENT_TOKEN_GUARD"); v == "true" {
		cfg.Client.TokenGuard.Enabled = true
	}
	if v := os.Getenv("MINDMUSE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MINDMUSE_STORE_RETENTION_ENABLED"); v == "true" {
		cfg.Store.Retention.Enabled = true
	}
	if v := os.Getenv("MINDMUSE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MINDMUSE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MINDMUSE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MINDMUSE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element,
// dropping empty entries.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets finds "enc:..." values and decrypts them in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Upstream.APIKey, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Upstream.APIKey, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("upstream api_key: %w", err)
		}
		cfg.Upstream.APIKey = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
