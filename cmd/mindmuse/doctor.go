package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"mindmuse/internal/adapter/store"
	"mindmuse/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const doctorTimeout = 3 * time.Second

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Upstream API key", Fn: checkUpstreamKey},
		{Name: "Fallback models", Fn: checkFallbackModels},
		{Name: "Store", Fn: checkStore},
		{Name: "Proxy", Fn: checkProxy},
		{Name: "Upstream network", Fn: checkUpstreamNetwork},
	}

	fmt.Println("mindmuse doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nmindmuse should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed!")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile reports whether the config file exists and loads. A
// missing file is only a warning: defaults plus env overrides apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Fix " + cfgPath + " or the MINDMUSE_* variables it reports",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

// checkUpstreamKey verifies the proxy can authenticate upstream.
func checkUpstreamKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Upstream.APIKey == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no upstream API key; 'mindmuse serve' will answer 500 on /api/chat",
			Fix:     "Set OPENROUTER_API_KEY, or upstream.api_key (use 'mindmuse encrypt' for an enc: value)",
		}
	}
	return CheckResult{Status: StatusPass, Message: "upstream API key configured"}
}

func checkFallbackModels(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if len(cfg.Client.SafetyModels) == 0 || len(cfg.Upstream.FallbackModels) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "a fallback list is empty; one failing model will send users straight to offline replies",
			Fix:     "Set client.safety_models and upstream.fallback_models",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d client safety models, %d proxy fallback models", len(cfg.Client.SafetyModels), len(cfg.Upstream.FallbackModels)),
	}
}

// checkStore opens the settings and transcript database.
func checkStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Store.Path == "" {
		return CheckResult{Status: StatusWarn, Message: "no store.path; settings last one session and transcripts are not kept"}
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.Store.Path, err),
			Fix:     "Check the directory permissions or point store.path elsewhere",
		}
	}
	db.Close()
	return CheckResult{Status: StatusPass, Message: "store ready at " + cfg.Store.Path}
}

// checkProxy calls the proxy health endpoint the chat client depends on.
func checkProxy(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	endpoint := strings.TrimRight(cfg.Client.ProxyURL, "/") + "/api/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("invalid client.proxy_url: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("proxy not reachable at %s", cfg.Client.ProxyURL),
			Fix:     "Start it with 'mindmuse serve' or set client.proxy_url",
		}
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&body) != nil || body.Status != "OK" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("unexpected health answer from %s (HTTP %d)", cfg.Client.ProxyURL, resp.StatusCode),
		}
	}
	return CheckResult{Status: StatusPass, Message: "proxy healthy at " + cfg.Client.ProxyURL}
}

// checkUpstreamNetwork dials the upstream API host.
func checkUpstreamNetwork(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil || u.Host == "" {
		return CheckResult{Status: StatusFail, Message: "invalid upstream.base_url"}
	}
	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, doctorTimeout)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot reach %s: %v", host, err),
			Fix:     "Check your network, proxy or firewall settings",
		}
	}
	conn.Close()
	return CheckResult{Status: StatusPass, Message: "reached " + host}
}
