package llm

import (
	"context"
	"io"
	"net/http"
	"strings"

	"mindmuse/internal/domain"
	"mindmuse/internal/infra/config"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// openrouterTransport is a custom http.RoundTripper that injects
// OpenRouter attribution headers (HTTP-Referer and X-Title) into every request.
type openrouterTransport struct {
	base     http.RoundTripper
	siteURL  string
	siteName string
}

func (t *openrouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the original.
	clone := req.Clone(req.Context())
	if t.siteURL != "" {
		clone.Header.Set("HTTP-Referer", t.siteURL)
	}
	if t.siteName != "" {
		clone.Header.Set("X-Title", t.siteName)
	}
	return t.base.RoundTrip(clone)
}

// OpenRouterClient streams completions from the OpenRouter API. Only the
// proxy holds one; the API key never reaches chat clients.
type OpenRouterClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewOpenRouterClient creates an upstream client from cfg.
func NewOpenRouterClient(cfg config.UpstreamConfig) *OpenRouterClient {
	return NewOpenRouterClientWithHTTP(cfg, NewHTTPClient(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool))
}

// NewOpenRouterClientWithHTTP creates an upstream client over client, whose
// transport gets wrapped with the attribution headers.
func NewOpenRouterClientWithHTTP(cfg config.UpstreamConfig, client *http.Client) *OpenRouterClient {
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = &openrouterTransport{base: base, siteURL: cfg.SiteURL, siteName: cfg.SiteName}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}

	return &OpenRouterClient{
		apiKey:   cfg.APIKey,
		endpoint: baseURL + "/chat/completions",
		client:   &wrapped,
	}
}

// HasKey reports whether an API key is configured.
func (c *OpenRouterClient) HasKey() bool { return c.apiKey != "" }

// OpenStream implements domain.ModelStreamer. req.Stream is passed through,
// so a non-streaming request yields the JSON completion body.
func (c *OpenRouterClient) OpenStream(ctx context.Context, model string, req domain.ChatRequest) (io.ReadCloser, error) {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	return doStreamRequest(ctx, c.client, c.endpoint, toWireRequest(model, req), headers)
}

// Name implements domain.ModelStreamer.
func (c *OpenRouterClient) Name() string { return "openrouter" }

var _ domain.ModelStreamer = (*OpenRouterClient)(nil)
