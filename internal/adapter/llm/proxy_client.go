package llm

import (
	"context"
	"io"
	"net/http"
	"strings"

	"mindmuse/internal/domain"
	"mindmuse/internal/infra/config"
)

// ProxyClient streams completions through the MindMuse proxy's /api/chat
// endpoint. It holds no upstream credential.
type ProxyClient struct {
	endpoint string
	client   *http.Client
}

// NewProxyClient creates a client for the proxy at cfg.ProxyURL.
func NewProxyClient(cfg config.ClientConfig) *ProxyClient {
	return NewProxyClientWithHTTP(cfg.ProxyURL, NewHTTPClient(cfg.ConnTimeout, cfg.RespTimeout, config.PoolConfig{}))
}

// NewProxyClientWithHTTP creates a client with a caller-supplied *http.Client.
func NewProxyClientWithHTTP(proxyURL string, client *http.Client) *ProxyClient {
	return &ProxyClient{
		endpoint: strings.TrimRight(proxyURL, "/") + "/api/chat",
		client:   client,
	}
}

// OpenStream implements domain.ModelStreamer. The request is always sent
// with stream=true.
func (c *ProxyClient) OpenStream(ctx context.Context, model string, req domain.ChatRequest) (io.ReadCloser, error) {
	req.Stream = true
	return doStreamRequest(ctx, c.client, c.endpoint, toWireRequest(model, req), nil)
}

// Name implements domain.ModelStreamer.
func (c *ProxyClient) Name() string { return "proxy" }

var _ domain.ModelStreamer = (*ProxyClient)(nil)
