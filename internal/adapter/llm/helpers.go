package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mindmuse/internal/domain"
)

// maxErrorBody bounds how much of a failed response we keep for diagnostics.
const maxErrorBody = 4096

// doStreamRequest POSTs payload as JSON and returns the open response body
// on a 2xx answer. The caller must close it. Transport failures wrap
// domain.ErrTransport; other statuses become *domain.UpstreamStatusError.
func doStreamRequest(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	return httpResp.Body, nil
}

// mapHTTPError maps an HTTP status code + response body to a domain error so
// the circuit breaker and logs can classify it.
func mapHTTPError(statusCode int, body []byte) error {
	se := &domain.UpstreamStatusError{
		StatusCode: statusCode,
		Body:       strings.TrimSpace(string(body)),
	}

	switch {
	case statusCode == http.StatusTooManyRequests: // 429
		se.Kind = domain.ErrRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden: // 401, 403
		se.Kind = domain.ErrAuthInvalid
	case statusCode == http.StatusRequestEntityTooLarge: // 413
		se.Kind = domain.ErrContextOverflow
	}
	return se
}
