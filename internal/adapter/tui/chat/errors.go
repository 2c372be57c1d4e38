package chat

import (
	"context"
	"errors"

	"mindmuse/internal/domain"
)

// friendlyError turns an error into a line a user can act on.
func friendlyError(err error) string {
	var de *domain.DomainError
	switch {
	case errors.Is(err, domain.ErrInvalidInput) && errors.As(err, &de) && de.Detail != "":
		return de.Detail
	case errors.Is(err, domain.ErrStore):
		return "Could not read or save settings. Check store.path in your config."
	case errors.Is(err, domain.ErrRateLimit):
		return "You are sending messages quickly. Wait a moment and try again."
	case errors.Is(err, domain.ErrAuthInvalid):
		return "The chat server rejected the request. Check the proxy's API key."
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "The request took too long. Try again."
	case errors.Is(err, domain.ErrTransport):
		return "Could not reach the chat server. Check client.proxy_url and your connection."
	default:
		return err.Error()
	}
}

// silentError reports errors the user already saw the effect of.
func silentError(err error) bool {
	return err == nil ||
		errors.Is(err, domain.ErrTurnSuperseded) ||
		errors.Is(err, domain.ErrNoUserInput) ||
		errors.Is(err, context.Canceled)
}
