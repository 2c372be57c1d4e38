package domain

import (
	"context"
	"io"
)

// ModelStreamer opens a streaming chat completion against a single model.
// Implementations return the raw response body on an HTTP-ok answer and an
// error (transport or *UpstreamStatusError) otherwise.
type ModelStreamer interface {
	// OpenStream sends req with req.Model replaced by model.
	OpenStream(ctx context.Context, model string, req ChatRequest) (io.ReadCloser, error)
	// Name returns the streamer's identifier (e.g., "proxy", "openrouter").
	Name() string
}

// ModelCandidate is one entry of the ordered fallback list.
type ModelCandidate struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// CandidateList builds the ordered fallback list: the selected model first,
// then the safety list. Empty and repeated identifiers are dropped so no
// model is attempted twice in one turn.
func CandidateList(selected string, safety []string) []ModelCandidate {
	seen := make(map[string]bool, len(safety)+1)
	out := make([]ModelCandidate, 0, len(safety)+1)
	for _, id := range append([]string{selected}, safety...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, ModelCandidate{ID: id, Order: len(out)})
	}
	return out
}

// ModelStream is an open response body from the candidate that answered.
type ModelStream struct {
	// Model is the candidate that produced the body.
	Model string
	// Attempts is how many candidates were tried, including the winner.
	Attempts int
	// Body yields the response bytes, starting with the byte that proved
	// the candidate alive. Closing it releases the connection.
	Body io.ReadCloser
}

// StreamSelector opens the first candidate, in order, that answers.
type StreamSelector interface {
	Send(ctx context.Context, req ChatRequest, candidates []ModelCandidate) (*ModelStream, error)
}

// TokenCounter estimates token usage of messages.
type TokenCounter interface {
	Count(text string) int
	CountMessages(msgs []Message) int
}
