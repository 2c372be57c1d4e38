package llm

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"mindmuse/internal/domain"
)

const (
	// perMessageOverhead approximates the role and boundary tokens.
	perMessageOverhead = 4
	// replyPriming is added once per request for the assistant reply header.
	replyPriming = 3
	// imagePartTokens is the flat cost charged for an attached image.
	imagePartTokens = 85
)

// TiktokenCounter counts tokens with a BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter returns a tiktoken-backed counter for encoding, or an
// EstimateCounter when the encoding cannot be loaded (it may need to be
// downloaded on first use).
func NewTokenCounter(encoding string, logger *slog.Logger) domain.TokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn("token encoding unavailable, using estimate", "encoding", encoding, "error", err)
		return EstimateCounter{}
	}
	return &TiktokenCounter{enc: enc}
}

// Count implements domain.TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages implements domain.TokenCounter.
func (c *TiktokenCounter) CountMessages(msgs []domain.Message) int {
	return countMessages(c, msgs)
}

// EstimateCounter approximates four characters per token.
type EstimateCounter struct{}

// Count implements domain.TokenCounter.
func (EstimateCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// CountMessages implements domain.TokenCounter.
func (e EstimateCounter) CountMessages(msgs []domain.Message) int {
	return countMessages(e, msgs)
}

func countMessages(c domain.TokenCounter, msgs []domain.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	total := replyPriming
	for _, m := range msgs {
		total += perMessageOverhead + c.Count(m.Role) + c.Count(m.Text())
		for _, p := range m.Parts {
			if p.Type == domain.PartImageURL {
				total += imagePartTokens
			}
		}
	}
	return total
}

var (
	_ domain.TokenCounter = (*TiktokenCounter)(nil)
	_ domain.TokenCounter = EstimateCounter{}
)
