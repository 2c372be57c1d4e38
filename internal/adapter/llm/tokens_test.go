package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mindmuse/internal/domain"
)

func TestEstimateCounter(t *testing.T) {
	var c EstimateCounter
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 2, c.Count("abcde"))
}

func TestCountMessagesAddsOverhead(t *testing.T) {
	var c EstimateCounter
	assert.Zero(t, c.CountMessages(nil))

	msgs := []domain.Message{{Role: "user", Content: "abcd"}}
	// priming 3 + overhead 4 + role 1 + content 1
	assert.Equal(t, 9, c.CountMessages(msgs))

	withImage := []domain.Message{{Role: "user", Parts: []domain.ContentPart{domain.TextPart("abcd"), domain.ImagePart("u")}}}
	assert.Equal(t, 9+imagePartTokens, c.CountMessages(withImage))
}

func TestNewTokenCounterUnknownEncodingFallsBack(t *testing.T) {
	c := NewTokenCounter("no_such_encoding", discardLogger())
	_, ok := c.(EstimateCounter)
	assert.True(t, ok, "expected EstimateCounter, got %T", c)
}
