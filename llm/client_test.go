package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenCounter_FallsBackToCharEstimateWithoutCodec(t *testing.T) {
	tc := &TokenCounter{}
	assert.Equal(t, len("twenty characters!!!")/4, tc.CountTokens("twenty characters!!!"))
}

func TestTokenCounter_UsesCodecWhenAvailable(t *testing.T) {
	tc := NewTokenCounter("gpt-4")
	count := tc.CountTokens("The quick brown fox jumps over the lazy dog.")
	assert.Greater(t, count, 0)
}

func TestClient_Embed_EmptyInputShortCircuits(t *testing.T) {
	c := New(Config{ChatModel: "gpt-4", EmbedModel: "text-embedding-3-small"})
	out, err := c.Embed(t.Context(), nil)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestClient_ExtractJSON_EmptyInputShortCircuits(t *testing.T) {
	c := New(Config{ChatModel: "gpt-4", EmbedModel: "text-embedding-3-small"})
	out, err := c.ExtractJSON(t.Context(), "system", nil)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestClient_ExtractJSON_FailsFastOverMaxPendingRequests(t *testing.T) {
	c := New(Config{ChatModel: "gpt-4", EmbedModel: "text-embedding-3-small", ChatMaxPendingRequests: 2})
	_, err := c.ExtractJSON(t.Context(), "system", []string{"a", "b", "c"})
	assert.ErrorContains(t, err, "max_pending_requests")
}

func TestSplitPromptsIntoBatches_BoundsByElementCount(t *testing.T) {
	c := New(Config{ChatModel: "gpt-4", EmbedModel: "text-embedding-3-small"})
	c.chatMaxElementsPerBatch = 2
	c.chatMaxTokensPerBatch = 0

	batches := c.splitPromptsIntoBatches("sys", []string{"a", "b", "c", "d", "e"})
	assert.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
}

func TestSplitPromptsIntoBatches_BoundsByTokenSum(t *testing.T) {
	c := New(Config{ChatModel: "gpt-4", EmbedModel: "text-embedding-3-small"})
	c.chatMaxElementsPerBatch = 0
	c.chatMaxTokensPerBatch = c.counter.CountTokens("sys") + c.counter.CountTokens("a long prompt here")

	batches := c.splitPromptsIntoBatches("sys", []string{"a long prompt here", "a long prompt here", "a long prompt here"})
	assert.Len(t, batches, 3)
	for _, b := range batches {
		assert.Len(t, b, 1)
	}
}

func TestSplitPromptsIntoBatches_OversizedPromptGetsOwnBatch(t *testing.T) {
	c := New(Config{ChatModel: "gpt-4", EmbedModel: "text-embedding-3-small"})
	c.chatMaxElementsPerBatch = 0
	c.chatMaxTokensPerBatch = 1

	batches := c.splitPromptsIntoBatches("sys", []string{"this prompt alone exceeds the configured token budget"})
	assert.Len(t, batches, 1)
	assert.Len(t, batches[0], 1)
}

func TestClampToCapacity(t *testing.T) {
	assert.Equal(t, 10, clampToCapacity(0, 10), "unconfigured falls back to capacity")
	assert.Equal(t, 10, clampToCapacity(50, 10), "configured above capacity is clamped down")
	assert.Equal(t, 5, clampToCapacity(5, 10), "configured under capacity is kept")
	assert.Equal(t, 50, clampToCapacity(50, 0), "disabled bucket leaves the configured bound alone")
}
