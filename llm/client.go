// Package llm provides the throttled, retrying LLM and embedding client used by the
// atom extraction pipeline (C3). It wraps the official OpenAI Go SDK the way
// openaiofficial.OfficialClient wraps it, and layers the rate limiter and retry
// policy the way original_source/server/utils/throttled_parser.py layers
// AsyncRateLimiter and RetryPolicy over LangchainOutputParser.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tiktoken-go/tokenizer"

	"kgraphsvc.evalgo.org/metrics"
	"kgraphsvc.evalgo.org/ratelimit"
	"kgraphsvc.evalgo.org/retry"
)

// Client is a rate-limited, retrying OpenAI-compatible client for both structured
// extraction (chat completions in JSON mode) and embeddings, each throttled by its
// own limiter/retry policy/concurrency cap per the component design.
type Client struct {
	chat       openai.Client
	embeddings openai.Client

	chatModel  string
	embedModel string
	maxTokens  int
	temp       float64

	chatLimiter  *ratelimit.Limiter
	embedLimiter *ratelimit.Limiter

	chatRetry  retry.Policy
	embedRetry retry.Policy

	chatSem  chan struct{}
	embedSem chan struct{}

	chatMaxElementsPerBatch int
	chatMaxTokensPerBatch   int
	chatMaxPendingRequests  int
	chatSleepBetweenBatches time.Duration

	counter *TokenCounter
	metrics *metrics.Metrics
}

// Config carries every knob Client needs, already resolved out of config.AppConfig
// so this package has no dependency on the config package itself.
type Config struct {
	ChatAPIKey       string
	ChatBaseURL      string
	ChatModel        string
	MaxTokens        int
	Temperature      float64
	ChatRPM, ChatTPM int
	ChatMaxInFlight  int
	ChatRetry        retry.Policy

	// ChatMaxElementsPerBatch/ChatMaxTokensPerBatch bound each batch ExtractJSON
	// groups prompts into before a single Acquire call on the chat limiter; 0
	// falls back to the limiter's own RPM/TPM capacity (no additional bound).
	ChatMaxElementsPerBatch int
	ChatMaxTokensPerBatch   int
	// ChatMaxPendingRequests fails ExtractJSON fast, before any provider call,
	// when more prompts are submitted than this in one call; 0 disables the check.
	ChatMaxPendingRequests  int
	ChatSleepBetweenBatches time.Duration

	EmbedAPIKey        string
	EmbedBaseURL       string
	EmbedModel         string
	EmbedRPM, EmbedTPM int
	EmbedMaxInFlight   int
	EmbedRetry         retry.Policy

	// Metrics is optional; when set, rate-limiter waits and retry attempts are
	// reported to it.
	Metrics *metrics.Metrics
}

// New builds a Client from cfg. Token counting falls back to a char/4 estimate if
// the tokenizer codec can't be constructed for the configured model, mirroring
// TokenCounter.CountTokens's fallback.
func New(cfg Config) *Client {
	chatOpts := []option.RequestOption{option.WithAPIKey(cfg.ChatAPIKey)}
	if cfg.ChatBaseURL != "" {
		chatOpts = append(chatOpts, option.WithBaseURL(cfg.ChatBaseURL))
	}
	embedOpts := []option.RequestOption{option.WithAPIKey(cfg.EmbedAPIKey)}
	if cfg.EmbedBaseURL != "" {
		embedOpts = append(embedOpts, option.WithBaseURL(cfg.EmbedBaseURL))
	}

	chatLimiter := ratelimit.New(cfg.ChatRPM, cfg.ChatTPM)

	c := &Client{
		chat:         openai.NewClient(chatOpts...),
		embeddings:   openai.NewClient(embedOpts...),
		chatModel:    cfg.ChatModel,
		embedModel:   cfg.EmbedModel,
		maxTokens:    cfg.MaxTokens,
		temp:         cfg.Temperature,
		chatLimiter:  chatLimiter,
		embedLimiter: ratelimit.New(cfg.EmbedRPM, cfg.EmbedTPM),
		chatRetry:    cfg.ChatRetry,
		embedRetry:   cfg.EmbedRetry,

		chatMaxElementsPerBatch: clampToCapacity(cfg.ChatMaxElementsPerBatch, requestCapacity(chatLimiter)),
		chatMaxTokensPerBatch:   clampToCapacity(cfg.ChatMaxTokensPerBatch, tokenCapacity(chatLimiter)),
		chatMaxPendingRequests:  cfg.ChatMaxPendingRequests,
		chatSleepBetweenBatches: cfg.ChatSleepBetweenBatches,

		counter: NewTokenCounter(cfg.ChatModel),
		metrics: cfg.Metrics,
	}
	if cfg.ChatMaxInFlight > 0 {
		c.chatSem = make(chan struct{}, cfg.ChatMaxInFlight)
	}
	if cfg.EmbedMaxInFlight > 0 {
		c.embedSem = make(chan struct{}, cfg.EmbedMaxInFlight)
	}
	return c
}

func requestCapacity(l *ratelimit.Limiter) int { requests, _ := l.Capacity(); return requests }
func tokenCapacity(l *ratelimit.Limiter) int    { _, tokens := l.Capacity(); return tokens }

// clampToCapacity keeps a configured batch bound under the limiter's bucket capacity
// so a single Acquire call for a batch can always eventually be satisfied by refill;
// a configured bound of 0 or above capacity falls back to capacity itself, and a
// disabled (0) bucket leaves the configured bound untouched.
func clampToCapacity(configured, capacity int) int {
	if capacity <= 0 {
		return configured
	}
	if configured <= 0 || configured > capacity {
		return capacity
	}
	return configured
}

// acquireLimiter wraps limiter.Acquire with an optional wait-time observation, so
// rate_limiter_wait_seconds reflects how much the pipeline is actually throttled.
func (c *Client) acquireLimiter(ctx context.Context, limiter *ratelimit.Limiter, name string, requests, tokens int) error {
	start := time.Now()
	err := limiter.Acquire(ctx, requests, tokens)
	if c.metrics != nil {
		c.metrics.ObserveRateLimiterWait(name, time.Since(start))
	}
	return err
}

// retryWithMetrics runs retry.Do and, when metrics are configured, reports every
// attempt beyond the first as a retry and the call's final outcome.
func (c *Client) retryWithMetrics(ctx context.Context, name string, policy retry.Policy, fn func(ctx context.Context) error) error {
	attempts := 0
	err := retry.Do(ctx, policy, retry.IsRetryable, func(ctx context.Context) error {
		attempts++
		if attempts > 1 && c.metrics != nil {
			c.metrics.ObserveRetry(name, "retried")
		}
		return fn(ctx)
	})
	if c.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		c.metrics.ObserveRetry(name, outcome)
	}
	return err
}

func (c *Client) acquireSem(ctx context.Context, sem chan struct{}) (func(), error) {
	if sem == nil {
		return func() {}, nil
	}
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CountTokens exposes the client's token estimator, mainly for tests; ExtractJSON
// and Embed size their own batches/requests internally.
func (c *Client) CountTokens(text string) int {
	return c.counter.CountTokens(text)
}

// Embed computes embeddings for a batch of texts as one provider call, acquiring
// the embedding rate limiter for the whole batch's estimated token cost first, the
// way calculate_embeddings acquires once per aembed_documents call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	tokenEstimate := 0
	for _, t := range texts {
		tokenEstimate += c.counter.CountTokens(t)
	}
	if err := c.acquireLimiter(ctx, c.embedLimiter, "embeddings", 1, tokenEstimate); err != nil {
		return nil, fmt.Errorf("acquire embedding rate limit: %w", err)
	}

	release, err := c.acquireSem(ctx, c.embedSem)
	if err != nil {
		return nil, fmt.Errorf("acquire embedding concurrency slot: %w", err)
	}
	defer release()

	var out [][]float64
	err = c.retryWithMetrics(ctx, "embeddings", c.embedRetry, func(ctx context.Context) error {
		resp, err := c.embeddings.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: c.embedModel,
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		})
		if err != nil {
			return err
		}
		out = make([][]float64, len(resp.Data))
		for i, d := range resp.Data {
			out[i] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	return out, nil
}

// ExtractJSON submits one chat completion per prompt in prompts, each constrained
// to JSON-object output, throttled and retried per batch exactly like
// extract_information_as_json_for_context: contexts are partitioned into batches
// under the configured element/token limits, each batch acquires the chat limiter
// once for its own size before any of its calls, and batch outputs are concatenated
// in order (the Go client issues one call per prompt within a batch rather than
// langchain's internal abatch, since openai-go has no batch-completions endpoint
// equivalent). systemPrompt is sent as the system message on every call. If
// max_pending_requests is configured and prompts exceeds it, ExtractJSON fails with
// a configuration error before making any call, per the throttled-parser contract.
func (c *Client) ExtractJSON(ctx context.Context, systemPrompt string, prompts []string) ([]string, error) {
	if len(prompts) == 0 {
		return nil, nil
	}
	if c.chatMaxPendingRequests > 0 && len(prompts) > c.chatMaxPendingRequests {
		return nil, fmt.Errorf("extract json: %d contexts exceeds configured max_pending_requests of %d", len(prompts), c.chatMaxPendingRequests)
	}

	batches := c.splitPromptsIntoBatches(systemPrompt, prompts)

	outputs := make([]string, 0, len(prompts))
	for i, batch := range batches {
		tokenEstimate := c.counter.CountTokens(systemPrompt) * len(batch)
		for _, p := range batch {
			tokenEstimate += c.counter.CountTokens(p)
		}
		if err := c.acquireLimiter(ctx, c.chatLimiter, "chat", len(batch), tokenEstimate); err != nil {
			return nil, fmt.Errorf("acquire chat rate limit: %w", err)
		}

		batchOutputs, err := c.extractBatch(ctx, systemPrompt, batch, len(outputs), len(prompts))
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, batchOutputs...)

		if i < len(batches)-1 && c.chatSleepBetweenBatches > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.chatSleepBetweenBatches):
			}
		}
	}
	return outputs, nil
}

// extractBatch issues one chat completion per prompt in batch, sequentially within
// the batch (concurrency across prompts is bounded separately by c.chatSem).
// offset/total are only used to annotate errors with the prompt's position across
// the whole ExtractJSON call, not just within this batch.
func (c *Client) extractBatch(ctx context.Context, systemPrompt string, batch []string, offset, total int) ([]string, error) {
	outputs := make([]string, len(batch))
	for i, prompt := range batch {
		release, err := c.acquireSem(ctx, c.chatSem)
		if err != nil {
			return nil, fmt.Errorf("acquire chat concurrency slot: %w", err)
		}

		err = c.retryWithMetrics(ctx, "chat", c.chatRetry, func(ctx context.Context) error {
			params := openai.ChatCompletionNewParams{
				Model: c.chatModel,
				Messages: []openai.ChatCompletionMessageParamUnion{
					openai.SystemMessage(systemPrompt),
					openai.UserMessage(prompt),
				},
				Temperature: openai.Float(c.temp),
				ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
					OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
				},
			}
			if c.maxTokens > 0 {
				params.MaxTokens = openai.Int(int64(c.maxTokens))
			}

			resp, err := c.chat.Chat.Completions.New(ctx, params)
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("empty choices in chat completion response")
			}
			outputs[i] = resp.Choices[0].Message.Content
			return nil
		})
		release()
		if err != nil {
			return nil, fmt.Errorf("extract json (prompt %d/%d): %w", offset+i+1, total, err)
		}
	}
	return outputs, nil
}

// splitPromptsIntoBatches groups prompts so each batch's element count stays under
// c.chatMaxElementsPerBatch and its estimated token sum (systemPrompt repeated once
// per prompt, the way every call in the batch resends it) stays under
// c.chatMaxTokensPerBatch, mirroring split_prompts_into_batches. Either limit of 0
// means unbounded for that dimension. A single prompt that alone exceeds the token
// limit still gets its own one-element batch rather than being dropped or split.
func (c *Client) splitPromptsIntoBatches(systemPrompt string, prompts []string) [][]string {
	maxElements := c.chatMaxElementsPerBatch
	maxTokens := c.chatMaxTokensPerBatch
	sysTokens := c.counter.CountTokens(systemPrompt)

	var batches [][]string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
	}

	for _, p := range prompts {
		cost := sysTokens + c.counter.CountTokens(p)
		exceedsElements := maxElements > 0 && len(current) >= maxElements
		exceedsTokens := maxTokens > 0 && len(current) > 0 && currentTokens+cost > maxTokens
		if exceedsElements || exceedsTokens {
			flush()
		}
		current = append(current, p)
		currentTokens += cost
	}
	flush()

	return batches
}

// TokenCounter estimates token counts with the same GPT-4-family codec and
// char/4 fallback as SnapdragonPartners-maestro's pkg/utils.TokenCounter.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter builds a TokenCounter for model, defaulting to the GPT-4 codec
// for any model this service doesn't special-case.
func NewTokenCounter(model string) *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

// CountTokens returns text's estimated token count, falling back to a char/4
// heuristic if no codec is available or encoding fails.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.codec == nil {
		return len(text) / 4
	}
	ids, _, err := tc.codec.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}
