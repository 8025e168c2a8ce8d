package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/metrics"
	"github.com/billing-agent/backend/pkg/circuitbreaker"
	"github.com/billing-agent/backend/pkg/logger"
	"github.com/billing-agent/backend/pkg/retry"
)

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

type Message struct {
	Role    string
	Content string
}

// Completer turns an ordered message list into one completion text.
type Completer interface {
	Complete(ctx context.Context, messages []Message, temperature float32, maxTokens int) (string, error)
}

// Embedder maps text to fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	BatchSize      int
	MaxRetries     int
	Timeout        time.Duration
	HTTPClient     *http.Client
}

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	batchSize      int
	timeout        time.Duration
	cb             *circuitbreaker.Breaker
	policy         retry.Policy
}

func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Settings{
		HalfOpenRequests: 2,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        isTransient,
		Logger:           logger.GetLogger(),
	})

	policy := retry.DefaultPolicy()
	policy.InitialDelay = 500 * time.Millisecond
	if opts.MaxRetries > 0 {
		policy.MaxAttempts = opts.MaxRetries
	}
	policy.Retryable = isTransient
	policy.Logger = logger.GetLogger()

	logger.Info("LLM client initialized",
		zap.String("model", opts.Model),
		zap.String("embedding_model", opts.EmbeddingModel),
		zap.Int("batch_size", opts.BatchSize),
	)

	return &Client{
		client:         openai.NewClientWithConfig(cfg),
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		batchSize:      opts.BatchSize,
		timeout:        opts.Timeout,
		cb:             cb,
		policy:         policy,
	}
}

func (c *Client) Complete(ctx context.Context, messages []Message, temperature float32, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// The request omits a zero temperature and the API then samples at 1.
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := circuitbreaker.Call(c.cb, func() (openai.ChatCompletionResponse, error) {
		return retry.DoWithResult(ctx, c.policy, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
			return c.client.CreateChatCompletion(ctx, req)
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("failed to create completion: empty choices")
	}

	metrics.LLMTokens.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokens.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))
	logger.Debug("LLM completion generated",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return resp.Choices[0].Message.Content, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch splits texts into requests of at most the configured batch size
// and returns vectors in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		resp, err := circuitbreaker.Call(c.cb, func() (openai.EmbeddingResponse, error) {
			return retry.DoWithResult(ctx, c.policy, func(ctx context.Context) (openai.EmbeddingResponse, error) {
				return c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.embeddingModel),
				})
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("failed to generate embeddings: got %d vectors for %d inputs", len(resp.Data), len(batch))
		}

		vectors := make([][]float32, len(batch))
		for i, d := range resp.Data {
			idx := d.Index
			if idx < 0 || idx >= len(batch) {
				idx = i
			}
			vectors[idx] = d.Embedding
		}
		out = append(out, vectors...)

		metrics.LLMTokens.WithLabelValues(c.embeddingModel, "embedding").Add(float64(resp.Usage.PromptTokens))
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(out)))
	return out, nil
}

// isTransient reports rate limits, server errors and transport failures.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}
