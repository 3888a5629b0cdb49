package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dilshanka/Rag-Pipeline/internal/metrics"
	"github.com/dilshanka/Rag-Pipeline/pkg/circuitbreaker"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
	"github.com/dilshanka/Rag-Pipeline/pkg/retry"
)

// API is the subset of the OpenAI client used here.
type API interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

type Config struct {
	APIKey             string
	BaseURL            string
	Model              string
	VisionModel        string
	EmbeddingModel     string
	EmbeddingDim       int
	EmbeddingBatchSize int
	Temperature        float32
	MaxTokens          int
	Timeout            time.Duration
	RequestsPerSecond  float64
}

type Client struct {
	api            API
	model          string
	visionModel    string
	embeddingModel string
	embeddingDim   int
	batchSize      int
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.Breaker
	retryPolicy    retry.Policy
	limiter        *rate.Limiter
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	// Images are PNG bytes attached to the user message.
	Images      [][]byte
	Model       string
	Temperature float32
	MaxTokens   int
	// Attempts overrides the retry budget; 1 disables retries for callers
	// that run their own policy.
	Attempts int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return NewClientWithAPI(openai.NewClientWithConfig(oc), cfg)
}

// NewClientWithAPI builds a client over any API implementation.
func NewClientWithAPI(api API, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = 64
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}

	// Rejected requests (4xx other than 429) say nothing about the health of
	// the API and must not open the breaker.
	cb := circuitbreaker.New("llm", circuitbreaker.Settings{
		TripAfter:  5,
		CloseAfter: 2,
		Probes:     5,
		OpenFor:    30 * time.Second,
		Window:     time.Minute,
		IsFailure: func(err error) bool {
			return !retry.IsPermanent(err)
		},
		OnTransition: func(name string, _, to circuitbreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})

	retryPolicy := retry.Policy{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	logger.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.String("vision_model", cfg.VisionModel),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &Client{
		api:            api,
		model:          cfg.Model,
		visionModel:    cfg.VisionModel,
		embeddingModel: cfg.EmbeddingModel,
		embeddingDim:   cfg.EmbeddingDim,
		batchSize:      cfg.EmbeddingBatchSize,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		timeout:        cfg.Timeout,
		cb:             cb,
		retryPolicy:    retryPolicy,
		limiter:        rate.NewLimiter(limit, burst),
	}
}

// SetRetryPolicy replaces the policy used around each API call.
func (c *Client) SetRetryPolicy(p retry.Policy) {
	c.retryPolicy = p
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, userMessage(req.UserPrompt, req.Images))

	policy := c.retryPolicy
	if req.Attempts > 0 {
		policy.MaxAttempts = req.Attempts
	}

	var result *CompletionResponse
	err := c.cb.Do(ctx, func() error {
		return retry.Do(ctx, policy, func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}

			resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       model,
				Messages:    messages,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
			if err != nil {
				return classify(fmt.Errorf("failed to create completion: %w", err))
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			logger.Debug("LLM completion generated",
				zap.String("model", model),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)
			metrics.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(resp.Usage.CompletionTokens))

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func userMessage(prompt string, images [][]byte) openai.ChatCompletionMessage {
	if len(images) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt}
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt}}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return err
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500:
			return retry.Permanent(err)
		}
	}
	return err
}

// Dimension is the configured embedding width, 0 if unknown.
func (c *Client) Dimension() int {
	return c.embeddingDim
}

// Embed returns one vector per input text, in input order, calling the API
// in batches.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		err := c.cb.Do(ctx, func() error {
			return retry.Do(ctx, c.retryPolicy, func() error {
				if err := c.limiter.Wait(ctx); err != nil {
					return retry.Permanent(err)
				}

				callCtx, cancel := context.WithTimeout(ctx, c.timeout)
				defer cancel()

				resp, err := c.api.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.embeddingModel),
				})
				if err != nil {
					return classify(fmt.Errorf("failed to generate embeddings: %w", err))
				}
				if len(resp.Data) != len(batch) {
					return fmt.Errorf("embedding count mismatch: sent %d, got %d", len(batch), len(resp.Data))
				}

				for i, data := range resp.Data {
					idx := i
					if data.Index >= 0 && data.Index < len(batch) {
						idx = data.Index
					}
					embeddings[start+idx] = data.Embedding
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))
	return embeddings, nil
}
