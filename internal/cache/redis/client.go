package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
)

// Client caches answers and embeddings. Keys are namespaced by collection so
// several corpora can share one redis database.
type Client struct {
	client       *redis.Client
	prefix       string
	answerTTL    time.Duration
	embeddingTTL time.Duration
}

type Options struct {
	Host         string
	Port         int
	Password     string
	DB           int
	Collection   string
	AnswerTTL    time.Duration
	EmbeddingTTL time.Duration
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", opts.Host, opts.Port)))

	return &Client{
		client:       client,
		prefix:       "rag:" + opts.Collection + ":",
		answerTTL:    opts.AnswerTTL,
		embeddingTTL: opts.EmbeddingTTL,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) answerKey(hash string) string    { return c.prefix + "answer:" + hash }
func (c *Client) embeddingKey(hash string) string { return c.prefix + "embedding:" + hash }

func (c *Client) SetAnswer(ctx context.Context, queryHash string, answer interface{}) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}

	if err := c.client.Set(ctx, c.answerKey(queryHash), data, c.answerTTL).Err(); err != nil {
		return fmt.Errorf("failed to set answer cache: %w", err)
	}

	logger.Debug("Answer cached", zap.String("query_hash", queryHash), zap.Duration("ttl", c.answerTTL))
	return nil
}

func (c *Client) GetAnswer(ctx context.Context, queryHash string, answer interface{}) (bool, error) {
	data, err := c.client.Get(ctx, c.answerKey(queryHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get answer cache: %w", err)
	}

	if err := json.Unmarshal(data, answer); err != nil {
		return false, fmt.Errorf("failed to unmarshal answer: %w", err)
	}

	logger.Debug("Answer cache hit", zap.String("query_hash", queryHash))
	return true, nil
}

// GetEmbeddings looks up many text hashes in one round trip. The result has
// the same length as hashes; misses are nil.
func (c *Client) GetEmbeddings(ctx context.Context, hashes []string) ([][]float32, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = c.embeddingKey(h)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	out := make([][]float32, len(hashes))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(s), &vec); err != nil {
			logger.Warn("Dropping corrupt cached embedding", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) SetEmbeddings(ctx context.Context, hashes []string, vectors [][]float32) error {
	if len(hashes) != len(vectors) {
		return fmt.Errorf("hash/vector count mismatch: %d != %d", len(hashes), len(vectors))
	}

	pipe := c.client.Pipeline()
	for i, h := range hashes {
		data, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		pipe.Set(ctx, c.embeddingKey(h), data, c.embeddingTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embeddings cached", zap.Int("count", len(hashes)))
	return nil
}

// InvalidateAnswers drops every cached answer of the collection. Called after
// the corpus changes.
func (c *Client) InvalidateAnswers(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"answer:*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Answer cache invalidated", zap.Int("keys", deleted))
	return nil
}
