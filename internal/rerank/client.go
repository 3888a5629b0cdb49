// Package rerank talks to a cross-encoder scoring service over HTTP.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
	"github.com/dilshanka/Rag-Pipeline/pkg/retry"
)

type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	policy     retry.Policy
}

type scoreRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type scoreResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func NewClient(url, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 2
	policy.Logger = logger.GetLogger()

	return &Client{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		policy: policy,
	}
}

// Score returns one score per text, in input order. Texts the service leaves
// out score zero.
func (c *Client) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(scoreRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	results, err := retry.DoWithResult(ctx, c.policy, func() ([]scoreResult, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(texts))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, fmt.Errorf("rerank service returned index %d for %d texts", r.Index, len(texts))
		}
		scores[r.Index] = r.Score
	}

	logger.Debug("Rerank scores received", zap.Int("texts", len(texts)))
	return scores, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]scoreResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call rerank service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("rerank service returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var results []scoreResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return results, nil
}
