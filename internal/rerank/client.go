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

	"github.com/draftsmith/backend/pkg/logger"
	"github.com/draftsmith/backend/pkg/retry"
)

// Client calls a cross-encoder scoring service over HTTP. The service
// returns one raw relevance logit per passage; callers normalize the
// logits themselves.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	retryPolicy retry.Policy
}

type Passage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type rerankRequest struct {
	Query    string    `json:"query"`
	Passages []Passage `json:"passages"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

func NewClient(endpoint string, timeoutSec int) *Client {
	if timeoutSec == 0 {
		timeoutSec = 10
	}

	logger.Info("Reranker client initialized", zap.String("endpoint", endpoint))

	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
		retryPolicy: retry.Policy{
			MaxAttempts:    2,
			InitialDelay:   200 * time.Millisecond,
			MaxDelay:       time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}
}

// Rerank scores each passage against the query. The returned slice is
// positionally aligned with passages.
func (c *Client) Rerank(ctx context.Context, query string, passages []Passage) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(rerankRequest{
		Query:    query,
		Passages: passages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	var scores []float64

	err = retry.Do(ctx, c.retryPolicy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to call reranker: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("reranker returned status %d: %s", resp.StatusCode, string(body))
		}

		var rerankResp rerankResponse
		if err := json.NewDecoder(resp.Body).Decode(&rerankResp); err != nil {
			return fmt.Errorf("failed to parse rerank response: %w", err)
		}

		if len(rerankResp.Scores) != len(passages) {
			return fmt.Errorf("reranker returned %d scores for %d passages", len(rerankResp.Scores), len(passages))
		}

		scores = rerankResp.Scores
		return nil
	})

	if err != nil {
		return nil, err
	}

	logger.Debug("Passages reranked",
		zap.String("query", query),
		zap.Int("count", len(scores)),
	)

	return scores, nil
}
