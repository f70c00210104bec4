package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("embedding:%s", textHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("embedding:%s", textHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	err = json.Unmarshal(data, &embedding)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}

func (c *Client) SetSuggestions(ctx context.Context, conversationID string, questions []string, ttl time.Duration) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("failed to marshal suggestions: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("suggestions:%s", conversationID), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set suggestions cache: %w", err)
	}

	return nil
}

func (c *Client) GetSuggestions(ctx context.Context, conversationID string) ([]string, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("suggestions:%s", conversationID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get suggestions cache: %w", err)
	}

	var questions []string
	err = json.Unmarshal(data, &questions)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal suggestions: %w", err)
	}

	return questions, true, nil
}

// InvalidateSuggestions drops cached follow-up questions after a turn
// changes the conversation's coverage state.
func (c *Client) InvalidateSuggestions(ctx context.Context, conversationID string) error {
	err := c.client.Del(ctx, fmt.Sprintf("suggestions:%s", conversationID)).Err()
	if err != nil {
		return fmt.Errorf("failed to invalidate suggestions: %w", err)
	}
	return nil
}
