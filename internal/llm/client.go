package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/pkg/circuitbreaker"
	"github.com/draftsmith/backend/pkg/logger"
	"github.com/draftsmith/backend/pkg/retry"
)

type Client struct {
	client         *openai.Client
	embeddingModel string
	temperature    float32
	maxTokens      int
	cb             *circuitbreaker.CircuitBreaker
	retryPolicy    retry.Policy
}

// Message is one prior turn passed as conversation context.
type Message struct {
	Role    string
	Content string
}

type CompletionRequest struct {
	Model        string
	SystemPrompt string
	History      []Message
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
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

func NewClient(apiKey, baseURL, embeddingModel string, temperature float32, maxTokens int) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(cfg)

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryPolicy := retry.Policy{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cb:             cb,
		retryPolicy:    retryPolicy,
	}
}

// Complete runs a chat completion against the model named in the
// request. The caller decides the model tier; there is no default.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.SystemPrompt,
	})
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryPolicy, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       req.Model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			logger.Debug("LLM completion generated",
				zap.String("model", req.Model),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

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

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryPolicy, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embedding, nil
}

func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var embeddings [][]float32

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryPolicy, func() error {
				resp, err := c.client.CreateEmbeddings(
					ctx,
					openai.EmbeddingRequest{
						Input: batch,
						Model: openai.EmbeddingModel(c.embeddingModel),
					},
				)

				if err != nil {
					return fmt.Errorf("failed to generate batch embeddings: %w", err)
				}

				for _, data := range resp.Data {
					embedding := make([]float32, len(data.Embedding))
					copy(embedding, data.Embedding)
					embeddings = append(embeddings, embedding)
				}

				return nil
			})
		})

		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

// SummarizeDocument produces the short summary stored alongside an
// ingested document.
func (c *Client) SummarizeDocument(ctx context.Context, model, content string) (string, error) {
	systemPrompt := `You summarize documents for a writing assistant. Produce a concise 2-3 sentence summary of the document below.
Focus on the document's subject, its main claims or sections, and its intended audience. Be specific.`

	userPrompt := fmt.Sprintf("Summarize this document:\n\n%s", content)

	resp, err := c.Complete(ctx, CompletionRequest{
		Model:        model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.3,
		MaxTokens:    300,
	})

	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}

	return resp.Content, nil
}

// SuggestQuestions proposes follow-up questions given the recent
// conversation and the coverage summary.
func (c *Client) SuggestQuestions(ctx context.Context, model, conversationContext, coverageSummary string) ([]string, error) {
	systemPrompt := `You suggest follow-up questions for a user exploring source documents with an assistant.
Given the recent conversation and a summary of which parts of the documents have been consulted so far,
suggest 3 short questions that would surface material the user has not seen yet.
Return each question on its own line with no numbering or bullets.`

	userPrompt := fmt.Sprintf("Recent conversation:\n%s\n\nCoverage so far:\n%s", conversationContext, coverageSummary)

	resp, err := c.Complete(ctx, CompletionRequest{
		Model:        model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.7,
		MaxTokens:    300,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to suggest questions: %w", err)
	}

	var questions []string
	var withMark []string
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" {
			continue
		}
		questions = append(questions, line)
		if strings.HasSuffix(line, "?") {
			withMark = append(withMark, line)
		}
	}
	// Models sometimes prepend a preamble line; when actual questions
	// are present, keep only those.
	if len(withMark) > 0 {
		questions = withMark
	}
	if len(questions) > 3 {
		questions = questions[:3]
	}

	return questions, nil
}

// TitleConversation names a conversation after its first exchange.
func (c *Client) TitleConversation(ctx context.Context, model, firstMessage string) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		Model:        model,
		SystemPrompt: "Produce a title of at most 6 words for a conversation that starts with the given message. Return only the title.",
		UserPrompt:   firstMessage,
		Temperature:  0.3,
		MaxTokens:    30,
	})

	if err != nil {
		return "", fmt.Errorf("failed to title conversation: %w", err)
	}

	title := strings.Trim(strings.TrimSpace(resp.Content), `"`)
	return title, nil
}
