package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/internal/citation"
	"github.com/draftsmith/backend/internal/confidence"
	"github.com/draftsmith/backend/internal/coverage"
	"github.com/draftsmith/backend/internal/generation"
	"github.com/draftsmith/backend/internal/intent"
	"github.com/draftsmith/backend/internal/llm"
	"github.com/draftsmith/backend/internal/retrieval"
	"github.com/draftsmith/backend/internal/storage/models"
	"github.com/draftsmith/backend/pkg/logger"
)

// ConversationStore persists conversations and their coverage state.
type ConversationStore interface {
	GetConversation(id string) (*models.Conversation, error)
	CreateConversation(conv *models.Conversation) error
	AppendMessage(conversationID string, msg *models.ChatMessage) error
	UpdateCoverage(conv *models.Conversation) error
	ListConversations(limit int) ([]models.Conversation, error)
	RenameConversation(id, title string) error
	DeleteConversation(id string) error
}

// LanguageModel is the generation collaborator plus the small
// auxiliary completions chat needs.
type LanguageModel interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	TitleConversation(ctx context.Context, model, firstMessage string) (string, error)
	SuggestQuestions(ctx context.Context, model, conversationContext, coverageSummary string) ([]string, error)
}

// SuggestionCache holds follow-up question suggestions between turns.
type SuggestionCache interface {
	GetSuggestions(ctx context.Context, conversationID string) ([]string, bool, error)
	SetSuggestions(ctx context.Context, conversationID string, questions []string, ttl time.Duration) error
	InvalidateSuggestions(ctx context.Context, conversationID string) error
}

type Config struct {
	HistoryTurns int

	// AuxModel serves the cheap auxiliary completions: conversation
	// titles and follow-up suggestions.
	AuxModel string
}

// Service runs multi-turn conversations. Turns within one
// conversation are serialized with a per-conversation lock; distinct
// conversations proceed in parallel.
type Service struct {
	classifier *intent.Classifier
	retriever  generation.SimilarityRetriever
	computer   *coverage.Computer
	router     *confidence.Router
	tracker    *coverage.Tracker
	model      LanguageModel
	fragments  generation.FragmentStore
	store      ConversationStore
	cache      SuggestionCache
	cfg        Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(
	classifier *intent.Classifier,
	retriever generation.SimilarityRetriever,
	computer *coverage.Computer,
	router *confidence.Router,
	tracker *coverage.Tracker,
	model LanguageModel,
	fragments generation.FragmentStore,
	store ConversationStore,
	cache SuggestionCache,
	cfg Config,
) *Service {
	if cfg.HistoryTurns == 0 {
		cfg.HistoryTurns = 5
	}
	return &Service{
		classifier: classifier,
		retriever:  retriever,
		computer:   computer,
		router:     router,
		tracker:    tracker,
		model:      model,
		fragments:  fragments,
		store:      store,
		cache:      cache,
		cfg:        cfg,
	}
}

// lockFor returns the mutex serializing turns for one conversation.
func (s *Service) lockFor(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}
	return lock
}

type TurnRequest struct {
	ConversationID string
	Message        string
	DocumentIDs    []string
	HistoryTurns   int
}

type TurnResult struct {
	ConversationID   string
	Message          models.ChatMessage
	References       []models.ScoredReference
	Confidence       confidence.Assessment
	CoveragePct      float64
	CoverageSummary  string
	ModelUsed        string
	HistoryMessages  int
	HistoryTruncated bool
	GenerationTimeMS float64
}

// RunTurn processes one chat turn. The conversation's coverage state
// is only updated after the turn fully completes; a generation
// failure leaves it untouched.
func (s *Service) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	lock := s.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	conv, err := s.store.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		conv, err = s.createConversation(ctx, conversationID, req)
		if err != nil {
			return nil, err
		}
	}

	effectiveDocIDs := req.DocumentIDs
	if len(effectiveDocIDs) == 0 {
		effectiveDocIDs = conv.DocumentIDs
	}

	classification := s.classifier.Classify(req.Message)

	// Always re-retrieve: follow-ups can shift topic.
	refs, _, err := s.retriever.Retrieve(ctx, req.Message, retrieval.Options{
		DocumentIDs: effectiveDocIDs,
		Intent:      classification.Intent,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	if len(refs) == 0 {
		logger.Warn("No sources retrieved for chat message",
			zap.String("conversation_id", conversationID),
			zap.String("message_preview", preview(req.Message)),
		)
	}

	corpus, err := s.fragments.ListFragments(effectiveDocIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	turnCoverage := s.computer.Compute(corpus, refs, intent.RetrievalSimilarity)

	assessment := s.router.Assess(refs, turnCoverage)

	historyTurns := req.HistoryTurns
	if historyTurns == 0 {
		historyTurns = s.cfg.HistoryTurns
	}
	history, truncated := historyWindow(conv.Messages, historyTurns)

	systemPrompt, userPrompt := generation.BuildChatPrompt(
		req.Message,
		generation.PromptSourcesFor(refs, corpus),
		conv.CoverageSummary,
	)
	if assessment.Level == confidence.LevelLow {
		systemPrompt += confidence.LowConfidenceSuffix
	}

	resp, err := s.model.Complete(ctx, llm.CompletionRequest{
		Model:        assessment.SuggestedModel,
		SystemPrompt: systemPrompt,
		History:      history,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrGenerationUnavailable, err)
	}

	content := citation.Sanitize(resp.Content, len(refs))

	fragmentIDs := make([]string, len(refs))
	for i, ref := range refs {
		fragmentIDs[i] = ref.FragmentID
	}

	userMsg := models.ChatMessage{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   req.Message,
		CreatedAt: time.Now(),
	}
	assistantMsg := models.ChatMessage{
		ID:          uuid.New().String(),
		Role:        models.RoleAssistant,
		Content:     content,
		FragmentIDs: fragmentIDs,
		CreatedAt:   time.Now(),
	}

	if err := s.store.AppendMessage(conversationID, &userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	if err := s.store.AppendMessage(conversationID, &assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	s.tracker.Update(conv, refs, turnCoverage)
	if err := s.store.UpdateCoverage(conv); err != nil {
		return nil, fmt.Errorf("failed to persist coverage: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateSuggestions(ctx, conversationID); err != nil {
			logger.Warn("Failed to invalidate suggestion cache", zap.Error(err))
		}
	}

	elapsed := float64(time.Since(start).Milliseconds())

	logger.Info("Chat response generated",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", assistantMsg.ID),
		zap.Int("sources_count", len(refs)),
		zap.Int("history_messages", len(history)),
		zap.Float64("generation_time_ms", elapsed),
		zap.String("model_used", assessment.SuggestedModel),
	)

	return &TurnResult{
		ConversationID:   conversationID,
		Message:          assistantMsg,
		References:       refs,
		Confidence:       assessment,
		CoveragePct:      conv.CoveragePct,
		CoverageSummary:  conv.CoverageSummary,
		ModelUsed:        assessment.SuggestedModel,
		HistoryMessages:  len(history),
		HistoryTruncated: truncated,
		GenerationTimeMS: elapsed,
	}, nil
}

func (s *Service) createConversation(ctx context.Context, conversationID string, req TurnRequest) (*models.Conversation, error) {
	title, err := s.model.TitleConversation(ctx, s.cfg.AuxModel, req.Message)
	if err != nil || title == "" {
		title = preview(req.Message)
	}

	conv := &models.Conversation{
		ID:                conversationID,
		Title:             title,
		DocumentIDs:       req.DocumentIDs,
		FragmentsSeenEver: make(map[string]struct{}),
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}

	if err := s.store.CreateConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	logger.Info("Created new conversation",
		zap.String("conversation_id", conversationID),
		zap.Strings("document_ids", req.DocumentIDs),
	)

	return conv, nil
}

// historyWindow returns the last N turns as model messages, oldest
// first.
func historyWindow(messages []models.ChatMessage, maxTurns int) ([]llm.Message, bool) {
	maxMessages := maxTurns * 2
	truncated := len(messages) > maxMessages

	recent := messages
	if truncated {
		recent = messages[len(messages)-maxMessages:]
	}

	history := make([]llm.Message, len(recent))
	for i, msg := range recent {
		history[i] = llm.Message{Role: msg.Role, Content: msg.Content}
	}
	return history, truncated
}

// Suggestions proposes follow-up questions that would surface unseen
// material, cached per conversation until coverage changes.
func (s *Service) Suggestions(ctx context.Context, conversationID string) ([]string, error) {
	if s.cache != nil {
		if questions, ok, err := s.cache.GetSuggestions(ctx, conversationID); err == nil && ok {
			return questions, nil
		}
	}

	conv, err := s.store.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation not found: %s", conversationID)
	}

	var b strings.Builder
	history, _ := historyWindow(conv.Messages, 3)
	for _, msg := range history {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, preview(msg.Content))
	}

	questions, err := s.model.SuggestQuestions(ctx, s.cfg.AuxModel, b.String(), conv.CoverageSummary)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest questions: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetSuggestions(ctx, conversationID, questions, 10*time.Minute); err != nil {
			logger.Warn("Failed to cache suggestions", zap.Error(err))
		}
	}

	return questions, nil
}

func (s *Service) GetConversation(id string) (*models.Conversation, error) {
	return s.store.GetConversation(id)
}

func (s *Service) ListConversations(limit int) ([]models.Conversation, error) {
	if limit == 0 {
		limit = 50
	}
	return s.store.ListConversations(limit)
}

func (s *Service) RenameConversation(id, title string) error {
	return s.store.RenameConversation(id, title)
}

func (s *Service) DeleteConversation(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.DeleteConversation(id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()

	return nil
}

func preview(text string) string {
	if len(text) > 100 {
		return text[:100]
	}
	return text
}
