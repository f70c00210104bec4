package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftsmith/backend/internal/confidence"
	"github.com/draftsmith/backend/internal/coverage"
	"github.com/draftsmith/backend/internal/generation"
	"github.com/draftsmith/backend/internal/intent"
	"github.com/draftsmith/backend/internal/llm"
	"github.com/draftsmith/backend/internal/retrieval"
	"github.com/draftsmith/backend/internal/storage/models"
)

type memoryStore struct {
	conversations map[string]*models.Conversation
	coverageSaves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{conversations: make(map[string]*models.Conversation)}
}

func (m *memoryStore) GetConversation(id string) (*models.Conversation, error) {
	return m.conversations[id], nil
}

func (m *memoryStore) CreateConversation(conv *models.Conversation) error {
	m.conversations[conv.ID] = conv
	return nil
}

func (m *memoryStore) AppendMessage(conversationID string, msg *models.ChatMessage) error {
	conv, ok := m.conversations[conversationID]
	if !ok {
		return errors.New("conversation not found")
	}
	conv.Messages = append(conv.Messages, *msg)
	return nil
}

func (m *memoryStore) UpdateCoverage(conv *models.Conversation) error {
	m.coverageSaves++
	return nil
}

func (m *memoryStore) ListConversations(limit int) ([]models.Conversation, error) {
	var out []models.Conversation
	for _, conv := range m.conversations {
		out = append(out, *conv)
	}
	return out, nil
}

func (m *memoryStore) RenameConversation(id, title string) error {
	conv, ok := m.conversations[id]
	if !ok {
		return errors.New("conversation not found")
	}
	conv.Title = title
	return nil
}

func (m *memoryStore) DeleteConversation(id string) error {
	delete(m.conversations, id)
	return nil
}

type fakeModel struct {
	content    string
	err        error
	gotHistory []llm.Message
	gotSystem  string
}

func (f *fakeModel) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.gotHistory = req.History
	f.gotSystem = req.SystemPrompt
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func (f *fakeModel) TitleConversation(ctx context.Context, model, firstMessage string) (string, error) {
	return "Test Conversation", nil
}

func (f *fakeModel) SuggestQuestions(ctx context.Context, model, conversationContext, coverageSummary string) ([]string, error) {
	return []string{"What about the conclusion?"}, nil
}

type fakeChatRetriever struct {
	refs []models.ScoredReference
	err  error
}

func (f *fakeChatRetriever) Retrieve(ctx context.Context, query string, opts retrieval.Options) ([]models.ScoredReference, retrieval.Metadata, error) {
	return f.refs, retrieval.Metadata{}, f.err
}

type fakeChatFragments struct {
	fragments []models.Fragment
}

func (f *fakeChatFragments) ListFragments(documentIDs []string) ([]models.Fragment, error) {
	return f.fragments, nil
}

type fakeSuggestionCache struct {
	invalidated int
	stored      map[string][]string
}

func (f *fakeSuggestionCache) GetSuggestions(ctx context.Context, conversationID string) ([]string, bool, error) {
	questions, ok := f.stored[conversationID]
	return questions, ok, nil
}

func (f *fakeSuggestionCache) SetSuggestions(ctx context.Context, conversationID string, questions []string, ttl time.Duration) error {
	if f.stored == nil {
		f.stored = make(map[string][]string)
	}
	f.stored[conversationID] = questions
	return nil
}

func (f *fakeSuggestionCache) InvalidateSuggestions(ctx context.Context, conversationID string) error {
	f.invalidated++
	delete(f.stored, conversationID)
	return nil
}

func chatCorpus(count int) []models.Fragment {
	fragments := make([]models.Fragment, count)
	for i := 0; i < count; i++ {
		fragments[i] = models.Fragment{
			ID:           fmt.Sprintf("doc1-%d", i),
			DocumentID:   "doc1",
			Content:      fmt.Sprintf("content %d", i),
			OrdinalIndex: i,
			Tags:         map[string]string{"title": "Chat Doc"},
		}
	}
	return fragments
}

func chatRefs(fragments []models.Fragment, indices ...int) []models.ScoredReference {
	refs := make([]models.ScoredReference, len(indices))
	for i, idx := range indices {
		refs[i] = models.ScoredReference{
			DocumentID:     "doc1",
			FragmentID:     fragments[idx].ID,
			Excerpt:        fragments[idx].Content,
			RelevanceScore: 0.8,
		}
	}
	return refs
}

func newTestService(store *memoryStore, model *fakeModel, retriever *fakeChatRetriever, fragments []models.Fragment, cache SuggestionCache) *Service {
	return NewService(
		intent.NewClassifier(),
		retriever,
		coverage.NewComputer(),
		confidence.NewRouter(confidence.ModelTiers{Fast: "fast", Standard: "standard", Quality: "quality"}),
		coverage.NewTracker(),
		model,
		&fakeChatFragments{fragments: fragments},
		store,
		cache,
		Config{HistoryTurns: 2, AuxModel: "fast"},
	)
}

func TestRunTurnCreatesConversation(t *testing.T) {
	store := newMemoryStore()
	corpus := chatCorpus(10)
	service := newTestService(store, &fakeModel{content: "Answer [Source 1]."},
		&fakeChatRetriever{refs: chatRefs(corpus, 0, 1)}, corpus, nil)

	result, err := service.RunTurn(context.Background(), TurnRequest{
		Message:     "What does the document say?",
		DocumentIDs: []string{"doc1"},
	})

	require.NoError(t, err)
	assert.NotEmpty(t, result.ConversationID)

	conv := store.conversations[result.ConversationID]
	require.NotNil(t, conv)
	assert.Equal(t, "Test Conversation", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, models.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Answer [Source 1].", conv.Messages[1].Content)
}

func TestRunTurnAccumulatesCoverage(t *testing.T) {
	store := newMemoryStore()
	corpus := chatCorpus(10)
	retriever := &fakeChatRetriever{refs: chatRefs(corpus, 0, 1)}
	service := newTestService(store, &fakeModel{content: "Answer [Source 1]."}, retriever, corpus, nil)

	first, err := service.RunTurn(context.Background(), TurnRequest{Message: "Tell me about the intro"})
	require.NoError(t, err)
	assert.Equal(t, 20.0, first.CoveragePct)

	retriever.refs = chatRefs(corpus, 2, 3)
	second, err := service.RunTurn(context.Background(), TurnRequest{
		ConversationID: first.ConversationID,
		Message:        "And the middle?",
	})
	require.NoError(t, err)
	assert.Equal(t, 40.0, second.CoveragePct)
	assert.Contains(t, second.CoverageSummary, "4 of 10 total fragments")
}

func TestRunTurnGenerationFailureLeavesCoverageUntouched(t *testing.T) {
	store := newMemoryStore()
	corpus := chatCorpus(10)
	retriever := &fakeChatRetriever{refs: chatRefs(corpus, 0, 1)}
	model := &fakeModel{content: "ok [Source 1]."}
	service := newTestService(store, model, retriever, corpus, nil)

	first, err := service.RunTurn(context.Background(), TurnRequest{Message: "First question?"})
	require.NoError(t, err)
	messagesBefore := len(store.conversations[first.ConversationID].Messages)

	model.err = errors.New("model down")
	retriever.refs = chatRefs(corpus, 5, 6)
	_, err = service.RunTurn(context.Background(), TurnRequest{
		ConversationID: first.ConversationID,
		Message:        "Second question?",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrGenerationUnavailable)

	conv := store.conversations[first.ConversationID]
	assert.Equal(t, 20.0, conv.CoveragePct)
	assert.Len(t, conv.Messages, messagesBefore)
	assert.Len(t, conv.FragmentsSeenEver, 2)
}

func TestRunTurnHistoryWindow(t *testing.T) {
	store := newMemoryStore()
	corpus := chatCorpus(10)
	model := &fakeModel{content: "Answer [Source 1]."}
	service := newTestService(store, model, &fakeChatRetriever{refs: chatRefs(corpus, 0)}, corpus, nil)

	var conversationID string
	for i := 0; i < 4; i++ {
		result, err := service.RunTurn(context.Background(), TurnRequest{
			ConversationID: conversationID,
			Message:        fmt.Sprintf("Question number %d?", i),
		})
		require.NoError(t, err)
		conversationID = result.ConversationID
	}

	// HistoryTurns is 2: the model sees at most 4 prior messages.
	assert.Len(t, model.gotHistory, 4)
	assert.Equal(t, "Question number 1?", model.gotHistory[0].Content)
}

func TestRunTurnLowConfidenceSuffix(t *testing.T) {
	store := newMemoryStore()
	model := &fakeModel{content: "I don't have enough information."}
	service := newTestService(store, model, &fakeChatRetriever{}, nil, nil)

	_, err := service.RunTurn(context.Background(), TurnRequest{Message: "Anything about budgets?"})

	require.NoError(t, err)
	assert.Contains(t, model.gotSystem, "LOW relevance")
}

func TestRunTurnSanitizesCitations(t *testing.T) {
	store := newMemoryStore()
	corpus := chatCorpus(5)
	service := newTestService(store, &fakeModel{content: "Good [Source 1], bad [Source 9]."},
		&fakeChatRetriever{refs: chatRefs(corpus, 0, 1)}, corpus, nil)

	result, err := service.RunTurn(context.Background(), TurnRequest{Message: "What is covered?"})

	require.NoError(t, err)
	assert.NotContains(t, result.Message.Content, "[Source 9]")
	assert.Contains(t, result.Message.Content, "[Source 1]")
}

func TestRunTurnInvalidatesSuggestionCache(t *testing.T) {
	store := newMemoryStore()
	corpus := chatCorpus(5)
	cache := &fakeSuggestionCache{}
	service := newTestService(store, &fakeModel{content: "Answer [Source 1]."},
		&fakeChatRetriever{refs: chatRefs(corpus, 0)}, corpus, cache)

	_, err := service.RunTurn(context.Background(), TurnRequest{Message: "Hello there, what is this?"})

	require.NoError(t, err)
	assert.Equal(t, 1, cache.invalidated)
}

func TestSuggestionsCached(t *testing.T) {
	store := newMemoryStore()
	corpus := chatCorpus(5)
	cache := &fakeSuggestionCache{}
	service := newTestService(store, &fakeModel{content: "Answer [Source 1]."},
		&fakeChatRetriever{refs: chatRefs(corpus, 0)}, corpus, cache)

	result, err := service.RunTurn(context.Background(), TurnRequest{Message: "What is this about?"})
	require.NoError(t, err)

	questions, err := service.Suggestions(context.Background(), result.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, []string{"What about the conclusion?"}, questions)
	assert.Equal(t, questions, cache.stored[result.ConversationID])
}

func TestSuggestionsUnknownConversation(t *testing.T) {
	service := newTestService(newMemoryStore(), &fakeModel{}, &fakeChatRetriever{}, nil, nil)

	_, err := service.Suggestions(context.Background(), "missing")

	assert.Error(t, err)
}

func TestDeleteConversation(t *testing.T) {
	store := newMemoryStore()
	corpus := chatCorpus(5)
	service := newTestService(store, &fakeModel{content: "Answer [Source 1]."},
		&fakeChatRetriever{refs: chatRefs(corpus, 0)}, corpus, nil)

	result, err := service.RunTurn(context.Background(), TurnRequest{Message: "What is here?"})
	require.NoError(t, err)

	require.NoError(t, service.DeleteConversation(result.ConversationID))
	conv, err := service.GetConversation(result.ConversationID)
	require.NoError(t, err)
	assert.Nil(t, conv)
}
