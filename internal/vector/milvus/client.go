package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// FragmentVector is the indexed form of a document fragment. The
// embedding API returns unit-length vectors, so inner product search
// over them is cosine similarity.
type FragmentVector struct {
	FragmentID   string
	DocumentID   string
	OrdinalIndex int64
	Content      string
	Embedding    []float32
}

type SearchResult struct {
	FragmentID   string
	DocumentID   string
	OrdinalIndex int64
	Content      string
	Score        float32
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CreateCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Document fragment embeddings",
		Fields: []*entity.Field{
			{
				Name:       "fragment_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "document_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "ordinal_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8192",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, fragments []FragmentVector) error {
	if len(fragments) == 0 {
		return nil
	}

	fragmentIDs := make([]string, len(fragments))
	documentIDs := make([]string, len(fragments))
	ordinals := make([]int64, len(fragments))
	contents := make([]string, len(fragments))
	embeddings := make([][]float32, len(fragments))

	for i, f := range fragments {
		fragmentIDs[i] = f.FragmentID
		documentIDs[i] = f.DocumentID
		ordinals[i] = f.OrdinalIndex
		contents[i] = f.Content
		embeddings[i] = f.Embedding
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("fragment_id", fragmentIDs),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnInt64("ordinal_index", ordinals),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
	)

	if err != nil {
		return fmt.Errorf("failed to insert fragments: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Fragments inserted into vector DB", zap.Int("count", len(fragments)))

	return nil
}

// DeleteByDocument removes all vectors for a document. Used when a
// document is re-ingested or deleted.
func (m *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf(`document_id == "%s"`, documentID)

	err := m.client.Delete(ctx, m.collectionName, "", expr)
	if err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}

	logger.Info("Document vectors deleted", zap.String("document_id", documentID))
	return nil
}

// Search returns the topK nearest fragments. documentIDs narrows the
// search to specific documents; empty means the whole corpus.
func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, documentIDs []string) ([]SearchResult, error) {
	expr := ""
	if len(documentIDs) > 0 {
		expr = "document_id in ["
		for i, id := range documentIDs {
			if i > 0 {
				expr += ", "
			}
			expr += fmt.Sprintf(`"%s"`, id)
		}
		expr += "]"
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"fragment_id", "document_id", "ordinal_index", "content"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			fragmentIDCol := sr.Fields.GetColumn("fragment_id")
			documentIDCol := sr.Fields.GetColumn("document_id")
			ordinalCol := sr.Fields.GetColumn("ordinal_index")
			contentCol := sr.Fields.GetColumn("content")

			fragmentID, _ := fragmentIDCol.Get(i)
			documentID, _ := documentIDCol.Get(i)
			ordinal, _ := ordinalCol.Get(i)
			content, _ := contentCol.Get(i)

			results = append(results, SearchResult{
				FragmentID:   fragmentID.(string),
				DocumentID:   documentID.(string),
				OrdinalIndex: ordinal.(int64),
				Content:      content.(string),
				Score:        sr.Scores[i],
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("filter", expr),
	)

	return results, nil
}
