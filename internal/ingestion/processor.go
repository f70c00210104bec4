package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/internal/llm"
	"github.com/draftsmith/backend/internal/metrics"
	"github.com/draftsmith/backend/internal/storage/models"
	"github.com/draftsmith/backend/internal/storage/sqlite"
	"github.com/draftsmith/backend/internal/vector/milvus"
	"github.com/draftsmith/backend/pkg/logger"
	"github.com/draftsmith/backend/pkg/utils"
)

const maxVectorContentLength = 8000

type Processor struct {
	db           *sqlite.Client
	vectorDB     *milvus.Client
	llmClient    *llm.Client
	summaryModel string
	chunkSize    int
	chunkOverlap int
}

func NewProcessor(db *sqlite.Client, vectorDB *milvus.Client, llmClient *llm.Client, summaryModel string) *Processor {
	return &Processor{
		db:           db,
		vectorDB:     vectorDB,
		llmClient:    llmClient,
		summaryModel: summaryModel,
		chunkSize:    1000,
		chunkOverlap: 100,
	}
}

// ProcessDocument cleans, fragments, embeds, and indexes one document.
// Re-ingesting the same source replaces its fragments in both stores.
func (p *Processor) ProcessDocument(ctx context.Context, title, source, content, contentType string) (*models.Document, int, error) {
	logger.Info("Processing document",
		zap.String("source", source),
		zap.String("content_type", contentType),
	)

	text := content
	if contentType == "text/html" {
		text = p.cleanHTML(content)
		if title == "" {
			title = p.extractTitle(content)
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, fmt.Errorf("no content extracted from document")
	}
	if title == "" {
		title = "Untitled"
	}

	summary, err := p.llmClient.SummarizeDocument(ctx, p.summaryModel, text[:min(len(text), 4000)])
	if err != nil {
		logger.Warn("Failed to summarize document", zap.Error(err))
		summary = "Summary unavailable"
	}

	docID := utils.HashString(source)
	doc := &models.Document{
		ID:        docID,
		Title:     title,
		Source:    source,
		Summary:   summary,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := p.db.InsertDocument(doc); err != nil {
		return nil, 0, fmt.Errorf("failed to insert document: %w", err)
	}

	spans := p.chunkText(text)
	logger.Info("Document fragmented", zap.Int("fragments", len(spans)))

	headings := findHeadings(text)

	fragments := make([]models.Fragment, len(spans))
	contents := make([]string, len(spans))
	for i, s := range spans {
		fragments[i] = models.Fragment{
			ID:           fmt.Sprintf("%s_frag_%d", docID, i),
			DocumentID:   docID,
			Content:      s.text,
			OrdinalIndex: i,
			CharStart:    s.start,
			CharEnd:      s.end,
			SectionTitle: sectionTitleAt(headings, s.start),
			Tags:         map[string]string{"title": title},
		}
		contents[i] = s.text
	}

	embeddings, err := p.llmClient.GenerateBatchEmbeddings(ctx, contents)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(fragments) {
		return nil, 0, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(fragments))
	}

	if err := p.db.InsertFragments(docID, fragments); err != nil {
		return nil, 0, fmt.Errorf("failed to insert fragments: %w", err)
	}

	vectors := make([]milvus.FragmentVector, len(fragments))
	for i, f := range fragments {
		vectors[i] = milvus.FragmentVector{
			FragmentID:   f.ID,
			DocumentID:   docID,
			OrdinalIndex: int64(f.OrdinalIndex),
			Content:      f.Content[:min(len(f.Content), maxVectorContentLength)],
			Embedding:    embeddings[i],
		}
	}

	if err := p.vectorDB.DeleteByDocument(ctx, docID); err != nil {
		logger.Warn("Failed to clear previous vectors", zap.String("doc_id", docID), zap.Error(err))
	}
	if len(vectors) > 0 {
		if err := p.vectorDB.Insert(ctx, vectors); err != nil {
			return nil, 0, fmt.Errorf("failed to insert into vector DB: %w", err)
		}
	}

	metrics.DocumentsIngested.Inc()
	metrics.FragmentsIndexed.Add(float64(len(fragments)))

	logger.Info("Document processed successfully",
		zap.String("doc_id", docID),
		zap.Int("fragments", len(fragments)),
	)

	return doc, len(fragments), nil
}

// DeleteDocument removes a document from both stores.
func (p *Processor) DeleteDocument(ctx context.Context, docID string) error {
	if err := p.vectorDB.DeleteByDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := p.db.DeleteDocument(docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	logger.Info("Document deleted", zap.String("doc_id", docID))
	return nil
}

func (p *Processor) cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()

	text = regexp.MustCompile(`\s+`).ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	return text
}

func (p *Processor) extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "Untitled"
	}

	title := doc.Find("title").First().Text()
	if title == "" {
		title = doc.Find("h1").First().Text()
	}

	if title == "" {
		title = "Untitled"
	}

	return strings.TrimSpace(title)
}

// span is a chunk of the source text with its character bounds.
type span struct {
	text  string
	start int
	end   int
}

type wordPos struct {
	text  string
	start int
}

func splitWords(text string) []wordPos {
	var words []wordPos
	inWord := false
	start := 0

	for i, r := range text {
		space := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if !space && !inWord {
			inWord = true
			start = i
		}
		if space && inWord {
			inWord = false
			words = append(words, wordPos{text: text[start:i], start: start})
		}
	}
	if inWord {
		words = append(words, wordPos{text: text[start:], start: start})
	}

	return words
}

// chunkText splits the text into overlapping word-boundary chunks,
// preserving exact character offsets into the cleaned source.
func (p *Processor) chunkText(text string) []span {
	words := splitWords(text)
	if len(words) == 0 {
		return nil
	}

	overlapWords := p.chunkOverlap / 10
	var chunks []span

	startIdx := 0
	size := 0
	for i, w := range words {
		size += len(w.text) + 1

		if size > p.chunkSize && i > startIdx {
			chunks = append(chunks, spanOf(text, words, startIdx, i-1))

			next := max(startIdx+1, i-overlapWords)
			startIdx = next
			size = 0
			for j := startIdx; j <= i; j++ {
				size += len(words[j].text) + 1
			}
		}
	}
	chunks = append(chunks, spanOf(text, words, startIdx, len(words)-1))

	return chunks
}

func spanOf(text string, words []wordPos, first, last int) span {
	start := words[first].start
	end := words[last].start + len(words[last].text)
	return span{text: text[start:end], start: start, end: end}
}

var markdownHeadingPattern = regexp.MustCompile(`(?m)^#{1,3}\s+(.+)$`)

type headingPos struct {
	title string
	start int
}

func findHeadings(text string) []headingPos {
	matches := markdownHeadingPattern.FindAllStringSubmatchIndex(text, -1)
	headings := make([]headingPos, 0, len(matches))
	for _, m := range matches {
		headings = append(headings, headingPos{
			title: strings.TrimSpace(text[m[2]:m[3]]),
			start: m[0],
		})
	}
	return headings
}

// sectionTitleAt returns the nearest heading preceding the offset.
func sectionTitleAt(headings []headingPos, offset int) string {
	title := ""
	for _, h := range headings {
		if h.start > offset {
			break
		}
		title = h.title
	}
	return title
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
