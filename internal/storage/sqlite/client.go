package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/internal/storage/models"
	"github.com/draftsmith/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		source TEXT,
		summary TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS fragments (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		ordinal_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		char_start INTEGER NOT NULL,
		char_end INTEGER NOT NULL,
		page INTEGER,
		section_title TEXT,
		tags TEXT,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_fragments_document ON fragments(document_id);
	CREATE INDEX IF NOT EXISTS idx_fragments_ordinal ON fragments(document_id, ordinal_index);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		document_ids TEXT,
		fragments_seen TEXT,
		fragments_total_max INTEGER DEFAULT 0,
		coverage_pct REAL DEFAULT 0,
		coverage_summary TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

	CREATE TABLE IF NOT EXISTS conversation_messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		fragment_ids TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON conversation_messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS generation_history (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		intent TEXT,
		retrieval_type TEXT,
		confidence_level TEXT,
		model_used TEXT,
		coverage_pct REAL,
		section_count INTEGER,
		source_count INTEGER,
		generation_time_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_generation_created ON generation_history(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	query := `
		INSERT INTO documents (id, title, source, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			updated_at = excluded.updated_at
	`

	_, err := c.db.Exec(
		query,
		doc.ID,
		doc.Title,
		doc.Source,
		doc.Summary,
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("document_id", doc.ID), zap.String("title", doc.Title))
	return nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	query := `SELECT id, title, source, summary, created_at, updated_at FROM documents WHERE id = ?`

	var doc models.Document
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&doc.ID,
		&doc.Title,
		&doc.Source,
		&doc.Summary,
		&createdAt,
		&updatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	return &doc, nil
}

func (c *Client) ListDocuments() ([]models.Document, error) {
	query := `SELECT id, title, source, summary, created_at, updated_at FROM documents ORDER BY updated_at DESC`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		var createdAt, updatedAt int64

		err := rows.Scan(&doc.ID, &doc.Title, &doc.Source, &doc.Summary, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		doc.CreatedAt = time.Unix(createdAt, 0)
		doc.UpdatedAt = time.Unix(updatedAt, 0)
		docs = append(docs, doc)
	}

	return docs, nil
}

func (c *Client) DeleteDocument(id string) error {
	_, err := c.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	logger.Info("Document deleted", zap.String("document_id", id))
	return nil
}

// InsertFragments stores a document's fragments in one transaction.
// Ingestion replaces a document wholesale, so existing fragments for
// the document are removed first.
func (c *Client) InsertFragments(documentID string, fragments []models.Fragment) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM fragments WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to clear fragments: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO fragments (id, document_id, ordinal_index, content, char_start, char_end, page, section_title, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range fragments {
		tagsJSON, _ := json.Marshal(f.Tags)
		_, err := stmt.Exec(
			f.ID,
			f.DocumentID,
			f.OrdinalIndex,
			f.Content,
			f.CharStart,
			f.CharEnd,
			f.Page,
			f.SectionTitle,
			string(tagsJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to insert fragment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fragments: %w", err)
	}

	logger.Debug("Fragments inserted",
		zap.String("document_id", documentID),
		zap.Int("count", len(fragments)),
	)
	return nil
}

func (c *Client) GetFragment(id string) (*models.Fragment, error) {
	query := `
		SELECT id, document_id, ordinal_index, content, char_start, char_end, page, section_title, tags
		FROM fragments WHERE id = ?
	`

	var f models.Fragment
	var page sql.NullInt64
	var sectionTitle, tagsJSON sql.NullString

	err := c.db.QueryRow(query, id).Scan(
		&f.ID,
		&f.DocumentID,
		&f.OrdinalIndex,
		&f.Content,
		&f.CharStart,
		&f.CharEnd,
		&page,
		&sectionTitle,
		&tagsJSON,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get fragment: %w", err)
	}

	f.Page = int(page.Int64)
	f.SectionTitle = sectionTitle.String
	if tagsJSON.Valid && tagsJSON.String != "" {
		json.Unmarshal([]byte(tagsJSON.String), &f.Tags)
	}

	return &f, nil
}

// ListFragments returns fragments ordered by document and ordinal
// position. An empty documentIDs slice means all documents.
func (c *Client) ListFragments(documentIDs []string) ([]models.Fragment, error) {
	query := `
		SELECT id, document_id, ordinal_index, content, char_start, char_end, page, section_title, tags
		FROM fragments
	`
	var args []interface{}

	if len(documentIDs) > 0 {
		query += ` WHERE document_id IN (?` + repeatPlaceholder(len(documentIDs)-1) + `)`
		for _, id := range documentIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY document_id, ordinal_index`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fragments: %w", err)
	}
	defer rows.Close()

	var fragments []models.Fragment
	for rows.Next() {
		var f models.Fragment
		var page sql.NullInt64
		var sectionTitle, tagsJSON sql.NullString

		err := rows.Scan(
			&f.ID,
			&f.DocumentID,
			&f.OrdinalIndex,
			&f.Content,
			&f.CharStart,
			&f.CharEnd,
			&page,
			&sectionTitle,
			&tagsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		f.Page = int(page.Int64)
		f.SectionTitle = sectionTitle.String
		if tagsJSON.Valid && tagsJSON.String != "" {
			json.Unmarshal([]byte(tagsJSON.String), &f.Tags)
		}
		fragments = append(fragments, f)
	}

	return fragments, nil
}

func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

func (c *Client) CreateConversation(conv *models.Conversation) error {
	docIDsJSON, _ := json.Marshal(conv.DocumentIDs)

	query := `
		INSERT INTO conversations (id, title, document_ids, fragments_seen, fragments_total_max,
			coverage_pct, coverage_summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		conv.ID,
		conv.Title,
		string(docIDsJSON),
		"[]",
		conv.FragmentsTotalMax,
		conv.CoveragePct,
		conv.CoverageSummary,
		conv.CreatedAt.Unix(),
		conv.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	logger.Info("Conversation created", zap.String("conversation_id", conv.ID))
	return nil
}

func (c *Client) GetConversation(id string) (*models.Conversation, error) {
	query := `
		SELECT id, title, document_ids, fragments_seen, fragments_total_max,
			coverage_pct, coverage_summary, created_at, updated_at
		FROM conversations WHERE id = ?
	`

	var conv models.Conversation
	var docIDsJSON, seenJSON, summary sql.NullString
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&conv.ID,
		&conv.Title,
		&docIDsJSON,
		&seenJSON,
		&conv.FragmentsTotalMax,
		&conv.CoveragePct,
		&summary,
		&createdAt,
		&updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	conv.CoverageSummary = summary.String
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)

	if docIDsJSON.Valid && docIDsJSON.String != "" {
		json.Unmarshal([]byte(docIDsJSON.String), &conv.DocumentIDs)
	}

	conv.FragmentsSeenEver = make(map[string]struct{})
	if seenJSON.Valid && seenJSON.String != "" {
		var seen []string
		json.Unmarshal([]byte(seenJSON.String), &seen)
		for _, fragID := range seen {
			conv.FragmentsSeenEver[fragID] = struct{}{}
		}
	}

	messages, err := c.getMessages(id)
	if err != nil {
		return nil, err
	}
	conv.Messages = messages

	return &conv, nil
}

func (c *Client) getMessages(conversationID string) ([]models.ChatMessage, error) {
	query := `
		SELECT id, role, content, fragment_ids, created_at
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := c.db.Query(query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var fragIDsJSON sql.NullString
		var createdAt int64

		err := rows.Scan(&m.ID, &m.Role, &m.Content, &fragIDsJSON, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if fragIDsJSON.Valid && fragIDsJSON.String != "" {
			json.Unmarshal([]byte(fragIDsJSON.String), &m.FragmentIDs)
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, m)
	}

	return messages, nil
}

func (c *Client) AppendMessage(conversationID string, msg *models.ChatMessage) error {
	fragIDsJSON, _ := json.Marshal(msg.FragmentIDs)

	query := `
		INSERT INTO conversation_messages (id, conversation_id, role, content, fragment_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		msg.ID,
		conversationID,
		msg.Role,
		msg.Content,
		string(fragIDsJSON),
		msg.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	_, err = c.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now().Unix(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	return nil
}

// UpdateCoverage persists the cumulative coverage state after a turn.
func (c *Client) UpdateCoverage(conv *models.Conversation) error {
	seen := make([]string, 0, len(conv.FragmentsSeenEver))
	for fragID := range conv.FragmentsSeenEver {
		seen = append(seen, fragID)
	}
	seenJSON, _ := json.Marshal(seen)

	query := `
		UPDATE conversations
		SET fragments_seen = ?, fragments_total_max = ?, coverage_pct = ?, coverage_summary = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := c.db.Exec(
		query,
		string(seenJSON),
		conv.FragmentsTotalMax,
		conv.CoveragePct,
		conv.CoverageSummary,
		time.Now().Unix(),
		conv.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update coverage: %w", err)
	}

	return nil
}

func (c *Client) ListConversations(limit int) ([]models.Conversation, error) {
	query := `
		SELECT id, title, coverage_pct, coverage_summary, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var summary sql.NullString
		var createdAt, updatedAt int64

		err := rows.Scan(&conv.ID, &conv.Title, &conv.CoveragePct, &summary, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		conv.CoverageSummary = summary.String
		conv.CreatedAt = time.Unix(createdAt, 0)
		conv.UpdatedAt = time.Unix(updatedAt, 0)
		convs = append(convs, conv)
	}

	return convs, nil
}

func (c *Client) RenameConversation(id, title string) error {
	result, err := c.db.Exec(
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("conversation not found: %s", id)
	}

	return nil
}

func (c *Client) DeleteConversation(id string) error {
	_, err := c.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	logger.Info("Conversation deleted", zap.String("conversation_id", id))
	return nil
}

func (c *Client) InsertGenerationRecord(record *models.GenerationRecord) error {
	query := `
		INSERT INTO generation_history (id, prompt, intent, retrieval_type, confidence_level,
			model_used, coverage_pct, section_count, source_count, generation_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.Prompt,
		record.Intent,
		record.RetrievalType,
		record.ConfidenceLevel,
		record.ModelUsed,
		record.CoveragePct,
		record.SectionCount,
		record.SourceCount,
		record.GenerationTimeMS,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert generation record: %w", err)
	}

	logger.Info("Generation recorded",
		zap.String("generation_id", record.ID),
		zap.String("intent", record.Intent),
		zap.String("confidence_level", record.ConfidenceLevel),
	)

	return nil
}
