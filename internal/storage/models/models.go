package models

import "time"

// Document is an ingested source document. Fragments reference it by ID.
type Document struct {
	ID        string
	Title     string
	Source    string
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fragment is the smallest indexed unit of a document. Immutable once
// created by ingestion; retrieval results reference fragments, never
// copy them. OrdinalIndex is the fragment's position within its
// document and drives regional coverage accounting.
type Fragment struct {
	ID           string
	DocumentID   string
	Content      string
	OrdinalIndex int
	CharStart    int
	CharEnd      int
	Page         int
	SectionTitle string
	Tags         map[string]string
}

// ScoredReference points at a fragment surfaced by a retrieval pass.
// RelevanceScore is always in [0,1]: cosine similarity for vector
// search, sigmoid-normalized logits for reranked results, synthetic
// position scores for diverse sampling. Higher is more relevant.
type ScoredReference struct {
	DocumentID     string
	FragmentID     string
	Excerpt        string
	RelevanceScore float64
	Tags           map[string]string
}

// ChatMessage is one turn half in a conversation.
type ChatMessage struct {
	ID          string
	Role        string
	Content     string
	FragmentIDs []string
	CreatedAt   time.Time
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation holds the persisted state of a multi-turn chat,
// including the cumulative coverage accounting.
type Conversation struct {
	ID          string
	Title       string
	DocumentIDs []string
	Messages    []ChatMessage

	// Cumulative coverage state. FragmentsTotalMax only grows: the
	// active document filter can change between turns and the
	// denominator must never shrink.
	FragmentsSeenEver map[string]struct{}
	FragmentsTotalMax int
	CoveragePct       float64
	CoverageSummary   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GenerationRecord is the audit row persisted per generation request.
type GenerationRecord struct {
	ID               string
	Prompt           string
	Intent           string
	RetrievalType    string
	ConfidenceLevel  string
	ModelUsed        string
	CoveragePct      float64
	SectionCount     int
	SourceCount      int
	GenerationTimeMS int
	CreatedAt        time.Time
}
