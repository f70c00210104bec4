package intent

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/draftsmith/backend/pkg/logger"
)

type Intent string

const (
	IntentAnalysis Intent = "ANALYSIS"
	IntentQA       Intent = "QA"
	IntentWriting  Intent = "WRITING"
)

type RetrievalType string

const (
	RetrievalSimilarity RetrievalType = "SIMILARITY"
	RetrievalDiverse    RetrievalType = "DIVERSE"
)

type SummaryScope string

const (
	ScopeBroad         SummaryScope = "BROAD"
	ScopeFocused       SummaryScope = "FOCUSED"
	ScopeNotApplicable SummaryScope = "NOT_APPLICABLE"
)

// Classification is the immutable result of classifying one query.
type Classification struct {
	Intent             Intent
	Confidence         float64
	Reasoning          string
	SuggestedRetrieval RetrievalType
	SummaryScope       SummaryScope
	FocusTopic         string
}

type patternGroup struct {
	intent          Intent
	retrievalType   RetrievalType
	confidenceBoost float64
	patterns        []*regexp.Regexp
}

// Classifier detects query intent from ordered pattern groups. Groups
// are evaluated analysis first so that "write a summary" lands on
// ANALYSIS rather than WRITING.
type Classifier struct {
	groups        []patternGroup
	topicPatterns []*regexp.Regexp
}

func NewClassifier() *Classifier {
	analysisPatterns := []string{
		`\b(summarize|summary|summarise)\b`,
		`\b(overview|overviews)\b`,
		`\b(main\s+points?|key\s+points?)\b`,
		`\b(key\s+takeaways?|main\s+takeaways?|takeaways?)\b`,
		`\b(what\s+are\s+the\s+main)\b`,
		`\b(what\s+are\s+the\s+key)\b`,
		`\b(what\s+is\s+the\s+overview)\b`,
		`\b(analyze|analyse|analysis)\b`,
		`\b(themes?|patterns?)\s+(in|from|across)\b`,
		`\b(extract|identify)\s+(key|main|important|ideas?)\b`,
	}

	qaPatterns := []string{
		`^(what|when|where|who|why|how|which|is|are|do|does|did|can|could|would|should)\s+`,
		`\?\s*$`,
		`\b(tell\s+me\s+about)\b`,
		`\b(explain|describe)\s+(what|how|why)\b`,
		`\b(find|look\s+for|search\s+for)\b`,
	}

	writingPatterns := []string{
		`\b(write|draft|create|compose|generate)\b`,
		`\b(cover\s+letter|resume|cv)\b`,
		`\b(letter|email|memo|report)\b`,
		`\b(help\s+me\s+write)\b`,
		`\b(prepare|craft)\b`,
	}

	topicPatterns := []string{
		`(?:summarize|summarise|summary\s+of)\s+(?:the\s+)?([a-z][a-z0-9-]*(?:\s+[a-z0-9-]+)?)\s+(?:section|chapter|part|portion)\b`,
		`(?:summarize|summarise)\s+(?:the\s+)?([a-z][a-z0-9-]*(?:\s+[a-z0-9-]+)?)\s+in\s+(?:this|the)\b`,
		`\bfocus(?:ing|ed)?\s+on\s+(?:the\s+)?([a-z][a-z0-9-]*(?:\s+[a-z0-9-]+)?)\b`,
		`\bwhat\s+does\s+(?:it|this|the\s+document)\s+say\s+about\s+(?:the\s+)?([a-z][a-z0-9-]*(?:\s+[a-z0-9-]+)?)\b`,
		`\bspecifically\s+(?:about\s+)?(?:the\s+)?([a-z][a-z0-9-]*(?:\s+[a-z0-9-]+)?)\b`,
	}

	c := &Classifier{
		groups: []patternGroup{
			{
				intent:          IntentAnalysis,
				retrievalType:   RetrievalDiverse,
				confidenceBoost: 0.15,
				patterns:        compilePatterns(analysisPatterns),
			},
			{
				intent:          IntentQA,
				retrievalType:   RetrievalSimilarity,
				confidenceBoost: 0.05,
				patterns:        compilePatterns(qaPatterns),
			},
			{
				intent:          IntentWriting,
				retrievalType:   RetrievalSimilarity,
				confidenceBoost: 0.15,
				patterns:        compilePatterns(writingPatterns),
			},
		},
		topicPatterns: compilePatterns(topicPatterns),
	}

	return c
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile("(?i)" + p)
	}
	return compiled
}

var topicStopwords = map[string]bool{
	"the": true, "this": true, "that": true, "these": true, "those": true,
	"a": true, "an": true, "and": true, "for": true, "with": true,
	"from": true, "into": true, "document": true, "documents": true,
	"section": true, "sections": true, "content": true, "text": true,
	"everything": true, "all": true, "whole": true, "entire": true,
}

// Classify determines the intent of a query. It never fails: queries
// that match no pattern group default to WRITING with SIMILARITY
// retrieval at reduced confidence.
func (c *Classifier) Classify(query string) Classification {
	query = strings.TrimSpace(query)
	queryLower := strings.ToLower(query)

	var best *patternGroup
	bestCount := 0

	for i := range c.groups {
		group := &c.groups[i]
		matchCount := 0
		for _, pattern := range group.patterns {
			if pattern.MatchString(queryLower) {
				matchCount++
			}
		}
		if matchCount == 0 {
			continue
		}
		if best == nil ||
			matchCount > bestCount ||
			(matchCount == bestCount && group.confidenceBoost > best.confidenceBoost) {
			best = group
			bestCount = matchCount
		}
	}

	if best == nil {
		logger.Info("No intent patterns matched, defaulting to WRITING",
			zap.String("query_preview", preview(query)),
		)
		return Classification{
			Intent:             IntentWriting,
			Confidence:         0.5,
			Reasoning:          "No specific patterns matched; defaulting to writing mode",
			SuggestedRetrieval: RetrievalSimilarity,
			SummaryScope:       ScopeNotApplicable,
		}
	}

	confidence := 0.6 + float64(bestCount)*0.1 + best.confidenceBoost
	if confidence > 0.95 {
		confidence = 0.95
	}

	result := Classification{
		Intent:             best.intent,
		Confidence:         confidence,
		Reasoning:          buildReasoning(best.intent, bestCount),
		SuggestedRetrieval: best.retrievalType,
		SummaryScope:       ScopeNotApplicable,
	}

	if best.intent == IntentAnalysis {
		scope, topic := c.detectScope(queryLower)
		result.SummaryScope = scope
		result.FocusTopic = topic
		if scope == ScopeFocused {
			// A focused summary is a targeted lookup, not a broad
			// sweep of the document.
			result.SuggestedRetrieval = RetrievalSimilarity
		}
	}

	logger.Info("Intent detected",
		zap.String("intent", string(result.Intent)),
		zap.Float64("confidence", result.Confidence),
		zap.Int("match_count", bestCount),
		zap.String("query_preview", preview(query)),
	)

	return result
}

// detectScope runs the topic-scoped second pass for ANALYSIS queries.
// The first captured group that is not a stopword and longer than two
// characters becomes the focus topic; no match means BROAD.
func (c *Classifier) detectScope(queryLower string) (SummaryScope, string) {
	for _, pattern := range c.topicPatterns {
		match := pattern.FindStringSubmatch(queryLower)
		if match == nil {
			continue
		}
		for _, group := range match[1:] {
			topic := strings.TrimSpace(group)
			if len(topic) > 2 && !topicStopwords[topic] {
				return ScopeFocused, topic
			}
		}
	}
	return ScopeBroad, ""
}

func buildReasoning(intent Intent, matchCount int) string {
	descriptions := map[Intent]string{
		IntentAnalysis: "analysis/summarization",
		IntentQA:       "question-answering",
		IntentWriting:  "content creation",
	}

	desc := descriptions[intent]
	switch {
	case matchCount > 2:
		return fmt.Sprintf("Strong %s indicators detected (%d pattern matches)", desc, matchCount)
	case matchCount > 1:
		return fmt.Sprintf("Multiple %s indicators detected", desc)
	default:
		return fmt.Sprintf("Query matches %s pattern", desc)
	}
}

func preview(query string) string {
	if len(query) > 50 {
		return query[:50]
	}
	return query
}

// ParseRetrievalOverride maps a caller-supplied strategy override to a
// retrieval type. Unrecognized values fall back to SIMILARITY rather
// than failing the request.
func ParseRetrievalOverride(value string) (RetrievalType, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "SIMILARITY":
		return RetrievalSimilarity, true
	case "DIVERSE":
		return RetrievalDiverse, true
	default:
		return RetrievalSimilarity, false
	}
}
