package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftsmith/backend/internal/citation"
	"github.com/draftsmith/backend/internal/confidence"
	"github.com/draftsmith/backend/internal/coverage"
	"github.com/draftsmith/backend/internal/intent"
	"github.com/draftsmith/backend/internal/llm"
	"github.com/draftsmith/backend/internal/metrics"
	"github.com/draftsmith/backend/internal/retrieval"
	"github.com/draftsmith/backend/internal/storage/models"
	"github.com/draftsmith/backend/pkg/logger"
)

// Pipeline states, in order. The pipeline is strictly sequential; the
// only fork is the retrieval strategy.
type state string

const (
	stateClassifying       state = "classifying"
	stateRetrieving        state = "retrieving"
	stateScoringCoverage   state = "scoring_coverage"
	stateRoutingConfidence state = "routing_confidence"
	statePrompting         state = "prompting"
	stateGenerating        state = "generating"
	stateSanitizing        state = "sanitizing"
	stateSectioning        state = "sectioning"
	stateDone              state = "done"
)

// SimilarityRetriever runs a similarity retrieval pass.
type SimilarityRetriever interface {
	Retrieve(ctx context.Context, query string, opts retrieval.Options) ([]models.ScoredReference, retrieval.Metadata, error)
}

// DiverseSampler draws a regionally representative sample.
type DiverseSampler interface {
	Sample(corpus []models.Fragment, targetCount int, escalate bool) ([]models.ScoredReference, *coverage.Descriptor)
}

// Generator invokes the language model. Must honor ctx cancellation.
type Generator interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// FragmentStore is read-only access to indexed fragments. Mutation is
// the ingestion pipeline's business.
type FragmentStore interface {
	ListFragments(documentIDs []string) ([]models.Fragment, error)
}

type Config struct {
	TargetFragments int
	MaxSections     int
}

// Orchestrator coordinates one generation request end to end:
// classify intent, retrieve (similarity or diverse), score coverage,
// route to a model tier, generate, sanitize citations, and assemble
// sections.
type Orchestrator struct {
	classifier *intent.Classifier
	retriever  SimilarityRetriever
	sampler    DiverseSampler
	computer   *coverage.Computer
	router     *confidence.Router
	generator  Generator
	fragments  FragmentStore
	cfg        Config
}

func NewOrchestrator(
	classifier *intent.Classifier,
	retriever SimilarityRetriever,
	sampler DiverseSampler,
	computer *coverage.Computer,
	router *confidence.Router,
	generator Generator,
	fragments FragmentStore,
	cfg Config,
) *Orchestrator {
	if cfg.TargetFragments == 0 {
		cfg.TargetFragments = 30
	}
	return &Orchestrator{
		classifier: classifier,
		retriever:  retriever,
		sampler:    sampler,
		computer:   computer,
		router:     router,
		generator:  generator,
		fragments:  fragments,
		cfg:        cfg,
	}
}

type Request struct {
	Prompt      string
	DocumentIDs []string
	TopK        int
	Threshold   float64

	// RetrievalOverride forces a strategy regardless of the
	// classifier's suggestion. Unrecognized values fall back to
	// SIMILARITY with a warning, never an error.
	RetrievalOverride string

	// Escalate widens diverse sampling for broader coverage.
	Escalate bool
}

type Result struct {
	ID               string
	Sections         []Section
	References       []models.ScoredReference
	Coverage         *coverage.Descriptor
	Confidence       confidence.Assessment
	Classification   intent.Classification
	ModelUsed        string
	Warnings         []string
	GenerationTimeMS float64
}

// Run executes the full pipeline. Empty retrieval is not a failure:
// the response states insufficiency and carries LOW confidence. Only
// a generation collaborator failure returns an error, wrapped as
// ErrGenerationUnavailable.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	generationID := uuid.New().String()
	current := stateClassifying

	classification := o.classifier.Classify(req.Prompt)
	metrics.IntentClassified.WithLabelValues(
		string(classification.Intent), string(classification.SuggestedRetrieval)).Inc()

	var warnings []string

	retrievalType := classification.SuggestedRetrieval
	if req.RetrievalOverride != "" {
		parsed, ok := intent.ParseRetrievalOverride(req.RetrievalOverride)
		if !ok {
			warnings = append(warnings, fmt.Sprintf(
				"unrecognized retrieval override %q; using SIMILARITY", req.RetrievalOverride))
		}
		retrievalType = parsed
	}

	current = stateRetrieving

	corpus, err := o.fragments.ListFragments(req.DocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	var refs []models.ScoredReference
	var cov *coverage.Descriptor

	if retrievalType == intent.RetrievalDiverse {
		refs, cov = o.sampler.Sample(corpus, o.cfg.TargetFragments, req.Escalate)
		current = stateScoringCoverage
	} else {
		refs, _, err = o.retriever.Retrieve(ctx, req.Prompt, retrieval.Options{
			TopK:        req.TopK,
			Threshold:   req.Threshold,
			DocumentIDs: req.DocumentIDs,
			Intent:      classification.Intent,
		})
		if err != nil {
			return nil, fmt.Errorf("retrieval failed in state %s: %w", current, err)
		}
		current = stateScoringCoverage
		cov = o.computer.Compute(corpus, refs, intent.RetrievalSimilarity)
	}

	warnings = append(warnings, checkRetrievalQuality(refs)...)
	if classification.Intent == intent.IntentAnalysis && cov.FragmentsTotal > 0 && cov.CoveragePct < 20 {
		warnings = append(warnings, fmt.Sprintf(
			"%s: Analysis draws on %.1f%% of the corpus. Conclusions may miss unseen sections.",
			warnLowCoverage, cov.CoveragePct))
	}

	current = stateRoutingConfidence
	assessment := o.router.Assess(refs, cov)
	metrics.ConfidenceLevel.WithLabelValues(string(assessment.Level)).Inc()

	current = statePrompting
	systemPrompt, userPrompt := o.buildPrompt(req.Prompt, classification, refs, corpus, cov)
	if assessment.Level == confidence.LevelLow {
		systemPrompt += confidence.LowConfidenceSuffix
	}

	current = stateGenerating
	resp, err := o.generator.Complete(ctx, llm.CompletionRequest{
		Model:        assessment.SuggestedModel,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		metrics.GenerationTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}
	metrics.LLMTokensUsed.WithLabelValues(assessment.SuggestedModel, "completion").
		Add(float64(resp.Usage.TotalTokens))

	current = stateSanitizing
	content := citation.Sanitize(resp.Content, len(refs))

	current = stateSectioning
	sections := parseSections(content, refs, generationID)
	for i := range sections {
		sections[i].Warnings = append(sections[i].Warnings, validateSection(sections[i], refs)...)
	}
	if len(sections) > 0 && len(warnings) > 0 {
		sections[0].Warnings = append(sections[0].Warnings, warnings...)
	}

	current = stateDone
	elapsed := float64(time.Since(start).Milliseconds())
	metrics.GenerationTotal.WithLabelValues("ok").Inc()
	metrics.GenerationDuration.WithLabelValues(string(classification.Intent)).
		Observe(time.Since(start).Seconds())
	metrics.CoveragePercent.Observe(cov.CoveragePct)

	logger.Info("Generation completed",
		zap.String("generation_id", generationID),
		zap.String("intent", string(classification.Intent)),
		zap.String("retrieval_type", string(retrievalType)),
		zap.String("confidence_level", string(assessment.Level)),
		zap.String("model_used", assessment.SuggestedModel),
		zap.Int("sections", len(sections)),
		zap.Int("sources", len(refs)),
		zap.Float64("coverage_pct", cov.CoveragePct),
		zap.Float64("generation_time_ms", elapsed),
		zap.String("state", string(current)),
	)

	return &Result{
		ID:               generationID,
		Sections:         sections,
		References:       refs,
		Coverage:         cov,
		Confidence:       assessment,
		Classification:   classification,
		ModelUsed:        assessment.SuggestedModel,
		Warnings:         warnings,
		GenerationTimeMS: elapsed,
	}, nil
}

// buildPrompt picks the template the classification calls for. The
// focused summary template only applies when a focus topic was
// actually extracted.
func (o *Orchestrator) buildPrompt(
	prompt string,
	classification intent.Classification,
	refs []models.ScoredReference,
	corpus []models.Fragment,
	cov *coverage.Descriptor,
) (string, string) {
	sources := PromptSourcesFor(refs, corpus)

	if classification.Intent == intent.IntentAnalysis {
		switch {
		case classification.SummaryScope == intent.ScopeFocused && classification.FocusTopic != "":
			return buildFocusedSummaryPrompt(classification.FocusTopic, sources, cov.Summary)
		case classification.SummaryScope == intent.ScopeBroad:
			return buildExploratorySummaryPrompt(sources, cov.Summary)
		default:
			return buildAnalysisPrompt(sources, cov.Summary)
		}
	}

	return buildCoverageAwarePrompt(prompt, sources, cov.Summary)
}

// RegenerateRequest rewrites one section against fresh retrieval.
type RegenerateRequest struct {
	SectionID       string
	OriginalContent string
	Refinement      string
	DocumentIDs     []string
}

// RegenerateSection retrieves context for the section's content and
// rewrites it, preserving the section id.
func (o *Orchestrator) RegenerateSection(ctx context.Context, req RegenerateRequest) (*Section, error) {
	query := req.OriginalContent
	if len(query) > 500 {
		query = query[:500]
	}

	refs, _, err := o.retriever.Retrieve(ctx, query, retrieval.Options{
		DocumentIDs: req.DocumentIDs,
		Intent:      intent.IntentWriting,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	corpus, err := o.fragments.ListFragments(req.DocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	cov := o.computer.Compute(corpus, refs, intent.RetrievalSimilarity)
	assessment := o.router.Assess(refs, cov)

	systemPrompt, userPrompt := buildRegenerationPrompt(req.OriginalContent, req.Refinement, PromptSourcesFor(refs, corpus))
	if assessment.Level == confidence.LevelLow {
		systemPrompt += confidence.LowConfidenceSuffix
	}

	resp, err := o.generator.Complete(ctx, llm.CompletionRequest{
		Model:        assessment.SuggestedModel,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	content := citation.Sanitize(resp.Content, len(refs))
	section := newSection(content, "", refs, req.SectionID)
	section.Warnings = append(section.Warnings, validateSection(section, refs)...)

	return &section, nil
}

// PromptSourcesFor resolves references back to full fragment content.
// Excerpts are truncated for display; the generator needs the whole
// fragment.
func PromptSourcesFor(refs []models.ScoredReference, corpus []models.Fragment) []PromptSource {
	byID := make(map[string]models.Fragment, len(corpus))
	for _, f := range corpus {
		byID[f.ID] = f
	}

	sources := make([]PromptSource, len(refs))
	for i, ref := range refs {
		content := ref.Excerpt
		title := ""
		if f, ok := byID[ref.FragmentID]; ok {
			content = f.Content
			title = f.Tags["title"]
		}
		if title == "" {
			title = ref.Tags["title"]
		}
		sources[i] = PromptSource{Content: content, Title: title}
	}
	return sources
}
