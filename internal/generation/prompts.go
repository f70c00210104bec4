package generation

import (
	"fmt"
	"strings"
)

// Prompt templates. Every template enforces strict grounding in the
// retrieved context: if the model cannot ground a claim in sources,
// it must say so.

const analysisSystemPrompt = `You are a document analysis assistant that helps users understand their documents.

EPISTEMIC RULES (you MUST follow these):
1. Your confidence must not exceed what coverage justifies
2. Separate claims (with citations) from interpretations (marked as synthesis)
3. Surface contradictions without forcing resolution
4. Acknowledge what you cannot assess

Your goal is intellectual honesty first, usefulness second, polish last.`

const analysisPromptTemplate = `Analyze the following documents based on what you can see.

COVERAGE CONTEXT:
%s

Given this coverage level, provide analysis appropriate to what you can actually see.

CONTEXT (%d sources available):
%s

OUTPUT STRUCTURE (maintain claim-evidence separation):

## Directly Supported Observations
[Claims backed by evidence - cite with [Source N]. These are grounded in the retrieved content.]

## Synthesized Patterns
[Interpretations across sources - preface with "Based on available sources..." or "The content suggests..."]

## Tensions or Contradictions
[Where sources conflict or suggest different conclusions. Do NOT artificially resolve - present both views.]

## Questions Raised
[What the content raises but doesn't answer. What would you want to investigate further?]

## Blind Spots
[What you could NOT assess due to coverage limitations. Be specific about what's missing.]

Begin your analysis:`

const exploratorySummaryTemplate = `Provide an exploratory overview of this document based on a representative sample.

IMPORTANT - THIS IS AN EXPLORATORY OVERVIEW:
%s

You are seeing a sample across different parts of the document. Your goal is to:
1. Identify the main topics and themes present
2. Give the user a map of what the document contains
3. Suggest specific areas they might want to explore deeper

CONTEXT (%d sources from different document regions):
%s

OUTPUT STRUCTURE:

## Document Overview
[2-3 sentences describing what this document appears to be about, based on the sample. Use tentative language: "appears to cover", "seems to focus on", "includes discussion of".]

## Key Topics Identified
[Bullet list of main topics/themes found in the sample. Cite sources: [Source N]]

## Notable Points
[3-5 specific observations that stood out, with citations]

## Suggested Focus Areas
[Based on what you've seen, suggest 3-5 specific questions or topics the user could explore for deeper understanding. Frame these as actionable next steps like "To understand X better, try asking about..." or "For more detail on Y, focus on..."]

## Coverage Note
[Brief note on what parts of the document this sample represents and what might be missing]

Begin your exploratory overview:`

const focusedSummaryTemplate = `Provide a focused analysis of "%[1]s" based on the document content.

COVERAGE CONTEXT:
%[2]s

The user wants to understand "%[1]s" specifically. Focus your analysis narrowly on this topic.

CONTEXT (%[3]d sources):
%[4]s

OUTPUT STRUCTURE:

## Summary: %[1]s
[Provide a focused synthesis of what the document says about this specific topic. Cite every claim with [Source N].]

## Key Details
[Specific facts, figures, or statements about %[1]s found in the sources]

## Related Connections
[How this topic connects to other themes mentioned in the sources]

## Gaps in Coverage
[What aspects of %[1]s are NOT covered in the available sources? What would you need to see to give a more complete picture?]

## Follow-up Questions
[2-3 specific questions that would deepen understanding of %[1]s]

Begin your focused analysis:`

const writingSystemPrompt = `You are a writing assistant that helps users write through uncertainty and draft professional documents.

CRITICAL RULES:
1. Use ONLY the provided context as your knowledge base
2. NEVER make up information not present in the context
3. You MAY include reasoned interpretations or hypotheses IF they are clearly labeled as such
4. Clearly distinguish between:
   - Directly supported claims
   - Reasoned synthesis based on sources
   - Open questions or unknowns
5. Cite which source supports each claim using [Source N] notation
6. If sources conflict, acknowledge the conflict and describe the conflict explicitly

Your goal is transparency - users must be able to verify every claim you make.`

const coverageAwareGenerationTemplate = `Write the following based on the provided context: %s

IMPORTANT CONTEXT LIMITATION:
%s

CONTEXT (%[3]d sources available - cite [Source 1] through [Source %[3]d]):
%[4]s

CRITICAL OUTPUT RULES:
- Output ONLY the requested content - no preamble or meta-commentary
- Write in a clear, professional tone
- Structure your response with clear sections using markdown headings (## Section Title)
- MANDATORY: Include [Source N] citations inline after claims
- ONLY cite sources that exist: [Source 1] through [Source %[3]d]
- Every paragraph MUST have at least one citation
- If context is insufficient, write what you can and note gaps at the end

Begin writing:`

const regenerationTemplate = `Rewrite this section using the provided context: %s

%s

CONTEXT:
%s

Rewritten section:`

const chatSystemPrompt = `You are a document-grounded assistant in an ongoing conversation.

CRITICAL RULES:
1. Ground every claim in the provided context, citing with [Source N] notation
2. ONLY cite sources that exist in the current context
3. Use the conversation history for continuity, but cite only current sources
4. If the context does not cover the question, say so plainly instead of guessing
5. Respect the coverage note: do not claim more of the documents than you have seen`

const chatPromptTemplate = `%s

CUMULATIVE COVERAGE:
%s

CONTEXT (%d sources - cite [Source 1] through [Source %[3]d]):
%[4]s

Respond to the user's message, citing sources inline.`

// PromptSource is one retrieved fragment rendered into the context
// block. Content is the full fragment text, not the excerpt.
type PromptSource struct {
	Content string
	Title   string
}

// formatContext numbers the sources the way the citation contract
// expects: [Source 1] is the first retrieved reference.
func formatContext(sources []PromptSource) (string, int) {
	if len(sources) == 0 {
		return "No relevant sources found.", 0
	}

	parts := make([]string, len(sources))
	for i, source := range sources {
		title := source.Title
		if title == "" {
			title = "Unknown"
		}
		parts[i] = fmt.Sprintf("[Source %d] (from: %s)\n%s", i+1, title, source.Content)
	}

	return strings.Join(parts, "\n\n---\n\n"), len(sources)
}

func buildAnalysisPrompt(sources []PromptSource, coverageSummary string) (string, string) {
	context, numSources := formatContext(sources)
	return analysisSystemPrompt, fmt.Sprintf(analysisPromptTemplate, coverageSummary, numSources, context)
}

func buildExploratorySummaryPrompt(sources []PromptSource, coverageSummary string) (string, string) {
	context, numSources := formatContext(sources)
	return analysisSystemPrompt, fmt.Sprintf(exploratorySummaryTemplate, coverageSummary, numSources, context)
}

func buildFocusedSummaryPrompt(focusTopic string, sources []PromptSource, coverageSummary string) (string, string) {
	context, numSources := formatContext(sources)
	return analysisSystemPrompt, fmt.Sprintf(focusedSummaryTemplate, focusTopic, coverageSummary, numSources, context)
}

func buildCoverageAwarePrompt(topic string, sources []PromptSource, coverageSummary string) (string, string) {
	context, numSources := formatContext(sources)
	return writingSystemPrompt, fmt.Sprintf(coverageAwareGenerationTemplate, topic, coverageSummary, numSources, context)
}

func buildRegenerationPrompt(originalSection, instructions string, sources []PromptSource) (string, string) {
	if instructions == "" {
		instructions = "Improve clarity and ensure all claims are well-supported."
	}
	if len(originalSection) > 500 {
		originalSection = originalSection[:500] + "..."
	}
	context, _ := formatContext(sources)
	return writingSystemPrompt, fmt.Sprintf(regenerationTemplate, originalSection, instructions, context)
}

// BuildChatPrompt renders a conversational turn. Exported for the
// chat service, which shares the generation prompt contract.
func BuildChatPrompt(userMessage string, sources []PromptSource, cumulativeCoverage string) (string, string) {
	if cumulativeCoverage == "" {
		cumulativeCoverage = "This is the start of the conversation. No prior sources have been retrieved."
	}
	context, numSources := formatContext(sources)
	return chatSystemPrompt, fmt.Sprintf(chatPromptTemplate, userMessage, cumulativeCoverage, numSources, context)
}
