// Package reasoning classifies the assistant's own turn output so the
// agentic loop knows whether to stop, keep going, or nudge the model
// toward an explicit next action.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/haasonsaas/nexus/internal/memory/embeddings"
)

// DetectedIntent classifies an assistant turn's apparent intent.
type DetectedIntent string

const (
	// IntentFinalAnswer means the turn concludes the task with no further
	// action expected from the assistant.
	IntentFinalAnswer DetectedIntent = "final_answer"

	// IntentAsksClarifyingQuestion means the turn is waiting on the user
	// to resolve an ambiguity before continuing.
	IntentAsksClarifyingQuestion DetectedIntent = "asks_clarifying_question"

	// IntentRequestsMoreInput means the loop should continue: the turn
	// either explicitly asks what to do next or reads as an intermediate
	// status update rather than a conclusion.
	IntentRequestsMoreInput DetectedIntent = "requests_more_input"

	// IntentStatesInabilityToProceed means the assistant reported it
	// cannot complete the task.
	IntentStatesInabilityToProceed DetectedIntent = "states_inability_to_proceed"

	// IntentProvidesPlanWithoutAction means the turn described a plan but
	// took no concrete action yet, and should be nudged.
	IntentProvidesPlanWithoutAction DetectedIntent = "provides_plan_without_action"

	// IntentGeneralConversation means the turn is small talk unrelated to
	// task progress.
	IntentGeneralConversation DetectedIntent = "general_conversation"

	// IntentAmbiguous is returned only for empty input; every other path
	// resolves to one of the intents above rather than leaving the loop
	// without a decision to act on.
	IntentAmbiguous DetectedIntent = "ambiguous"
)

const (
	thresholdFinalAnswer        = 0.80
	thresholdInabilityToProceed = 0.75
	thresholdDefault            = 0.55
)

type prototype struct {
	intent DetectedIntent
	phrase string
}

var prototypePhrases = []prototype{
	{IntentFinalAnswer, "The entire task is now complete. I have finished everything you requested."},
	{IntentFinalAnswer, "I have completed all the requested actions and provided the final answer."},
	{IntentFinalAnswer, "That concludes everything you asked for. The task is fully complete."},

	{IntentAsksClarifyingQuestion, "Could you please clarify what you mean by that?"},
	{IntentAsksClarifyingQuestion, "What exactly are you asking for?"},
	{IntentAsksClarifyingQuestion, "I need clarification on this point."},

	{IntentRequestsMoreInput, "I need more information to proceed. What else should I do?"},
	{IntentRequestsMoreInput, "Please tell me more so I can help."},
	{IntentRequestsMoreInput, "What would you like me to do next?"},

	{IntentStatesInabilityToProceed, "I'm sorry, I cannot fulfill that request at this time."},
	{IntentStatesInabilityToProceed, "I am unable to do that."},
	{IntentStatesInabilityToProceed, "This is not something I can accomplish."},

	{IntentProvidesPlanWithoutAction, "Okay, first I will do X, then I will do Y, and finally Z."},
	{IntentProvidesPlanWithoutAction, "Here is my plan of action: step 1, step 2, step 3."},
	{IntentProvidesPlanWithoutAction, "My approach will be to first analyze, then implement, then test."},

	{IntentGeneralConversation, "Hello! How are you today?"},
	{IntentGeneralConversation, "Hi there, what can I do for you?"},
	{IntentGeneralConversation, "Okay, sounds good."},
}

// intermediateSummaryMarkers flags turns that look like a progress update
// mid-task rather than a conclusion, even when their wording overlaps with
// completion language ("Successfully completed: step 1").
var intermediateSummaryMarkers = []string{
	"I've finished those tasks", "Successfully completed:", "What would you like to do next?",
	"Now I'll", "Next, I'll", "Following that", "After that", "Then I'll", "Let me",
	"I'll now", "I'll proceed", "I'll continue", "Moving on",
	"repository_map", "targeted_view", "view_file", "search_code", "add_repository", "sync_repository",
	"I need to", "I should", "I will", "Let me start by", "First, I'll",
	"To help you", "I can help", "Here's what I'll do", "My approach will be", "I'll help you with that",
}

var strongCompletionMarkers = []string{
	"task is fully complete", "everything you requested", "concludes everything",
	"all requested actions", "completely finished", "entirely done",
	"That's all", "Nothing more to do", "Task completed successfully",
}

var weakCompletionMarkers = []string{"completed", "finished", "done"}

var planMarkers = []string{
	"Here's my plan", "I'll help you with that! Here's my plan", "my plan:",
	"approach will be", "steps I'll take", "Here's what I'll do",
}

var continuationMarkers = []string{
	"What would you like", "How can I help", "Is there anything else",
	"What's next", "What should I do next", "Any other", "Would you like me to",
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func hasThreePartPlanShape(text string) bool {
	return strings.Contains(text, "First,") && strings.Contains(text, "Then,") && strings.Contains(text, "Finally,")
}

// Analyzer classifies assistant turns via a lexical pre-filter backed by
// an embedding-similarity fallback against a fixed set of intent
// prototypes. The lexical rules catch the common, unambiguous cases
// cheaply; embeddings only run when none of them fire.
type Analyzer struct {
	embedder   embeddings.Provider
	prototypes []embeddedPrototype
	logger     *slog.Logger
}

type embeddedPrototype struct {
	intent    DetectedIntent
	embedding []float32
}

// NewAnalyzer embeds every prototype phrase up front so Analyze never pays
// an embedding round trip for the prototype side of the comparison. If
// provider is nil, the analyzer still works via the lexical pre-filter,
// falling back to IntentRequestsMoreInput for anything the rules don't
// resolve.
func NewAnalyzer(ctx context.Context, provider embeddings.Provider, logger *slog.Logger) (*Analyzer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Analyzer{embedder: provider, logger: logger}
	if provider == nil {
		return a, nil
	}

	phrases := make([]string, len(prototypePhrases))
	for i, p := range prototypePhrases {
		phrases[i] = p.phrase
	}
	vectors, err := provider.EmbedBatch(ctx, phrases)
	if err != nil {
		return nil, fmt.Errorf("reasoning: embed intent prototypes: %w", err)
	}
	if len(vectors) != len(prototypePhrases) {
		return nil, errors.New("reasoning: embedding provider returned a different number of vectors than prototypes")
	}
	for i, p := range prototypePhrases {
		a.prototypes = append(a.prototypes, embeddedPrototype{intent: p.intent, embedding: vectors[i]})
	}
	if len(a.prototypes) == 0 {
		logger.Warn("reasoning: no intent prototypes were embedded; analysis will be impaired")
	}
	return a, nil
}

// Analyze classifies a single assistant turn's text.
func (a *Analyzer) Analyze(ctx context.Context, text string) (DetectedIntent, error) {
	if strings.TrimSpace(text) == "" {
		return IntentAmbiguous, nil
	}

	isIntermediateSummary := containsAny(text, intermediateSummaryMarkers)
	if isIntermediateSummary {
		return IntentRequestsMoreInput, nil
	}

	hasStrongCompletion := containsAny(text, strongCompletionMarkers)
	hasWeakCompletion := containsAny(text, weakCompletionMarkers)
	hasPlan := containsAny(text, planMarkers) || hasThreePartPlanShape(text)
	hasContinuation := containsAny(text, continuationMarkers)

	switch {
	case hasContinuation:
		return IntentRequestsMoreInput, nil
	case hasPlan && !hasStrongCompletion:
		return IntentProvidesPlanWithoutAction, nil
	case hasStrongCompletion && !hasContinuation:
		return IntentFinalAnswer, nil
	case hasWeakCompletion && hasContinuation:
		return IntentRequestsMoreInput, nil
	}

	if len(a.prototypes) == 0 {
		a.logger.Warn("reasoning: no intent prototypes available, defaulting to requests_more_input")
		return IntentRequestsMoreInput, nil
	}

	vectors, err := a.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("reasoning: embed turn text: %w", err)
	}
	if len(vectors) == 0 {
		a.logger.Warn("reasoning: embedding returned no vectors for turn text")
		return IntentRequestsMoreInput, nil
	}
	embedding := vectors[0]

	best := IntentRequestsMoreInput
	highest := -1.0
	for _, proto := range a.prototypes {
		similarity := cosineSimilarity(embedding, proto.embedding)
		if similarity > highest {
			highest = similarity
			best = proto.intent
		}
	}

	threshold := thresholdDefault
	switch best {
	case IntentFinalAnswer:
		threshold = thresholdFinalAnswer
	case IntentStatesInabilityToProceed:
		threshold = thresholdInabilityToProceed
	}

	if highest < threshold {
		return IntentRequestsMoreInput, nil
	}

	// Safety override: never let embedding similarity alone conclude the
	// task when the lexical pass already flagged continuation language.
	if best == IntentFinalAnswer && (isIntermediateSummary || hasContinuation) {
		return IntentRequestsMoreInput, nil
	}

	return best, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, v := range a {
		normA += float64(v) * float64(v)
	}
	for _, v := range b {
		normB += float64(v) * float64(v)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
