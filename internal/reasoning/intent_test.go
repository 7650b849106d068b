package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeEmbedder returns a deterministic embedding derived from the number
// of occurrences of a handful of marker words, just enough to let cosine
// similarity distinguish the prototype phrases from each other in tests.
type fakeEmbedder struct {
	failBatch bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failBatch {
		return nil, errors.New("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = lexicalVector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Name() string      { return "fake" }
func (f *fakeEmbedder) Dimension() int    { return len(vectorTerms) }
func (f *fakeEmbedder) MaxBatchSize() int { return 64 }

var vectorTerms = []string{"complete", "clarify", "more", "unable", "plan", "hello"}

func lexicalVector(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(vectorTerms))
	for i, term := range vectorTerms {
		if strings.Contains(lower, term) {
			vec[i] = 1
		}
	}
	return vec
}

func TestAnalyzeEmptyTextIsAmbiguous(t *testing.T) {
	a, err := NewAnalyzer(context.Background(), &fakeEmbedder{}, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	intent, err := a.Analyze(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if intent != IntentAmbiguous {
		t.Fatalf("intent = %q, want %q", intent, IntentAmbiguous)
	}
}

func TestAnalyzeIntermediateSummaryNeverFinal(t *testing.T) {
	a, err := NewAnalyzer(context.Background(), &fakeEmbedder{}, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	intent, err := a.Analyze(context.Background(), "Successfully completed: step 1. Now I'll move to step 2.")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if intent != IntentRequestsMoreInput {
		t.Fatalf("intent = %q, want %q", intent, IntentRequestsMoreInput)
	}
}

func TestAnalyzeStrongCompletionIsFinalAnswer(t *testing.T) {
	a, err := NewAnalyzer(context.Background(), &fakeEmbedder{}, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	intent, err := a.Analyze(context.Background(), "The task is fully complete. Nothing more to do.")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if intent != IntentFinalAnswer {
		t.Fatalf("intent = %q, want %q", intent, IntentFinalAnswer)
	}
}

func TestAnalyzeCompletionWithContinuationIsNotFinal(t *testing.T) {
	a, err := NewAnalyzer(context.Background(), &fakeEmbedder{}, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	intent, err := a.Analyze(context.Background(), "The task is fully complete. What would you like me to do next?")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if intent != IntentRequestsMoreInput {
		t.Fatalf("intent = %q, want %q", intent, IntentRequestsMoreInput)
	}
}

func TestAnalyzeFallsBackToEmbeddingSimilarity(t *testing.T) {
	a, err := NewAnalyzer(context.Background(), &fakeEmbedder{}, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	// No lexical marker fires on this text, so the embedding fallback must
	// run and resolve to the clarifying-question prototype.
	intent, err := a.Analyze(context.Background(), "Could you clarify which file you mean?")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if intent != IntentAsksClarifyingQuestion {
		t.Fatalf("intent = %q, want %q", intent, IntentAsksClarifyingQuestion)
	}
}

func TestNewAnalyzerPropagatesEmbeddingError(t *testing.T) {
	_, err := NewAnalyzer(context.Background(), &fakeEmbedder{failBatch: true}, nil)
	if err == nil {
		t.Fatal("expected error when prototype embedding fails")
	}
}

func TestAnalyzeNilProviderUsesLexicalOnly(t *testing.T) {
	a, err := NewAnalyzer(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	intent, err := a.Analyze(context.Background(), "something with no lexical markers at all")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if intent != IntentRequestsMoreInput {
		t.Fatalf("intent = %q, want %q", intent, IntentRequestsMoreInput)
	}
}
