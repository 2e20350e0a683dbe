package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

func newMetadataGenerator(t *testing.T, backend ModelBackend, embedder EmbeddingBackend) *MetadataGenerator {
	t.Helper()
	log := logger.NewNop()
	router, err := NewRouter()
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	return NewMetadataGenerator(log, backend, router, NewExtractor(log), NewValidator(log, embedder), 5*time.Second)
}

func TestMetadataGenerateFirstAttempt(t *testing.T) {
	backend := &fakeBackend{fn: func(call int, modelID, prompt string) (Completion, error) {
		return Completion{Text: metadataJSON(t), InputTokens: 100, OutputTokens: 50}, nil
	}}
	g := newMetadataGenerator(t, backend, &fakeEmbedder{})

	meta, stats, err := g.Generate(context.Background(), testRequest(3, 4))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if meta.Title != "Go Concurrency in Practice" {
		t.Fatalf("title = %q", meta.Title)
	}
	if stats.Attempts != 1 || stats.Retries != 0 {
		t.Fatalf("stats = %+v, want 1 attempt, 0 retries", stats)
	}
	if stats.InputTokens != 100 || stats.OutputTokens != 50 {
		t.Fatalf("token accounting = %+v", stats)
	}
}

func TestMetadataGenerateRecoversOnRetry(t *testing.T) {
	backend := &fakeBackend{fn: func(call int, modelID, prompt string) (Completion, error) {
		if call == 0 {
			return Completion{Text: "I could not produce JSON, sorry.", InputTokens: 80, OutputTokens: 10}, nil
		}
		return Completion{Text: "```json\n" + metadataJSON(t) + "\n```", InputTokens: 90, OutputTokens: 60}, nil
	}}
	g := newMetadataGenerator(t, backend, &fakeEmbedder{})

	meta, stats, err := g.Generate(context.Background(), testRequest(3, 4))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if meta == nil || meta.Title == "" {
		t.Fatal("no metadata after retry")
	}
	if stats.Attempts != 2 || stats.Retries != 1 {
		t.Fatalf("stats = %+v, want 2 attempts, 1 retry", stats)
	}
}

func TestMetadataGenerateFallsBackToTemplate(t *testing.T) {
	backend := &fakeBackend{fn: func(call int, modelID, prompt string) (Completion, error) {
		return Completion{Text: "not even close to json"}, nil
	}}
	g := newMetadataGenerator(t, backend, &fakeEmbedder{})

	req := testRequest(3, 4)
	meta, stats, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("template fallback should not error: %v", err)
	}
	if stats.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", stats.Attempts)
	}
	if err := ValidateMetadata(meta); err != nil {
		t.Fatalf("template metadata fails structural validation: %v", err)
	}
	if meta.Difficulty != "intermediate" {
		t.Fatalf("template ignored request difficulty: %q", meta.Difficulty)
	}
}

func TestMetadataGenerateRetriesBelowQuality(t *testing.T) {
	backend := &fakeBackend{fn: func(call int, modelID, prompt string) (Completion, error) {
		return Completion{Text: metadataJSON(t), InputTokens: 10, OutputTokens: 10}, nil
	}}
	emb := &fakeEmbedder{fn: func(call int, inputs []string) ([][]float32, error) {
		if call == 0 {
			return skewedVectors(len(inputs)), nil
		}
		return identicalVectors(len(inputs)), nil
	}}
	g := newMetadataGenerator(t, backend, emb)

	meta, stats, err := g.Generate(context.Background(), testRequest(3, 4))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if meta == nil {
		t.Fatal("no metadata")
	}
	if stats.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (first below threshold)", stats.Attempts)
	}
	if stats.Quality < QualityThreshold {
		t.Fatalf("final quality = %v, want >= %v", stats.Quality, QualityThreshold)
	}
}

func TestMetadataGenerateStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &fakeBackend{fn: func(call int, modelID, prompt string) (Completion, error) {
		cancel()
		return Completion{}, errors.New("connection reset")
	}}
	g := newMetadataGenerator(t, backend, &fakeEmbedder{})

	_, _, err := g.Generate(ctx, testRequest(3, 4))
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if CodeOf(err) != CodeCancelled {
		t.Fatalf("code = %s, want %s", CodeOf(err), CodeCancelled)
	}
	if backend.callCount() != 1 {
		t.Fatalf("backend called %d times after cancel, want 1", backend.callCount())
	}
}
