package generation

import (
	"context"
	"testing"
	"time"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

func testOptions() Options {
	return Options{
		GroupSize:       2,
		GroupDelay:      0,
		CallTimeout:     5 * time.Second,
		MinTotalLessons: 10,
	}
}

func newTestController(t *testing.T, backend ModelBackend, embedder EmbeddingBackend, store Store, sink ProgressSink) *Controller {
	t.Helper()
	c, err := NewController(logger.NewNop(), backend, embedder, store, sink, testOptions())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return c
}

// scriptedBackend answers metadata prompts with the metadata fixture and
// section prompts with the matching section fixture.
func scriptedBackend(t *testing.T, sections, lessonsPer int) *fakeBackend {
	b := &fakeBackend{}
	b.fn = func(call int, modelID, prompt string) (Completion, error) {
		if n := sectionNumFromPrompt(prompt, sections); n > 0 {
			return Completion{Text: sectionJSON(t, n, lessonsPer, 3), InputTokens: 50, OutputTokens: 200}, nil
		}
		return Completion{Text: metadataJSON(t), InputTokens: 100, OutputTokens: 80}, nil
	}
	return b
}

func TestControllerCleanRun(t *testing.T) {
	req := testRequest(3, 4)
	store := &fakeStore{}
	sink := &fakeSink{}
	c := newTestController(t, scriptedBackend(t, 3, 4), &fakeEmbedder{}, store, sink)

	result, err := c.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if store.commitCount() != 1 {
		t.Fatalf("commits = %d, want exactly 1", store.commitCount())
	}
	if result.CourseID != req.CourseID {
		t.Fatalf("result course id = %s, want %s", result.CourseID, req.CourseID)
	}
	if got := len(result.Sections); got != 3 {
		t.Fatalf("sections = %d, want 3", got)
	}
	if got := result.TotalLessons(); got != 12 {
		t.Fatalf("lessons = %d, want 12", got)
	}
	for i, s := range result.Sections {
		if s.SectionNumber != i+1 {
			t.Fatalf("section at position %d numbered %d", i, s.SectionNumber)
		}
	}
	if result.Generation.InputTokens == 0 || result.Generation.CostUSD == 0 {
		t.Fatalf("missing accounting: %+v", result.Generation)
	}
	if result.Generation.QualityScore < QualityThreshold {
		t.Fatalf("quality score = %v", result.Generation.QualityScore)
	}

	snap := c.Snapshot()
	if snap.Phase != domain.PhaseDone {
		t.Fatalf("final phase = %s, want %s", snap.Phase, domain.PhaseDone)
	}
	for _, phase := range []domain.Phase{
		domain.PhaseValidating, domain.PhaseGeneratingMetadata,
		domain.PhaseGeneratingSections, domain.PhaseQualityGate,
		domain.PhaseAssembling, domain.PhaseDone,
	} {
		if !sink.sawPhase(phase) {
			t.Fatalf("progress never reported phase %s", phase)
		}
	}
}

func TestControllerRecoversFromMalformedSection(t *testing.T) {
	req := testRequest(3, 4)
	store := &fakeStore{}
	var failedOnce bool
	b := &fakeBackend{}
	b.fn = func(call int, modelID, prompt string) (Completion, error) {
		n := sectionNumFromPrompt(prompt, 3)
		if n == 0 {
			return Completion{Text: metadataJSON(t), InputTokens: 100, OutputTokens: 80}, nil
		}
		if n == 2 && !failedOnce {
			failedOnce = true
			return Completion{Text: "```json\n{\"section_number\": 2, \"title\": \"broken\",", InputTokens: 50, OutputTokens: 5}, nil
		}
		return Completion{Text: sectionJSON(t, n, 4, 3), InputTokens: 50, OutputTokens: 200}, nil
	}
	c := newTestController(t, b, &fakeEmbedder{}, store, NopProgress{})

	result, err := c.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if store.commitCount() != 1 {
		t.Fatalf("commits = %d, want 1", store.commitCount())
	}
	if result.Generation.RetryCount < 1 {
		t.Fatalf("retry count = %d, want >= 1", result.Generation.RetryCount)
	}
}

func TestControllerQualityGateRegeneratesOnce(t *testing.T) {
	req := testRequest(3, 4)
	store := &fakeStore{}
	emb := &fakeEmbedder{}
	emb.fn = func(call int, inputs []string) ([][]float32, error) {
		// Call 0 is the metadata check; call 1 the first aggregate gate,
		// which must fail to trigger the regeneration pass.
		if call == 1 {
			return skewedVectors(len(inputs)), nil
		}
		return identicalVectors(len(inputs)), nil
	}
	c := newTestController(t, scriptedBackend(t, 3, 4), emb, store, NopProgress{})

	result, err := c.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed after regeneration: %v", err)
	}
	if store.commitCount() != 1 {
		t.Fatalf("commits = %d, want 1", store.commitCount())
	}
	if result.Generation.RetryCount < 1 {
		t.Fatalf("retry count = %d, want >= 1 from the gate pass", result.Generation.RetryCount)
	}
	snap := c.Snapshot()
	if snap.Retries[domain.PhaseQualityGate] != 1 {
		t.Fatalf("quality gate retries = %d, want 1", snap.Retries[domain.PhaseQualityGate])
	}
}

func TestControllerQualityGateFailsAfterSecondMiss(t *testing.T) {
	req := testRequest(3, 4)
	store := &fakeStore{}
	emb := &fakeEmbedder{}
	emb.fn = func(call int, inputs []string) ([][]float32, error) {
		return skewedVectors(len(inputs)), nil
	}
	c := newTestController(t, scriptedBackend(t, 3, 4), emb, store, NopProgress{})

	_, err := c.Run(context.Background(), req)
	if err == nil {
		t.Fatal("expected quality gate failure")
	}
	if CodeOf(err) != CodeQualityBelowThreshold {
		t.Fatalf("code = %s, want %s", CodeOf(err), CodeQualityBelowThreshold)
	}
	if store.commitCount() != 0 {
		t.Fatal("failed run must not commit")
	}
	if c.Snapshot().Phase != domain.PhaseError {
		t.Fatalf("phase = %s, want %s", c.Snapshot().Phase, domain.PhaseError)
	}
}

func TestControllerGateClassifiesStructuralFailure(t *testing.T) {
	req := testRequest(2, 4)
	c := newTestController(t, scriptedBackend(t, 2, 4), &fakeEmbedder{}, &fakeStore{}, NopProgress{})

	// Section numbering gap: structurally invalid, but the section count and
	// lesson totals are fine.
	sections := []domain.Section{sectionFixture(1, 5, 3), sectionFixture(3, 5, 3)}
	deficient, err := c.checkGate(context.Background(), req, req.Analysis.SectionPlan, sections)
	if err == nil {
		t.Fatal("expected gate failure for broken numbering")
	}
	if CodeOf(err) != CodeQualityBelowThreshold {
		t.Fatalf("code = %s, want %s", CodeOf(err), CodeQualityBelowThreshold)
	}
	if len(deficient) != len(sections) {
		t.Fatalf("deficient = %v, want every section", deficient)
	}
}

func TestControllerGateClassifiesLessonShortfall(t *testing.T) {
	req := testRequest(2, 4)
	c := newTestController(t, scriptedBackend(t, 2, 4), &fakeEmbedder{}, &fakeStore{}, NopProgress{})

	// Valid structure but 6 lessons total, below the 10-lesson floor.
	sections := []domain.Section{sectionFixture(1, 3, 3), sectionFixture(2, 3, 3)}
	deficient, err := c.checkGate(context.Background(), req, req.Analysis.SectionPlan, sections)
	if err == nil {
		t.Fatal("expected gate failure for lesson shortfall")
	}
	if CodeOf(err) != CodeMinimumNotMet {
		t.Fatalf("code = %s, want %s", CodeOf(err), CodeMinimumNotMet)
	}
	if len(deficient) != 2 {
		t.Fatalf("deficient = %v, want both short sections", deficient)
	}
}

func TestControllerCancellationCommitsNothing(t *testing.T) {
	req := testRequest(3, 4)
	store := &fakeStore{}
	ctx, cancel := context.WithCancel(context.Background())
	b := &fakeBackend{}
	b.fn = func(call int, modelID, prompt string) (Completion, error) {
		if n := sectionNumFromPrompt(prompt, 3); n > 0 {
			// Cancel mid-batch, while section generation is in flight.
			cancel()
			return Completion{Text: sectionJSON(t, n, 4, 3)}, nil
		}
		return Completion{Text: metadataJSON(t), InputTokens: 100, OutputTokens: 80}, nil
	}
	c := newTestController(t, b, &fakeEmbedder{}, store, NopProgress{})

	_, err := c.Run(ctx, req)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if CodeOf(err) != CodeCancelled {
		t.Fatalf("code = %s, want %s", CodeOf(err), CodeCancelled)
	}
	if store.commitCount() != 0 {
		t.Fatal("cancelled run must not commit")
	}
	if c.Snapshot().Phase != domain.PhaseError {
		t.Fatalf("phase = %s, want %s", c.Snapshot().Phase, domain.PhaseError)
	}
}

func TestControllerRejectsInvalidInput(t *testing.T) {
	store := &fakeStore{}
	b := &fakeBackend{fn: func(call int, modelID, prompt string) (Completion, error) {
		t.Error("backend must not be called for invalid input")
		return Completion{}, nil
	}}
	c := newTestController(t, b, &fakeEmbedder{}, store, NopProgress{})

	req := testRequest(3, 4)
	req.Analysis = nil
	_, err := c.Run(context.Background(), req)
	if err == nil {
		t.Fatal("expected invalid input error")
	}
	if CodeOf(err) != CodeInvalidInput {
		t.Fatalf("code = %s, want %s", CodeOf(err), CodeInvalidInput)
	}
	if store.commitCount() != 0 {
		t.Fatal("invalid run must not commit")
	}
}

func TestControllerSynthesizesPlanFromRecommendations(t *testing.T) {
	req := testRequest(3, 4)
	req.Analysis.SectionPlan = nil
	req.Analysis.RecommendedSections = 3
	req.Analysis.RecommendedLessons = 12
	store := &fakeStore{}
	c := newTestController(t, scriptedBackend(t, 3, 4), &fakeEmbedder{}, store, NopProgress{})

	result, err := c.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Sections) != 3 {
		t.Fatalf("sections = %d, want 3 from synthesized plan", len(result.Sections))
	}
}
