package generation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

func newSectionGenerator(t *testing.T, backend ModelBackend, groupSize int, groupDelay time.Duration) *SectionBatchGenerator {
	t.Helper()
	log := logger.NewNop()
	router, err := NewRouter()
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	return NewSectionBatchGenerator(log, backend, router, NewExtractor(log), groupSize, groupDelay, 5*time.Second)
}

func planUnits(req *domain.GenerationRequest) []SectionUnit {
	units := make([]SectionUnit, len(req.Analysis.SectionPlan))
	for i, e := range req.Analysis.SectionPlan {
		units[i] = SectionUnit{Entry: e, Number: i + 1}
	}
	return units
}

// sectionNumFromPrompt recovers which unit a prompt belongs to.
func sectionNumFromPrompt(prompt string, total int) int {
	for n := 1; n <= total; n++ {
		if strings.Contains(prompt, fmt.Sprintf("Section %d covers", n)) ||
			strings.Contains(prompt, fmt.Sprintf("Section %d scope", n)) {
			return n
		}
	}
	return 0
}

func TestSectionsReducedInPlanOrderUnderAdversarialTiming(t *testing.T) {
	req := testRequest(4, 3)
	backend := &fakeBackend{}
	backend.fn = func(call int, modelID, prompt string) (Completion, error) {
		n := sectionNumFromPrompt(prompt, 4)
		// Earlier sections finish last.
		time.Sleep(time.Duration(5-n) * 10 * time.Millisecond)
		return Completion{Text: sectionJSON(t, n, 3, 3), InputTokens: 50, OutputTokens: 100}, nil
	}
	g := newSectionGenerator(t, backend, 2, 0)

	sections, stats, err := g.Generate(context.Background(), req, planUnits(req))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(sections) != 4 {
		t.Fatalf("got %d sections, want 4", len(sections))
	}
	for i, s := range sections {
		if s.SectionNumber != i+1 {
			t.Fatalf("section at position %d carries number %d", i, s.SectionNumber)
		}
	}
	if stats.Batches != 2 {
		t.Fatalf("batches = %d, want 2 groups of 2", stats.Batches)
	}
	if stats.InputTokens != 200 || stats.OutputTokens != 400 {
		t.Fatalf("token accounting = %+v", stats)
	}
}

func TestSectionsEscalateAfterStructuralFailure(t *testing.T) {
	req := testRequest(1, 2)
	var escalatedModel string
	backend := &fakeBackend{}
	backend.fn = func(call int, modelID, prompt string) (Completion, error) {
		if call == 0 {
			// Carries a bogus section number the validator must reject.
			return Completion{Text: sectionJSON(t, 999, 2, 3)}, nil
		}
		escalatedModel = modelID
		return Completion{Text: sectionJSON(t, 1, 2, 3)}, nil
	}
	g := newSectionGenerator(t, backend, 2, 0)

	sections, stats, err := g.Generate(context.Background(), req, planUnits(req))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(sections) != 1 || sections[0].SectionNumber != 1 {
		t.Fatalf("unexpected sections: %+v", sections)
	}
	if stats.Retries != 1 {
		t.Fatalf("retries = %d, want 1", stats.Retries)
	}

	router, _ := NewRouter()
	if want := router.SelectModel(TaskSectionExpansion, 0, true).ModelID; escalatedModel != want {
		t.Fatalf("retry used model %q, want escalated %q", escalatedModel, want)
	}
}

func TestSectionsUnitFailingBothAttemptsFailsBatch(t *testing.T) {
	req := testRequest(2, 2)
	backend := &fakeBackend{}
	backend.fn = func(call int, modelID, prompt string) (Completion, error) {
		n := sectionNumFromPrompt(prompt, 2)
		if n == 2 {
			return Completion{Text: "garbage output"}, nil
		}
		return Completion{Text: sectionJSON(t, n, 2, 3)}, nil
	}
	g := newSectionGenerator(t, backend, 2, 0)

	sections, _, err := g.Generate(context.Background(), req, planUnits(req))
	if err == nil {
		t.Fatalf("expected batch failure, got %d sections", len(sections))
	}
	if sections != nil {
		t.Fatal("partial section set leaked out of a failed batch")
	}
	if code := CodeOf(err); code != CodeExtractionFailed {
		t.Fatalf("code = %s, want %s", code, CodeExtractionFailed)
	}
}

func TestSectionsPadMissingExercises(t *testing.T) {
	req := testRequest(1, 2)
	backend := &fakeBackend{}
	backend.fn = func(call int, modelID, prompt string) (Completion, error) {
		return Completion{Text: sectionJSON(t, 1, 2, 1)}, nil
	}
	g := newSectionGenerator(t, backend, 2, 0)

	sections, _, err := g.Generate(context.Background(), req, planUnits(req))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	for _, l := range sections[0].Lessons {
		if len(l.Exercises) < domain.MinExercises {
			t.Fatalf("lesson %d has %d exercises after padding", l.LessonNumber, len(l.Exercises))
		}
		// The model-provided exercise must survive at position 0.
		if l.Exercises[0].Title != "Check 1" {
			t.Fatalf("padding displaced original exercise: %+v", l.Exercises[0])
		}
	}
	if err := ValidateOutline(sections); err != nil {
		t.Fatalf("padded outline fails validation: %v", err)
	}
}

func TestSectionsCancelBetweenGroups(t *testing.T) {
	req := testRequest(4, 2)
	ctx, cancel := context.WithCancel(context.Background())
	backend := &fakeBackend{}
	backend.fn = func(call int, modelID, prompt string) (Completion, error) {
		n := sectionNumFromPrompt(prompt, 4)
		if n > 2 {
			t.Errorf("group 2 ran after cancellation (section %d)", n)
		}
		cancel()
		return Completion{Text: sectionJSON(t, n, 2, 3)}, nil
	}
	g := newSectionGenerator(t, backend, 2, 10*time.Millisecond)

	_, _, err := g.Generate(ctx, req, planUnits(req))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if CodeOf(err) != CodeCancelled {
		t.Fatalf("code = %s, want %s", CodeOf(err), CodeCancelled)
	}
	if backend.callCount() > 2 {
		t.Fatalf("backend called %d times after cancel", backend.callCount())
	}
}
