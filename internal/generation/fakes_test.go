package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
)

// fakeBackend scripts model completions per call.
type fakeBackend struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, modelID, prompt string) (Completion, error)
}

func (b *fakeBackend) Complete(ctx context.Context, modelID string, prompt string, maxTokens int, temperature float64) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	b.mu.Lock()
	call := b.calls
	b.calls++
	fn := b.fn
	b.mu.Unlock()
	return fn(call, modelID, prompt)
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// fakeEmbedder returns identical vectors by default so every similarity
// check scores 1.0. Tests override fn for degraded scores.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, inputs []string) ([][]float32, error)
}

func (e *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	call := e.calls
	e.calls++
	fn := e.fn
	e.mu.Unlock()
	if fn != nil {
		return fn(call, inputs)
	}
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// identicalVectors scores 1.0; skewedVectors scores well below threshold.
func identicalVectors(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out
}

func skewedVectors(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		if i == 0 {
			out[i] = []float32{1, 0, 0}
		} else {
			out[i] = []float32{0, 1, 0}
		}
	}
	return out
}

// fakeStore records commits and can be told to fail.
type fakeStore struct {
	mu      sync.Mutex
	commits []*domain.GenerationResult
	err     error
}

func (s *fakeStore) Commit(ctx context.Context, courseID uuid.UUID, result *domain.GenerationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.commits = append(s.commits, result)
	return nil
}

func (s *fakeStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commits)
}

// fakeSink collects progress reports.
type fakeSink struct {
	mu     sync.Mutex
	phases []domain.Phase
}

func (s *fakeSink) ReportProgress(courseID uuid.UUID, phase domain.Phase, percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, phase)
}

func (s *fakeSink) sawPhase(p domain.Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.phases {
		if got == p {
			return true
		}
	}
	return false
}

func testRequest(sections, lessonsPer int) *domain.GenerationRequest {
	plan := make([]domain.SectionPlanEntry, sections)
	for i := range plan {
		plan[i] = domain.SectionPlanEntry{
			Area:        fmt.Sprintf("Concurrency patterns part %d", i+1),
			LessonCount: lessonsPer,
		}
	}
	return &domain.GenerationRequest{
		CourseID:       uuid.New(),
		UserID:         uuid.New(),
		TargetLanguage: "en",
		Analysis: &domain.AnalysisResult{
			Topic:               "Go Concurrency",
			Category:            "programming",
			Difficulty:          "intermediate",
			PedagogicalStrategy: "project-based",
			RecommendedSections: sections,
			RecommendedLessons:  sections * lessonsPer,
			SectionPlan:         plan,
		},
	}
}

func metadataJSON(t *testing.T) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"title":               "Go Concurrency in Practice",
		"description":         "A hands-on course covering goroutines, channels and the patterns that make them safe to use in production systems.",
		"overview":            "From goroutine basics to bounded worker pools.",
		"target_audience":     "Backend developers comfortable with basic Go syntax.",
		"difficulty":          "intermediate",
		"prerequisites":       []string{"Basic Go"},
		"learning_outcomes":   []string{"Explain goroutine scheduling", "Apply channel patterns", "Evaluate synchronization options"},
		"tags":                []string{"go", "concurrency", "channels"},
		"assessment_strategy": "Exercises per lesson.",
	})
	if err != nil {
		t.Fatalf("marshal metadata fixture: %v", err)
	}
	return string(raw)
}

func sectionFixture(number, lessons, exercisesPerLesson int) domain.Section {
	s := domain.Section{
		SectionNumber: number,
		Title:         fmt.Sprintf("Section %d: Worked Material", number),
		Description:   "Covers the area in depth with worked examples.",
		Objectives:    []string{"Understand the area"},
	}
	for i := 1; i <= lessons; i++ {
		l := domain.Lesson{
			LessonNumber:    i,
			Title:           fmt.Sprintf("Lesson %d", i),
			Objectives:      []string{"Explain the concept", "Apply it in code"},
			KeyTopics:       []string{"topic-a", "topic-b"},
			DurationMinutes: 15,
		}
		for j := 0; j < exercisesPerLesson; j++ {
			l.Exercises = append(l.Exercises, domain.Exercise{
				Type:        domain.ExerciseQuiz,
				Title:       fmt.Sprintf("Check %d", j+1),
				Description: "Short comprehension check.",
			})
		}
		s.Lessons = append(s.Lessons, l)
	}
	return s
}

func sectionJSON(t *testing.T, number, lessons, exercisesPerLesson int) string {
	t.Helper()
	raw, err := json.Marshal(sectionFixture(number, lessons, exercisesPerLesson))
	if err != nil {
		t.Fatalf("marshal section fixture: %v", err)
	}
	return string(raw)
}
