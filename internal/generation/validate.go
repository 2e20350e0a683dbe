package generation

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

// QualityThreshold is the minimum semantic similarity between a generated
// artifact and its source intent.
const QualityThreshold = 0.75

// QualityReport is the outcome of one semantic check.
type QualityReport struct {
	Similarity float64
	Passed     bool
}

// Validator enforces the quality gate: structural checks that need no
// embeddings, and a semantic similarity score that does.
type Validator struct {
	log      *logger.Logger
	embedder EmbeddingBackend
}

func NewValidator(baseLog *logger.Logger, embedder EmbeddingBackend) *Validator {
	return &Validator{
		log:      baseLog.With("component", "Validator"),
		embedder: embedder,
	}
}

// CheckSimilarity embeds candidate and reference and scores their cosine
// similarity. Structural failures are checked elsewhere and are always
// fatal-for-attempt regardless of this score.
func (v *Validator) CheckSimilarity(ctx context.Context, candidate string, reference string) (QualityReport, error) {
	vecs, err := v.embedder.Embed(ctx, []string{candidate, reference})
	if err != nil {
		return QualityReport{}, fmt.Errorf("embed for quality check: %w", err)
	}
	if len(vecs) != 2 {
		return QualityReport{}, fmt.Errorf("embedding backend returned %d vectors, want 2", len(vecs))
	}
	sim := cosine(vecs[0], vecs[1])
	report := QualityReport{Similarity: sim, Passed: sim >= QualityThreshold}
	v.log.Debug("Semantic quality check", "similarity", sim, "passed", report.Passed)
	return report, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ValidateMetadata runs the structural checks for course metadata.
func ValidateMetadata(m *domain.CourseMetadata) error {
	if m == nil {
		return fmt.Errorf("metadata missing")
	}
	if err := checkTextLen("title", m.Title, domain.MinTitleLen, domain.MaxTitleLen); err != nil {
		return err
	}
	if err := checkTextLen("description", m.Description, domain.MinDescriptionLen, domain.MaxDescriptionLen); err != nil {
		return err
	}
	if strings.TrimSpace(m.Overview) == "" {
		return fmt.Errorf("overview missing")
	}
	if strings.TrimSpace(m.TargetAudience) == "" {
		return fmt.Errorf("target_audience missing")
	}
	if n := len(m.LearningOutcomes); n < domain.MinLearningOutcomes || n > domain.MaxLearningOutcomes {
		return fmt.Errorf("learning_outcomes count %d outside [%d,%d]", n, domain.MinLearningOutcomes, domain.MaxLearningOutcomes)
	}
	if n := len(m.Tags); n < domain.MinTags || n > domain.MaxTags {
		return fmt.Errorf("tags count %d outside [%d,%d]", n, domain.MinTags, domain.MaxTags)
	}
	return nil
}

// ValidateSection runs the structural checks for one generated section.
// wantNumber is the plan-order position the section must carry.
func ValidateSection(s *domain.Section, wantNumber int) error {
	if s == nil {
		return fmt.Errorf("section missing")
	}
	if s.SectionNumber != wantNumber {
		return fmt.Errorf("section_number %d, want %d", s.SectionNumber, wantNumber)
	}
	if err := checkTextLen("section title", s.Title, domain.MinTitleLen, domain.MaxTitleLen); err != nil {
		return err
	}
	if n := len(s.Objectives); n < domain.MinSectionObjectives || n > domain.MaxSectionObjectives {
		return fmt.Errorf("section %d objectives count %d outside [%d,%d]", wantNumber, n, domain.MinSectionObjectives, domain.MaxSectionObjectives)
	}
	if len(s.Lessons) == 0 {
		return fmt.Errorf("section %d has no lessons", wantNumber)
	}
	for i := range s.Lessons {
		if err := validateLesson(&s.Lessons[i], i+1); err != nil {
			return fmt.Errorf("section %d: %w", wantNumber, err)
		}
	}
	return nil
}

func validateLesson(l *domain.Lesson, wantNumber int) error {
	if l.LessonNumber != wantNumber {
		return fmt.Errorf("lesson_number %d, want %d", l.LessonNumber, wantNumber)
	}
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("lesson %d title missing", wantNumber)
	}
	if n := len(l.Objectives); n < domain.MinLessonObjectives || n > domain.MaxLessonObjectives {
		return fmt.Errorf("lesson %d objectives count %d outside [%d,%d]", wantNumber, n, domain.MinLessonObjectives, domain.MaxLessonObjectives)
	}
	if n := len(l.KeyTopics); n < domain.MinKeyTopics || n > domain.MaxKeyTopics {
		return fmt.Errorf("lesson %d key_topics count %d outside [%d,%d]", wantNumber, n, domain.MinKeyTopics, domain.MaxKeyTopics)
	}
	if l.DurationMinutes < domain.MinLessonDuration || l.DurationMinutes > domain.MaxLessonDuration {
		return fmt.Errorf("lesson %d duration %d outside [%d,%d]", wantNumber, l.DurationMinutes, domain.MinLessonDuration, domain.MaxLessonDuration)
	}
	for i, ex := range l.Exercises {
		if !domain.ValidExerciseType(ex.Type) {
			return fmt.Errorf("lesson %d exercise %d has unknown type %q", wantNumber, i, ex.Type)
		}
		if strings.TrimSpace(ex.Title) == "" {
			return fmt.Errorf("lesson %d exercise %d title missing", wantNumber, i)
		}
	}
	// Exercise minimum is NOT checked here: lessons short on exercises are
	// padded deterministically after batch completion, then re-checked at
	// the quality gate.
	return nil
}

// ValidateOutline runs the aggregate structural checks before assembly:
// strictly sequential 1-based numbering and the exercise minimum.
func ValidateOutline(sections []domain.Section) error {
	if len(sections) == 0 {
		return fmt.Errorf("no sections")
	}
	for i := range sections {
		s := &sections[i]
		if s.SectionNumber != i+1 {
			return fmt.Errorf("section at position %d carries number %d", i, s.SectionNumber)
		}
		for j := range s.Lessons {
			l := &s.Lessons[j]
			if l.LessonNumber != j+1 {
				return fmt.Errorf("section %d lesson at position %d carries number %d", s.SectionNumber, j, l.LessonNumber)
			}
			if len(l.Exercises) < domain.MinExercises {
				return fmt.Errorf("section %d lesson %d has %d exercises, want >= %d", s.SectionNumber, l.LessonNumber, len(l.Exercises), domain.MinExercises)
			}
		}
	}
	return nil
}

func checkTextLen(field, s string, min, max int) error {
	n := len(strings.TrimSpace(s))
	if n < min || n > max {
		return fmt.Errorf("%s length %d outside [%d,%d]", field, n, min, max)
	}
	return nil
}
