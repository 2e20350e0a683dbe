package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
)

// Decoding from the extractor's map[string]any into domain structs. Loose on
// purpose: field presence and bounds are the structural validator's job.

func decodeMetadata(obj map[string]any) *domain.CourseMetadata {
	return &domain.CourseMetadata{
		Title:              strings.TrimSpace(stringOr(obj["title"], "")),
		Description:        strings.TrimSpace(stringOr(obj["description"], "")),
		Overview:           strings.TrimSpace(stringOr(obj["overview"], "")),
		TargetAudience:     strings.TrimSpace(stringOr(obj["target_audience"], "")),
		Difficulty:         strings.TrimSpace(stringOr(obj["difficulty"], "")),
		Prerequisites:      toStringSlice(obj["prerequisites"]),
		LearningOutcomes:   toStringSlice(obj["learning_outcomes"]),
		Tags:               normalizeTags(obj["tags"], domain.MaxTags),
		AssessmentStrategy: strings.TrimSpace(stringOr(obj["assessment_strategy"], "")),
	}
}

func decodeSection(obj map[string]any) *domain.Section {
	s := &domain.Section{
		SectionNumber: intFromAny(obj["section_number"], 0),
		Title:         strings.TrimSpace(stringOr(obj["title"], "")),
		Description:   strings.TrimSpace(stringOr(obj["description"], "")),
		Objectives:    toStringSlice(obj["objectives"]),
	}
	lessonsAny, _ := obj["lessons"].([]any)
	s.Lessons = make([]domain.Lesson, 0, len(lessonsAny))
	for _, raw := range lessonsAny {
		lm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		s.Lessons = append(s.Lessons, decodeLesson(lm))
	}
	return s
}

func decodeLesson(obj map[string]any) domain.Lesson {
	l := domain.Lesson{
		LessonNumber:    intFromAny(obj["lesson_number"], 0),
		Title:           strings.TrimSpace(stringOr(obj["title"], "")),
		Objectives:      toStringSlice(obj["objectives"]),
		KeyTopics:       toStringSlice(obj["key_topics"]),
		DurationMinutes: intFromAny(obj["duration_minutes"], 10),
	}
	exercisesAny, _ := obj["exercises"].([]any)
	l.Exercises = make([]domain.Exercise, 0, len(exercisesAny))
	for _, raw := range exercisesAny {
		em, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		l.Exercises = append(l.Exercises, domain.Exercise{
			Type:        normalizeExerciseType(stringOr(em["type"], "")),
			Title:       strings.TrimSpace(stringOr(em["title"], "")),
			Description: strings.TrimSpace(stringOr(em["description"], "")),
		})
	}
	return l
}

// normalizeExerciseType maps loose model spellings onto the fixed enum.
func normalizeExerciseType(s string) domain.ExerciseType {
	t := domain.ExerciseType(strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	switch t {
	case "casestudy", "case study":
		return domain.ExerciseCaseStudy
	case "exercise", "practical", "hands_on":
		return domain.ExercisePractice
	}
	if domain.ValidExerciseType(t) {
		return t
	}
	return domain.ExerciseType(t)
}

// requestIntentText flattens the analysed request into the reference text
// every semantic check compares against.
func requestIntentText(req *domain.GenerationRequest) string {
	a := req.Analysis
	parts := []string{a.Topic, a.Category, a.Difficulty, a.PedagogicalStrategy}
	for _, e := range a.SectionPlan {
		parts = append(parts, e.Area)
	}
	return strings.Join(parts, "\n")
}

// metadataReferenceText flattens metadata into the text compared against the
// request intent by the semantic check.
func metadataReferenceText(m *domain.CourseMetadata) string {
	parts := []string{m.Title, m.Description, m.Overview}
	parts = append(parts, m.LearningOutcomes...)
	return strings.Join(parts, "\n")
}

// outlineCandidateText flattens the generated outline for the aggregate
// semantic check.
func outlineCandidateText(sections []domain.Section) string {
	var b strings.Builder
	for _, s := range sections {
		b.WriteString(s.Title)
		b.WriteString("\n")
		b.WriteString(s.Description)
		b.WriteString("\n")
		for _, l := range s.Lessons {
			b.WriteString(l.Title)
			b.WriteString(": ")
			b.WriteString(strings.Join(l.KeyTopics, ", "))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func stringOr(v any, def string) string {
	if v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toStringSlice(v any) []string {
	if v == nil {
		return []string{}
	}
	a, ok := v.([]any)
	if !ok {
		if ss, ok2 := v.([]string); ok2 {
			return ss
		}
		return []string{}
	}
	out := make([]string, 0, len(a))
	for _, x := range a {
		s := strings.TrimSpace(fmt.Sprint(x))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intFromAny(v any, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case json.Number:
		i, _ := t.Int64()
		return int(i)
	default:
		return def
	}
}

func normalizeOneWordTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		}
	}
	return string(out)
}

func normalizeTags(v any, maxN int) []string {
	raw := toStringSlice(v)
	seen := map[string]bool{}
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		tt := normalizeOneWordTag(t)
		if tt == "" || seen[tt] {
			continue
		}
		seen[tt] = true
		out = append(out, tt)
		if maxN > 0 && len(out) >= maxN {
			break
		}
	}
	return out
}
