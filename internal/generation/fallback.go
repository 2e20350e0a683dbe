package generation

import (
	"fmt"
	"strings"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
)

// Deterministic fallbacks. Neither touches a model backend: metadata falls
// back to a template so the run never aborts on its least critical phase,
// and lessons short on exercises are padded instead of re-prompted to keep
// retry cost bounded.

func templateMetadata(req *domain.GenerationRequest) *domain.CourseMetadata {
	a := req.Analysis
	topic := strings.TrimSpace(a.Topic)
	title := fmt.Sprintf("Introduction to %s", topic)
	if strings.EqualFold(a.Difficulty, "advanced") {
		title = fmt.Sprintf("Advanced %s", topic)
	}
	return &domain.CourseMetadata{
		Title: title,
		Description: fmt.Sprintf(
			"A structured %s course on %s. The course walks through the core "+
				"concepts step by step and closes each lesson with practice "+
				"exercises that reinforce the material.",
			strings.ToLower(defaultStr(a.Difficulty, "beginner")), topic,
		),
		Overview: fmt.Sprintf(
			"This course covers %s across %d sections, building from "+
				"fundamentals toward applied practice.",
			topic, a.RecommendedSections,
		),
		TargetAudience: fmt.Sprintf("Learners seeking a %s-level understanding of %s.",
			strings.ToLower(defaultStr(a.Difficulty, "beginner")), topic),
		Difficulty:    defaultStr(a.Difficulty, "beginner"),
		Prerequisites: []string{"Basic study skills", "Willingness to practice"},
		LearningOutcomes: []string{
			fmt.Sprintf("Explain the core concepts of %s", topic),
			fmt.Sprintf("Apply %s techniques to practical problems", topic),
			fmt.Sprintf("Evaluate common approaches within %s", topic),
		},
		Tags:               templateTags(a),
		AssessmentStrategy: "Per-lesson exercises with a mix of quizzes, practice tasks, and reflection prompts.",
	}
}

func templateTags(a *domain.AnalysisResult) []string {
	candidates := append(strings.Fields(strings.ToLower(a.Topic)), strings.ToLower(a.Category), "course")
	seen := map[string]bool{}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		t := normalizeOneWordTag(c)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	for len(out) < domain.MinTags {
		out = append(out, fmt.Sprintf("topic%d", len(out)+1))
	}
	return out
}

// fallbackExerciseTypes is cycled when padding; the rotation keeps padded
// lessons from all carrying identical exercise lists.
var fallbackExerciseTypes = []domain.ExerciseType{
	domain.ExerciseQuiz,
	domain.ExercisePractice,
	domain.ExerciseReflection,
}

// padExercises extends a lesson's exercise list to the minimum count using
// the lesson's own topics. Pure function of its inputs.
func padExercises(l *domain.Lesson) {
	for i := len(l.Exercises); i < domain.MinExercises; i++ {
		et := fallbackExerciseTypes[i%len(fallbackExerciseTypes)]
		topic := l.Title
		if len(l.KeyTopics) > 0 {
			topic = l.KeyTopics[i%len(l.KeyTopics)]
		}
		l.Exercises = append(l.Exercises, fallbackExercise(et, topic))
	}
}

func fallbackExercise(et domain.ExerciseType, topic string) domain.Exercise {
	switch et {
	case domain.ExerciseQuiz:
		return domain.Exercise{
			Type:        et,
			Title:       fmt.Sprintf("Quick check: %s", topic),
			Description: fmt.Sprintf("Answer short questions covering %s to confirm understanding.", topic),
		}
	case domain.ExercisePractice:
		return domain.Exercise{
			Type:        et,
			Title:       fmt.Sprintf("Practice: %s", topic),
			Description: fmt.Sprintf("Work through a guided task applying %s.", topic),
		}
	default:
		return domain.Exercise{
			Type:        domain.ExerciseReflection,
			Title:       fmt.Sprintf("Reflect on %s", topic),
			Description: fmt.Sprintf("Write a short reflection on how %s connects to what you already know.", topic),
		}
	}
}

func defaultStr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
