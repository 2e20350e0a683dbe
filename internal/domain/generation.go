package domain

import (
	"time"

	"github.com/google/uuid"
)

// Bounds enforced by the structural validator. Generated artifacts outside
// these ranges are rejected before any semantic scoring happens.
const (
	MinLearningOutcomes = 3
	MaxLearningOutcomes = 15
	MinTags             = 3
	MaxTags             = 20

	MinSectionObjectives = 1
	MaxSectionObjectives = 5

	MinLessonObjectives = 2
	MaxLessonObjectives = 5
	MinKeyTopics        = 2
	MaxKeyTopics        = 10
	MinExercises        = 3

	MinLessonDuration = 3
	MaxLessonDuration = 45

	MinTitleLen       = 4
	MaxTitleLen       = 160
	MinDescriptionLen = 20
	MaxDescriptionLen = 2000
)

// ExerciseType is the fixed category set for generated exercises.
type ExerciseType string

const (
	ExerciseQuiz       ExerciseType = "quiz"
	ExercisePractice   ExerciseType = "practice"
	ExerciseReflection ExerciseType = "reflection"
	ExerciseDiscussion ExerciseType = "discussion"
	ExerciseCaseStudy  ExerciseType = "case_study"
)

func ValidExerciseType(t ExerciseType) bool {
	switch t {
	case ExerciseQuiz, ExercisePractice, ExerciseReflection, ExerciseDiscussion, ExerciseCaseStudy:
		return true
	}
	return false
}

// SectionPlanEntry is one target section from the upstream analysis: a
// subject area plus the number of lessons it should receive.
type SectionPlanEntry struct {
	Area        string `json:"area"`
	LessonCount int    `json:"lesson_count"`
}

// AnalysisResult is the upstream-produced brief this pipeline consumes.
// It is read-only from the pipeline's perspective.
type AnalysisResult struct {
	Topic               string             `json:"topic"`
	Category            string             `json:"category"`
	Difficulty          string             `json:"difficulty"`
	PedagogicalStrategy string             `json:"pedagogical_strategy"`
	RecommendedSections int                `json:"recommended_sections"`
	RecommendedLessons  int                `json:"recommended_lessons"`
	SectionPlan         []SectionPlanEntry `json:"section_plan,omitempty"`
	RAGContext          string             `json:"rag_context,omitempty"`
}

// GenerationRequest is the immutable input for one generation run.
type GenerationRequest struct {
	CourseID       uuid.UUID       `json:"course_id"`
	UserID         uuid.UUID       `json:"user_id"`
	TargetLanguage string          `json:"target_language"`
	StylePreset    string          `json:"style_preset"`
	Analysis       *AnalysisResult `json:"analysis"`
}

// CourseMetadata is the course-level artifact produced in phase 1.
type CourseMetadata struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Overview           string   `json:"overview"`
	TargetAudience     string   `json:"target_audience"`
	Difficulty         string   `json:"difficulty"`
	Prerequisites      []string `json:"prerequisites"`
	LearningOutcomes   []string `json:"learning_outcomes"`
	Tags               []string `json:"tags"`
	AssessmentStrategy string   `json:"assessment_strategy"`
}

type Exercise struct {
	Type        ExerciseType `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
}

type Lesson struct {
	LessonNumber    int        `json:"lesson_number"`
	Title           string     `json:"title"`
	Objectives      []string   `json:"objectives"`
	KeyTopics       []string   `json:"key_topics"`
	Exercises       []Exercise `json:"exercises"`
	DurationMinutes int        `json:"duration_minutes"`
}

type Section struct {
	SectionNumber int      `json:"section_number"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Objectives    []string `json:"objectives"`
	Lessons       []Lesson `json:"lessons"`
}

// Phase enumerates the controller's state machine.
type Phase string

const (
	PhaseStart              Phase = "start"
	PhaseValidating         Phase = "validating"
	PhaseGeneratingMetadata Phase = "generating_metadata"
	PhaseGeneratingSections Phase = "generating_sections"
	PhaseQualityGate        Phase = "quality_gate"
	PhaseAssembling         Phase = "assembling"
	PhaseDone               Phase = "done"
	PhaseError              Phase = "error"
)

// TokenUsage accumulates prompt/completion tokens for one phase.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

func (u *TokenUsage) Add(in, out int) {
	u.Input += in
	u.Output += out
}

// GenerationState is the mutable accumulator for one run. It is owned
// exclusively by the controller and mutated only between await points.
type GenerationState struct {
	Phase         Phase                `json:"phase"`
	Metadata      *CourseMetadata      `json:"metadata,omitempty"`
	Sections      []Section            `json:"sections"`
	Tokens        map[Phase]TokenUsage `json:"tokens"`
	CostUSD       float64              `json:"cost_usd"`
	QualityScores []float64            `json:"quality_scores"`
	Retries       map[Phase]int        `json:"retries"`
	Errors        []string             `json:"errors"`
	StartedAt     time.Time            `json:"started_at"`
}

func NewGenerationState() *GenerationState {
	return &GenerationState{
		Phase:     PhaseStart,
		Sections:  []Section{},
		Tokens:    map[Phase]TokenUsage{},
		Retries:   map[Phase]int{},
		StartedAt: time.Now(),
	}
}

func (s *GenerationState) AddTokens(phase Phase, in, out int) {
	u := s.Tokens[phase]
	u.Add(in, out)
	s.Tokens[phase] = u
}

func (s *GenerationState) TotalTokens() (in int, out int) {
	for _, u := range s.Tokens {
		in += u.Input
		out += u.Output
	}
	return in, out
}

// GenerationMetadata is the accounting block attached to a finished run.
type GenerationMetadata struct {
	ModelUsed    map[Phase]string `json:"model_used"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
	CostUSD      float64          `json:"cost_usd"`
	QualityScore float64          `json:"quality_score"`
	BatchCount   int              `json:"batch_count"`
	RetryCount   int              `json:"retry_count"`
	Duration     time.Duration    `json:"duration"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// GenerationResult is the finished, validated course structure. Created
// once at assembly and committed exactly once.
type GenerationResult struct {
	CourseID   uuid.UUID          `json:"course_id"`
	Metadata   CourseMetadata     `json:"metadata"`
	Sections   []Section          `json:"sections"`
	Generation GenerationMetadata `json:"generation"`
}

// TotalLessons counts lessons across all sections.
func (r *GenerationResult) TotalLessons() int {
	n := 0
	for _, s := range r.Sections {
		n += len(s.Lessons)
	}
	return n
}
