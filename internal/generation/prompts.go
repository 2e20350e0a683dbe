package generation

import (
	"fmt"
	"strings"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
)

// Prompt construction is organized as ordered strategy lists indexed by
// attempt number: attempt 0 gets the verbose prompt with a structural
// example, attempt 1 the minimal strict variant. Callers select by index
// instead of branching on attempt counters.

type metadataPromptFn func(req *domain.GenerationRequest) string

type sectionPromptFn func(req *domain.GenerationRequest, entry domain.SectionPlanEntry, sectionNumber int) string

var metadataPrompts = []metadataPromptFn{
	metadataPromptVerbose,
	metadataPromptStrict,
}

var sectionPrompts = []sectionPromptFn{
	sectionPromptVerbose,
	sectionPromptStrict,
}

func requestBrief(req *domain.GenerationRequest) string {
	a := req.Analysis
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", a.Topic)
	fmt.Fprintf(&b, "Category: %s\n", a.Category)
	fmt.Fprintf(&b, "Difficulty: %s\n", a.Difficulty)
	fmt.Fprintf(&b, "Pedagogy: %s\n", a.PedagogicalStrategy)
	fmt.Fprintf(&b, "Language: %s\n", req.TargetLanguage)
	if req.StylePreset != "" {
		fmt.Fprintf(&b, "Style: %s\n", req.StylePreset)
	}
	if a.RAGContext != "" {
		fmt.Fprintf(&b, "\nReference context (truncated):\n%s\n", truncate(a.RAGContext, 4000))
	}
	return b.String()
}

func metadataPromptVerbose(req *domain.GenerationRequest) string {
	return fmt.Sprintf(
		"You generate concise, high quality course metadata for a structured online course.\n\n"+
			"%s\n"+
			"Return ONLY a JSON object with this exact shape:\n"+
			"{\n"+
			"  \"title\": \"...\",\n"+
			"  \"description\": \"2-6 sentences\",\n"+
			"  \"overview\": \"one paragraph\",\n"+
			"  \"target_audience\": \"...\",\n"+
			"  \"difficulty\": \"%s\",\n"+
			"  \"prerequisites\": [\"...\"],\n"+
			"  \"learning_outcomes\": [\"%d to %d measurable outcomes\"],\n"+
			"  \"tags\": [\"%d to %d lowercase single-word tags\"],\n"+
			"  \"assessment_strategy\": \"...\"\n"+
			"}\n\n"+
			"Rules:\n"+
			"- title <= %d chars, specific and professional.\n"+
			"- tags MUST be single lowercase words (letters/numbers only).\n"+
			"- learning_outcomes MUST start with an action verb.\n",
		requestBrief(req),
		req.Analysis.Difficulty,
		domain.MinLearningOutcomes, domain.MaxLearningOutcomes,
		domain.MinTags, domain.MaxTags,
		domain.MaxTitleLen,
	)
}

func metadataPromptStrict(req *domain.GenerationRequest) string {
	return fmt.Sprintf(
		"Return ONLY valid JSON. No markdown, no comments, no trailing commas.\n\n"+
			"%s\n"+
			"JSON object with keys: title, description, overview, target_audience, "+
			"difficulty, prerequisites, learning_outcomes (%d-%d items), tags (%d-%d "+
			"single lowercase words), assessment_strategy. All keys snake_case.\n",
		requestBrief(req),
		domain.MinLearningOutcomes, domain.MaxLearningOutcomes,
		domain.MinTags, domain.MaxTags,
	)
}

func sectionPromptVerbose(req *domain.GenerationRequest, entry domain.SectionPlanEntry, sectionNumber int) string {
	return fmt.Sprintf(
		"You design one section of a structured course outline.\n\n"+
			"%s\n"+
			"Section %d covers: %s\n"+
			"It must contain exactly %d lessons.\n\n"+
			"Return ONLY a JSON object with this exact shape:\n"+
			"{\n"+
			"  \"section_number\": %d,\n"+
			"  \"title\": \"...\",\n"+
			"  \"description\": \"...\",\n"+
			"  \"objectives\": [\"%d to %d objectives\"],\n"+
			"  \"lessons\": [\n"+
			"    {\n"+
			"      \"lesson_number\": 1,\n"+
			"      \"title\": \"...\",\n"+
			"      \"objectives\": [\"%d to %d objectives\"],\n"+
			"      \"key_topics\": [\"%d to %d topics\"],\n"+
			"      \"duration_minutes\": %d,\n"+
			"      \"exercises\": [\n"+
			"        {\"type\": \"quiz\", \"title\": \"...\", \"description\": \"...\"}\n"+
			"      ]\n"+
			"    }\n"+
			"  ]\n"+
			"}\n\n"+
			"Rules:\n"+
			"- lesson_number is 1-based and sequential.\n"+
			"- duration_minutes between %d and %d.\n"+
			"- exercise type is one of: quiz, practice, reflection, discussion, case_study.\n"+
			"- give each lesson at least %d exercises.\n"+
			"- Do NOT invent topics outside the section scope.\n",
		requestBrief(req),
		sectionNumber, entry.Area,
		entry.LessonCount,
		sectionNumber,
		domain.MinSectionObjectives, domain.MaxSectionObjectives,
		domain.MinLessonObjectives, domain.MaxLessonObjectives,
		domain.MinKeyTopics, domain.MaxKeyTopics,
		(domain.MinLessonDuration+domain.MaxLessonDuration)/2,
		domain.MinLessonDuration, domain.MaxLessonDuration,
		domain.MinExercises,
	)
}

func sectionPromptStrict(req *domain.GenerationRequest, entry domain.SectionPlanEntry, sectionNumber int) string {
	return fmt.Sprintf(
		"Return ONLY valid JSON. No markdown fences, no comments, no trailing "+
			"commas, ASCII quotes only, all keys snake_case.\n\n"+
			"Topic: %s\nSection %d scope: %s\nExactly %d lessons.\n\n"+
			"Object keys: section_number (=%d), title, description, objectives "+
			"(%d-%d), lessons. Each lesson: lesson_number (1-based sequential), "+
			"title, objectives (%d-%d), key_topics (%d-%d), duration_minutes "+
			"(%d-%d), exercises (>=%d; type in quiz|practice|reflection|"+
			"discussion|case_study).\n",
		req.Analysis.Topic, sectionNumber, entry.Area, entry.LessonCount,
		sectionNumber,
		domain.MinSectionObjectives, domain.MaxSectionObjectives,
		domain.MinLessonObjectives, domain.MaxLessonObjectives,
		domain.MinKeyTopics, domain.MaxKeyTopics,
		domain.MinLessonDuration, domain.MaxLessonDuration,
		domain.MinExercises,
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
