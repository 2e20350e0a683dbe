package data

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lumenlearn/coursegen-backend/internal/data/repos"
	"github.com/lumenlearn/coursegen-backend/internal/domain"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.Course{},
		&domain.CourseSection{},
		&domain.CourseLesson{},
		&domain.CourseExercise{},
		&domain.GenerationRun{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func sampleResult(courseID uuid.UUID) *domain.GenerationResult {
	section := func(n int) domain.Section {
		return domain.Section{
			SectionNumber: n,
			Title:         fmt.Sprintf("Section %d", n),
			Description:   "Covers the planned area.",
			Objectives:    []string{"Understand the area"},
			Lessons: []domain.Lesson{
				{
					LessonNumber:    1,
					Title:           "First lesson",
					Objectives:      []string{"Explain it", "Apply it"},
					KeyTopics:       []string{"alpha", "beta"},
					DurationMinutes: 15,
					Exercises: []domain.Exercise{
						{Type: domain.ExerciseQuiz, Title: "Check", Description: "Quick check."},
						{Type: domain.ExercisePractice, Title: "Practice", Description: "Guided task."},
						{Type: domain.ExerciseReflection, Title: "Reflect", Description: "Short reflection."},
					},
				},
			},
		}
	}
	return &domain.GenerationResult{
		CourseID: courseID,
		Metadata: domain.CourseMetadata{
			Title:       "Committed Course",
			Description: "A fully generated course ready for learners.",
			Difficulty:  "beginner",
			Tags:        []string{"go", "testing", "course"},
		},
		Sections: []domain.Section{section(1), section(2)},
	}
}

func TestCourseStoreCommitWritesWholeTree(t *testing.T) {
	db := newTestDB(t)
	log := logger.NewNop()
	courseRepo := repos.NewCourseRepo(db, log)
	outlineRepo := repos.NewOutlineRepo(db, log)
	store := NewCourseStore(db, log, courseRepo, outlineRepo)
	ctx := context.Background()

	course, err := courseRepo.Create(ctx, nil, &domain.Course{
		UserID: uuid.New(),
		Title:  "Generating: Go",
	})
	if err != nil {
		t.Fatalf("create placeholder: %v", err)
	}

	if err := store.Commit(ctx, course.ID, sampleResult(course.ID)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	got, err := courseRepo.GetByID(ctx, nil, course.ID)
	if err != nil {
		t.Fatalf("reload course: %v", err)
	}
	if got.Title != "Committed Course" {
		t.Fatalf("course title = %q, placeholder not replaced", got.Title)
	}

	sections, err := outlineRepo.ListSectionsByCourse(ctx, nil, course.ID)
	if err != nil {
		t.Fatalf("list sections: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(sections))
	}
	var sectionIDs []uuid.UUID
	for _, s := range sections {
		sectionIDs = append(sectionIDs, s.ID)
	}
	lessons, err := outlineRepo.ListLessonsBySections(ctx, nil, sectionIDs)
	if err != nil {
		t.Fatalf("list lessons: %v", err)
	}
	if len(lessons) != 2 {
		t.Fatalf("lessons = %d, want 2", len(lessons))
	}
	var lessonIDs []uuid.UUID
	for _, l := range lessons {
		lessonIDs = append(lessonIDs, l.ID)
	}
	exercises, err := outlineRepo.ListExercisesByLessons(ctx, nil, lessonIDs)
	if err != nil {
		t.Fatalf("list exercises: %v", err)
	}
	if len(exercises) != 6 {
		t.Fatalf("exercises = %d, want 6", len(exercises))
	}
}

func TestCourseStoreCommitRewritesNotDuplicates(t *testing.T) {
	db := newTestDB(t)
	log := logger.NewNop()
	courseRepo := repos.NewCourseRepo(db, log)
	outlineRepo := repos.NewOutlineRepo(db, log)
	store := NewCourseStore(db, log, courseRepo, outlineRepo)
	ctx := context.Background()

	course, err := courseRepo.Create(ctx, nil, &domain.Course{UserID: uuid.New(), Title: "Placeholder"})
	if err != nil {
		t.Fatalf("create placeholder: %v", err)
	}

	if err := store.Commit(ctx, course.ID, sampleResult(course.ID)); err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	if err := store.Commit(ctx, course.ID, sampleResult(course.ID)); err != nil {
		t.Fatalf("second Commit failed: %v", err)
	}

	sections, err := outlineRepo.ListSectionsByCourse(ctx, nil, course.ID)
	if err != nil {
		t.Fatalf("list sections: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("sections = %d after recommit, want 2", len(sections))
	}
}

func TestCourseStoreCommitRejectsUnknownCourse(t *testing.T) {
	db := newTestDB(t)
	log := logger.NewNop()
	store := NewCourseStore(db, log, repos.NewCourseRepo(db, log), repos.NewOutlineRepo(db, log))

	missing := uuid.New()
	if err := store.Commit(context.Background(), missing, sampleResult(missing)); err == nil {
		t.Fatal("commit against a missing course must fail")
	}
}

func TestGenerationRunProgressNeverMovesBackwards(t *testing.T) {
	db := newTestDB(t)
	log := logger.NewNop()
	runs := repos.NewGenerationRunRepo(db, log)
	ctx := context.Background()
	terminal := []string{"succeeded", "failed", "canceled"}

	run, err := runs.Create(ctx, nil, &domain.GenerationRun{
		UserID:   uuid.New(),
		CourseID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	advanced, err := runs.AdvanceProgress(ctx, nil, run.ID, terminal, string(domain.PhaseGeneratingSections), 70)
	if err != nil {
		t.Fatalf("advance to 70: %v", err)
	}
	if !advanced {
		t.Fatal("forward progress rejected")
	}

	// A late report from an earlier phase must not land.
	advanced, err = runs.AdvanceProgress(ctx, nil, run.ID, terminal, string(domain.PhaseGeneratingMetadata), 15)
	if err != nil {
		t.Fatalf("stale advance: %v", err)
	}
	if advanced {
		t.Fatal("stale report moved progress backwards")
	}

	got, err := runs.GetByID(ctx, nil, run.ID)
	if err != nil {
		t.Fatalf("reload run: %v", err)
	}
	if got.Progress != 70 || got.Phase != string(domain.PhaseGeneratingSections) {
		t.Fatalf("run at %d%%/%s, want 70%%/%s", got.Progress, got.Phase, domain.PhaseGeneratingSections)
	}

	if _, err := runs.UpdateFieldsUnlessStatus(ctx, nil, run.ID, nil,
		map[string]interface{}{"status": "canceled"}); err != nil {
		t.Fatalf("cancel run: %v", err)
	}
	advanced, err = runs.AdvanceProgress(ctx, nil, run.ID, terminal, string(domain.PhaseQualityGate), 80)
	if err != nil {
		t.Fatalf("post-cancel advance: %v", err)
	}
	if advanced {
		t.Fatal("terminal run accepted a progress write")
	}
}

func TestGenerationRunStatusGuards(t *testing.T) {
	db := newTestDB(t)
	log := logger.NewNop()
	runs := repos.NewGenerationRunRepo(db, log)
	ctx := context.Background()

	run, err := runs.Create(ctx, nil, &domain.GenerationRun{
		UserID:   uuid.New(),
		CourseID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.Status != "queued" || run.Phase != string(domain.PhaseStart) {
		t.Fatalf("defaults not applied: %+v", run)
	}

	updated, err := runs.UpdateFieldsUnlessStatus(ctx, nil, run.ID,
		[]string{"succeeded", "failed", "canceled"},
		map[string]interface{}{"status": "canceled"})
	if err != nil {
		t.Fatalf("cancel update: %v", err)
	}
	if !updated {
		t.Fatal("queued run should be cancelable")
	}

	// A canceled run is terminal: later writes must not land.
	updated, err = runs.UpdateFieldsUnlessStatus(ctx, nil, run.ID,
		[]string{"succeeded", "failed", "canceled"},
		map[string]interface{}{"status": "succeeded"})
	if err != nil {
		t.Fatalf("post-cancel update: %v", err)
	}
	if updated {
		t.Fatal("terminal run was overwritten")
	}

	got, err := runs.GetByID(ctx, nil, run.ID)
	if err != nil {
		t.Fatalf("reload run: %v", err)
	}
	if got.Status != "canceled" {
		t.Fatalf("status = %q, want canceled", got.Status)
	}
}
