package data

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lumenlearn/coursegen-backend/internal/data/repos"
	"github.com/lumenlearn/coursegen-backend/internal/domain"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

// CourseStore persists finished generation results. Commit runs in a single
// transaction: the placeholder course row is filled in and the full section
// tree written, or nothing changes at all.
type CourseStore struct {
	db      *gorm.DB
	log     *logger.Logger
	courses repos.CourseRepo
	outline repos.OutlineRepo
}

func NewCourseStore(db *gorm.DB, baseLog *logger.Logger, courses repos.CourseRepo, outline repos.OutlineRepo) *CourseStore {
	return &CourseStore{
		db:      db,
		log:     baseLog.With("component", "CourseStore"),
		courses: courses,
		outline: outline,
	}
}

func (s *CourseStore) Commit(ctx context.Context, courseID uuid.UUID, result *domain.GenerationResult) error {
	if courseID == uuid.Nil || result == nil {
		return fmt.Errorf("commit requires a course id and a result")
	}

	metaJSON, err := json.Marshal(struct {
		domain.CourseMetadata
		Generation domain.GenerationMetadata `json:"generation"`
	}{result.Metadata, result.Generation})
	if err != nil {
		return fmt.Errorf("marshal course metadata: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		course, err := s.courses.GetByID(ctx, tx, courseID)
		if err != nil {
			return err
		}
		if course == nil {
			return fmt.Errorf("course %s not found", courseID)
		}

		if err := s.courses.UpdateFields(ctx, tx, courseID, map[string]interface{}{
			"title":       result.Metadata.Title,
			"description": result.Metadata.Description,
			"difficulty":  result.Metadata.Difficulty,
			"metadata":    datatypes.JSON(metaJSON),
		}); err != nil {
			return err
		}

		// Rewrite the structure tree from scratch.
		if err := s.outline.FullDeleteByCourse(ctx, tx, courseID); err != nil {
			return err
		}
		for _, sec := range result.Sections {
			secRow, err := s.createSection(ctx, tx, courseID, sec)
			if err != nil {
				return err
			}
			for _, lesson := range sec.Lessons {
				lessonRow, err := s.createLesson(ctx, tx, secRow.ID, lesson)
				if err != nil {
					return err
				}
				if err := s.createExercises(ctx, tx, lessonRow.ID, lesson.Exercises); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("Course committed",
		"course_id", courseID,
		"sections", len(result.Sections),
		"lessons", result.TotalLessons(),
	)
	return nil
}

func (s *CourseStore) createSection(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, sec domain.Section) (*domain.CourseSection, error) {
	objectives, err := json.Marshal(sec.Objectives)
	if err != nil {
		return nil, err
	}
	rows, err := s.outline.CreateSections(ctx, tx, []*domain.CourseSection{{
		CourseID:      courseID,
		SectionNumber: sec.SectionNumber,
		Title:         sec.Title,
		Description:   sec.Description,
		Objectives:    datatypes.JSON(objectives),
	}})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (s *CourseStore) createLesson(ctx context.Context, tx *gorm.DB, sectionID uuid.UUID, lesson domain.Lesson) (*domain.CourseLesson, error) {
	objectives, err := json.Marshal(lesson.Objectives)
	if err != nil {
		return nil, err
	}
	topics, err := json.Marshal(lesson.KeyTopics)
	if err != nil {
		return nil, err
	}
	rows, err := s.outline.CreateLessons(ctx, tx, []*domain.CourseLesson{{
		SectionID:       sectionID,
		LessonNumber:    lesson.LessonNumber,
		Title:           lesson.Title,
		Objectives:      datatypes.JSON(objectives),
		KeyTopics:       datatypes.JSON(topics),
		DurationMinutes: lesson.DurationMinutes,
	}})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (s *CourseStore) createExercises(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID, exercises []domain.Exercise) error {
	if len(exercises) == 0 {
		return nil
	}
	rows := make([]*domain.CourseExercise, 0, len(exercises))
	for i, ex := range exercises {
		rows = append(rows, &domain.CourseExercise{
			LessonID:    lessonID,
			Index:       i,
			Type:        string(ex.Type),
			Title:       ex.Title,
			Description: ex.Description,
		})
	}
	_, err := s.outline.CreateExercises(ctx, tx, rows)
	return err
}
