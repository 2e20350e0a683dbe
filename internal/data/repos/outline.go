package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

// OutlineRepo covers the course structure tables (sections, lessons,
// exercises) that are always written and deleted together.
type OutlineRepo interface {
	CreateSections(ctx context.Context, tx *gorm.DB, rows []*domain.CourseSection) ([]*domain.CourseSection, error)
	CreateLessons(ctx context.Context, tx *gorm.DB, rows []*domain.CourseLesson) ([]*domain.CourseLesson, error)
	CreateExercises(ctx context.Context, tx *gorm.DB, rows []*domain.CourseExercise) ([]*domain.CourseExercise, error)

	ListSectionsByCourse(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*domain.CourseSection, error)
	ListLessonsBySections(ctx context.Context, tx *gorm.DB, sectionIDs []uuid.UUID) ([]*domain.CourseLesson, error)
	ListExercisesByLessons(ctx context.Context, tx *gorm.DB, lessonIDs []uuid.UUID) ([]*domain.CourseExercise, error)

	FullDeleteByCourse(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) error
}

type outlineRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOutlineRepo(db *gorm.DB, baseLog *logger.Logger) OutlineRepo {
	return &outlineRepo{db: db, log: baseLog.With("repo", "OutlineRepo")}
}

func (r *outlineRepo) CreateSections(ctx context.Context, tx *gorm.DB, rows []*domain.CourseSection) ([]*domain.CourseSection, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return []*domain.CourseSection{}, nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	if err := t.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *outlineRepo) CreateLessons(ctx context.Context, tx *gorm.DB, rows []*domain.CourseLesson) ([]*domain.CourseLesson, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return []*domain.CourseLesson{}, nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	if err := t.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *outlineRepo) CreateExercises(ctx context.Context, tx *gorm.DB, rows []*domain.CourseExercise) ([]*domain.CourseExercise, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return []*domain.CourseExercise{}, nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	if err := t.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *outlineRepo) ListSectionsByCourse(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*domain.CourseSection, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var out []*domain.CourseSection
	if courseID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("section_number ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *outlineRepo) ListLessonsBySections(ctx context.Context, tx *gorm.DB, sectionIDs []uuid.UUID) ([]*domain.CourseLesson, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var out []*domain.CourseLesson
	if len(sectionIDs) == 0 {
		return out, nil
	}
	if err := t.WithContext(ctx).
		Where("section_id IN ?", sectionIDs).
		Order("lesson_number ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *outlineRepo) ListExercisesByLessons(ctx context.Context, tx *gorm.DB, lessonIDs []uuid.UUID) ([]*domain.CourseExercise, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var out []*domain.CourseExercise
	if len(lessonIDs) == 0 {
		return out, nil
	}
	if err := t.WithContext(ctx).
		Where("lesson_id IN ?", lessonIDs).
		Order("index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FullDeleteByCourse removes the whole structure tree for a course. Used
// before a commit rewrites it.
func (r *outlineRepo) FullDeleteByCourse(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if courseID == uuid.Nil {
		return nil
	}

	sections, err := r.ListSectionsByCourse(ctx, t, courseID)
	if err != nil {
		return err
	}
	sectionIDs := make([]uuid.UUID, 0, len(sections))
	for _, s := range sections {
		sectionIDs = append(sectionIDs, s.ID)
	}
	lessons, err := r.ListLessonsBySections(ctx, t, sectionIDs)
	if err != nil {
		return err
	}
	lessonIDs := make([]uuid.UUID, 0, len(lessons))
	for _, l := range lessons {
		lessonIDs = append(lessonIDs, l.ID)
	}

	if len(lessonIDs) > 0 {
		if err := t.WithContext(ctx).Where("lesson_id IN ?", lessonIDs).Delete(&domain.CourseExercise{}).Error; err != nil {
			return err
		}
		if err := t.WithContext(ctx).Where("id IN ?", lessonIDs).Delete(&domain.CourseLesson{}).Error; err != nil {
			return err
		}
	}
	if len(sectionIDs) > 0 {
		if err := t.WithContext(ctx).Where("id IN ?", sectionIDs).Delete(&domain.CourseSection{}).Error; err != nil {
			return err
		}
	}
	return nil
}
