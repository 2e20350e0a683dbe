package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

type GenerationRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *domain.GenerationRun) (*domain.GenerationRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.GenerationRun, error)
	GetLatestByCourse(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) (*domain.GenerationRun, error)
	ListActiveByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*domain.GenerationRun, error)

	// ClaimNextRunnable picks one runnable run and marks it running
	// (SKIP LOCKED). Returns nil when nothing is claimable.
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay, staleRunning time.Duration) (*domain.GenerationRun, error)

	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error

	// UpdateFieldsUnlessStatus applies updates only while the run is not in
	// one of the given terminal statuses. Guards against a late worker
	// overwriting a cancellation.
	UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error)

	// AdvanceProgress records phase/progress only while the run is not in an
	// excluded status and the new value is at or past the persisted one, so
	// late out-of-order reports never move progress backwards.
	AdvanceProgress(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, phase string, progress int) (bool, error)

	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type generationRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationRunRepo(db *gorm.DB, baseLog *logger.Logger) GenerationRunRepo {
	return &generationRunRepo{db: db, log: baseLog.With("repo", "GenerationRunRepo")}
}

func (r *generationRunRepo) Create(ctx context.Context, tx *gorm.DB, row *domain.GenerationRun) (*domain.GenerationRun, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Status == "" {
		row.Status = "queued"
	}
	if row.Phase == "" {
		row.Phase = string(domain.PhaseStart)
	}
	if err := t.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *generationRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.GenerationRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	t := tx
	if t == nil {
		t = r.db
	}
	var out []*domain.GenerationRun
	if err := t.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *generationRunRepo) GetLatestByCourse(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) (*domain.GenerationRun, error) {
	if courseID == uuid.Nil {
		return nil, nil
	}
	t := tx
	if t == nil {
		t = r.db
	}
	var out []*domain.GenerationRun
	if err := t.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("created_at DESC").
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *generationRunRepo) ListActiveByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*domain.GenerationRun, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var out []*domain.GenerationRun
	if userID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []string{"queued", "running"}).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay, staleRunning time.Duration) (*domain.GenerationRun, error) {
	t := tx
	if t == nil {
		t = r.db
	}

	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)

	var claimed *domain.GenerationRun

	err := t.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var run domain.GenerationRun

		q := txx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
					status = ?
					OR (
						status = ?
						AND attempts < ?
						AND (last_error_at IS NULL OR last_error_at < ?)
					)
					OR (
						status = ?
						AND heartbeat_at IS NOT NULL
						AND heartbeat_at < ?
					)
				)
			`, "queued", "failed", maxAttempts, retryCutoff, "running", staleCutoff).
			Order("created_at ASC")

		qErr := q.First(&run).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		uErr := txx.Model(&domain.GenerationRun{}).
			Where("id = ?", run.ID).
			Updates(map[string]interface{}{
				"status":       "running",
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}

		claimed = &run
		return nil
	})

	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *generationRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return t.WithContext(ctx).
		Model(&domain.GenerationRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *generationRunRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return false, nil
	}
	updates["updated_at"] = time.Now()
	res := t.WithContext(ctx).
		Model(&domain.GenerationRun{}).
		Where("id = ?", id)
	if len(excluded) > 0 {
		res = res.Where("status NOT IN ?", excluded)
	}
	out := res.Updates(updates)
	if out.Error != nil {
		return false, out.Error
	}
	return out.RowsAffected > 0, nil
}

func (r *generationRunRepo) AdvanceProgress(ctx context.Context, tx *gorm.DB, id uuid.UUID, excluded []string, phase string, progress int) (bool, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := t.WithContext(ctx).
		Model(&domain.GenerationRun{}).
		Where("id = ? AND progress <= ?", id, progress)
	if len(excluded) > 0 {
		res = res.Where("status NOT IN ?", excluded)
	}
	out := res.Updates(map[string]interface{}{
		"phase":      phase,
		"progress":   progress,
		"updated_at": time.Now(),
	})
	if out.Error != nil {
		return false, out.Error
	}
	return out.RowsAffected > 0, nil
}

func (r *generationRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.UpdateFields(ctx, tx, id, map[string]interface{}{
		"heartbeat_at": time.Now(),
	})
}
