package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lumenlearn/coursegen-backend/internal/data/repos"
	"github.com/lumenlearn/coursegen-backend/internal/domain"
	"github.com/lumenlearn/coursegen-backend/internal/generation"
	apperrors "github.com/lumenlearn/coursegen-backend/internal/pkg/errors"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

const (
	workerPollInterval = 2 * time.Second
	heartbeatInterval  = 15 * time.Second
	claimMaxAttempts   = 3
	claimRetryDelay    = 30 * time.Second
	claimStaleRunning  = 5 * time.Minute
)

// EnqueueInput is the request body for starting a generation run.
type EnqueueInput struct {
	TargetLanguage string                `json:"target_language"`
	StylePreset    string                `json:"style_preset"`
	Analysis       domain.AnalysisResult `json:"analysis"`
}

// CourseGenerationService owns the generation run lifecycle: enqueueing,
// the worker claim loop, cancellation and status reads.
type CourseGenerationService interface {
	Enqueue(ctx context.Context, userID uuid.UUID, in EnqueueInput) (*domain.GenerationRun, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*domain.GenerationRun, error)
	GetLatestRunByCourse(ctx context.Context, courseID uuid.UUID) (*domain.GenerationRun, error)
	Cancel(ctx context.Context, userID, runID uuid.UUID) error
	StartWorker(ctx context.Context)
}

type courseGenerationService struct {
	log      *logger.Logger
	db       *gorm.DB
	courses  repos.CourseRepo
	runs     repos.GenerationRunRepo
	store    generation.Store
	backend  generation.ModelBackend
	embedder generation.EmbeddingBackend
	notifier *Notifier
	opts     generation.Options

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

func NewCourseGenerationService(
	baseLog *logger.Logger,
	db *gorm.DB,
	courses repos.CourseRepo,
	runs repos.GenerationRunRepo,
	store generation.Store,
	backend generation.ModelBackend,
	embedder generation.EmbeddingBackend,
	notifier *Notifier,
	opts generation.Options,
) CourseGenerationService {
	return &courseGenerationService{
		log:      baseLog.With("service", "CourseGenerationService"),
		db:       db,
		courses:  courses,
		runs:     runs,
		store:    store,
		backend:  backend,
		embedder: embedder,
		notifier: notifier,
		opts:     opts,
		cancels:  map[uuid.UUID]context.CancelFunc{},
	}
}

// Enqueue creates the placeholder course and its queued run in one
// transaction. The worker picks the run up from there.
func (s *courseGenerationService) Enqueue(ctx context.Context, userID uuid.UUID, in EnqueueInput) (*domain.GenerationRun, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing user id", apperrors.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Analysis.Topic) == "" {
		return nil, fmt.Errorf("%w: analysis topic required", apperrors.ErrInvalidArgument)
	}
	if in.Analysis.RecommendedSections <= 0 && len(in.Analysis.SectionPlan) == 0 {
		return nil, fmt.Errorf("%w: analysis needs a section plan or section count", apperrors.ErrInvalidArgument)
	}
	if in.TargetLanguage == "" {
		in.TargetLanguage = "en"
	}

	var run *domain.GenerationRun
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		course, err := s.courses.Create(ctx, tx, &domain.Course{
			UserID:     userID,
			Title:      fmt.Sprintf("Generating: %s", in.Analysis.Topic),
			Difficulty: in.Analysis.Difficulty,
			Language:   in.TargetLanguage,
		})
		if err != nil {
			return err
		}

		req := domain.GenerationRequest{
			CourseID:       course.ID,
			UserID:         userID,
			TargetLanguage: in.TargetLanguage,
			StylePreset:    in.StylePreset,
			Analysis:       &in.Analysis,
		}
		reqJSON, err := json.Marshal(req)
		if err != nil {
			return err
		}

		run, err = s.runs.Create(ctx, tx, &domain.GenerationRun{
			UserID:   userID,
			CourseID: course.ID,
			Status:   "queued",
			Phase:    string(domain.PhaseStart),
			Request:  datatypes.JSON(reqJSON),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Generation run enqueued",
		"run_id", run.ID, "course_id", run.CourseID, "user_id", userID, "topic", in.Analysis.Topic)
	return run, nil
}

func (s *courseGenerationService) GetRun(ctx context.Context, runID uuid.UUID) (*domain.GenerationRun, error) {
	run, err := s.runs.GetByID(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apperrors.ErrNotFound
	}
	return run, nil
}

func (s *courseGenerationService) GetLatestRunByCourse(ctx context.Context, courseID uuid.UUID) (*domain.GenerationRun, error) {
	run, err := s.runs.GetLatestByCourse(ctx, nil, courseID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apperrors.ErrNotFound
	}
	return run, nil
}

// Cancel marks a run canceled and interrupts its worker if it is executing
// on this instance. A terminal run cannot be canceled.
func (s *courseGenerationService) Cancel(ctx context.Context, userID, runID uuid.UUID) error {
	run, err := s.runs.GetByID(ctx, nil, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return apperrors.ErrNotFound
	}
	if run.UserID != userID {
		return apperrors.ErrNotFound
	}

	updated, err := s.runs.UpdateFieldsUnlessStatus(ctx, nil, runID,
		[]string{"succeeded", "failed", "canceled"},
		map[string]interface{}{
			"status":     "canceled",
			"error_code": string(generation.CodeCancelled),
			"error":      "canceled by user",
			"locked_at":  nil,
		})
	if err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("%w: run already finished", apperrors.ErrConflict)
	}

	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}

	s.log.Info("Generation run canceled", "run_id", runID)
	s.notifier.Failed(runID, run.CourseID, string(generation.CodeCancelled), "canceled by user")
	return nil
}

// StartWorker launches the claim loop. It keeps claiming until the queue is
// drained, then waits for the next tick.
func (s *courseGenerationService) StartWorker(ctx context.Context) {
	go func() {
		s.log.Info("Generation worker started", "poll_interval", workerPollInterval.String())
		ticker := time.NewTicker(workerPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.log.Info("Generation worker stopped")
				return
			case <-ticker.C:
				for {
					run, err := s.runs.ClaimNextRunnable(ctx, nil, claimMaxAttempts, claimRetryDelay, claimStaleRunning)
					if err != nil {
						s.log.Warn("ClaimNextRunnable failed", "error", err.Error())
						break
					}
					if run == nil {
						break
					}
					go s.process(ctx, run)
				}
			}
		}
	}()
}

func (s *courseGenerationService) process(ctx context.Context, run *domain.GenerationRun) {
	log := s.log.With("run_id", run.ID, "course_id", run.CourseID)

	var req domain.GenerationRequest
	if err := json.Unmarshal(run.Request, &req); err != nil {
		log.Error("Run request unreadable", "error", err.Error())
		s.finishFailed(run, string(generation.CodeInvalidInput), "stored request is not valid JSON")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancels[run.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, run.ID)
		s.mu.Unlock()
	}()

	// Heartbeat keeps the claim fresh so other workers leave it alone.
	hbCtx, hbStop := context.WithCancel(context.Background())
	defer hbStop()
	go func() {
		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				if err := s.runs.Heartbeat(context.Background(), nil, run.ID); err != nil {
					log.Warn("Heartbeat failed", "error", err.Error())
				}
			}
		}
	}()

	controller, err := generation.NewController(
		s.log, s.backend, s.embedder, s.store, s.progressSink(run), s.opts)
	if err != nil {
		log.Error("Controller construction failed", "error", err.Error())
		s.finishFailed(run, string(generation.CodeBackendError), err.Error())
		return
	}

	log.Info("Generation run started", "attempt", run.Attempts)
	result, err := controller.Run(runCtx, &req)
	if err != nil {
		code := generation.CodeOf(err)
		if code == generation.CodeCancelled {
			// Cancel already wrote the terminal row; just make sure a
			// worker-side cancellation (shutdown) is recorded too.
			_, _ = s.runs.UpdateFieldsUnlessStatus(context.Background(), nil, run.ID,
				[]string{"succeeded", "failed", "canceled"},
				map[string]interface{}{
					"status":     "canceled",
					"error_code": string(code),
					"error":      err.Error(),
					"locked_at":  nil,
				})
			log.Info("Generation run canceled mid-flight")
			return
		}
		s.finishFailed(run, string(code), err.Error())
		s.notifier.Failed(run.ID, run.CourseID, string(code), err.Error())
		return
	}

	resultJSON, jerr := json.Marshal(result)
	if jerr != nil {
		log.Error("Result marshal failed", "error", jerr.Error())
		s.finishFailed(run, string(generation.CodePersistenceFailed), jerr.Error())
		return
	}

	updated, uerr := s.runs.UpdateFieldsUnlessStatus(context.Background(), nil, run.ID,
		[]string{"canceled"},
		map[string]interface{}{
			"status":        "succeeded",
			"phase":         string(domain.PhaseDone),
			"progress":      100,
			"result":        datatypes.JSON(resultJSON),
			"input_tokens":  result.Generation.InputTokens,
			"output_tokens": result.Generation.OutputTokens,
			"cost_usd":      result.Generation.CostUSD,
			"locked_at":     nil,
		})
	if uerr != nil {
		log.Error("Run finalize failed", "error", uerr.Error())
		return
	}
	if !updated {
		log.Warn("Run finished after cancellation; result kept but run stays canceled")
		return
	}

	log.Info("Generation run succeeded",
		"sections", len(result.Sections),
		"lessons", result.TotalLessons(),
		"cost_usd", result.Generation.CostUSD,
	)
	s.notifier.Completed(run.ID, result)
}

func (s *courseGenerationService) finishFailed(run *domain.GenerationRun, code string, message string) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":        "failed",
		"phase":         string(domain.PhaseError),
		"error_code":    code,
		"error":         message,
		"last_error_at": now,
		"locked_at":     nil,
	}
	// Fatal codes never requeue; exhaust the attempt budget so the claim
	// loop skips the run.
	if generation.IsFatal(generation.ErrorCode(code)) {
		updates["attempts"] = claimMaxAttempts
	}
	_, err := s.runs.UpdateFieldsUnlessStatus(context.Background(), nil, run.ID,
		[]string{"succeeded", "canceled"}, updates)
	if err != nil {
		s.log.Error("Run failure record failed", "run_id", run.ID, "error", err.Error())
	}
}

// progressSink adapts run-level progress updates to the ProgressSink
// contract: non-blocking, best effort.
func (s *courseGenerationService) progressSink(run *domain.GenerationRun) generation.ProgressSink {
	return &runProgress{svc: s, runID: run.ID}
}

type runProgress struct {
	svc   *courseGenerationService
	runID uuid.UUID
}

func (p *runProgress) ReportProgress(courseID uuid.UUID, phase domain.Phase, percent int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, err := p.svc.runs.AdvanceProgress(ctx, nil, p.runID,
			[]string{"succeeded", "failed", "canceled"},
			string(phase), percent)
		if err != nil {
			p.svc.log.Warn("Progress update failed", "run_id", p.runID, "error", err.Error())
		}
	}()
	p.svc.notifier.Progress(p.runID, courseID, phase, percent)
}
