package generation

import (
	"context"

	"github.com/google/uuid"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
)

// Completion is one raw model completion plus its token accounting.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// ModelBackend is the transport to a concrete LLM provider. Implementations
// carry no retry policy: retries are the controller's responsibility.
type ModelBackend interface {
	Complete(ctx context.Context, modelID string, prompt string, maxTokens int, temperature float64) (Completion, error)
}

// EmbeddingBackend produces embedding vectors. Used only by the quality
// validator.
type EmbeddingBackend interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Store persists a finished generation result. Commit must be atomic from
// the caller's perspective: either the whole course tree lands or nothing.
type Store interface {
	Commit(ctx context.Context, courseID uuid.UUID, result *domain.GenerationResult) error
}

// ProgressSink receives fire-and-forget phase/percent updates. No return
// value is consumed; implementations must never block the pipeline.
type ProgressSink interface {
	ReportProgress(courseID uuid.UUID, phase domain.Phase, percent int)
}

// NopProgress discards all progress updates.
type NopProgress struct{}

func (NopProgress) ReportProgress(uuid.UUID, domain.Phase, int) {}
