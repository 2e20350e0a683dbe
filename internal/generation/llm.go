package generation

import (
	"context"
	"errors"
	"time"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
)

// PhaseStats is the per-phase accounting a generator hands back to the
// controller, which owns all state mutation.
type PhaseStats struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Attempts     int
	Retries      int
	Batches      int
	Quality      float64
}

func (s *PhaseStats) absorb(profile ModelProfile, c Completion) {
	s.Model = profile.ModelID
	s.InputTokens += c.InputTokens
	s.OutputTokens += c.OutputTokens
	s.CostUSD += profile.Cost(c.InputTokens, c.OutputTokens)
}

func (s *PhaseStats) merge(o PhaseStats) {
	if o.Model != "" {
		s.Model = o.Model
	}
	s.InputTokens += o.InputTokens
	s.OutputTokens += o.OutputTokens
	s.CostUSD += o.CostUSD
	s.Attempts += o.Attempts
	s.Retries += o.Retries
	s.Batches += o.Batches
	if o.Quality > 0 {
		s.Quality = o.Quality
	}
}

// completeOnce issues one model call under a hard timeout and classifies
// transport failures. A timeout counts against the attempt budget exactly
// like a malformed completion.
func completeOnce(ctx context.Context, backend ModelBackend, profile ModelProfile, prompt string, temperature float64, timeout time.Duration) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, newError(CodeCancelled, "generation cancelled", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := backend.Complete(callCtx, profile.ModelID, prompt, profile.MaxOutputTokens, temperature)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return Completion{}, newError(CodeCancelled, "generation cancelled", err)
		case errors.Is(err, context.DeadlineExceeded):
			return Completion{}, newError(CodeBackendTimeout, "model call timed out", err)
		default:
			return Completion{}, newError(CodeBackendError, "model call failed", err)
		}
	}
	return out, nil
}

// phaseError attaches phase context and token accounting to a classified
// error before it propagates to the caller.
func phaseError(err error, phase domain.Phase, stats PhaseStats) *Error {
	var ge *Error
	if !errors.As(err, &ge) {
		ge = newError(CodeBackendError, err.Error(), err)
	}
	ge.Phase = string(phase)
	ge.InputTokens = stats.InputTokens
	ge.OutputTokens = stats.OutputTokens
	ge.Attempts = stats.Attempts
	return ge
}
