package generation

import (
	"context"
	"time"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

// MetadataGenerator produces course-level metadata (phase 1). Metadata is
// the least critical artifact to abort over, so after both model attempts
// fail it falls back to a deterministic template instead of failing the run.
type MetadataGenerator struct {
	log         *logger.Logger
	backend     ModelBackend
	router      *Router
	extractor   *Extractor
	validator   *Validator
	callTimeout time.Duration
}

func NewMetadataGenerator(baseLog *logger.Logger, backend ModelBackend, router *Router, extractor *Extractor, validator *Validator, callTimeout time.Duration) *MetadataGenerator {
	return &MetadataGenerator{
		log:         baseLog.With("component", "MetadataGenerator"),
		backend:     backend,
		router:      router,
		extractor:   extractor,
		validator:   validator,
		callTimeout: callTimeout,
	}
}

func (g *MetadataGenerator) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.CourseMetadata, PhaseStats, error) {
	var stats PhaseStats

	for attempt, buildPrompt := range metadataPrompts {
		if err := ctx.Err(); err != nil {
			return nil, stats, newError(CodeCancelled, "generation cancelled", err)
		}
		prompt := buildPrompt(req)
		profile := g.router.SelectModel(TaskMetadata, len(prompt), attempt > 0)

		started := time.Now()
		out, err := completeOnce(ctx, g.backend, profile, prompt, 0.2, g.callTimeout)
		stats.Attempts++
		if attempt > 0 {
			stats.Retries++
		}
		if err != nil {
			if CodeOf(err) == CodeCancelled {
				return nil, stats, err
			}
			g.log.Warn("Metadata attempt failed at transport",
				"attempt", attempt+1, "model", profile.ModelID, "error", err.Error())
			continue
		}
		stats.absorb(profile, out)
		g.log.Info("Metadata attempt completed",
			"attempt", attempt+1,
			"model", profile.ModelID,
			"input_tokens", out.InputTokens,
			"output_tokens", out.OutputTokens,
			"elapsed", time.Since(started).String(),
		)

		obj, err := g.extractor.Extract(out.Text)
		if err != nil {
			g.log.Warn("Metadata attempt unparseable", "attempt", attempt+1, "error", err.Error())
			continue
		}
		meta := decodeMetadata(g.extractor.NormalizeFields(obj))
		if err := ValidateMetadata(meta); err != nil {
			g.log.Warn("Metadata attempt failed structural check", "attempt", attempt+1, "error", err.Error())
			continue
		}
		report, err := g.validator.CheckSimilarity(ctx, metadataReferenceText(meta), requestIntentText(req))
		if err != nil {
			if ctx.Err() != nil {
				return nil, stats, newError(CodeCancelled, "generation cancelled", ctx.Err())
			}
			g.log.Warn("Metadata semantic check errored", "attempt", attempt+1, "error", err.Error())
			continue
		}
		stats.Quality = report.Similarity
		if !report.Passed {
			g.log.Warn("Metadata below quality threshold",
				"attempt", attempt+1, "similarity", report.Similarity)
			continue
		}
		return meta, stats, nil
	}

	// Both attempts spent: deterministic template keeps the pipeline moving.
	g.log.Warn("Falling back to template metadata", "attempts", stats.Attempts)
	return templateMetadata(req), stats, nil
}
