package generation

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

// SectionUnit is the smallest schedulable piece of section generation: one
// target section with its plan-order number. Sections are never bundled
// into a shared model call so output size stays bounded.
type SectionUnit struct {
	Entry  domain.SectionPlanEntry
	Number int
}

// SectionBatchGenerator produces sections in parallel groups (phase 2).
// Within a group calls run concurrently; groups run strictly sequentially
// with a fixed delay between them as back-pressure against rate limits.
type SectionBatchGenerator struct {
	log         *logger.Logger
	backend     ModelBackend
	router      *Router
	extractor   *Extractor
	groupSize   int
	groupDelay  time.Duration
	callTimeout time.Duration
}

func NewSectionBatchGenerator(baseLog *logger.Logger, backend ModelBackend, router *Router, extractor *Extractor, groupSize int, groupDelay, callTimeout time.Duration) *SectionBatchGenerator {
	if groupSize <= 0 {
		groupSize = 2
	}
	return &SectionBatchGenerator{
		log:         baseLog.With("component", "SectionBatchGenerator"),
		backend:     backend,
		router:      router,
		extractor:   extractor,
		groupSize:   groupSize,
		groupDelay:  groupDelay,
		callTimeout: callTimeout,
	}
}

type unitResult struct {
	section *domain.Section
	stats   PhaseStats
}

// Generate runs all units and returns sections reduced back into plan order
// regardless of completion order, making numbering deterministic under any
// network timing. A unit that fails both attempts fails the whole batch:
// partial section sets are never handed downstream.
func (g *SectionBatchGenerator) Generate(ctx context.Context, req *domain.GenerationRequest, units []SectionUnit) ([]domain.Section, PhaseStats, error) {
	var total PhaseStats
	results := make([]unitResult, len(units))

	batchCount := 0
	for start := 0; start < len(units); start += g.groupSize {
		if err := ctx.Err(); err != nil {
			return nil, total, newError(CodeCancelled, "generation cancelled", err)
		}
		end := start + g.groupSize
		if end > len(units) {
			end = len(units)
		}
		group := units[start:end]
		batchCount++

		eg, groupCtx := errgroup.WithContext(ctx)
		for i := range group {
			idx := start + i
			unit := group[i]
			eg.Go(func() error {
				res, err := g.generateUnit(groupCtx, req, unit)
				results[idx] = res
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			for _, r := range results[:end] {
				total.merge(r.stats)
			}
			if ctx.Err() != nil && CodeOf(err) != CodeCancelled {
				err = newError(CodeCancelled, "generation cancelled", ctx.Err())
			}
			return nil, total, err
		}

		g.log.Info("Section group completed",
			"group", batchCount,
			"units", len(group),
			"done", end,
			"total", len(units),
		)

		// Back-pressure delay between groups, skipped after the last one.
		if end < len(units) && g.groupDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, total, newError(CodeCancelled, "generation cancelled", ctx.Err())
			case <-time.After(g.groupDelay):
			}
		}
	}

	// Reduce in plan order.
	sections := make([]domain.Section, 0, len(units))
	for _, r := range results {
		total.merge(r.stats)
		if r.section == nil {
			return nil, total, newError(CodeExtractionFailed, "section unit produced no result", nil)
		}
		sections = append(sections, *r.section)
	}

	// Pad lessons short on exercises. Deterministic, no model calls.
	padded := 0
	for si := range sections {
		for li := range sections[si].Lessons {
			l := &sections[si].Lessons[li]
			if len(l.Exercises) < domain.MinExercises {
				padExercises(l)
				padded++
			}
		}
	}
	if padded > 0 {
		g.log.Warn("Padded lessons with fallback exercises", "lessons", padded)
	}

	total.Batches = batchCount
	g.log.Info("Section batch finished",
		"sections", len(sections),
		"groups", batchCount,
		"input_tokens", total.InputTokens,
		"output_tokens", total.OutputTokens,
	)
	return sections, total, nil
}

// generateUnit runs one section unit with its two-attempt prompt ladder:
// verbose with a structural example first, then minimal and strict on an
// escalated model.
func (g *SectionBatchGenerator) generateUnit(ctx context.Context, req *domain.GenerationRequest, unit SectionUnit) (unitResult, error) {
	var res unitResult
	var lastErr error

	for attempt, buildPrompt := range sectionPrompts {
		if err := ctx.Err(); err != nil {
			return res, newError(CodeCancelled, "generation cancelled", err)
		}
		prompt := buildPrompt(req, unit.Entry, unit.Number)
		profile := g.router.SelectModel(TaskSectionExpansion, len(prompt), attempt > 0)

		started := time.Now()
		out, err := completeOnce(ctx, g.backend, profile, prompt, 0.3, g.callTimeout)
		res.stats.Attempts++
		if attempt > 0 {
			res.stats.Retries++
		}
		if err != nil {
			if CodeOf(err) == CodeCancelled {
				return res, err
			}
			lastErr = err
			g.log.Warn("Section attempt failed at transport",
				"section", unit.Number, "attempt", attempt+1, "model", profile.ModelID, "error", err.Error())
			continue
		}
		res.stats.absorb(profile, out)
		g.log.Debug("Section attempt completed",
			"section", unit.Number,
			"attempt", attempt+1,
			"model", profile.ModelID,
			"output_tokens", out.OutputTokens,
			"elapsed", time.Since(started).String(),
		)

		obj, err := g.extractor.Extract(out.Text)
		if err != nil {
			lastErr = err
			g.log.Warn("Section attempt unparseable", "section", unit.Number, "attempt", attempt+1)
			continue
		}
		section := decodeSection(g.extractor.NormalizeFields(obj))
		// Models occasionally renumber; the plan position is authoritative.
		if section.SectionNumber == 0 {
			section.SectionNumber = unit.Number
		}
		if err := ValidateSection(section, unit.Number); err != nil {
			lastErr = newError(CodeQualityBelowThreshold, err.Error(), err)
			g.log.Warn("Section attempt failed structural check",
				"section", unit.Number, "attempt", attempt+1, "error", err.Error())
			continue
		}
		res.section = section
		return res, nil
	}

	if lastErr == nil {
		lastErr = newError(CodeExtractionFailed, fmt.Sprintf("section %d: no usable completion", unit.Number), nil)
	}
	return res, lastErr
}
