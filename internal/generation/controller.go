package generation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenlearn/coursegen-backend/internal/domain"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
)

// Options tunes one controller instance. Zero values fall back to the
// defaults below.
type Options struct {
	GroupSize       int
	GroupDelay      time.Duration
	CallTimeout     time.Duration
	MinTotalLessons int
}

func DefaultOptions() Options {
	return Options{
		GroupSize:       2,
		GroupDelay:      500 * time.Millisecond,
		CallTimeout:     90 * time.Second,
		MinTotalLessons: 10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.GroupSize <= 0 {
		o.GroupSize = d.GroupSize
	}
	if o.GroupDelay < 0 {
		o.GroupDelay = d.GroupDelay
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = d.CallTimeout
	}
	if o.MinTotalLessons <= 0 {
		o.MinTotalLessons = d.MinTotalLessons
	}
	return o
}

// Controller drives one generation run through the phase machine
// start -> validating -> generating_metadata -> generating_sections ->
// quality_gate -> assembling -> done, with error reachable from any phase.
// A Controller is single-use: construct one per run.
type Controller struct {
	log       *logger.Logger
	store     Store
	progress  ProgressSink
	validator *Validator
	metadata  *MetadataGenerator
	sections  *SectionBatchGenerator
	opts      Options

	mu      sync.RWMutex
	state   *domain.GenerationState
	model   map[domain.Phase]string
	batches int
}

func NewController(baseLog *logger.Logger, backend ModelBackend, embedder EmbeddingBackend, store Store, progress ProgressSink, opts Options) (*Controller, error) {
	router, err := NewRouter()
	if err != nil {
		return nil, fmt.Errorf("build model router: %w", err)
	}
	if progress == nil {
		progress = NopProgress{}
	}
	opts = opts.withDefaults()
	extractor := NewExtractor(baseLog)
	validator := NewValidator(baseLog, embedder)
	return &Controller{
		log:       baseLog.With("component", "GenerationController"),
		store:     store,
		progress:  progress,
		validator: validator,
		metadata:  NewMetadataGenerator(baseLog, backend, router, extractor, validator, opts.CallTimeout),
		sections:  NewSectionBatchGenerator(baseLog, backend, router, extractor, opts.GroupSize, opts.GroupDelay, opts.CallTimeout),
		opts:      opts,
		state:     domain.NewGenerationState(),
		model:     map[domain.Phase]string{},
	}, nil
}

// Snapshot returns a copy of the run state safe to read concurrently with
// Run.
func (c *Controller) Snapshot() domain.GenerationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := *c.state
	snap.Sections = append([]domain.Section(nil), c.state.Sections...)
	snap.QualityScores = append([]float64(nil), c.state.QualityScores...)
	snap.Errors = append([]string(nil), c.state.Errors...)
	snap.Tokens = make(map[domain.Phase]domain.TokenUsage, len(c.state.Tokens))
	for k, v := range c.state.Tokens {
		snap.Tokens[k] = v
	}
	snap.Retries = make(map[domain.Phase]int, len(c.state.Retries))
	for k, v := range c.state.Retries {
		snap.Retries[k] = v
	}
	return snap
}

// Run executes the full pipeline for one request. On any error the state
// machine lands in the error phase, nothing is committed, and the returned
// error carries a classified code. On success the result has already been
// committed through the store.
func (c *Controller) Run(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	if req == nil {
		c.mu.Lock()
		c.state.Phase = domain.PhaseError
		c.mu.Unlock()
		return nil, newError(CodeInvalidInput, "nil generation request", nil)
	}

	// validating
	c.transition(req, domain.PhaseValidating, 5)
	plan, err := c.validateRequest(req)
	if err != nil {
		return nil, c.fail(req, domain.PhaseValidating, err)
	}

	// generating_metadata
	c.transition(req, domain.PhaseGeneratingMetadata, 15)
	meta, metaStats, err := c.metadata.Generate(ctx, req)
	c.applyStats(domain.PhaseGeneratingMetadata, metaStats)
	if err != nil {
		return nil, c.fail(req, domain.PhaseGeneratingMetadata, err)
	}
	c.setMetadata(meta)
	c.report(req, domain.PhaseGeneratingMetadata, 25)

	// generating_sections
	c.transition(req, domain.PhaseGeneratingSections, 30)
	units := make([]SectionUnit, len(plan))
	for i, e := range plan {
		units[i] = SectionUnit{Entry: e, Number: i + 1}
	}
	sections, secStats, err := c.sections.Generate(ctx, req, units)
	c.applyStats(domain.PhaseGeneratingSections, secStats)
	if err != nil {
		return nil, c.fail(req, domain.PhaseGeneratingSections, err)
	}
	c.setSections(sections)
	c.report(req, domain.PhaseGeneratingSections, 70)

	// quality_gate, with at most one regeneration pass over deficient
	// sections before the run is failed.
	c.transition(req, domain.PhaseQualityGate, 80)
	sections, err = c.runQualityGate(ctx, req, plan, sections)
	if err != nil {
		return nil, c.fail(req, domain.PhaseQualityGate, err)
	}
	c.setSections(sections)

	// assembling
	c.transition(req, domain.PhaseAssembling, 90)
	if err := ctx.Err(); err != nil {
		return nil, c.fail(req, domain.PhaseAssembling, newError(CodeCancelled, "generation cancelled", err))
	}
	result := c.assemble(req, meta, sections)
	if err := c.store.Commit(ctx, req.CourseID, result); err != nil {
		if ctx.Err() != nil {
			return nil, c.fail(req, domain.PhaseAssembling, newError(CodeCancelled, "generation cancelled", err))
		}
		return nil, c.fail(req, domain.PhaseAssembling, newError(CodePersistenceFailed, "commit generated course", err))
	}

	c.transition(req, domain.PhaseDone, 100)
	c.log.Info("Generation run finished",
		"course_id", req.CourseID,
		"sections", len(result.Sections),
		"lessons", result.TotalLessons(),
		"input_tokens", result.Generation.InputTokens,
		"output_tokens", result.Generation.OutputTokens,
		"cost_usd", result.Generation.CostUSD,
		"duration", result.Generation.Duration.String(),
	)
	return result, nil
}

// validateRequest enforces the hard preconditions and resolves the section
// plan. A missing explicit plan is synthesized by spreading the recommended
// lesson count evenly over the recommended section count.
func (c *Controller) validateRequest(req *domain.GenerationRequest) ([]domain.SectionPlanEntry, error) {
	if req.CourseID == uuid.Nil {
		return nil, newError(CodeInvalidInput, "missing course id", nil)
	}
	a := req.Analysis
	if a == nil {
		return nil, newError(CodeInvalidInput, "missing analysis result", nil)
	}
	if a.Topic == "" {
		return nil, newError(CodeInvalidInput, "analysis has no topic", nil)
	}
	if len(a.SectionPlan) > 0 {
		for i, e := range a.SectionPlan {
			if e.Area == "" || e.LessonCount <= 0 {
				return nil, newError(CodeInvalidInput, fmt.Sprintf("section plan entry %d invalid", i), nil)
			}
		}
		return a.SectionPlan, nil
	}
	if a.RecommendedSections <= 0 || a.RecommendedLessons <= 0 {
		return nil, newError(CodeInvalidInput, "analysis has neither a section plan nor recommendations", nil)
	}
	per := a.RecommendedLessons / a.RecommendedSections
	if per < 1 {
		per = 1
	}
	rem := a.RecommendedLessons - per*a.RecommendedSections
	plan := make([]domain.SectionPlanEntry, a.RecommendedSections)
	for i := range plan {
		n := per
		if rem > 0 {
			n++
			rem--
		}
		plan[i] = domain.SectionPlanEntry{
			Area:        fmt.Sprintf("%s: part %d", a.Topic, i+1),
			LessonCount: n,
		}
	}
	c.log.Debug("Synthesized section plan", "sections", len(plan), "lessons", a.RecommendedLessons)
	return plan, nil
}

// runQualityGate checks the assembled outline structurally and semantically.
// On failure it regenerates only the deficient sections, once, and rechecks.
func (c *Controller) runQualityGate(ctx context.Context, req *domain.GenerationRequest, plan []domain.SectionPlanEntry, sections []domain.Section) ([]domain.Section, error) {
	deficient, gateErr := c.checkGate(ctx, req, plan, sections)
	if gateErr == nil {
		return sections, nil
	}
	if CodeOf(gateErr) == CodeCancelled || len(deficient) == 0 {
		return nil, gateErr
	}

	c.log.Warn("Quality gate failed, regenerating deficient sections",
		"deficient", len(deficient), "error", gateErr.Error())
	c.bumpRetries(domain.PhaseQualityGate, 1)

	units := make([]SectionUnit, 0, len(deficient))
	for _, idx := range deficient {
		units = append(units, SectionUnit{Entry: plan[idx], Number: idx + 1})
	}
	regen, stats, err := c.sections.Generate(ctx, req, units)
	c.applyStats(domain.PhaseQualityGate, stats)
	if err != nil {
		return nil, err
	}
	for i, idx := range deficient {
		sections[idx] = regen[i]
	}

	if _, gateErr = c.checkGate(ctx, req, plan, sections); gateErr != nil {
		return nil, gateErr
	}
	return sections, nil
}

// checkGate runs all gate criteria and, on failure, names the section
// indices worth regenerating.
func (c *Controller) checkGate(ctx context.Context, req *domain.GenerationRequest, plan []domain.SectionPlanEntry, sections []domain.Section) ([]int, error) {
	if len(sections) != len(plan) {
		return nil, newError(CodeMinimumNotMet,
			fmt.Sprintf("got %d sections, plan wants %d", len(sections), len(plan)), nil)
	}
	if err := ValidateOutline(sections); err != nil {
		return allIndices(len(sections)), newError(CodeQualityBelowThreshold, err.Error(), err)
	}

	total := 0
	for _, s := range sections {
		total += len(s.Lessons)
	}
	if total < c.opts.MinTotalLessons {
		// Regenerate the sections that fell short of their planned count.
		var short []int
		for i, s := range sections {
			if len(s.Lessons) < plan[i].LessonCount {
				short = append(short, i)
			}
		}
		if len(short) == 0 {
			short = allIndices(len(sections))
		}
		return short, newError(CodeMinimumNotMet,
			fmt.Sprintf("outline has %d lessons, want >= %d", total, c.opts.MinTotalLessons), nil)
	}

	reference := requestIntentText(req)
	report, err := c.validator.CheckSimilarity(ctx, outlineCandidateText(sections), reference)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(CodeCancelled, "generation cancelled", ctx.Err())
		}
		return nil, newError(CodeBackendError, "quality check failed", err)
	}
	c.addQualityScore(report.Similarity)
	if report.Passed {
		return nil, nil
	}

	// Aggregate score missed: score sections individually and regenerate
	// the ones dragging it down.
	var weak []int
	lowest, lowestSim := 0, 2.0
	for i := range sections {
		r, serr := c.validator.CheckSimilarity(ctx, outlineCandidateText(sections[i:i+1]), reference)
		if serr != nil {
			if ctx.Err() != nil {
				return nil, newError(CodeCancelled, "generation cancelled", ctx.Err())
			}
			return nil, newError(CodeBackendError, "quality check failed", serr)
		}
		if r.Similarity < lowestSim {
			lowest, lowestSim = i, r.Similarity
		}
		if !r.Passed {
			weak = append(weak, i)
		}
	}
	if len(weak) == 0 {
		weak = []int{lowest}
	}
	return weak, newError(CodeQualityBelowThreshold,
		fmt.Sprintf("outline similarity %.3f below threshold %.2f", report.Similarity, QualityThreshold), nil)
}

// assemble builds the final result from the accumulated state. Pure
// bookkeeping, no model calls.
func (c *Controller) assemble(req *domain.GenerationRequest, meta *domain.CourseMetadata, sections []domain.Section) *domain.GenerationResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	in, out := c.state.TotalTokens()
	retries := 0
	for _, n := range c.state.Retries {
		retries += n
	}
	quality := 0.0
	if n := len(c.state.QualityScores); n > 0 {
		quality = c.state.QualityScores[n-1]
	}
	models := make(map[domain.Phase]string, len(c.model))
	for k, v := range c.model {
		models[k] = v
	}
	return &domain.GenerationResult{
		CourseID: req.CourseID,
		Metadata: *meta,
		Sections: sections,
		Generation: domain.GenerationMetadata{
			ModelUsed:    models,
			InputTokens:  in,
			OutputTokens: out,
			CostUSD:      c.state.CostUSD,
			QualityScore: quality,
			BatchCount:   c.batches,
			RetryCount:   retries,
			Duration:     time.Since(c.state.StartedAt),
			GeneratedAt:  time.Now(),
		},
	}
}

func (c *Controller) transition(req *domain.GenerationRequest, phase domain.Phase, percent int) {
	c.mu.Lock()
	c.state.Phase = phase
	c.mu.Unlock()
	c.log.Info("Phase transition", "course_id", req.CourseID, "phase", phase)
	c.progress.ReportProgress(req.CourseID, phase, percent)
}

func (c *Controller) report(req *domain.GenerationRequest, phase domain.Phase, percent int) {
	c.progress.ReportProgress(req.CourseID, phase, percent)
}

// fail records the classified error, moves the machine to the error phase
// and returns the error enriched with phase context.
func (c *Controller) fail(req *domain.GenerationRequest, phase domain.Phase, err error) error {
	ge := phaseError(err, phase, PhaseStats{})
	c.mu.Lock()
	c.state.Phase = domain.PhaseError
	c.state.Errors = append(c.state.Errors, ge.Error())
	c.mu.Unlock()
	c.log.Error("Generation run failed",
		"course_id", req.CourseID, "phase", phase, "code", ge.Code, "error", ge.Error())
	c.progress.ReportProgress(req.CourseID, domain.PhaseError, 0)
	return ge
}

func (c *Controller) applyStats(phase domain.Phase, stats PhaseStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.AddTokens(phase, stats.InputTokens, stats.OutputTokens)
	c.state.CostUSD += stats.CostUSD
	if stats.Retries > 0 {
		c.state.Retries[phase] += stats.Retries
	}
	if stats.Quality > 0 {
		c.state.QualityScores = append(c.state.QualityScores, stats.Quality)
	}
	if stats.Model != "" {
		c.model[phase] = stats.Model
	}
	c.batches += stats.Batches
}

func (c *Controller) setMetadata(m *domain.CourseMetadata) {
	c.mu.Lock()
	c.state.Metadata = m
	c.mu.Unlock()
}

func (c *Controller) setSections(s []domain.Section) {
	c.mu.Lock()
	c.state.Sections = s
	c.mu.Unlock()
}

func (c *Controller) addQualityScore(score float64) {
	c.mu.Lock()
	c.state.QualityScores = append(c.state.QualityScores, score)
	c.mu.Unlock()
}

func (c *Controller) bumpRetries(phase domain.Phase, n int) {
	c.mu.Lock()
	c.state.Retries[phase] += n
	c.mu.Unlock()
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
