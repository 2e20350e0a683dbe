package generation

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Task is the logical work category the router maps onto a concrete model.
type Task string

const (
	TaskMetadata         Task = "metadata"
	TaskSectionExpansion Task = "section-expansion"
	TaskQualityCheck     Task = "quality-check"
	TaskOverflowFallback Task = "overflow-fallback"
)

// ModelProfile is one concrete backend model plus its cost/latency envelope.
type ModelProfile struct {
	ModelID          string  `yaml:"model_id"`
	MaxOutputTokens  int     `yaml:"max_output_tokens"`
	CostPerKTokenIn  float64 `yaml:"cost_per_ktoken_in"`
	CostPerKTokenOut float64 `yaml:"cost_per_ktoken_out"`
}

// Cost prices a completion against this profile.
func (p ModelProfile) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000.0*p.CostPerKTokenIn +
		float64(outputTokens)/1000.0*p.CostPerKTokenOut
}

type routingTable struct {
	// ContextCutoff is the estimated prompt size above which section
	// expansion is routed to the fallback model regardless of escalation.
	ContextCutoff int                   `yaml:"context_cutoff"`
	Tasks         map[Task]ModelProfile `yaml:"tasks"`
	Fallback      ModelProfile          `yaml:"fallback"`
}

//go:embed routing.yaml
var routingYAML []byte

// Router maps logical tasks to concrete model profiles. The table is loaded
// once and read-only afterwards, so unsynchronized concurrent reads are safe.
type Router struct {
	table routingTable
}

func NewRouter() (*Router, error) {
	var t routingTable
	if err := yaml.Unmarshal(routingYAML, &t); err != nil {
		return nil, fmt.Errorf("parse routing table: %w", err)
	}
	for _, task := range []Task{TaskMetadata, TaskSectionExpansion, TaskQualityCheck, TaskOverflowFallback} {
		if _, ok := t.Tasks[task]; !ok {
			return nil, fmt.Errorf("routing table missing task %q", task)
		}
	}
	if t.Fallback.ModelID == "" {
		return nil, fmt.Errorf("routing table missing fallback model")
	}
	if t.ContextCutoff <= 0 {
		return nil, fmt.Errorf("routing table context_cutoff must be positive")
	}
	return &Router{table: t}, nil
}

// SelectModel resolves a task to a model profile. Deterministic, no side
// effects. Escalated retries and oversized contexts route to the fallback
// (higher-capacity) model; metadata always stays on its own high-fidelity
// route since it is cheap relative to total run cost.
func (r *Router) SelectModel(task Task, contextSize int, escalated bool) ModelProfile {
	if task == TaskMetadata {
		return r.table.Tasks[TaskMetadata]
	}
	if escalated || contextSize > r.table.ContextCutoff {
		return r.table.Fallback
	}
	if p, ok := r.table.Tasks[task]; ok {
		return p
	}
	return r.table.Fallback
}

// ContextCutoff exposes the configured escalation cutoff for callers that
// pre-truncate prompts.
func (r *Router) ContextCutoff() int { return r.table.ContextCutoff }
