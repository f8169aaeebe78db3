package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/covenantql/covenant/pkg/types"
)

// StepStatus marks the outcome of one execution step.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// ExecutionStep is one recorded backend operation. Steps are appended in
// strict execution order and never reordered.
type ExecutionStep struct {
	StepNumber     int           `json:"step_number"`
	Name           string        `json:"name"`
	Collection     string        `json:"collection"`
	Status         StepStatus    `json:"status"`
	Duration       time.Duration `json:"duration_ns"`
	CostRU         float64       `json:"cost_ru"`
	DocumentsFound int           `json:"documents_found"`
	QueryText      string        `json:"query_text,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// PlanSummary is the trace's record of one planner's output, kept for
// both planners regardless of which plan was executed.
type PlanSummary struct {
	Source     string         `json:"source"`
	Strategy   types.Strategy `json:"strategy,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	CacheHit   bool           `json:"cache_hit,omitempty"`
	Error      string         `json:"error,omitempty"`
	PlannedAt  time.Time      `json:"planned_at"`
	Duration   time.Duration  `json:"duration_ns"`
}

// ExecutionTrace is the append-only record of one query call: both plans,
// the selected strategy, every execution step, warnings, and totals. It is
// created at call start, passed by reference through planning and
// execution, and finalized exactly once.
type ExecutionTrace struct {
	ID        string              `json:"id"`
	QueryText string              `json:"query_text"`
	Mode      types.ExecutionMode `json:"mode"`
	StartedAt time.Time           `json:"started_at"`

	RulePlan *PlanSummary `json:"rule_plan,omitempty"`
	LLMPlan  *PlanSummary `json:"llm_plan,omitempty"`

	SelectedStrategy types.Strategy   `json:"selected_strategy,omitempty"`
	SelectedSource   string           `json:"selected_source,omitempty"`
	ActualStrategy   types.Strategy   `json:"actual_strategy,omitempty"`
	FallbackCount    int              `json:"fallback_count"`
	FallbackChain    []types.Strategy `json:"fallback_chain,omitempty"`

	Steps    []ExecutionStep `json:"steps"`
	Warnings []string        `json:"warnings,omitempty"`

	TotalCostRU    float64       `json:"total_cost_ru"`
	TotalDocuments int           `json:"total_documents"`
	TotalDuration  time.Duration `json:"total_duration_ns"`
	CompletedAt    time.Time     `json:"completed_at"`
	Outcome        string        `json:"outcome,omitempty"`
}

// NewExecutionTrace starts a trace for one query call.
func NewExecutionTrace(queryText string, mode types.ExecutionMode) *ExecutionTrace {
	return &ExecutionTrace{
		ID:        uuid.NewString(),
		QueryText: queryText,
		Mode:      mode,
		StartedAt: time.Now(),
	}
}

// RecordPlan stores a planner's outcome. A nil plan with an error records
// a planner failure.
func (t *ExecutionTrace) RecordPlan(source string, plan *types.StrategyPlan, cacheHit bool, duration time.Duration, err error) {
	s := &PlanSummary{
		Source:    source,
		CacheHit:  cacheHit,
		PlannedAt: time.Now(),
		Duration:  duration,
	}
	if plan != nil {
		s.Strategy = plan.Strategy
		s.Confidence = plan.Confidence
		s.Reasoning = plan.Reasoning
	}
	if err != nil {
		s.Error = err.Error()
	}
	switch source {
	case "rule_based":
		t.RulePlan = s
	case "llm":
		t.LLMPlan = s
	}
}

// RecordSelection stores the selector's decision.
func (t *ExecutionTrace) RecordSelection(plan *types.StrategyPlan) {
	t.SelectedStrategy = plan.Strategy
	t.SelectedSource = plan.Source
	t.ActualStrategy = plan.Strategy
	t.FallbackChain = []types.Strategy{plan.Strategy}
}

// RecordStep appends one execution step, assigning the next step number.
func (t *ExecutionTrace) RecordStep(s ExecutionStep) {
	s.StepNumber = len(t.Steps) + 1
	t.Steps = append(t.Steps, s)
}

// RecordFallback notes that execution switched to the fallback strategy.
func (t *ExecutionTrace) RecordFallback(to types.Strategy, reason string) {
	t.FallbackCount++
	t.FallbackChain = append(t.FallbackChain, to)
	t.ActualStrategy = to
	t.Warnings = append(t.Warnings, fmt.Sprintf("fallback to %s: %s", to, reason))
}

// Warn records a soft warning (entity resolution misses, cache errors).
func (t *ExecutionTrace) Warn(format string, args ...any) {
	t.Warnings = append(t.Warnings, fmt.Sprintf(format, args...))
}

// Finalize computes totals and stamps the outcome. Safe to call once.
func (t *ExecutionTrace) Finalize(outcome string) {
	t.CompletedAt = time.Now()
	t.TotalDuration = t.CompletedAt.Sub(t.StartedAt)
	t.TotalCostRU = 0
	t.TotalDocuments = 0
	for _, s := range t.Steps {
		t.TotalCostRU += s.CostRU
		if s.Status == StepOK {
			t.TotalDocuments += s.DocumentsFound
		}
	}
	t.Outcome = outcome
}

// RenderJSON returns the machine-readable trace artifact.
func (t *ExecutionTrace) RenderJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// RenderASCII returns the human-readable trace artifact.
func (t *ExecutionTrace) RenderASCII() string {
	var b strings.Builder
	line := strings.Repeat("=", 64)

	fmt.Fprintf(&b, "%s\nQUERY TRACE %s\n%s\n", line, t.ID, line)
	fmt.Fprintf(&b, "query: %s\n", t.QueryText)
	fmt.Fprintf(&b, "mode:  %s\n\n", t.Mode)

	renderPlan := func(label string, p *PlanSummary) {
		if p == nil {
			fmt.Fprintf(&b, "%s plan: (not run)\n", label)
			return
		}
		if p.Error != "" {
			fmt.Fprintf(&b, "%s plan: FAILED (%s)\n", label, p.Error)
			return
		}
		cached := ""
		if p.CacheHit {
			cached = " [cached]"
		}
		fmt.Fprintf(&b, "%s plan: %s (confidence %.2f)%s\n", label, p.Strategy, p.Confidence, cached)
		fmt.Fprintf(&b, "  reasoning: %s\n", p.Reasoning)
	}
	renderPlan("rule", t.RulePlan)
	renderPlan("llm ", t.LLMPlan)

	fmt.Fprintf(&b, "\nselected: %s (%s)\n", t.SelectedStrategy, t.SelectedSource)
	if t.FallbackCount > 0 {
		chain := make([]string, len(t.FallbackChain))
		for i, s := range t.FallbackChain {
			chain[i] = string(s)
		}
		fmt.Fprintf(&b, "fallback: %d (%s)\n", t.FallbackCount, strings.Join(chain, " -> "))
	}

	b.WriteString("\nsteps:\n")
	for _, s := range t.Steps {
		status := strings.ToUpper(string(s.Status))
		fmt.Fprintf(&b, "  %d. [%s] %s @ %s  docs=%d  cost=%.2f RU  %s\n",
			s.StepNumber, status, s.Name, s.Collection, s.DocumentsFound, s.CostRU, s.Duration)
		if s.QueryText != "" {
			fmt.Fprintf(&b, "     query: %s\n", firstLine(s.QueryText))
		}
		if s.Error != "" {
			fmt.Fprintf(&b, "     error: %s\n", s.Error)
		}
	}

	if len(t.Warnings) > 0 {
		b.WriteString("\nwarnings:\n")
		for _, w := range t.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}

	fmt.Fprintf(&b, "\ntotal: %d docs, %.2f RU, %s\n", t.TotalDocuments, t.TotalCostRU, t.TotalDuration)
	fmt.Fprintf(&b, "outcome: %s\n%s\n", t.Outcome, line)
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
