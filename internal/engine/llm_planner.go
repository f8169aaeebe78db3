package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/covenantql/covenant/internal/llm"
	"github.com/covenantql/covenant/pkg/types"
)

// LLMPlanner produces strategy plans through a single language-model call
// carrying the schema, ontology and strategy rulebook. It consults the
// plan cache before calling out; the engine stores plans back only after
// successful execution.
type LLMPlanner struct {
	primary   llm.TextGenerator
	secondary llm.TextGenerator
	cache     *PlanCache
	limiter   *rate.Limiter
	timeout   time.Duration
}

// LLMPlannerOption configures optional planner behavior.
type LLMPlannerOption func(*LLMPlanner)

// WithSecondaryModel installs the comparison model used when the planning
// input selects "secondary".
func WithSecondaryModel(gen llm.TextGenerator) LLMPlannerOption {
	return func(p *LLMPlanner) { p.secondary = gen }
}

// WithRateLimit caps outbound LLM calls per second.
func WithRateLimit(perSecond float64, burst int) LLMPlannerOption {
	return func(p *LLMPlanner) { p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithPlannerTimeout overrides the default 5s call timeout.
func WithPlannerTimeout(d time.Duration) LLMPlannerOption {
	return func(p *LLMPlanner) { p.timeout = d }
}

// NewLLMPlanner builds a planner over the primary model and cache.
func NewLLMPlanner(primary llm.TextGenerator, cache *PlanCache, opts ...LLMPlannerOption) *LLMPlanner {
	p := &LLMPlanner{
		primary: primary,
		cache:   cache,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanResult carries the planner outcome plus cache provenance.
type PlanResult struct {
	Plan     *types.StrategyPlan
	CacheHit bool
	Duration time.Duration
}

func (p *LLMPlanner) generator(model types.ModelSelection) (llm.TextGenerator, error) {
	switch model {
	case types.ModelPrimary:
		return p.primary, nil
	case types.ModelSecondary:
		if p.secondary == nil {
			return nil, fmt.Errorf("secondary model selected but not configured")
		}
		return p.secondary, nil
	}
	return nil, fmt.Errorf("unknown model selection %q", model)
}

// Plan returns a validated-envelope strategy plan for the query, from
// cache when possible. Malformed model output, a timed-out call and a
// rejected envelope all surface as PlannerError; the caller falls back to
// the rule-based plan.
func (p *LLMPlanner) Plan(ctx context.Context, queryText string, model types.ModelSelection) (*PlanResult, error) {
	if p.primary == nil {
		return nil, &PlannerError{Reason: PlannerDisabled, Err: errors.New("no planning model configured")}
	}
	if p.cache != nil {
		if cached, ok := p.cache.Get(queryText, model); ok {
			return &PlanResult{Plan: cached, CacheHit: true}, nil
		}
	}
	gen, err := p.generator(model)
	if err != nil {
		return nil, &PlannerError{Reason: PlannerDisabled, Err: err}
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(callCtx); err != nil {
			return nil, &PlannerError{Reason: PlannerTimeout, Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	prompt := llm.StrategyPlanningPrompt(queryText, SchemaDescription(), OntologyDescription())
	raw, err := gen.Complete(callCtx, prompt)
	if err != nil {
		reason := PlannerCallFailed
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			reason = PlannerTimeout
		}
		return nil, &PlannerError{Reason: reason, Err: err}
	}

	plan, err := llm.ParseStrategyPlanResponse(raw)
	if err != nil {
		return nil, &PlannerError{Reason: PlannerMalformedOutput, Err: err}
	}
	return &PlanResult{Plan: plan, Duration: time.Since(start)}, nil
}
