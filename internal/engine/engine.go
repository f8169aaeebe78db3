// Package engine implements the query strategy planning and execution
// pipeline: entity resolution, concurrent rule-based and LLM planning,
// plan selection and validation, backend execution with single-shot
// fallback, and trace/cache management.
package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/covenantql/covenant/internal/llm"
	"github.com/covenantql/covenant/pkg/types"
)

// Engine coordinates one planning+execution call per query. The plan
// cache is the only state shared across concurrent calls.
type Engine struct {
	config      Config
	rulePlanner *RuleBasedPlanner
	llmPlanner  *LLMPlanner
	selector    *PlanSelector
	validator   *QueryValidator
	executor    *QueryExecutor
	cache       *PlanCache
	traceWriter *TraceWriter
}

// New assembles an engine from its configuration, catalog and backends.
// llmGen may be nil when the LLM planner is disabled; secondaryGen may be
// nil when no comparison model is configured.
func New(config Config, catalog *Catalog, backends ExecutorBackends, llmGen, secondaryGen llm.TextGenerator) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	resolver := NewEntityResolver(catalog)
	validator := NewQueryValidator()
	cache := NewPlanCache(config.CacheSize, config.CacheTTL)

	var llmPlanner *LLMPlanner
	if config.LLMEnabled && llmGen != nil {
		opts := []LLMPlannerOption{WithPlannerTimeout(config.LLMTimeout)}
		if secondaryGen != nil {
			opts = append(opts, WithSecondaryModel(secondaryGen))
		}
		if config.RatePerSecond > 0 {
			opts = append(opts, WithRateLimit(config.RatePerSecond, 1))
		}
		llmPlanner = NewLLMPlanner(llmGen, cache, opts...)
	}

	var traceWriter *TraceWriter
	if config.TraceDir != "" {
		w, err := NewTraceWriter(config.TraceDir)
		if err != nil {
			return nil, err
		}
		traceWriter = w
	}

	return &Engine{
		config:      config,
		rulePlanner: NewRuleBasedPlanner(resolver),
		llmPlanner:  llmPlanner,
		selector:    NewPlanSelector(time.Now().UnixNano()),
		validator:   validator,
		executor:    NewQueryExecutor(backends, validator, config.VectorTopK, config.MaxResults),
		cache:       cache,
		traceWriter: traceWriter,
	}, nil
}

// llmOutcome joins the concurrent LLM planning goroutine.
type llmOutcome struct {
	result *PlanResult
	err    error
}

// Answer runs the full pipeline for one query: both planners in
// parallel, selection, validation with one fallback, execution with one
// fallback, then trace finalization. The returned trace is always
// populated, including on error.
func (e *Engine) Answer(ctx context.Context, input types.PlanningInput) (*Answer, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	mode := input.Mode
	if mode == "" {
		mode = e.config.Mode
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && e.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.QueryTimeout)
		defer cancel()
	}

	trace := NewExecutionTrace(input.QueryText, mode)
	if input.SchemaVersion != "" && input.SchemaVersion != SchemaVersion {
		trace.Warn("schema version %q requested, serving %s", input.SchemaVersion, SchemaVersion)
	}
	if input.OntologyVersion != "" && input.OntologyVersion != OntologyVersion {
		trace.Warn("ontology version %q requested, serving %s", input.OntologyVersion, OntologyVersion)
	}

	// Both planners run concurrently and are joined before selection.
	// Each returns an immutable plan; no state is shared between them.
	llmCh := make(chan llmOutcome, 1)
	if e.llmPlanner != nil {
		go func() {
			result, err := e.llmPlanner.Plan(ctx, input.QueryText, input.ModelSelection)
			llmCh <- llmOutcome{result: result, err: err}
		}()
	} else {
		llmCh <- llmOutcome{err: &PlannerError{Reason: PlannerDisabled}}
	}

	ruleStart := time.Now()
	rulePlan := e.rulePlanner.Plan(input.QueryText)
	trace.RecordPlan("rule_based", rulePlan, false, time.Since(ruleStart), nil)

	llmOut := <-llmCh
	var llmPlan *types.StrategyPlan
	switch {
	case llmOut.err != nil:
		trace.RecordPlan("llm", nil, false, 0, llmOut.err)
	default:
		llmPlan = llmOut.result.Plan
		trace.RecordPlan("llm", llmPlan, llmOut.result.CacheHit, llmOut.result.Duration, nil)
	}
	if err := ctx.Err(); err != nil {
		trace.Finalize("timeout")
		e.writeTrace(trace)
		return &Answer{Trace: trace}, &TimeoutError{Stage: "planning", Err: err}
	}

	selected := e.selector.Select(mode, rulePlan, llmPlan)
	if llmPlan != nil && llmPlan.Confidence < 0.5 {
		trace.Warn("llm plan confidence %.2f below execution floor; using rule-based plan", llmPlan.Confidence)
	}
	trace.RecordSelection(selected)

	result, executed, err := e.validateAndExecute(ctx, selected, rulePlan, trace)
	if err != nil {
		outcome := "error"
		var te *TimeoutError
		if errors.As(err, &te) {
			outcome = "timeout"
		}
		trace.Finalize(outcome)
		e.writeTrace(trace)
		return &Answer{Trace: trace}, err
	}

	trace.Finalize("ok")
	e.writeTrace(trace)

	// Cache only plans that executed successfully. Timed-out and failed
	// calls never write, so a poisoned plan cannot be replayed.
	if e.llmPlanner != nil && executed.Source == "llm" && !llmOut.wasCacheHit() {
		e.cache.Put(input.QueryText, input.ModelSelection, executed)
	}

	return &Answer{Result: result, Plan: executed, Trace: trace}, nil
}

func (o llmOutcome) wasCacheHit() bool {
	return o.result != nil && o.result.CacheHit
}

// validateAndExecute runs the selected plan with at most one fallback.
// The fallback plan comes from the failed plan's declared fallback
// strategy when the rule planner can build it, otherwise the rule plan
// itself.
func (e *Engine) validateAndExecute(ctx context.Context, selected, rulePlan *types.StrategyPlan, trace *ExecutionTrace) (*Result, *types.StrategyPlan, error) {
	plan := selected
	if v := e.validator.Validate(plan); !v.Valid {
		vErr := &ValidationError{Strategy: plan.Strategy, Errors: v.Errors}
		fallback := e.fallbackPlan(trace.QueryText, plan, rulePlan)
		if fallback == nil {
			return nil, nil, vErr
		}
		trace.RecordFallback(fallback.Strategy, vErr.Error())
		plan = fallback
		if v := e.validator.Validate(plan); !v.Valid {
			return nil, nil, &ValidationError{Strategy: plan.Strategy, Errors: v.Errors}
		}
		result, err := e.execute(ctx, plan, trace)
		if err != nil {
			if isTimeout(err, ctx) {
				return nil, nil, &TimeoutError{Stage: "execution", Err: err}
			}
			return nil, nil, e.terminal(plan, trace, err)
		}
		return result, plan, nil
	}

	result, err := e.execute(ctx, plan, trace)
	if err == nil {
		return result, plan, nil
	}
	if isTimeout(err, ctx) {
		return nil, nil, &TimeoutError{Stage: "execution", Err: err}
	}

	fallback := e.fallbackPlan(trace.QueryText, plan, rulePlan)
	if fallback == nil {
		return nil, nil, e.terminal(plan, trace, err)
	}
	trace.RecordFallback(fallback.Strategy, err.Error())
	if v := e.validator.Validate(fallback); !v.Valid {
		return nil, nil, &ValidationError{Strategy: fallback.Strategy, Errors: v.Errors}
	}
	result, err = e.execute(ctx, fallback, trace)
	if err != nil {
		if isTimeout(err, ctx) {
			return nil, nil, &TimeoutError{Stage: "execution", Err: err}
		}
		return nil, nil, e.terminal(fallback, trace, err)
	}
	return result, fallback, nil
}

func (e *Engine) execute(ctx context.Context, plan *types.StrategyPlan, trace *ExecutionTrace) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TimeoutError{Stage: "execution", Err: err}
	}
	return e.executor.Execute(ctx, plan, trace)
}

// fallbackPlan builds the next plan after a failure. A failed LLM plan
// falls back to the rule-based plan; a failed rule-based plan falls back
// to its own declared fallback strategy. Returns nil when the chain is
// exhausted (same strategy again, or unbuildable).
func (e *Engine) fallbackPlan(queryText string, failed, rulePlan *types.StrategyPlan) *types.StrategyPlan {
	if failed.Source == "llm" {
		if rulePlan.Strategy == failed.Strategy && rulePlan.Query.Text == failed.Query.Text {
			return nil
		}
		return rulePlan
	}
	if failed.FallbackStrategy == "" || failed.FallbackStrategy == failed.Strategy {
		return nil
	}
	plan, err := e.rulePlanner.PlanForStrategy(queryText, failed.FallbackStrategy)
	if err != nil {
		return nil
	}
	return plan
}

func (e *Engine) terminal(plan *types.StrategyPlan, trace *ExecutionTrace, err error) error {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		execErr.FallbackChain = trace.FallbackChain
		return execErr
	}
	return err
}

func isTimeout(err error, ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	var te *TimeoutError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) writeTrace(trace *ExecutionTrace) {
	if e.traceWriter == nil {
		return
	}
	if _, err := e.traceWriter.Write(trace); err != nil {
		log.Printf("engine: failed to write trace %s: %v", trace.ID, err)
	}
}
