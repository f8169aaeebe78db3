package engine

import (
	"fmt"
	"strings"

	"github.com/covenantql/covenant/pkg/types"
)

// PlannerError reasons.
const (
	PlannerMalformedOutput = "malformed_output"
	PlannerTimeout         = "timeout"
	PlannerLowConfidence   = "low_confidence"
	PlannerDisabled        = "disabled"
	PlannerCallFailed      = "call_failed"
)

// PlannerError indicates the LLM planner failed to produce a usable plan:
// malformed output, a timeout, or confidence below the execution floor.
// It is recovered by falling back to the rule-based planner's output.
type PlannerError struct {
	// Reason is one of the reason constants above.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *PlannerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planner error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("planner error (%s)", e.Reason)
}

func (e *PlannerError) Unwrap() error { return e.Err }

// ValidationError indicates a generated query failed syntax or safety
// validation. It carries every individual validation failure; the engine
// recovers by falling back once.
type ValidationError struct {
	// Strategy is the strategy of the rejected plan.
	Strategy types.Strategy

	// Errors lists the individual validation failures.
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s plan: %s", e.Strategy, strings.Join(e.Errors, "; "))
}

// ExecutionError indicates a backend failure during plan execution,
// including an empty required entity lookup for ENTITY_FIRST. After the
// single fallback attempt it is terminal and surfaces to the caller with
// the fallback chain actually attempted.
type ExecutionError struct {
	// Strategy is the strategy that was executing when the failure occurred.
	Strategy types.Strategy

	// FallbackChain is the ordered list of strategies attempted, in order.
	FallbackChain []types.Strategy

	// Err is the underlying backend error.
	Err error
}

func (e *ExecutionError) Error() string {
	chain := make([]string, len(e.FallbackChain))
	for i, s := range e.FallbackChain {
		chain[i] = string(s)
	}
	return fmt.Sprintf("execution failed (strategy=%s, attempted=[%s]): %v",
		e.Strategy, strings.Join(chain, " -> "), e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TimeoutError indicates the caller-supplied deadline was exceeded. It is
// terminal and never retried; partial results are discarded, not cached.
type TimeoutError struct {
	// Stage names where the deadline hit: "planning" or "execution".
	Stage string

	// Err is the underlying context error.
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query deadline exceeded during %s: %v", e.Stage, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
