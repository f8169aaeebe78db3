package types

import "fmt"

// QueryStep is one step of a multi-step ENTITY_LOOKUP plan.
type QueryStep struct {
	// Name is a short identifier for the step (e.g. "entity_lookup",
	// "batch_fetch").
	Name string `json:"name"`

	// Collection is the backend collection the step reads.
	Collection string `json:"collection"`

	// Key is the lookup key for point lookups (normalized entity name).
	Key string `json:"key,omitempty"`

	// Field is the stat or reference field the step reads, when applicable.
	Field string `json:"field,omitempty"`
}

// Query is the executable portion of a strategy plan: either a single
// SQL/SPARQL string or an ordered list of lookup steps.
type Query struct {
	// Type selects the query representation.
	Type QueryType `json:"type"`

	// Text is the SQL or SPARQL statement. Empty for ENTITY_LOOKUP plans.
	Text string `json:"text,omitempty"`

	// Params holds positional parameter values for parameterized SQL.
	Params []string `json:"params,omitempty"`

	// Steps is the ordered lookup plan for ENTITY_LOOKUP queries.
	Steps []QueryStep `json:"steps,omitempty"`
}

// ExecutionPlanEstimate carries the planner's cost expectations, used for
// plan comparison and tracing.
type ExecutionPlanEstimate struct {
	// Collections lists every collection the plan will touch.
	Collections []string `json:"collections"`

	// EstimatedRUCost is the expected request-unit cost.
	EstimatedRUCost float64 `json:"estimated_ru_cost"`

	// EstimatedResults is the expected result count.
	EstimatedResults int `json:"estimated_results"`
}

// StrategyPlan is the immutable output of a planner. Plans are consumed
// once by the executor and never mutated after creation; fallback
// adjustments operate on copies.
type StrategyPlan struct {
	// Strategy is the selected retrieval algorithm.
	Strategy Strategy `json:"strategy"`

	// Confidence is the planner's confidence in [0,1]. Plans below 0.5 are
	// rejected before execution.
	Confidence float64 `json:"confidence"`

	// Reasoning is a human-readable justification recorded in the trace.
	Reasoning string `json:"reasoning"`

	// FallbackStrategy is attempted once if this plan fails validation or
	// execution.
	FallbackStrategy Strategy `json:"fallback_strategy"`

	// Query is the executable query or lookup plan.
	Query Query `json:"query"`

	// ExecutionPlan carries the planner's cost estimates.
	ExecutionPlan ExecutionPlanEstimate `json:"execution_plan"`

	// Source names the planner that produced the plan ("rule_based" or
	// "llm"). Informational; not part of plan identity.
	Source string `json:"source,omitempty"`
}

// Validate performs structural validation of the plan envelope. Query
// syntax and schema checks are the validator's job; this only rejects
// malformed envelopes (unknown enum values, out-of-range confidence,
// missing query bodies).
func (p *StrategyPlan) Validate() error {
	if !IsValidStrategy(p.Strategy) {
		return fmt.Errorf("plan: unknown strategy %q", p.Strategy)
	}
	if p.FallbackStrategy != "" && !IsValidStrategy(p.FallbackStrategy) {
		return fmt.Errorf("plan: unknown fallback strategy %q", p.FallbackStrategy)
	}
	if p.Confidence < 0.0 || p.Confidence > 1.0 {
		return fmt.Errorf("plan: confidence %f out of range [0,1]", p.Confidence)
	}
	if !IsValidQueryType(p.Query.Type) {
		return fmt.Errorf("plan: unknown query type %q", p.Query.Type)
	}
	switch p.Query.Type {
	case QueryTypeEntityLookup:
		if len(p.Query.Steps) == 0 {
			return fmt.Errorf("plan: ENTITY_LOOKUP query requires at least one step")
		}
	default:
		if p.Query.Text == "" {
			return fmt.Errorf("plan: %s query requires text", p.Query.Type)
		}
	}
	return nil
}

// PlanningInput is the external planning request contract.
type PlanningInput struct {
	// QueryText is the natural-language question.
	QueryText string `json:"query_text"`

	// SchemaVersion pins the collection schema description given to the LLM
	// planner and used by the validator.
	SchemaVersion string `json:"schema_version"`

	// OntologyVersion pins the graph ontology description.
	OntologyVersion string `json:"ontology_version"`

	// Mode selects the execution-mode policy.
	Mode ExecutionMode `json:"mode"`

	// ModelSelection picks the planning model (primary or secondary).
	ModelSelection ModelSelection `json:"model_selection"`
}

// Validate applies defaults and rejects malformed inputs.
func (in *PlanningInput) Validate() error {
	if in.QueryText == "" {
		return fmt.Errorf("planning input: query_text is required")
	}
	if in.Mode == "" {
		in.Mode = ModeExecution
	}
	if !IsValidExecutionMode(in.Mode) {
		return fmt.Errorf("planning input: unknown mode %q", in.Mode)
	}
	if in.ModelSelection == "" {
		in.ModelSelection = ModelPrimary
	}
	if !IsValidModelSelection(in.ModelSelection) {
		return fmt.Errorf("planning input: unknown model selection %q", in.ModelSelection)
	}
	return nil
}
