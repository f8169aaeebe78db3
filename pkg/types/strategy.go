// Package types defines the wire-level domain types shared between the
// planning engine, the storage backends, and external callers: strategies,
// plans, entities, and the planning input contract.
package types

import "fmt"

// Strategy identifies the retrieval algorithm selected for a query.
// The set is closed; the executor rejects unknown values instead of
// falling through silently.
type Strategy string

const (
	// StrategyEntityFirst looks up a single entity by normalized key, then
	// batch-fetches the contract documents it references. Two execution steps.
	StrategyEntityFirst Strategy = "ENTITY_FIRST"

	// StrategyContractDirect queries the contract collection with a composite
	// filter (equality, not-equal, in-set, not-in-set). One execution step.
	StrategyContractDirect Strategy = "CONTRACT_DIRECT"

	// StrategyEntityAggregation reads a pre-computed stat field from the
	// entity collection. Cheapest path, roughly one request unit.
	StrategyEntityAggregation Strategy = "ENTITY_AGGREGATION"

	// StrategyGraphTraversal issues a SPARQL query against the RDF graph for
	// relationship questions ("depends on", "between").
	StrategyGraphTraversal Strategy = "GRAPH_TRAVERSAL"

	// StrategyVectorSearch embeds the query and runs top-k similarity search.
	// Semantic fallback when no rule matches confidently.
	StrategyVectorSearch Strategy = "VECTOR_SEARCH"
)

// AllStrategies lists every valid strategy value.
var AllStrategies = []Strategy{
	StrategyEntityFirst,
	StrategyContractDirect,
	StrategyEntityAggregation,
	StrategyGraphTraversal,
	StrategyVectorSearch,
}

// IsValidStrategy reports whether s is a known strategy value.
func IsValidStrategy(s Strategy) bool {
	switch s {
	case StrategyEntityFirst, StrategyContractDirect, StrategyEntityAggregation,
		StrategyGraphTraversal, StrategyVectorSearch:
		return true
	}
	return false
}

// ParseStrategy converts a raw string (e.g. from LLM output) into a Strategy.
// Returns an error for unknown values.
func ParseStrategy(raw string) (Strategy, error) {
	s := Strategy(raw)
	if !IsValidStrategy(s) {
		return "", fmt.Errorf("unknown strategy %q", raw)
	}
	return s, nil
}

// QueryType identifies the concrete query representation inside a plan.
type QueryType string

const (
	// QueryTypeSQL is a single parameterized SELECT statement for the
	// contract document collection.
	QueryTypeSQL QueryType = "SQL"

	// QueryTypeSPARQL is a SPARQL SELECT for the RDF graph store.
	QueryTypeSPARQL QueryType = "SPARQL"

	// QueryTypeEntityLookup is a multi-step lookup plan (point lookup in the
	// entity collection followed by batch document reads).
	QueryTypeEntityLookup QueryType = "ENTITY_LOOKUP"
)

// IsValidQueryType reports whether t is a known query type.
func IsValidQueryType(t QueryType) bool {
	switch t {
	case QueryTypeSQL, QueryTypeSPARQL, QueryTypeEntityLookup:
		return true
	}
	return false
}

// ExecutionMode selects how the engine treats the LLM plan.
type ExecutionMode string

const (
	// ModeComparisonOnly logs the LLM plan for offline comparison but always
	// executes the rule-based plan.
	ModeComparisonOnly ExecutionMode = "comparison_only"

	// ModeExecution executes validated LLM plans, with single-shot fallback
	// to the rule-based plan.
	ModeExecution ExecutionMode = "execution"

	// ModeABTest randomly splits traffic 50/50 between the two planners.
	ModeABTest ExecutionMode = "a_b_test"
)

// IsValidExecutionMode reports whether m is a known execution mode.
func IsValidExecutionMode(m ExecutionMode) bool {
	switch m {
	case ModeComparisonOnly, ModeExecution, ModeABTest:
		return true
	}
	return false
}

// ModelSelection names which configured planning model to use. Cache keys
// include the selection so dual-model comparisons never collide.
type ModelSelection string

const (
	// ModelPrimary is the default planning model.
	ModelPrimary ModelSelection = "primary"

	// ModelSecondary is the comparison model for A/B and offline runs.
	ModelSecondary ModelSelection = "secondary"
)

// IsValidModelSelection reports whether m is a known model selection.
func IsValidModelSelection(m ModelSelection) bool {
	return m == ModelPrimary || m == ModelSecondary
}
