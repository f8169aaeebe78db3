// Package llm provides the model integration for strategy planning: provider
// clients with circuit breaker protection, the strict JSON-only planning
// prompt, and the response parser that turns model output into a validated
// strategy plan.
package llm

import "fmt"

// strategyRulebook is the fixed strategy selection rulebook included in
// every planning prompt. It mirrors the rule-based planner's decision table
// so the two planners disagree only where the model has genuine signal.
const strategyRulebook = `STRATEGY RULEBOOK:
- ENTITY_FIRST: exactly one positive entity, no negation, no OR-list.
  Point lookup in the entity collection, then batch-fetch referenced
  contract documents. Query type: ENTITY_LOOKUP with two steps.
- ENTITY_AGGREGATION: aggregation question ("how many", "total", "average")
  about a single entity. Read the pre-computed stat field. Query type:
  ENTITY_LOOKUP with one step naming the stat field.
- CONTRACT_DIRECT: any negation, any OR-list, or two or more entities.
  Single parameterized SQL SELECT over the contracts collection. Negated
  values MUST use != or NOT IN, never equality. OR-lists MUST use IN.
- GRAPH_TRAVERSAL: relationship question ("depends on", "connected to",
  "between"). SPARQL SELECT against the contract graph using only the
  ontology predicates listed below.
- VECTOR_SEARCH: none of the above matches confidently. Semantic top-k
  search; leave query text empty and set type ENTITY_LOOKUP with a single
  "vector_search" step.
Aggregation combined with a negation or OR-list routes to CONTRACT_DIRECT
with a COUNT projection, not ENTITY_AGGREGATION.`

// StrategyPlanningPrompt builds the single-call planning prompt from the
// natural-language query, the versioned schema description and the
// versioned ontology description.
func StrategyPlanningPrompt(queryText, schemaDescription, ontologyDescription string) string {
	return fmt.Sprintf(`TASK: Select a retrieval strategy and produce a ready-to-run query for a contract question.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks. NO explanations outside JSON.

%s

COLLECTION SCHEMA:
%s

GRAPH ONTOLOGY:
%s

REQUIRED JSON STRUCTURE:
Your response MUST start with { and end with }
{
  "strategy": "ENTITY_FIRST|CONTRACT_DIRECT|ENTITY_AGGREGATION|GRAPH_TRAVERSAL|VECTOR_SEARCH",
  "confidence": 0.0,
  "reasoning": "one sentence",
  "fallback_strategy": "one of the five strategies, different from strategy",
  "query": {
    "type": "SQL|SPARQL|ENTITY_LOOKUP",
    "text": "parameterized SQL ($1, $2, ...) or SPARQL; empty for ENTITY_LOOKUP",
    "params": ["positional values for SQL placeholders"],
    "steps": [{"name": "...", "collection": "...", "key": "...", "field": "..."}]
  },
  "execution_plan": {
    "collections": ["..."],
    "estimated_ru_cost": 0.0,
    "estimated_results": 0
  }
}

VALIDATION (STRICT):
1. SQL must be a single SELECT with placeholders; NEVER inline user values as quoted literals.
2. Only these SQL operators: =, !=, IN, NOT IN, AND, OR.
3. SPARQL must declare the cov: PREFIX and use only listed predicates.
4. Entity keys are normalized: lowercase, underscores for spaces, punctuation stripped.
5. No trailing commas. No null values. Valid JSON syntax.

QUESTION: %s`, strategyRulebook, schemaDescription, ontologyDescription, queryText)
}
