package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantql/covenant/pkg/types"
)

const validPlanJSON = `{
	"strategy": "CONTRACT_DIRECT",
	"confidence": 0.85,
	"reasoning": "negation on governing law requires a direct filter",
	"fallback_strategy": "VECTOR_SEARCH",
	"query": {
		"type": "SQL",
		"text": "SELECT id, title FROM contracts WHERE governing_law_state != $1",
		"params": ["alabama"]
	},
	"execution_plan": {
		"collections": ["contracts"],
		"estimated_ru_cost": 4.5,
		"estimated_results": 40
	}
}`

func TestParseStrategyPlanResponse(t *testing.T) {
	plan, err := ParseStrategyPlanResponse(validPlanJSON)
	require.NoError(t, err)

	assert.Equal(t, types.StrategyContractDirect, plan.Strategy)
	assert.Equal(t, 0.85, plan.Confidence)
	assert.Equal(t, types.StrategyVectorSearch, plan.FallbackStrategy)
	assert.Equal(t, types.QueryTypeSQL, plan.Query.Type)
	assert.Equal(t, []string{"alabama"}, plan.Query.Params)
	assert.Equal(t, 4.5, plan.ExecutionPlan.EstimatedRUCost)
	assert.Equal(t, "llm", plan.Source)
}

func TestParseStrategyPlanResponseWithMarkdownFences(t *testing.T) {
	wrapped := "Here is the plan:\n```json\n" + validPlanJSON + "\n```\nLet me know if you need changes."
	plan, err := ParseStrategyPlanResponse(wrapped)
	require.NoError(t, err)
	assert.Equal(t, types.StrategyContractDirect, plan.Strategy)
}

func TestParseStrategyPlanResponseEntityLookup(t *testing.T) {
	jsonStr := `{
		"strategy": "ENTITY_FIRST",
		"confidence": 0.92,
		"reasoning": "single governing-law entity",
		"fallback_strategy": "CONTRACT_DIRECT",
		"query": {
			"type": "ENTITY_LOOKUP",
			"steps": [
				{"name": "entity_lookup", "collection": "entities_governing_law", "key": "california"},
				{"name": "batch_fetch", "collection": "contracts"}
			]
		},
		"execution_plan": {"collections": ["entities_governing_law", "contracts"], "estimated_ru_cost": 3.0, "estimated_results": 25}
	}`

	plan, err := ParseStrategyPlanResponse(jsonStr)
	require.NoError(t, err)
	require.Len(t, plan.Query.Steps, 2)
	assert.Equal(t, "california", plan.Query.Steps[0].Key)
}

func TestParseStrategyPlanResponseHardFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"strategy": "CONTRACT_DIRECT",`},
		{"no json at all", "I could not decide on a strategy."},
		{"unknown strategy", strings.Replace(validPlanJSON, "CONTRACT_DIRECT", "FULL_SCAN", 1)},
		{"unknown fallback", strings.Replace(validPlanJSON, "VECTOR_SEARCH", "GUESS", 1)},
		{"confidence above one", strings.Replace(validPlanJSON, "0.85", "1.4", 1)},
		{"confidence negative", strings.Replace(validPlanJSON, "0.85", "-0.2", 1)},
		{"fallback equals strategy", strings.Replace(validPlanJSON, "VECTOR_SEARCH", "CONTRACT_DIRECT", 1)},
		{"sql without text", `{"strategy":"CONTRACT_DIRECT","confidence":0.8,"fallback_strategy":"VECTOR_SEARCH","query":{"type":"SQL"},"execution_plan":{}}`},
		{"lookup without steps", `{"strategy":"ENTITY_FIRST","confidence":0.8,"fallback_strategy":"CONTRACT_DIRECT","query":{"type":"ENTITY_LOOKUP"},"execution_plan":{}}`},
		{"unknown query type", `{"strategy":"CONTRACT_DIRECT","confidence":0.8,"fallback_strategy":"VECTOR_SEARCH","query":{"type":"CYPHER","text":"MATCH (n)"},"execution_plan":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStrategyPlanResponse(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"leading prose", `Sure! {"a":1}`, `{"a":1}`},
		{"trailing prose", `{"a":1} hope that helps`, `{"a":1}`},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"brace inside string", `{"a":"}"}`, `{"a":"}"}`},
		{"escaped quote", `{"a":"\" {"}`, `{"a":"\" {"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestStrategyPlanningPromptContainsInputs(t *testing.T) {
	prompt := StrategyPlanningPrompt(
		"Show all contracts governed by California",
		"schema v3: contracts(...)",
		"ontology v2: cov:hasGoverningLaw",
	)

	assert.Contains(t, prompt, "Show all contracts governed by California")
	assert.Contains(t, prompt, "schema v3")
	assert.Contains(t, prompt, "cov:hasGoverningLaw")
	assert.Contains(t, prompt, "STRATEGY RULEBOOK")
	// The rulebook must forbid equality on negated values.
	assert.Contains(t, prompt, "never equality")
}
