package llm

import (
	"testing"

	"github.com/covenantql/covenant/pkg/types"
)

// FuzzParseStrategyPlanResponse ensures the parser never panics and never
// returns a structurally invalid plan, no matter how mangled the model
// output is.
func FuzzParseStrategyPlanResponse(f *testing.F) {
	f.Add(validPlanJSON)
	f.Add("```json\n" + validPlanJSON + "\n```")
	f.Add(`{"strategy": "ENTITY_FIRST"`)
	f.Add(`not json at all`)
	f.Add(`{"strategy":"CONTRACT_DIRECT","confidence":2.0}`)
	f.Add(`{"a":"\" {"}`)
	f.Add("{}")
	f.Add("")

	f.Fuzz(func(t *testing.T, raw string) {
		plan, err := ParseStrategyPlanResponse(raw)
		if err != nil {
			return
		}
		if plan == nil {
			t.Fatal("nil plan with nil error")
		}
		if !types.IsValidStrategy(plan.Strategy) {
			t.Errorf("parser accepted invalid strategy %q", plan.Strategy)
		}
		if plan.Confidence < 0.0 || plan.Confidence > 1.0 {
			t.Errorf("parser accepted out-of-range confidence %f", plan.Confidence)
		}
		if err := plan.Validate(); err != nil {
			t.Errorf("parser returned invalid plan: %v", err)
		}
	})
}

// FuzzExtractJSON ensures brace scanning never panics or slices out of
// bounds on arbitrary input.
func FuzzExtractJSON(f *testing.F) {
	f.Add(`{"a":1}`)
	f.Add(`{{{`)
	f.Add(`}{`)
	f.Add(`{"a":"\`)
	f.Add("```json{```")

	f.Fuzz(func(t *testing.T, raw string) {
		_ = extractJSON(raw)
	})
}
