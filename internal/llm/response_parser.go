package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/covenantql/covenant/pkg/types"
)

// StrategyPlanResponse is the raw planning JSON returned by the model,
// before enum and envelope validation.
type StrategyPlanResponse struct {
	Strategy         string            `json:"strategy"`
	Confidence       float64           `json:"confidence"`
	Reasoning        string            `json:"reasoning"`
	FallbackStrategy string            `json:"fallback_strategy"`
	Query            planQueryResponse `json:"query"`
	ExecutionPlan    planEstimate      `json:"execution_plan"`
}

type planQueryResponse struct {
	Type   string            `json:"type"`
	Text   string            `json:"text"`
	Params []string          `json:"params"`
	Steps  []types.QueryStep `json:"steps"`
}

type planEstimate struct {
	Collections      []string `json:"collections"`
	EstimatedRUCost  float64  `json:"estimated_ru_cost"`
	EstimatedResults int      `json:"estimated_results"`
}

// extractJSON extracts the first complete JSON object from text that may
// contain extra prose. Models add explanations before/after the JSON
// despite instructions; markdown fences are stripped and braces are
// scanned string-aware.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // no JSON found, let the parser fail
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // unbalanced, let the parser fail
}

// ParseStrategyPlanResponse parses the model's planning JSON into a
// validated StrategyPlan. Malformed JSON, unknown enum values,
// out-of-range confidence, and incomplete query envelopes are all hard
// errors: the planner treats any of them as a failed plan and the engine
// falls back to the rule-based planner. There is deliberately no
// skip-and-continue here; a half-valid plan must not execute.
func ParseStrategyPlanResponse(raw string) (*types.StrategyPlan, error) {
	cleanJSON := extractJSON(raw)

	var resp StrategyPlanResponse
	if err := json.Unmarshal([]byte(cleanJSON), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse strategy plan JSON: %w", err)
	}

	strategy, err := types.ParseStrategy(resp.Strategy)
	if err != nil {
		return nil, fmt.Errorf("strategy plan: %w", err)
	}

	var fallback types.Strategy
	if resp.FallbackStrategy != "" {
		fallback, err = types.ParseStrategy(resp.FallbackStrategy)
		if err != nil {
			return nil, fmt.Errorf("strategy plan fallback: %w", err)
		}
		if fallback == strategy {
			return nil, fmt.Errorf("strategy plan: fallback must differ from strategy %q", strategy)
		}
	}

	if resp.Confidence < 0.0 || resp.Confidence > 1.0 {
		return nil, fmt.Errorf("strategy plan: confidence %f out of range [0,1]", resp.Confidence)
	}

	plan := &types.StrategyPlan{
		Strategy:         strategy,
		Confidence:       resp.Confidence,
		Reasoning:        resp.Reasoning,
		FallbackStrategy: fallback,
		Query: types.Query{
			Type:   types.QueryType(resp.Query.Type),
			Text:   strings.TrimSpace(resp.Query.Text),
			Params: resp.Query.Params,
			Steps:  resp.Query.Steps,
		},
		ExecutionPlan: types.ExecutionPlanEstimate{
			Collections:      resp.ExecutionPlan.Collections,
			EstimatedRUCost:  resp.ExecutionPlan.EstimatedRUCost,
			EstimatedResults: resp.ExecutionPlan.EstimatedResults,
		},
		Source: "llm",
	}

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("strategy plan: %w", err)
	}

	return plan, nil
}
