package engine

import (
	"math/rand"
	"sync"

	"github.com/covenantql/covenant/pkg/types"
)

// PlanSelector picks which planner's output to execute, governed by the
// execution mode. The unselected plan is still recorded in the trace for
// offline comparison.
type PlanSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPlanSelector builds a selector. The seed fixes the A/B coin for
// tests; production callers pass a time-derived seed.
func NewPlanSelector(seed int64) *PlanSelector {
	return &PlanSelector{rng: rand.New(rand.NewSource(seed))}
}

// Select applies the mode policy. rulePlan is never nil (the rule planner
// cannot fail); llmPlan is nil when the LLM planner failed or is disabled.
// An LLM plan below the confidence floor is never selected regardless of
// mode.
func (s *PlanSelector) Select(mode types.ExecutionMode, rulePlan, llmPlan *types.StrategyPlan) *types.StrategyPlan {
	if llmPlan == nil || llmPlan.Confidence < 0.5 {
		return rulePlan
	}
	switch mode {
	case types.ModeComparisonOnly:
		return rulePlan
	case types.ModeABTest:
		if s.coin() {
			return llmPlan
		}
		return rulePlan
	default: // ModeExecution
		return llmPlan
	}
}

func (s *PlanSelector) coin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(2) == 0
}
