package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantql/covenant/pkg/types"
)

const llmPlanJSON = `{
	"strategy": "CONTRACT_DIRECT",
	"confidence": 0.85,
	"reasoning": "negation on governing law requires a direct filter",
	"fallback_strategy": "VECTOR_SEARCH",
	"query": {
		"type": "SQL",
		"text": "SELECT * FROM contracts WHERE governing_law_state != $1",
		"params": ["alabama"]
	},
	"execution_plan": {
		"collections": ["contracts"],
		"estimated_ru_cost": 4.5,
		"estimated_results": 40
	}
}`

// fakeTextGen is a canned TextGenerator that counts calls.
type fakeTextGen struct {
	response string
	err      error
	delay    time.Duration
	calls    atomic.Int64
}

func (f *fakeTextGen) Complete(ctx context.Context, _ string) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.response, f.err
}

func (f *fakeTextGen) GetModel() string { return "fake-model" }

func TestLLMPlannerParsesPlan(t *testing.T) {
	gen := &fakeTextGen{response: llmPlanJSON}
	p := NewLLMPlanner(gen, NewPlanCache(8, time.Hour))

	result, err := p.Plan(context.Background(), "contracts not in alabama", types.ModelPrimary)
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, types.StrategyContractDirect, result.Plan.Strategy)
	assert.Equal(t, "llm", result.Plan.Source)
}

func TestLLMPlannerCacheReadBeforeCall(t *testing.T) {
	gen := &fakeTextGen{response: llmPlanJSON}
	cache := NewPlanCache(8, time.Hour)
	p := NewLLMPlanner(gen, cache)

	cached := &types.StrategyPlan{Strategy: types.StrategyEntityFirst, Confidence: 0.95, Source: "llm"}
	cache.Put("contracts not in alabama", types.ModelPrimary, cached)

	result, err := p.Plan(context.Background(), "contracts not in alabama", types.ModelPrimary)
	require.NoError(t, err)
	assert.True(t, result.CacheHit)
	assert.Same(t, cached, result.Plan)
	assert.Equal(t, int64(0), gen.calls.Load())
}

func TestLLMPlannerMalformedOutput(t *testing.T) {
	gen := &fakeTextGen{response: "I'd suggest scanning everything."}
	p := NewLLMPlanner(gen, NewPlanCache(8, time.Hour))

	_, err := p.Plan(context.Background(), "q", types.ModelPrimary)
	var pErr *PlannerError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, PlannerMalformedOutput, pErr.Reason)
}

func TestLLMPlannerTimeout(t *testing.T) {
	gen := &fakeTextGen{response: llmPlanJSON, delay: time.Second}
	p := NewLLMPlanner(gen, NewPlanCache(8, time.Hour), WithPlannerTimeout(20*time.Millisecond))

	_, err := p.Plan(context.Background(), "q", types.ModelPrimary)
	var pErr *PlannerError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, PlannerTimeout, pErr.Reason)
}

func TestLLMPlannerCallFailure(t *testing.T) {
	gen := &fakeTextGen{err: fmt.Errorf("upstream said no")}
	p := NewLLMPlanner(gen, NewPlanCache(8, time.Hour))

	_, err := p.Plan(context.Background(), "q", types.ModelPrimary)
	var pErr *PlannerError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, PlannerCallFailed, pErr.Reason)
}

func TestLLMPlannerSecondaryModel(t *testing.T) {
	primary := &fakeTextGen{response: llmPlanJSON}

	t.Run("not configured", func(t *testing.T) {
		p := NewLLMPlanner(primary, NewPlanCache(8, time.Hour))
		_, err := p.Plan(context.Background(), "q", types.ModelSecondary)
		var pErr *PlannerError
		require.ErrorAs(t, err, &pErr)
		assert.Equal(t, PlannerDisabled, pErr.Reason)
	})

	t.Run("configured", func(t *testing.T) {
		secondary := &fakeTextGen{response: llmPlanJSON}
		p := NewLLMPlanner(primary, NewPlanCache(8, time.Hour), WithSecondaryModel(secondary))

		_, err := p.Plan(context.Background(), "q", types.ModelSecondary)
		require.NoError(t, err)
		assert.Equal(t, int64(1), secondary.calls.Load())
		assert.Equal(t, int64(0), primary.calls.Load())
	})
}
