package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantql/covenant/pkg/types"
)

func TestPlanCache(t *testing.T) {
	c := NewPlanCache(8, time.Hour)
	plan := &types.StrategyPlan{Strategy: types.StrategyEntityFirst, Confidence: 0.95}

	_, ok := c.Get("show contracts in california", types.ModelPrimary)
	assert.False(t, ok)

	c.Put("show contracts in california", types.ModelPrimary, plan)

	got, ok := c.Get("show contracts in california", types.ModelPrimary)
	require.True(t, ok)
	assert.Same(t, plan, got)
}

func TestPlanCacheNormalizesWhitespaceAndCase(t *testing.T) {
	c := NewPlanCache(8, time.Hour)
	plan := &types.StrategyPlan{Strategy: types.StrategyEntityFirst, Confidence: 0.95}

	c.Put("Show contracts   in California", types.ModelPrimary, plan)

	got, ok := c.Get("show contracts in california", types.ModelPrimary)
	require.True(t, ok)
	assert.Same(t, plan, got)
}

func TestPlanCacheModelsNeverCollide(t *testing.T) {
	c := NewPlanCache(8, time.Hour)
	primary := &types.StrategyPlan{Strategy: types.StrategyEntityFirst, Confidence: 0.95}
	secondary := &types.StrategyPlan{Strategy: types.StrategyContractDirect, Confidence: 0.8}

	c.Put("same query", types.ModelPrimary, primary)
	c.Put("same query", types.ModelSecondary, secondary)

	got, ok := c.Get("same query", types.ModelPrimary)
	require.True(t, ok)
	assert.Same(t, primary, got)

	got, ok = c.Get("same query", types.ModelSecondary)
	require.True(t, ok)
	assert.Same(t, secondary, got)
}

func TestPlanCacheTTLEviction(t *testing.T) {
	c := NewPlanCache(8, 25*time.Millisecond)
	plan := &types.StrategyPlan{Strategy: types.StrategyEntityFirst, Confidence: 0.95}

	c.Put("ephemeral", types.ModelPrimary, plan)
	_, ok := c.Get("ephemeral", types.ModelPrimary)
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok = c.Get("ephemeral", types.ModelPrimary)
	assert.False(t, ok)
}
