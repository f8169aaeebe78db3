package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantql/covenant/internal/storage"
	"github.com/covenantql/covenant/internal/storage/sqlite"
	"github.com/covenantql/covenant/pkg/types"
)

func seededStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	docs := []storage.ContractDoc{
		{ID: "c-001", Title: "Westervelt MSA", ContractorParty: "westervelt", ContractingParty: "acme", GoverningLawState: "california", ContractType: "msa", ValueUSD: 250000},
		{ID: "c-002", Title: "Westervelt NDA", ContractorParty: "westervelt", ContractingParty: "acme", GoverningLawState: "california", ContractType: "nda", ValueUSD: 0},
		{ID: "c-003", Title: "Initech SOW", ContractorParty: "initech", ContractingParty: "globex", GoverningLawState: "alabama", ContractType: "sow", ValueUSD: 90000},
		{ID: "c-004", Title: "Initech Lease", ContractorParty: "initech", ContractingParty: "globex", GoverningLawState: "texas", ContractType: "lease", ValueUSD: 40000},
		{ID: "c-005", Title: "Globex MSA", ContractorParty: "globex", ContractingParty: "acme", GoverningLawState: "florida", ContractType: "msa", ValueUSD: 120000},
	}
	for _, doc := range docs {
		require.NoError(t, store.SeedContract(ctx, doc))
	}
	return store
}

func testCatalog() *Catalog {
	c := DefaultCatalog()
	c.Add(types.EntityContractorParty, "The Westervelt Company", "Westervelt Co")
	c.Add(types.EntityContractorParty, "Initech LLC")
	c.Add(types.EntityContractorParty, "Globex Corp")
	return c
}

func newTestEngine(t *testing.T, config Config, gen *fakeTextGen) *Engine {
	t.Helper()
	store := seededStore(t)
	backends := ExecutorBackends{Entities: store, Contracts: store}

	var eng *Engine
	var err error
	if gen != nil {
		eng, err = New(config, testCatalog(), backends, gen, nil)
	} else {
		eng, err = New(config, testCatalog(), backends, nil, nil)
	}
	require.NoError(t, err)
	return eng
}

func ruleOnlyConfig() Config {
	config := DefaultConfig()
	config.LLMEnabled = false
	return config
}

func TestAnswerEntityFirstScenario(t *testing.T) {
	eng := newTestEngine(t, ruleOnlyConfig(), nil)

	answer, err := eng.Answer(context.Background(), types.PlanningInput{
		QueryText: "Show all contracts governed by California",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StrategyEntityFirst, answer.Plan.Strategy)
	assert.Equal(t, 2, answer.Result.Count)
	require.Len(t, answer.Trace.Steps, 2)
	assert.Equal(t, "entity_lookup", answer.Trace.Steps[0].Name)
	assert.Equal(t, "batch_fetch", answer.Trace.Steps[1].Name)
	assert.Equal(t, 0, answer.Trace.FallbackCount)
	assert.Equal(t, "ok", answer.Trace.Outcome)
}

func TestAnswerNegationScenario(t *testing.T) {
	eng := newTestEngine(t, ruleOnlyConfig(), nil)

	answer, err := eng.Answer(context.Background(), types.PlanningInput{
		QueryText: "Show all contracts not governed by Alabama",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StrategyContractDirect, answer.Plan.Strategy)
	assert.Equal(t, "SELECT * FROM contracts WHERE governing_law_state != ?", answer.Plan.Query.Text)
	assert.Equal(t, []string{"alabama"}, answer.Plan.Query.Params)
	assert.Equal(t, 4, answer.Result.Count)
	require.Len(t, answer.Trace.Steps, 1)
}

func TestAnswerORListScenario(t *testing.T) {
	eng := newTestEngine(t, ruleOnlyConfig(), nil)

	answer, err := eng.Answer(context.Background(), types.PlanningInput{
		QueryText: "Show contracts in California, Texas, or Florida",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StrategyContractDirect, answer.Plan.Strategy)
	assert.Contains(t, answer.Plan.Query.Text, "IN (?, ?, ?)")
	assert.Equal(t, 4, answer.Result.Count)
}

func TestAnswerAggregationScenario(t *testing.T) {
	eng := newTestEngine(t, ruleOnlyConfig(), nil)

	answer, err := eng.Answer(context.Background(), types.PlanningInput{
		QueryText: "How many contracts are governed by California?",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StrategyEntityAggregation, answer.Plan.Strategy)
	assert.Equal(t, 2, answer.Result.Count)
	require.Len(t, answer.Trace.Steps, 1)
	assert.Equal(t, 1.0, answer.Trace.TotalCostRU)
}

func TestAnswerFallbackOnInvalidLLMSQL(t *testing.T) {
	// The envelope parses but the SQL smuggles a quoted literal, so
	// validation rejects it and the rule-based plan runs instead.
	badSQL := `{
		"strategy": "CONTRACT_DIRECT",
		"confidence": 0.9,
		"reasoning": "direct filter",
		"fallback_strategy": "VECTOR_SEARCH",
		"query": {"type": "SQL", "text": "SELECT * FROM contracts WHERE governing_law_state = 'california'"},
		"execution_plan": {"collections": ["contracts"], "estimated_ru_cost": 2.0, "estimated_results": 5}
	}`
	gen := &fakeTextGen{response: badSQL}
	eng := newTestEngine(t, DefaultConfig(), gen)

	answer, err := eng.Answer(context.Background(), types.PlanningInput{
		QueryText: "Show all contracts governed by California",
		Mode:      types.ModeExecution,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, answer.Trace.FallbackCount)
	assert.Equal(t, types.StrategyEntityFirst, answer.Trace.ActualStrategy)
	assert.Equal(t, "rule_based", answer.Plan.Source)
	assert.Equal(t, 2, answer.Result.Count)
}

func TestAnswerFallbackDeadlineSurfacesAsTimeout(t *testing.T) {
	// The selected plan fails validation, the rule-based fallback runs,
	// and the backend hits the deadline mid-call. The caller must see a
	// timeout, not a generic execution failure.
	badSQL := `{
		"strategy": "CONTRACT_DIRECT",
		"confidence": 0.9,
		"reasoning": "direct filter",
		"fallback_strategy": "VECTOR_SEARCH",
		"query": {"type": "SQL", "text": "SELECT * FROM contracts WHERE governing_law_state = 'alabama'"},
		"execution_plan": {"collections": ["contracts"], "estimated_ru_cost": 2.0, "estimated_results": 5}
	}`
	gen := &fakeTextGen{response: badSQL}
	contracts := &fakeContractStore{docs: testDocs(), failWith: context.DeadlineExceeded}
	backends := ExecutorBackends{Entities: &fakeEntityStore{}, Contracts: contracts}

	eng, err := New(DefaultConfig(), testCatalog(), backends, gen, nil)
	require.NoError(t, err)

	answer, err := eng.Answer(context.Background(), types.PlanningInput{
		QueryText: "Show all contracts not governed by Alabama",
	})
	require.Error(t, err)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "execution", te.Stage)
	require.NotNil(t, answer)
	assert.Equal(t, "timeout", answer.Trace.Outcome)
	assert.Equal(t, 1, answer.Trace.FallbackCount)
}

func TestAnswerWarnsOnStaleVersionPins(t *testing.T) {
	eng := newTestEngine(t, ruleOnlyConfig(), nil)

	answer, err := eng.Answer(context.Background(), types.PlanningInput{
		QueryText:       "Show all contracts governed by California",
		SchemaVersion:   "v1",
		OntologyVersion: "v1",
	})
	require.NoError(t, err)

	require.Len(t, answer.Trace.Warnings, 2)
	assert.Contains(t, answer.Trace.Warnings[0], `schema version "v1"`)
	assert.Contains(t, answer.Trace.Warnings[1], `ontology version "v1"`)
}

func TestAnswerExecutesValidLLMPlan(t *testing.T) {
	llmJSON := `{
		"strategy": "CONTRACT_DIRECT",
		"confidence": 0.88,
		"reasoning": "negation requires a direct filter",
		"fallback_strategy": "VECTOR_SEARCH",
		"query": {"type": "SQL", "text": "SELECT * FROM contracts WHERE governing_law_state != $1", "params": ["alabama"]},
		"execution_plan": {"collections": ["contracts"], "estimated_ru_cost": 3.0, "estimated_results": 4}
	}`
	gen := &fakeTextGen{response: llmJSON}
	eng := newTestEngine(t, DefaultConfig(), gen)

	answer, err := eng.Answer(context.Background(), types.PlanningInput{
		QueryText: "Show all contracts not governed by Alabama",
		Mode:      types.ModeExecution,
	})
	require.NoError(t, err)

	assert.Equal(t, "llm", answer.Plan.Source)
	assert.Equal(t, 4, answer.Result.Count)
	assert.Equal(t, 0, answer.Trace.FallbackCount)
}

func TestAnswerComparisonOnlyExecutesRulePlan(t *testing.T) {
	gen := &fakeTextGen{response: llmPlanJSON}
	eng := newTestEngine(t, DefaultConfig(), gen)

	answer, err := eng.Answer(context.Background(), types.PlanningInput{
		QueryText: "Show all contracts governed by California",
		Mode:      types.ModeComparisonOnly,
	})
	require.NoError(t, err)

	// The LLM plan is recorded for comparison but never executed.
	assert.Equal(t, "rule_based", answer.Plan.Source)
	require.NotNil(t, answer.Trace.LLMPlan)
	assert.Equal(t, types.StrategyContractDirect, answer.Trace.LLMPlan.Strategy)
	assert.Equal(t, int64(1), gen.calls.Load())
}

func TestAnswerCacheIdempotence(t *testing.T) {
	llmJSON := `{
		"strategy": "CONTRACT_DIRECT",
		"confidence": 0.88,
		"reasoning": "negation requires a direct filter",
		"fallback_strategy": "VECTOR_SEARCH",
		"query": {"type": "SQL", "text": "SELECT * FROM contracts WHERE governing_law_state != $1", "params": ["alabama"]},
		"execution_plan": {"collections": ["contracts"], "estimated_ru_cost": 3.0, "estimated_results": 4}
	}`
	gen := &fakeTextGen{response: llmJSON}
	eng := newTestEngine(t, DefaultConfig(), gen)

	input := types.PlanningInput{
		QueryText: "Show all contracts not governed by Alabama",
		Mode:      types.ModeExecution,
	}
	first, err := eng.Answer(context.Background(), input)
	require.NoError(t, err)
	require.False(t, first.Trace.LLMPlan.CacheHit)

	second, err := eng.Answer(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, second.Trace.LLMPlan.CacheHit)
	assert.Equal(t, first.Plan.Query, second.Plan.Query)
	assert.Equal(t, int64(1), gen.calls.Load())
}

func TestAnswerLowConfidenceLLMPlanNeverExecutes(t *testing.T) {
	lowConf := `{
		"strategy": "CONTRACT_DIRECT",
		"confidence": 0.3,
		"reasoning": "unsure",
		"fallback_strategy": "VECTOR_SEARCH",
		"query": {"type": "SQL", "text": "SELECT * FROM contracts WHERE governing_law_state = $1", "params": ["california"]},
		"execution_plan": {"collections": ["contracts"], "estimated_ru_cost": 2.0, "estimated_results": 5}
	}`
	gen := &fakeTextGen{response: lowConf}
	eng := newTestEngine(t, DefaultConfig(), gen)

	answer, err := eng.Answer(context.Background(), types.PlanningInput{
		QueryText: "Show all contracts governed by California",
		Mode:      types.ModeExecution,
	})
	require.NoError(t, err)

	assert.Equal(t, "rule_based", answer.Plan.Source)
	assert.NotEmpty(t, answer.Trace.Warnings)
}

func TestAnswerTerminalErrorCarriesTrace(t *testing.T) {
	eng := newTestEngine(t, ruleOnlyConfig(), nil)

	// No entity resolves, so the rule plan is VECTOR_SEARCH, and no
	// vector backend is configured. The fallback (CONTRACT_DIRECT with an
	// empty filter) succeeds, returning everything.
	answer, err := eng.Answer(context.Background(), types.PlanningInput{
		QueryText: "anything interesting at all",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, answer.Trace.FallbackCount)
	assert.Equal(t, types.StrategyContractDirect, answer.Trace.ActualStrategy)
	assert.Equal(t, 5, answer.Result.Count)
}

func TestAnswerDeadlineSurfacesTimeout(t *testing.T) {
	eng := newTestEngine(t, ruleOnlyConfig(), nil)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	answer, err := eng.Answer(ctx, types.PlanningInput{
		QueryText: "Show all contracts governed by California",
	})
	require.Error(t, err)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	require.NotNil(t, answer)
	assert.Equal(t, "timeout", answer.Trace.Outcome)
}

func TestAnswerRejectsEmptyQuery(t *testing.T) {
	eng := newTestEngine(t, ruleOnlyConfig(), nil)

	_, err := eng.Answer(context.Background(), types.PlanningInput{})
	assert.Error(t, err)
}

func TestAnswerWritesTraceArtifacts(t *testing.T) {
	config := ruleOnlyConfig()
	config.TraceDir = t.TempDir()
	eng := newTestEngine(t, config, nil)

	_, err := eng.Answer(context.Background(), types.PlanningInput{
		QueryText: "Show all contracts governed by California",
	})
	require.NoError(t, err)

	txt, err := filepath.Glob(filepath.Join(config.TraceDir, "trace_*.txt"))
	require.NoError(t, err)
	assert.Len(t, txt, 1)
	jsonFiles, err := filepath.Glob(filepath.Join(config.TraceDir, "trace_*.json"))
	require.NoError(t, err)
	assert.Len(t, jsonFiles, 1)
}
