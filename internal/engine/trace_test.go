package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantql/covenant/pkg/types"
)

func TestTraceStepOrdering(t *testing.T) {
	trace := NewExecutionTrace("q", types.ModeExecution)

	trace.RecordStep(ExecutionStep{Name: "entity_lookup"})
	trace.RecordStep(ExecutionStep{Name: "batch_fetch"})

	require.Len(t, trace.Steps, 2)
	assert.Equal(t, 1, trace.Steps[0].StepNumber)
	assert.Equal(t, 2, trace.Steps[1].StepNumber)
}

func TestTraceFallbackRecording(t *testing.T) {
	trace := NewExecutionTrace("q", types.ModeExecution)
	plan := &types.StrategyPlan{Strategy: types.StrategyContractDirect, Source: "llm"}

	trace.RecordSelection(plan)
	assert.Equal(t, types.StrategyContractDirect, trace.ActualStrategy)
	assert.Equal(t, 0, trace.FallbackCount)

	trace.RecordFallback(types.StrategyEntityFirst, "backend failure")
	assert.Equal(t, 1, trace.FallbackCount)
	assert.Equal(t, types.StrategyEntityFirst, trace.ActualStrategy)
	assert.Equal(t, []types.Strategy{types.StrategyContractDirect, types.StrategyEntityFirst}, trace.FallbackChain)
}

func TestTraceFinalizeTotals(t *testing.T) {
	trace := NewExecutionTrace("q", types.ModeExecution)

	trace.RecordStep(ExecutionStep{Status: StepOK, CostRU: 1.0, DocumentsFound: 2})
	trace.RecordStep(ExecutionStep{Status: StepFailed, CostRU: 0.5, DocumentsFound: 99})
	trace.RecordStep(ExecutionStep{Status: StepOK, CostRU: 2.0, DocumentsFound: 3})
	trace.Finalize("ok")

	assert.Equal(t, 3.5, trace.TotalCostRU)
	// Failed steps contribute cost but never documents.
	assert.Equal(t, 5, trace.TotalDocuments)
	assert.Equal(t, "ok", trace.Outcome)
	assert.False(t, trace.CompletedAt.IsZero())
}

// goldenTrace builds a fully deterministic trace so the rendered artifact
// can be compared byte for byte.
func goldenTrace() *ExecutionTrace {
	return &ExecutionTrace{
		ID:        "00000000-0000-0000-0000-000000000000",
		QueryText: "Show all contracts governed by California",
		Mode:      types.ModeExecution,
		RulePlan: &PlanSummary{
			Source:     "rule_based",
			Strategy:   types.StrategyEntityFirst,
			Confidence: 0.95,
			Reasoning:  `single governing_law entity "california" with no negation; point lookup then batch fetch`,
		},
		LLMPlan: &PlanSummary{
			Source:     "llm",
			Strategy:   types.StrategyEntityFirst,
			Confidence: 0.9,
			Reasoning:  "entity point lookup is the cheapest path",
			CacheHit:   true,
		},
		SelectedStrategy: types.StrategyEntityFirst,
		SelectedSource:   "llm",
		ActualStrategy:   types.StrategyEntityFirst,
		FallbackChain:    []types.Strategy{types.StrategyEntityFirst},
		Steps: []ExecutionStep{
			{StepNumber: 1, Name: "entity_lookup", Collection: CollectionEntitiesGoverningLaw, Status: StepOK, Duration: 2 * time.Millisecond, CostRU: 1.0, DocumentsFound: 3},
			{StepNumber: 2, Name: "batch_fetch", Collection: CollectionContracts, Status: StepOK, Duration: 5 * time.Millisecond, CostRU: 2.5, DocumentsFound: 3},
		},
		TotalCostRU:    3.5,
		TotalDocuments: 3,
		TotalDuration:  7 * time.Millisecond,
		Outcome:        "ok",
	}
}

func TestRenderASCIIGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "entity_first_trace", []byte(goldenTrace().RenderASCII()))
}

func TestRenderJSONRoundTrips(t *testing.T) {
	raw, err := goldenTrace().RenderJSON()
	require.NoError(t, err)

	var decoded ExecutionTrace
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "Show all contracts governed by California", decoded.QueryText)
	assert.Len(t, decoded.Steps, 2)
	assert.Equal(t, 3.5, decoded.TotalCostRU)
}

func TestTraceWriterPairedArtifacts(t *testing.T) {
	dir := t.TempDir()
	w, err := NewTraceWriter(dir)
	require.NoError(t, err)

	trace := goldenTrace()
	trace.StartedAt = time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)

	base, err := w.Write(trace)
	require.NoError(t, err)

	txt, err := os.ReadFile(base + ".txt")
	require.NoError(t, err)
	assert.Equal(t, trace.RenderASCII(), string(txt))

	jsonBytes, err := os.ReadFile(base + ".json")
	require.NoError(t, err)
	var decoded ExecutionTrace
	require.NoError(t, json.Unmarshal(jsonBytes, &decoded))
	assert.Equal(t, trace.ID, decoded.ID)

	names, err := filepath.Glob(filepath.Join(dir, "trace_*"))
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestTraceWriterNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	w, err := NewTraceWriter(dir)
	require.NoError(t, err)

	trace := goldenTrace()
	trace.StartedAt = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	_, err = w.Write(trace)
	require.NoError(t, err)

	_, err = w.Write(trace)
	assert.Error(t, err)
}
