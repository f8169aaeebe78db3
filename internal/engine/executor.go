package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/covenantql/covenant/internal/llm"
	"github.com/covenantql/covenant/internal/storage"
	"github.com/covenantql/covenant/pkg/types"
)

// Result is the outcome of executing one strategy plan.
type Result struct {
	// Documents are the matched contracts, empty for count and stat plans.
	Documents []storage.ContractDoc `json:"documents"`

	// Count is the number of matched documents, or the aggregate count for
	// count projections and count stats.
	Count int `json:"count"`

	// AggregateField names the stat read by an ENTITY_AGGREGATION plan.
	AggregateField string `json:"aggregate_field,omitempty"`

	// AggregateValue is the stat value for non-count aggregations.
	AggregateValue float64 `json:"aggregate_value,omitempty"`
}

// QueryExecutor routes validated plans to backends and records every
// backend operation in the trace. The strategy switch is exhaustive;
// unknown values are rejected as validation errors, never executed.
type QueryExecutor struct {
	entities  storage.EntityStore
	contracts storage.ContractStore
	graph     storage.GraphStore
	vectors   storage.VectorIndex
	embedder  llm.EmbeddingGenerator
	validator *QueryValidator

	vectorTopK int
	maxResults int
}

// ExecutorBackends bundles the backend handles an executor routes to.
// Graph, vector and embedding handles may be nil; plans needing them fail
// with an ExecutionError instead of a panic.
type ExecutorBackends struct {
	Entities  storage.EntityStore
	Contracts storage.ContractStore
	Graph     storage.GraphStore
	Vectors   storage.VectorIndex
	Embedder  llm.EmbeddingGenerator
}

// NewQueryExecutor builds an executor over the given backends.
func NewQueryExecutor(b ExecutorBackends, validator *QueryValidator, vectorTopK, maxResults int) *QueryExecutor {
	if vectorTopK <= 0 {
		vectorTopK = 10
	}
	if maxResults <= 0 {
		maxResults = 100
	}
	return &QueryExecutor{
		entities:   b.Entities,
		contracts:  b.Contracts,
		graph:      b.Graph,
		vectors:    b.Vectors,
		embedder:   b.Embedder,
		validator:  validator,
		vectorTopK: vectorTopK,
		maxResults: maxResults,
	}
}

// Execute runs one plan, appending each backend operation to the trace.
// Backend failures, including an empty required entity lookup, return an
// ExecutionError; the engine decides whether to fall back.
func (e *QueryExecutor) Execute(ctx context.Context, plan *types.StrategyPlan, trace *ExecutionTrace) (*Result, error) {
	switch plan.Strategy {
	case types.StrategyEntityFirst:
		return e.executeEntityFirst(ctx, plan, trace)
	case types.StrategyContractDirect:
		return e.executeContractDirect(ctx, plan, trace)
	case types.StrategyEntityAggregation:
		return e.executeEntityAggregation(ctx, plan, trace)
	case types.StrategyGraphTraversal:
		return e.executeGraphTraversal(ctx, plan, trace)
	case types.StrategyVectorSearch:
		return e.executeVectorSearch(ctx, plan, trace)
	}
	return nil, &ValidationError{
		Strategy: plan.Strategy,
		Errors:   []string{fmt.Sprintf("unknown strategy %q", plan.Strategy)},
	}
}

func execError(strategy types.Strategy, err error) *ExecutionError {
	return &ExecutionError{Strategy: strategy, FallbackChain: []types.Strategy{strategy}, Err: err}
}

// executeEntityFirst runs the two-step plan: point lookup in the entity
// collection, then a batch read of the referenced documents. Both steps
// are recorded individually.
func (e *QueryExecutor) executeEntityFirst(ctx context.Context, plan *types.StrategyPlan, trace *ExecutionTrace) (*Result, error) {
	if len(plan.Query.Steps) < 2 {
		return nil, &ValidationError{Strategy: plan.Strategy, Errors: []string{"ENTITY_FIRST plan requires two steps"}}
	}
	lookup := plan.Query.Steps[0]
	entityType, ok := collectionEntityTypes[lookup.Collection]
	if !ok {
		return nil, &ValidationError{Strategy: plan.Strategy, Errors: []string{fmt.Sprintf("step 1 collection %q is not an entity collection", lookup.Collection)}}
	}

	fetch := plan.Query.Steps[1]

	start := time.Now()
	record, err := e.entities.GetEntity(ctx, string(entityType), lookup.Key)
	if err != nil {
		trace.RecordStep(ExecutionStep{
			Name: lookup.Name, Collection: lookup.Collection, Status: StepFailed,
			Duration: time.Since(start), CostRU: 1.0, Error: err.Error(),
		})
		trace.RecordStep(ExecutionStep{Name: fetch.Name, Collection: fetch.Collection, Status: StepSkipped})
		return nil, execError(plan.Strategy, fmt.Errorf("entity lookup %q: %w", lookup.Key, err))
	}
	trace.RecordStep(ExecutionStep{
		Name: lookup.Name, Collection: lookup.Collection, Status: StepOK,
		Duration: time.Since(start), CostRU: 1.0, DocumentsFound: len(record.ContractIDs),
	})
	if len(record.ContractIDs) == 0 {
		trace.RecordStep(ExecutionStep{Name: fetch.Name, Collection: fetch.Collection, Status: StepSkipped})
		return nil, execError(plan.Strategy, fmt.Errorf("entity %q references no contracts", lookup.Key))
	}
	ids := record.ContractIDs
	if len(ids) > e.maxResults {
		ids = ids[:e.maxResults]
	}
	start = time.Now()
	result, err := e.contracts.GetContractsByIDs(ctx, ids)
	if err != nil {
		trace.RecordStep(ExecutionStep{
			Name: fetch.Name, Collection: fetch.Collection, Status: StepFailed,
			Duration: time.Since(start), Error: err.Error(),
		})
		return nil, execError(plan.Strategy, fmt.Errorf("batch fetch: %w", err))
	}
	trace.RecordStep(ExecutionStep{
		Name: fetch.Name, Collection: fetch.Collection, Status: StepOK,
		Duration: time.Since(start), CostRU: result.RequestUnits, DocumentsFound: result.Count,
	})
	return &Result{Documents: result.Documents, Count: result.Count}, nil
}

// executeContractDirect parses the validated SQL into a composite filter
// and runs it as a single filtered read or count.
func (e *QueryExecutor) executeContractDirect(ctx context.Context, plan *types.StrategyPlan, trace *ExecutionTrace) (*Result, error) {
	parsed, err := e.validator.ParseSQLQuery(plan.Query.Text, plan.Query.Params)
	if err != nil {
		return nil, &ValidationError{Strategy: plan.Strategy, Errors: []string{err.Error()}}
	}

	start := time.Now()
	var result *storage.QueryResult
	if parsed.IsCount {
		result, err = e.contracts.CountContracts(ctx, parsed.Filter)
	} else {
		result, err = e.contracts.QueryContracts(ctx, parsed.Filter, e.maxResults)
	}
	if err != nil {
		trace.RecordStep(ExecutionStep{
			Name: "filtered_query", Collection: parsed.Collection, Status: StepFailed,
			Duration: time.Since(start), QueryText: plan.Query.Text, Error: err.Error(),
		})
		return nil, execError(plan.Strategy, err)
	}
	trace.RecordStep(ExecutionStep{
		Name: "filtered_query", Collection: parsed.Collection, Status: StepOK,
		Duration: time.Since(start), CostRU: result.RequestUnits,
		DocumentsFound: result.Count, QueryText: plan.Query.Text,
	})
	return &Result{Documents: result.Documents, Count: result.Count}, nil
}

// executeEntityAggregation reads one pre-computed stat from the entity
// record. Cost is a single point read.
func (e *QueryExecutor) executeEntityAggregation(ctx context.Context, plan *types.StrategyPlan, trace *ExecutionTrace) (*Result, error) {
	if len(plan.Query.Steps) == 0 {
		return nil, &ValidationError{Strategy: plan.Strategy, Errors: []string{"ENTITY_AGGREGATION plan requires a stat_read step"}}
	}
	step := plan.Query.Steps[0]
	entityType, ok := collectionEntityTypes[step.Collection]
	if !ok {
		return nil, &ValidationError{Strategy: plan.Strategy, Errors: []string{fmt.Sprintf("collection %q is not an entity collection", step.Collection)}}
	}

	start := time.Now()
	record, err := e.entities.GetEntity(ctx, string(entityType), step.Key)
	if err != nil {
		trace.RecordStep(ExecutionStep{
			Name: step.Name, Collection: step.Collection, Status: StepFailed,
			Duration: time.Since(start), CostRU: 1.0, Error: err.Error(),
		})
		return nil, execError(plan.Strategy, fmt.Errorf("entity lookup %q: %w", step.Key, err))
	}

	res := &Result{AggregateField: step.Field}
	switch step.Field {
	case "contract_count", "":
		res.Count = record.ContractCount
		res.AggregateValue = float64(record.ContractCount)
	case "total_value_usd":
		res.Count = record.ContractCount
		res.AggregateValue = record.TotalValueUSD
	case "average_value_usd":
		res.Count = record.ContractCount
		if record.ContractCount > 0 {
			res.AggregateValue = record.TotalValueUSD / float64(record.ContractCount)
		}
	default:
		return nil, &ValidationError{Strategy: plan.Strategy, Errors: []string{fmt.Sprintf("unknown stat field %q", step.Field)}}
	}

	trace.RecordStep(ExecutionStep{
		Name: step.Name, Collection: step.Collection, Status: StepOK,
		Duration: time.Since(start), CostRU: 1.0, DocumentsFound: record.ContractCount,
	})
	return res, nil
}

// executeGraphTraversal runs the SPARQL plan and batch-fetches the
// contracts bound to ?contract in the solutions.
func (e *QueryExecutor) executeGraphTraversal(ctx context.Context, plan *types.StrategyPlan, trace *ExecutionTrace) (*Result, error) {
	if e.graph == nil {
		return nil, execError(plan.Strategy, fmt.Errorf("graph store not configured: %w", storage.ErrBackendUnavailable))
	}

	start := time.Now()
	graphResult, err := e.graph.Select(ctx, plan.Query.Text)
	if err != nil {
		trace.RecordStep(ExecutionStep{
			Name: "sparql_select", Collection: CollectionGraph, Status: StepFailed,
			Duration: time.Since(start), QueryText: plan.Query.Text, Error: err.Error(),
		})
		return nil, execError(plan.Strategy, err)
	}
	trace.RecordStep(ExecutionStep{
		Name: "sparql_select", Collection: CollectionGraph, Status: StepOK,
		Duration: time.Since(start), CostRU: graphResult.RequestUnits,
		DocumentsFound: len(graphResult.Rows), QueryText: plan.Query.Text,
	})

	ids := contractIDsFromBindings(graphResult.Rows)
	if len(ids) == 0 {
		return &Result{Count: 0}, nil
	}
	if len(ids) > e.maxResults {
		ids = ids[:e.maxResults]
	}

	start = time.Now()
	result, err := e.contracts.GetContractsByIDs(ctx, ids)
	if err != nil {
		trace.RecordStep(ExecutionStep{
			Name: "batch_fetch", Collection: CollectionContracts, Status: StepFailed,
			Duration: time.Since(start), Error: err.Error(),
		})
		return nil, execError(plan.Strategy, fmt.Errorf("batch fetch: %w", err))
	}
	trace.RecordStep(ExecutionStep{
		Name: "batch_fetch", Collection: CollectionContracts, Status: StepOK,
		Duration: time.Since(start), CostRU: result.RequestUnits, DocumentsFound: result.Count,
	})
	return &Result{Documents: result.Documents, Count: result.Count}, nil
}

// executeVectorSearch embeds the query text, searches the vector index,
// and batch-fetches the hits.
func (e *QueryExecutor) executeVectorSearch(ctx context.Context, plan *types.StrategyPlan, trace *ExecutionTrace) (*Result, error) {
	if e.vectors == nil || e.embedder == nil {
		return nil, execError(plan.Strategy, fmt.Errorf("vector backend not configured: %w", storage.ErrBackendUnavailable))
	}
	if len(plan.Query.Steps) == 0 || plan.Query.Steps[0].Key == "" {
		return nil, &ValidationError{Strategy: plan.Strategy, Errors: []string{"VECTOR_SEARCH plan requires the query text as the first step key"}}
	}
	queryText := plan.Query.Steps[0].Key

	start := time.Now()
	embedding, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		trace.RecordStep(ExecutionStep{
			Name: "embed_query", Collection: CollectionVectors, Status: StepFailed,
			Duration: time.Since(start), Error: err.Error(),
		})
		return nil, execError(plan.Strategy, fmt.Errorf("embed query: %w", err))
	}
	trace.RecordStep(ExecutionStep{
		Name: "embed_query", Collection: CollectionVectors, Status: StepOK,
		Duration: time.Since(start),
	})

	start = time.Now()
	hits, costRU, err := e.vectors.Search(ctx, embedding, e.vectorTopK)
	if err != nil {
		trace.RecordStep(ExecutionStep{
			Name: "vector_search", Collection: CollectionVectors, Status: StepFailed,
			Duration: time.Since(start), Error: err.Error(),
		})
		return nil, execError(plan.Strategy, err)
	}
	trace.RecordStep(ExecutionStep{
		Name: "vector_search", Collection: CollectionVectors, Status: StepOK,
		Duration: time.Since(start), CostRU: costRU, DocumentsFound: len(hits),
	})
	if len(hits) == 0 {
		return &Result{Count: 0}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	start = time.Now()
	result, err := e.contracts.GetContractsByIDs(ctx, ids)
	if err != nil {
		trace.RecordStep(ExecutionStep{
			Name: "batch_fetch", Collection: CollectionContracts, Status: StepFailed,
			Duration: time.Since(start), Error: err.Error(),
		})
		return nil, execError(plan.Strategy, fmt.Errorf("batch fetch: %w", err))
	}
	trace.RecordStep(ExecutionStep{
		Name: "batch_fetch", Collection: CollectionContracts, Status: StepOK,
		Duration: time.Since(start), CostRU: result.RequestUnits, DocumentsFound: result.Count,
	})
	return &Result{Documents: result.Documents, Count: result.Count}, nil
}

// contractIDsFromBindings extracts contract document IDs from SPARQL
// solutions, preferring the ?contract variable and stripping IRI prefixes
// down to the local name.
func contractIDsFromBindings(rows []map[string]string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, row := range rows {
		val, ok := row["contract"]
		if !ok {
			for _, v := range row {
				val = v
				break
			}
		}
		if val == "" {
			continue
		}
		id := val
		if i := strings.LastIndexAny(id, "/#"); i >= 0 {
			id = id[i+1:]
		}
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
