package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/covenantql/covenant/pkg/types"
)

// RuleBasedPlanner selects a strategy through a deterministic decision
// table over the resolved entities, negations, OR-lists, aggregation
// keywords, and relationship keywords. It is cheap enough to run on every
// query and serves as the fallback when the LLM plan is rejected.
type RuleBasedPlanner struct {
	resolver *EntityResolver
}

// NewRuleBasedPlanner builds a planner over the given resolver.
func NewRuleBasedPlanner(resolver *EntityResolver) *RuleBasedPlanner {
	return &RuleBasedPlanner{resolver: resolver}
}

var aggregationKeywords = []string{"how many", "count of", "total", "average", "sum of"}

// queryFeatures are the decision-table inputs derived from one query.
type queryFeatures struct {
	resolution      types.Resolution
	entityCount     int
	hasNegation     bool
	hasORList       bool
	isAggregation   bool
	relationshipCue string
}

func (p *RuleBasedPlanner) features(queryText string) queryFeatures {
	res := p.resolver.Resolve(queryText)
	lower := strings.ToLower(queryText)

	f := queryFeatures{
		resolution:  res,
		entityCount: len(res.Entities),
		hasNegation: res.HasNegation(),
	}
	for _, kw := range aggregationKeywords {
		if strings.Contains(lower, kw) {
			f.isAggregation = true
			break
		}
	}
	for cue := range relationshipPredicates {
		if strings.Contains(lower, cue) {
			f.relationshipCue = cue
			break
		}
	}
	// Two or more positive entities of the same type can only be an
	// OR-list: a contract has one value per field.
	byType := make(map[types.EntityType]int)
	for _, e := range res.Entities {
		byType[e.Type]++
		if byType[e.Type] >= 2 {
			f.hasORList = true
		}
	}
	return f
}

// Plan runs the decision table and returns a complete strategy plan.
// It never fails: when no rule matches confidently the plan degrades to
// VECTOR_SEARCH.
func (p *RuleBasedPlanner) Plan(queryText string) *types.StrategyPlan {
	f := p.features(queryText)

	var plan *types.StrategyPlan
	switch {
	case f.relationshipCue != "":
		plan = p.graphTraversalPlan(queryText, f)
	case f.hasNegation || f.hasORList || f.entityCount >= 2:
		plan = p.contractDirectPlan(f)
	case f.isAggregation && f.entityCount == 1:
		plan = p.entityAggregationPlan(queryText, f.resolution.Entities[0])
	case f.entityCount == 1:
		plan = p.entityFirstPlan(f.resolution.Entities[0])
	default:
		plan = p.vectorSearchPlan(queryText)
	}
	plan.Source = "rule_based"
	return plan
}

// PlanForStrategy builds a plan for a specific strategy, used when a
// failed plan names a fallback strategy different from the rule table's
// own pick.
func (p *RuleBasedPlanner) PlanForStrategy(queryText string, strategy types.Strategy) (*types.StrategyPlan, error) {
	f := p.features(queryText)

	var plan *types.StrategyPlan
	switch strategy {
	case types.StrategyEntityFirst:
		if f.entityCount == 0 {
			return nil, fmt.Errorf("rule planner: no entity resolved for ENTITY_FIRST fallback")
		}
		plan = p.entityFirstPlan(f.resolution.Entities[0])
	case types.StrategyContractDirect:
		plan = p.contractDirectPlan(f)
	case types.StrategyEntityAggregation:
		if f.entityCount == 0 {
			return nil, fmt.Errorf("rule planner: no entity resolved for ENTITY_AGGREGATION fallback")
		}
		plan = p.entityAggregationPlan(queryText, f.resolution.Entities[0])
	case types.StrategyGraphTraversal:
		plan = p.graphTraversalPlan(queryText, f)
	case types.StrategyVectorSearch:
		plan = p.vectorSearchPlan(queryText)
	default:
		return nil, fmt.Errorf("rule planner: unknown strategy %q", strategy)
	}
	plan.Source = "rule_based"
	return plan, nil
}

func (p *RuleBasedPlanner) entityFirstPlan(e types.Entity) *types.StrategyPlan {
	coll := EntityCollection(e.Type)
	confidence := 0.9
	if e.MatchType == types.MatchExact {
		confidence = 0.95
	}
	return &types.StrategyPlan{
		Strategy:         types.StrategyEntityFirst,
		Confidence:       confidence,
		Reasoning:        fmt.Sprintf("single %s entity %q with no negation; point lookup then batch fetch", e.Type, e.NormalizedName),
		FallbackStrategy: types.StrategyContractDirect,
		Query: types.Query{
			Type: types.QueryTypeEntityLookup,
			Steps: []types.QueryStep{
				{Name: "entity_lookup", Collection: coll, Key: e.NormalizedName},
				{Name: "batch_fetch", Collection: CollectionContracts, Field: "contract_ids"},
			},
		},
		ExecutionPlan: types.ExecutionPlanEstimate{
			Collections:      []string{coll, CollectionContracts},
			EstimatedRUCost:  1.0 + 1.0 + 0.5*10,
			EstimatedResults: 10,
		},
	}
}

func (p *RuleBasedPlanner) entityAggregationPlan(queryText string, e types.Entity) *types.StrategyPlan {
	coll := EntityCollection(e.Type)
	field := "contract_count"
	lower := strings.ToLower(queryText)
	switch {
	case strings.Contains(lower, "average"):
		field = "average_value_usd"
	case strings.Contains(lower, "total value") || strings.Contains(lower, "sum of"):
		field = "total_value_usd"
	}
	return &types.StrategyPlan{
		Strategy:         types.StrategyEntityAggregation,
		Confidence:       0.92,
		Reasoning:        fmt.Sprintf("aggregation over single %s entity %q; pre-computed %s read", e.Type, e.NormalizedName, field),
		FallbackStrategy: types.StrategyContractDirect,
		Query: types.Query{
			Type: types.QueryTypeEntityLookup,
			Steps: []types.QueryStep{
				{Name: "stat_read", Collection: coll, Key: e.NormalizedName, Field: field},
			},
		},
		ExecutionPlan: types.ExecutionPlanEstimate{
			Collections:      []string{coll},
			EstimatedRUCost:  1.0,
			EstimatedResults: 1,
		},
	}
}

// contractDirectPlan renders a parameterized SELECT over the contract
// collection. Negated entities become != or NOT IN clauses, same-field
// OR-lists become IN clauses, and distinct fields are AND-combined.
func (p *RuleBasedPlanner) contractDirectPlan(f queryFeatures) *types.StrategyPlan {
	positive := make(map[string][]types.Entity)
	negative := make(map[string][]types.Entity)
	for _, e := range f.resolution.Entities {
		field := FilterField(e.Type)
		positive[field] = append(positive[field], e)
	}
	for _, n := range f.resolution.Negations {
		field := FilterField(n.Entity.Type)
		negative[field] = append(negative[field], n.Entity)
	}

	fields := make([]string, 0, len(positive)+len(negative))
	for field := range positive {
		fields = append(fields, field)
	}
	for field := range negative {
		if _, dup := positive[field]; !dup {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)

	var clauses []string
	var params []string
	for _, field := range fields {
		if ents := positive[field]; len(ents) == 1 {
			clauses = append(clauses, fmt.Sprintf("%s = ?", field))
			params = append(params, ents[0].NormalizedName)
		} else if len(ents) > 1 {
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", field, placeholders(len(ents))))
			for _, e := range ents {
				params = append(params, e.NormalizedName)
			}
		}
		if ents := negative[field]; len(ents) == 1 {
			clauses = append(clauses, fmt.Sprintf("%s != ?", field))
			params = append(params, ents[0].NormalizedName)
		} else if len(ents) > 1 {
			clauses = append(clauses, fmt.Sprintf("%s NOT IN (%s)", field, placeholders(len(ents))))
			for _, e := range ents {
				params = append(params, e.NormalizedName)
			}
		}
	}

	projection := "*"
	reasoning := "composite filter over the contract collection"
	if f.isAggregation {
		projection = "COUNT(*)"
		reasoning = "aggregation combined with negation or OR-list; composite filter with count projection"
	}
	where := strings.Join(clauses, " AND ")
	text := fmt.Sprintf("SELECT %s FROM %s", projection, CollectionContracts)
	if where != "" {
		text += " WHERE " + where
	}

	return &types.StrategyPlan{
		Strategy:         types.StrategyContractDirect,
		Confidence:       0.9,
		Reasoning:        reasoning,
		FallbackStrategy: types.StrategyVectorSearch,
		Query: types.Query{
			Type:   types.QueryTypeSQL,
			Text:   text,
			Params: params,
		},
		ExecutionPlan: types.ExecutionPlanEstimate{
			Collections:      []string{CollectionContracts},
			EstimatedRUCost:  1.0 + 0.5*20,
			EstimatedResults: 20,
		},
	}
}

func (p *RuleBasedPlanner) graphTraversalPlan(queryText string, f queryFeatures) *types.StrategyPlan {
	predicate := relationshipPredicates[f.relationshipCue]

	var b strings.Builder
	fmt.Fprintf(&b, "PREFIX cov: <%s>\n", OntologyPrefix)
	b.WriteString("SELECT ?contract WHERE {\n")
	fmt.Fprintf(&b, "  ?contract %s ?other .\n", predicate)
	for _, e := range f.resolution.Entities {
		fmt.Fprintf(&b, "  ?contract %s \"%s\" .\n", entityPredicate(e.Type), e.NormalizedName)
	}
	b.WriteString("}")

	return &types.StrategyPlan{
		Strategy:         types.StrategyGraphTraversal,
		Confidence:       0.85,
		Reasoning:        fmt.Sprintf("relationship keyword %q; SPARQL traversal over %s", f.relationshipCue, predicate),
		FallbackStrategy: types.StrategyVectorSearch,
		Query: types.Query{
			Type: types.QueryTypeSPARQL,
			Text: b.String(),
		},
		ExecutionPlan: types.ExecutionPlanEstimate{
			Collections:      []string{CollectionGraph},
			EstimatedRUCost:  2.0 + 0.25*10,
			EstimatedResults: 10,
		},
	}
}

func (p *RuleBasedPlanner) vectorSearchPlan(queryText string) *types.StrategyPlan {
	return &types.StrategyPlan{
		Strategy:         types.StrategyVectorSearch,
		Confidence:       0.5,
		Reasoning:        "no confident rule match; semantic similarity fallback",
		FallbackStrategy: types.StrategyContractDirect,
		Query: types.Query{
			Type: types.QueryTypeEntityLookup,
			Steps: []types.QueryStep{
				{Name: "vector_search", Collection: CollectionVectors, Key: queryText},
				{Name: "batch_fetch", Collection: CollectionContracts},
			},
		},
		ExecutionPlan: types.ExecutionPlanEstimate{
			Collections:      []string{CollectionVectors, CollectionContracts},
			EstimatedRUCost:  2.5 + 0.5*10 + 1.0 + 0.5*10,
			EstimatedResults: 10,
		},
	}
}

// entityPredicate maps an entity type to its ontology predicate.
func entityPredicate(t types.EntityType) string {
	switch t {
	case types.EntityContractorParty:
		return "cov:hasContractorParty"
	case types.EntityContractingParty:
		return "cov:hasContractingParty"
	case types.EntityGoverningLaw:
		return "cov:governedBy"
	case types.EntityContractType:
		return "cov:hasContractType"
	}
	return "cov:relatedTo"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
