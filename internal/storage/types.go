package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBackendUnavailable indicates the backend could not be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// FilterOp is a comparison operator in a composite contract filter.
// The set is closed and mirrors the operator whitelist enforced by the
// query validator.
type FilterOp string

const (
	// OpEq matches documents whose field equals the value.
	OpEq FilterOp = "="

	// OpNe matches documents whose field does not equal the value.
	// Negated entities always map here, never to an equality check.
	OpNe FilterOp = "!="

	// OpIn matches documents whose field is a member of the value set.
	// OR-lists map here.
	OpIn FilterOp = "IN"

	// OpNotIn matches documents whose field is not in the value set.
	OpNotIn FilterOp = "NOT IN"
)

// FilterClause is a single field comparison. Value is used by the scalar
// operators, Values by the set operators.
type FilterClause struct {
	Field  string   `json:"field"`
	Op     FilterOp `json:"op"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// Filter is a composite contract filter. Clauses are AND-combined.
type Filter []FilterClause

// Validate rejects structurally malformed filters: unknown operators,
// scalar operators without a value, set operators without values.
func (f Filter) Validate() error {
	for i, c := range f {
		if c.Field == "" {
			return fmt.Errorf("%w: clause %d has empty field", ErrInvalidInput, i)
		}
		switch c.Op {
		case OpEq, OpNe:
			if c.Value == "" {
				return fmt.Errorf("%w: clause %d (%s %s) requires a value", ErrInvalidInput, i, c.Field, c.Op)
			}
		case OpIn, OpNotIn:
			if len(c.Values) == 0 {
				return fmt.Errorf("%w: clause %d (%s %s) requires values", ErrInvalidInput, i, c.Field, c.Op)
			}
		default:
			return fmt.Errorf("%w: clause %d has unknown operator %q", ErrInvalidInput, i, c.Op)
		}
	}
	return nil
}

// ContractDoc is a contract document as returned by the document
// collection. Fields carry the normalized values produced at ingestion
// time (out of scope here); the engine only reads them.
type ContractDoc struct {
	// ID is the document identifier.
	ID string `json:"id"`

	// Title is the contract title.
	Title string `json:"title"`

	// ContractorParty is the normalized contractor party key.
	ContractorParty string `json:"contractor_party"`

	// ContractingParty is the normalized contracting party key.
	ContractingParty string `json:"contracting_party"`

	// GoverningLawState is the normalized governing-law jurisdiction.
	GoverningLawState string `json:"governing_law_state"`

	// ContractType is the normalized contract type key.
	ContractType string `json:"contract_type"`

	// EffectiveDate is the contract effective date, when known.
	EffectiveDate time.Time `json:"effective_date,omitempty"`

	// ValueUSD is the contract value in USD, zero when unknown.
	ValueUSD float64 `json:"value_usd,omitempty"`
}

// EntityRecord is a row in a normalized entity-lookup collection. It
// carries pre-computed references and aggregates so single-entity queries
// can be answered without touching the document collection twice.
type EntityRecord struct {
	// NormalizedName is the point-lookup key.
	NormalizedName string `json:"normalized_name"`

	// DisplayName is the human-readable entity name.
	DisplayName string `json:"display_name"`

	// EntityType is the collection discriminator (contractor_party,
	// contracting_party, governing_law, contract_type).
	EntityType string `json:"entity_type"`

	// ContractIDs lists the documents referencing this entity.
	ContractIDs []string `json:"contract_ids"`

	// ContractCount is the pre-computed reference count, read by
	// ENTITY_AGGREGATION plans.
	ContractCount int `json:"contract_count"`

	// TotalValueUSD is the pre-computed sum of referenced contract values.
	TotalValueUSD float64 `json:"total_value_usd"`
}

// QueryResult is the uniform result of a document-producing backend call.
type QueryResult struct {
	// Documents are the matched contracts.
	Documents []ContractDoc `json:"documents"`

	// Count is the number of matched documents. For count projections the
	// Documents slice is empty and Count carries the aggregate.
	Count int `json:"count"`

	// RequestUnits is the backend-reported request-unit cost.
	RequestUnits float64 `json:"request_units"`

	// Duration is the backend-observed execution time.
	Duration time.Duration `json:"duration"`
}

// GraphResult is the result of a SPARQL SELECT against the graph store.
type GraphResult struct {
	// Variables are the projected variable names, in SELECT order.
	Variables []string `json:"variables"`

	// Rows are the variable bindings, one map per solution.
	Rows []map[string]string `json:"rows"`

	// RequestUnits is the backend-reported request-unit cost.
	RequestUnits float64 `json:"request_units"`
}

// VectorHit is one result of a top-k similarity search.
type VectorHit struct {
	// DocID is the contract document identifier.
	DocID string `json:"doc_id"`

	// Score is the similarity score; higher is closer.
	Score float64 `json:"score"`
}
