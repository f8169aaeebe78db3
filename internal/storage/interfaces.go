// Package storage defines the backend query contracts consumed by the
// planning engine: entity point lookups, composite-filter document queries,
// SPARQL graph reads, and vector similarity search.
//
// The interfaces are intentionally small so backends can be implemented
// independently and composed as needed. The engine never writes through
// them; ingestion is a separate system.
package storage

import "context"

// EntityStore provides point lookups into the normalized entity
// collections. Keys are normalized entity names (lowercase, underscores,
// punctuation stripped).
type EntityStore interface {
	// GetEntity retrieves one entity record by type and normalized key.
	// Returns ErrNotFound when no entity matches.
	GetEntity(ctx context.Context, entityType string, normalizedKey string) (*EntityRecord, error)

	// ListEntityKeys returns every normalized key in the given entity
	// collection. Used by catalog refresh, never on the query path.
	ListEntityKeys(ctx context.Context, entityType string) ([]string, error)
}

// ContractStore provides filtered reads over the contract document
// collection. All filters are composite (AND-combined clauses) with
// equality, inequality and membership operators.
type ContractStore interface {
	// QueryContracts returns documents matching the filter, up to limit.
	QueryContracts(ctx context.Context, filter Filter, limit int) (*QueryResult, error)

	// CountContracts returns the number of documents matching the filter
	// without materializing them (count projection).
	CountContracts(ctx context.Context, filter Filter) (*QueryResult, error)

	// GetContractsByIDs batch-reads documents by ID. Missing IDs are
	// skipped, not errors; the result may be shorter than the input.
	GetContractsByIDs(ctx context.Context, ids []string) (*QueryResult, error)
}

// GraphStore executes SPARQL SELECT queries against the RDF contract graph.
type GraphStore interface {
	// Select runs a SPARQL SELECT and returns the variable bindings.
	Select(ctx context.Context, sparql string) (*GraphResult, error)
}

// VectorIndex provides top-k similarity search over contract embeddings.
type VectorIndex interface {
	// Search returns the topK nearest documents for the given embedding.
	Search(ctx context.Context, embedding []float32, topK int) ([]VectorHit, float64, error)
}
