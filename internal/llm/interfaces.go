package llm

import "context"

// TextGenerator is the interface for LLM text completion. The strategy
// planner uses single-string completion style (not chat); the prompt
// carries the schema, ontology and rulebook inline.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings,
// used by VECTOR_SEARCH plans to embed the query text.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
