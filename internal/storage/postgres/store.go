// Package postgres provides the production backend: entity and contract
// collections on PostgreSQL (lib/pq) plus a pgvector-backed similarity
// index over contract embeddings.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/covenantql/covenant/internal/storage"
)

// Schema creates the entity and contract collections. The embeddings table
// and its ivfflat index are created by VectorSchema when pgvector is
// available.
const Schema = `
CREATE TABLE IF NOT EXISTS contracts (
	id                  TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	contractor_party    TEXT NOT NULL DEFAULT '',
	contracting_party   TEXT NOT NULL DEFAULT '',
	governing_law_state TEXT NOT NULL DEFAULT '',
	contract_type       TEXT NOT NULL DEFAULT '',
	effective_date      TIMESTAMPTZ,
	value_usd           DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_contracts_governing_law ON contracts(governing_law_state);
CREATE INDEX IF NOT EXISTS idx_contracts_contractor ON contracts(contractor_party);
CREATE INDEX IF NOT EXISTS idx_contracts_type ON contracts(contract_type);

CREATE TABLE IF NOT EXISTS entities (
	entity_type     TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	display_name    TEXT NOT NULL,
	contract_ids    TEXT[] NOT NULL DEFAULT '{}',
	contract_count  INTEGER NOT NULL DEFAULT 0,
	total_value_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_type, normalized_name)
);
`

// contractSelectColumns must match the scan order in scanContracts.
const contractSelectColumns = `
	id, title, contractor_party, contracting_party,
	governing_law_state, contract_type, effective_date, value_usd
`

// filterableFields whitelists the fields a composite filter may reference.
var filterableFields = map[string]bool{
	"id":                  true,
	"contractor_party":    true,
	"contracting_party":   true,
	"governing_law_state": true,
	"contract_type":       true,
}

// Store implements storage.EntityStore and storage.ContractStore on
// PostgreSQL.
type Store struct {
	db *sql.DB
}

// Compile-time assertions.
var (
	_ storage.EntityStore   = (*Store)(nil)
	_ storage.ContractStore = (*Store)(nil)
)

// NewStore connects to PostgreSQL and ensures the schema exists.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrBackendUnavailable, err)
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection (used by tests and by the
// vector index so both share one pool).
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// GetEntity retrieves one entity record by type and normalized key.
func (s *Store) GetEntity(ctx context.Context, entityType string, normalizedKey string) (*storage.EntityRecord, error) {
	if entityType == "" || normalizedKey == "" {
		return nil, fmt.Errorf("%w: entity type and key are required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT entity_type, normalized_name, display_name, contract_ids, contract_count, total_value_usd
		FROM entities
		WHERE entity_type = $1 AND normalized_name = $2
	`, entityType, normalizedKey)

	var rec storage.EntityRecord
	var idsArray string
	err := row.Scan(&rec.EntityType, &rec.NormalizedName, &rec.DisplayName, &idsArray, &rec.ContractCount, &rec.TotalValueUSD)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entity %s/%s", storage.ErrNotFound, entityType, normalizedKey)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: GetEntity %s/%s: %w", entityType, normalizedKey, err)
	}

	rec.ContractIDs = parseTextArray(idsArray)
	return &rec, nil
}

// ListEntityKeys returns every normalized key in the given entity collection.
func (s *Store) ListEntityKeys(ctx context.Context, entityType string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT normalized_name FROM entities WHERE entity_type = $1 ORDER BY normalized_name
	`, entityType)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListEntityKeys %s: %w", entityType, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("postgres: ListEntityKeys scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// QueryContracts returns documents matching the composite filter, up to limit.
func (s *Store) QueryContracts(ctx context.Context, filter storage.Filter, limit int) (*storage.QueryResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM contracts%s ORDER BY id LIMIT $%d`,
		contractSelectColumns, where, len(args)+1)
	args = append(args, limit)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: QueryContracts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs, err := scanContracts(rows)
	if err != nil {
		return nil, err
	}

	return &storage.QueryResult{
		Documents:    docs,
		Count:        len(docs),
		RequestUnits: requestUnits(len(docs)),
		Duration:     time.Since(start),
	}, nil
}

// CountContracts returns the number of documents matching the filter.
func (s *Store) CountContracts(ctx context.Context, filter storage.Filter) (*storage.QueryResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contracts`+where, args...).Scan(&count); err != nil {
		return nil, fmt.Errorf("postgres: CountContracts: %w", err)
	}

	return &storage.QueryResult{
		Count:        count,
		RequestUnits: 1.0,
		Duration:     time.Since(start),
	}, nil
}

// GetContractsByIDs batch-reads documents by ID. Missing IDs are skipped.
func (s *Store) GetContractsByIDs(ctx context.Context, ids []string) (*storage.QueryResult, error) {
	if len(ids) == 0 {
		return &storage.QueryResult{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contractSelectColumns+` FROM contracts WHERE id IN (`+strings.Join(placeholders, ",")+`) ORDER BY id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: GetContractsByIDs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs, err := scanContracts(rows)
	if err != nil {
		return nil, err
	}

	return &storage.QueryResult{
		Documents:    docs,
		Count:        len(docs),
		RequestUnits: requestUnits(len(docs)),
		Duration:     time.Since(start),
	}, nil
}

// buildWhere renders an AND-combined WHERE clause with $n placeholders.
// Field names are whitelisted, never spliced from user input.
func buildWhere(filter storage.Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}

	var conds []string
	var args []any
	n := 0
	next := func() string {
		n++
		return fmt.Sprintf("$%d", n)
	}

	for _, c := range filter {
		if !filterableFields[c.Field] {
			return "", nil, fmt.Errorf("%w: field %q is not filterable", storage.ErrInvalidInput, c.Field)
		}
		switch c.Op {
		case storage.OpEq:
			conds = append(conds, c.Field+" = "+next())
			args = append(args, c.Value)
		case storage.OpNe:
			conds = append(conds, c.Field+" != "+next())
			args = append(args, c.Value)
		case storage.OpIn, storage.OpNotIn:
			placeholders := make([]string, len(c.Values))
			for i, v := range c.Values {
				placeholders[i] = next()
				args = append(args, v)
			}
			kw := " IN ("
			if c.Op == storage.OpNotIn {
				kw = " NOT IN ("
			}
			conds = append(conds, c.Field+kw+strings.Join(placeholders, ",")+")")
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// scanContracts reads all rows into contract documents.
func scanContracts(rows *sql.Rows) ([]storage.ContractDoc, error) {
	var docs []storage.ContractDoc
	for rows.Next() {
		var doc storage.ContractDoc
		var effective sql.NullTime
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.ContractorParty, &doc.ContractingParty,
			&doc.GoverningLawState, &doc.ContractType, &effective, &doc.ValueUSD); err != nil {
			return nil, fmt.Errorf("postgres: scan contract: %w", err)
		}
		if effective.Valid {
			doc.EffectiveDate = effective.Time
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// parseTextArray decodes a PostgreSQL text[] literal ({a,b,c}) into a
// string slice. Entity keys are normalized (no quotes, commas or braces)
// so the simple split is sufficient.
func parseTextArray(literal string) []string {
	trimmed := strings.Trim(literal, "{}")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, ",")
}

// requestUnits approximates a request-unit cost for a document read so
// plan comparisons use consistent cost numbers across backends.
func requestUnits(docs int) float64 {
	return 1.0 + 0.5*float64(docs)
}
