// Package sqlite provides an embedded backend implementing the entity and
// contract store contracts over a single SQLite database. It backs the CLI
// and the integration tests; production deployments use the postgres
// backend instead.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/covenantql/covenant/internal/storage"
)

// Schema is the embedded schema for the entity and contract collections.
const Schema = `
CREATE TABLE IF NOT EXISTS contracts (
	id                  TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	contractor_party    TEXT NOT NULL DEFAULT '',
	contracting_party   TEXT NOT NULL DEFAULT '',
	governing_law_state TEXT NOT NULL DEFAULT '',
	contract_type       TEXT NOT NULL DEFAULT '',
	effective_date      TIMESTAMP,
	value_usd           REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_contracts_governing_law ON contracts(governing_law_state);
CREATE INDEX IF NOT EXISTS idx_contracts_contractor ON contracts(contractor_party);
CREATE INDEX IF NOT EXISTS idx_contracts_type ON contracts(contract_type);

CREATE TABLE IF NOT EXISTS entities (
	entity_type     TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	display_name    TEXT NOT NULL,
	contract_ids    TEXT NOT NULL DEFAULT '[]',
	contract_count  INTEGER NOT NULL DEFAULT 0,
	total_value_usd REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_type, normalized_name)
);
`

// contractSelectColumns is the canonical SELECT column list for the
// contracts table. It must match the scan order in scanContractRow.
const contractSelectColumns = `
	id, title, contractor_party, contracting_party,
	governing_law_state, contract_type, effective_date, value_usd
`

// filterableFields whitelists the fields a composite filter may reference.
// Anything else is rejected before SQL is built.
var filterableFields = map[string]bool{
	"id":                  true,
	"contractor_party":    true,
	"contracting_party":   true,
	"governing_law_state": true,
	"contract_type":       true,
}

// Store implements storage.EntityStore and storage.ContractStore over a
// single SQLite database.
type Store struct {
	db *sql.DB
}

// Compile-time assertions.
var (
	_ storage.EntityStore   = (*Store)(nil)
	_ storage.ContractStore = (*Store)(nil)
)

// NewStore opens (creating if necessary) a SQLite-backed store at the
// given DSN. ":memory:" yields a private in-memory database.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite supports one concurrent writer; a single connection avoids
	// SQLITE_BUSY under concurrent query load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for seeding and maintenance tooling.
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
		WHERE entity_type = ? AND normalized_name = ?
	`, entityType, normalizedKey)

	var rec storage.EntityRecord
	var idsJSON string
	err := row.Scan(&rec.EntityType, &rec.NormalizedName, &rec.DisplayName, &idsJSON, &rec.ContractCount, &rec.TotalValueUSD)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entity %s/%s", storage.ErrNotFound, entityType, normalizedKey)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetEntity %s/%s: %w", entityType, normalizedKey, err)
	}

	if err := json.Unmarshal([]byte(idsJSON), &rec.ContractIDs); err != nil {
		return nil, fmt.Errorf("sqlite: GetEntity %s/%s: bad contract_ids: %w", entityType, normalizedKey, err)
	}

	return &rec, nil
}

// ListEntityKeys returns every normalized key in the given entity collection.
func (s *Store) ListEntityKeys(ctx context.Context, entityType string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT normalized_name FROM entities WHERE entity_type = ? ORDER BY normalized_name
	`, entityType)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListEntityKeys %s: %w", entityType, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite: ListEntityKeys scan: %w", err)
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

	query := `SELECT ` + contractSelectColumns + ` FROM contracts` + where + ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: QueryContracts: %w", err)
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
		return nil, fmt.Errorf("sqlite: CountContracts: %w", err)
	}

	return &storage.QueryResult{
		Count:        count,
		RequestUnits: 1.0, // index-only count
		Duration:     time.Since(start),
	}, nil
}

// GetContractsByIDs batch-reads documents by ID. Missing IDs are skipped.
func (s *Store) GetContractsByIDs(ctx context.Context, ids []string) (*storage.QueryResult, error) {
	if len(ids) == 0 {
		return &storage.QueryResult{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contractSelectColumns+` FROM contracts WHERE id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetContractsByIDs: %w", err)
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

// SeedContract inserts or replaces a contract document and maintains the
// derived entity records. Intended for the CLI's local mode and for tests;
// production ingestion is a separate system.
func (s *Store) SeedContract(ctx context.Context, doc storage.ContractDoc) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: contract ID is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO contracts
			(id, title, contractor_party, contracting_party, governing_law_state, contract_type, effective_date, value_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Title, doc.ContractorParty, doc.ContractingParty,
		doc.GoverningLawState, doc.ContractType, doc.EffectiveDate, doc.ValueUSD)
	if err != nil {
		return fmt.Errorf("sqlite: SeedContract %s: %w", doc.ID, err)
	}

	refs := map[string][2]string{
		"contractor_party":  {doc.ContractorParty, "contractor_party"},
		"contracting_party": {doc.ContractingParty, "contracting_party"},
		"governing_law":     {doc.GoverningLawState, "governing_law"},
		"contract_type":     {doc.ContractType, "contract_type"},
	}
	for _, ref := range refs {
		key, entityType := ref[0], ref[1]
		if key == "" {
			continue
		}
		if err := s.upsertEntityRef(ctx, entityType, key, doc.ID, doc.ValueUSD); err != nil {
			return err
		}
	}
	return nil
}

// upsertEntityRef appends a contract reference to an entity record,
// creating the record on first sight.
func (s *Store) upsertEntityRef(ctx context.Context, entityType, key, contractID string, valueUSD float64) error {
	rec, err := s.GetEntity(ctx, entityType, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		rec = nil
	}

	var ids []string
	var total float64
	display := key
	if rec != nil {
		for _, existing := range rec.ContractIDs {
			if existing == contractID {
				return nil // already referenced
			}
		}
		ids = rec.ContractIDs
		total = rec.TotalValueUSD
		display = rec.DisplayName
	}
	ids = append(ids, contractID)
	total += valueUSD

	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("sqlite: upsertEntityRef marshal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (entity_type, normalized_name, display_name, contract_ids, contract_count, total_value_usd)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, normalized_name) DO UPDATE SET
			contract_ids = excluded.contract_ids,
			contract_count = excluded.contract_count,
			total_value_usd = excluded.total_value_usd
	`, entityType, key, display, string(idsJSON), len(ids), total)
	if err != nil {
		return fmt.Errorf("sqlite: upsertEntityRef %s/%s: %w", entityType, key, err)
	}
	return nil
}

// buildWhere renders an AND-combined WHERE clause with placeholders from a
// validated composite filter. Field names are whitelisted, never spliced
// from user input.
func buildWhere(filter storage.Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}

	var conds []string
	var args []any
	for _, c := range filter {
		if !filterableFields[c.Field] {
			return "", nil, fmt.Errorf("%w: field %q is not filterable", storage.ErrInvalidInput, c.Field)
		}
		switch c.Op {
		case storage.OpEq:
			conds = append(conds, c.Field+" = ?")
			args = append(args, c.Value)
		case storage.OpNe:
			conds = append(conds, c.Field+" != ?")
			args = append(args, c.Value)
		case storage.OpIn, storage.OpNotIn:
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(c.Values)), ",")
			kw := " IN ("
			if c.Op == storage.OpNotIn {
				kw = " NOT IN ("
			}
			conds = append(conds, c.Field+kw+placeholders+")")
			for _, v := range c.Values {
				args = append(args, v)
			}
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
			return nil, fmt.Errorf("sqlite: scan contract: %w", err)
		}
		if effective.Valid {
			doc.EffectiveDate = effective.Time
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// requestUnits approximates a request-unit cost for a document read, so
// local runs produce comparable cost numbers to the hosted backends.
func requestUnits(docs int) float64 {
	return 1.0 + 0.5*float64(docs)
}
