package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/covenantql/covenant/pkg/types"
)

// SchemaVersion identifies the collection schema description given to the
// LLM planner and enforced by the validator. Bump when fields change.
const SchemaVersion = "v3"

// OntologyVersion identifies the graph ontology description.
const OntologyVersion = "v2"

// Collection names form a closed set; every ExecutionStep.Collection must
// be one of these, and the executor rejects plans referencing anything else.
const (
	CollectionContracts               = "contracts"
	CollectionEntitiesContractorParty = "entities_contractor_party"
	CollectionEntitiesContracting     = "entities_contracting_party"
	CollectionEntitiesGoverningLaw    = "entities_governing_law"
	CollectionEntitiesContractType    = "entities_contract_type"
	CollectionGraph                   = "contract_graph"
	CollectionVectors                 = "contract_vectors"
)

// knownCollections is the closed set of collections the executor accepts.
var knownCollections = map[string]bool{
	CollectionContracts:               true,
	CollectionEntitiesContractorParty: true,
	CollectionEntitiesContracting:     true,
	CollectionEntitiesGoverningLaw:    true,
	CollectionEntitiesContractType:    true,
	CollectionGraph:                   true,
	CollectionVectors:                 true,
}

// KnownCollection reports whether name belongs to the closed collection set.
func KnownCollection(name string) bool {
	return knownCollections[name]
}

// entityCollections maps entity types to their lookup collections.
var entityCollections = map[types.EntityType]string{
	types.EntityContractorParty:  CollectionEntitiesContractorParty,
	types.EntityContractingParty: CollectionEntitiesContracting,
	types.EntityGoverningLaw:     CollectionEntitiesGoverningLaw,
	types.EntityContractType:     CollectionEntitiesContractType,
}

// collectionEntityTypes is the inverse of entityCollections.
var collectionEntityTypes = map[string]types.EntityType{
	CollectionEntitiesContractorParty: types.EntityContractorParty,
	CollectionEntitiesContracting:     types.EntityContractingParty,
	CollectionEntitiesGoverningLaw:    types.EntityGoverningLaw,
	CollectionEntitiesContractType:    types.EntityContractType,
}

// EntityCollection returns the lookup collection for an entity type.
func EntityCollection(t types.EntityType) string {
	return entityCollections[t]
}

// contractFields maps filterable contract fields to the entity type whose
// normalized values they hold. Referenced by the SQL validator and by the
// rule-based filter builder.
var contractFields = map[string]types.EntityType{
	"contractor_party":    types.EntityContractorParty,
	"contracting_party":   types.EntityContractingParty,
	"governing_law_state": types.EntityGoverningLaw,
	"contract_type":       types.EntityContractType,
}

// selectableFields are the fields a SQL projection may name.
var selectableFields = map[string]bool{
	"id":                  true,
	"title":               true,
	"contractor_party":    true,
	"contracting_party":   true,
	"governing_law_state": true,
	"contract_type":       true,
	"effective_date":      true,
	"value_usd":           true,
}

// FilterField returns the contract field holding normalized values for the
// given entity type.
func FilterField(t types.EntityType) string {
	for field, et := range contractFields {
		if et == t {
			return field
		}
	}
	return ""
}

// OntologyPrefix is the cov: namespace required in every SPARQL plan.
const OntologyPrefix = "https://covenant.dev/ontology/"

// ontologyPredicates whitelists the triple predicates a SPARQL plan may
// use. Anything outside this set is a validation error.
var ontologyPredicates = map[string]bool{
	"a":                       true, // rdf:type shorthand
	"rdf:type":                true,
	"cov:hasContractorParty":  true,
	"cov:hasContractingParty": true,
	"cov:governedBy":          true,
	"cov:hasContractType":     true,
	"cov:dependsOn":           true,
	"cov:relatedTo":           true,
	"cov:supersedes":          true,
}

// relationshipPredicates are the predicates the rule-based planner emits
// for relationship questions, by cue keyword.
var relationshipPredicates = map[string]string{
	"depends on":   "cov:dependsOn",
	"connected to": "cov:relatedTo",
	"related to":   "cov:relatedTo",
	"between":      "cov:relatedTo",
}

// SchemaDescription renders the versioned collection schema for the
// planning prompt.
func SchemaDescription() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema %s\n", SchemaVersion)
	b.WriteString("collection contracts: id, title, contractor_party, contracting_party, governing_law_state, contract_type, effective_date, value_usd\n")
	b.WriteString("  all party/law/type fields hold normalized keys (lowercase, underscores, punctuation stripped)\n")

	colls := make([]string, 0, len(collectionEntityTypes))
	for name := range collectionEntityTypes {
		colls = append(colls, name)
	}
	sort.Strings(colls)
	for _, name := range colls {
		fmt.Fprintf(&b, "collection %s: normalized_name (key), display_name, contract_ids, contract_count, total_value_usd\n", name)
	}
	b.WriteString("collection contract_vectors: embedding similarity index over contracts\n")
	return b.String()
}

// OntologyDescription renders the versioned graph ontology for the
// planning prompt.
func OntologyDescription() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ontology %s\nPREFIX cov: <%s>\n", OntologyVersion, OntologyPrefix)
	b.WriteString("class cov:Contract\npredicates:\n")

	preds := make([]string, 0, len(ontologyPredicates))
	for p := range ontologyPredicates {
		if strings.HasPrefix(p, "cov:") {
			preds = append(preds, p)
		}
	}
	sort.Strings(preds)
	for _, p := range preds {
		fmt.Fprintf(&b, "  %s\n", p)
	}
	return b.String()
}
