package types

// EntityType classifies a resolved entity by the catalog it matched.
type EntityType string

const (
	// EntityContractorParty is the party performing under the contract.
	EntityContractorParty EntityType = "contractor_party"

	// EntityContractingParty is the party commissioning the contract.
	EntityContractingParty EntityType = "contracting_party"

	// EntityGoverningLaw is the governing-law jurisdiction (e.g. a US state).
	EntityGoverningLaw EntityType = "governing_law"

	// EntityContractType is the contract classification (MSA, NDA, SOW, ...).
	EntityContractType EntityType = "contract_type"
)

// IsValidEntityType reports whether t is a known entity type.
func IsValidEntityType(t EntityType) bool {
	switch t {
	case EntityContractorParty, EntityContractingParty, EntityGoverningLaw, EntityContractType:
		return true
	}
	return false
}

// MatchType records how an entity was matched against its catalog.
type MatchType string

const (
	// MatchExact means the normalized query term equaled the catalog key.
	MatchExact MatchType = "exact"

	// MatchAlias means the term matched a configured alias of the entity.
	MatchAlias MatchType = "alias"

	// MatchFuzzy means the term matched within the configured edit-distance
	// tolerance.
	MatchFuzzy MatchType = "fuzzy"
)

// Entity is a normalized reference to a domain object usable as a lookup
// key. Entities are produced by the resolver, are immutable, and never
// persist beyond a single planning call.
type Entity struct {
	// NormalizedName is the lookup key: lowercase, underscores for spaces,
	// punctuation stripped (e.g. "The Westervelt Company" -> "westervelt").
	NormalizedName string `json:"normalized_name"`

	// DisplayName is the catalog's human-readable name.
	DisplayName string `json:"display_name"`

	// Type is the catalog the entity matched.
	Type EntityType `json:"type"`

	// Confidence is the match strength in [0,1].
	Confidence float64 `json:"confidence"`

	// MatchType records how the match was made (exact, alias, fuzzy).
	MatchType MatchType `json:"match_type"`
}

// Negation is an entity explicitly excluded from results, detected via
// patterns such as "not X", "excluding X", "except X", "other than X" and
// "without X".
type Negation struct {
	// Entity is the excluded entity.
	Entity Entity `json:"entity"`

	// Scope is the matched text span that triggered the negation,
	// e.g. "not governed by Alabama".
	Scope string `json:"scope"`
}

// Resolution is the output of entity resolution for one query.
type Resolution struct {
	// Entities are the positive entities, ordered by descending confidence.
	Entities []Entity `json:"entities"`

	// Negations are the excluded entities.
	Negations []Negation `json:"negations"`
}

// PositiveOfType returns the positive entities of the given type.
func (r Resolution) PositiveOfType(t EntityType) []Entity {
	var out []Entity
	for _, e := range r.Entities {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// HasNegation reports whether any negation was detected.
func (r Resolution) HasNegation() bool {
	return len(r.Negations) > 0
}
