package engine

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/covenantql/covenant/pkg/types"
)

// CatalogEntry is one known entity with optional aliases.
type CatalogEntry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases,omitempty"`
}

// CatalogFile is the on-disk shape of an entity catalog.
type CatalogFile struct {
	ContractorParties  []CatalogEntry `yaml:"contractor_parties"`
	ContractingParties []CatalogEntry `yaml:"contracting_parties"`
	GoverningLaw       []CatalogEntry `yaml:"governing_law"`
	ContractTypes      []CatalogEntry `yaml:"contract_types"`
}

// Catalog holds the known entities the resolver matches against, indexed
// by normalized name and alias per entity type.
type Catalog struct {
	// byType maps entity type -> normalized name -> display name.
	byType map[types.EntityType]map[string]string
	// aliases maps entity type -> normalized alias -> normalized name.
	aliases map[types.EntityType]map[string]string
}

// corporate suffixes and filler words stripped during normalization.
var stopwords = map[string]bool{
	"the":     true,
	"company": true,
	"inc":     true,
	"llc":     true,
	"corp":    true,
	"co":      true,
	"ltd":     true,
}

// Normalize converts a surface form to its catalog key: lowercase,
// punctuation stripped, corporate stopwords dropped, spaces collapsed
// to underscores.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte(' ')
		}
	}
	words := strings.Fields(b.String())
	kept := words[:0]
	for _, w := range words {
		if !stopwords[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, "_")
}

// NewCatalog builds a catalog from explicit entries.
func NewCatalog(file CatalogFile) *Catalog {
	c := &Catalog{
		byType:  make(map[types.EntityType]map[string]string),
		aliases: make(map[types.EntityType]map[string]string),
	}
	c.addAll(types.EntityContractorParty, file.ContractorParties)
	c.addAll(types.EntityContractingParty, file.ContractingParties)
	c.addAll(types.EntityGoverningLaw, file.GoverningLaw)
	c.addAll(types.EntityContractType, file.ContractTypes)
	return c
}

// LoadCatalog reads a YAML catalog from path. An empty path yields the
// built-in default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var file CatalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return NewCatalog(file), nil
}

func (c *Catalog) addAll(t types.EntityType, entries []CatalogEntry) {
	for _, e := range entries {
		c.Add(t, e.Name, e.Aliases...)
	}
}

// Add registers an entity and its aliases under the given type.
func (c *Catalog) Add(t types.EntityType, displayName string, aliases ...string) {
	key := Normalize(displayName)
	if key == "" {
		return
	}
	if c.byType[t] == nil {
		c.byType[t] = make(map[string]string)
	}
	c.byType[t][key] = displayName
	for _, a := range aliases {
		ak := Normalize(a)
		if ak == "" || ak == key {
			continue
		}
		if c.aliases[t] == nil {
			c.aliases[t] = make(map[string]string)
		}
		c.aliases[t][ak] = key
	}
}

// Lookup matches a surface form against one entity type. It tries exact
// normalized match, then alias, then fuzzy (edit distance 1). A miss
// returns ok=false.
func (c *Catalog) Lookup(t types.EntityType, surface string) (types.Entity, bool) {
	key := Normalize(surface)
	if key == "" {
		return types.Entity{}, false
	}
	if display, ok := c.byType[t][key]; ok {
		return types.Entity{
			NormalizedName: key,
			DisplayName:    display,
			Type:           t,
			Confidence:     0.95,
			MatchType:      types.MatchExact,
		}, true
	}
	if canonical, ok := c.aliases[t][key]; ok {
		return types.Entity{
			NormalizedName: canonical,
			DisplayName:    c.byType[t][canonical],
			Type:           t,
			Confidence:     0.9,
			MatchType:      types.MatchAlias,
		}, true
	}
	// Fuzzy pass tolerates a single typo. Short keys are excluded since
	// one edit on them matches too much.
	if len(key) >= 5 {
		for canonical, display := range c.byType[t] {
			if levenshteinAtMostOne(key, canonical) {
				return types.Entity{
					NormalizedName: canonical,
					DisplayName:    display,
					Type:           t,
					Confidence:     0.75,
					MatchType:      types.MatchFuzzy,
				}, true
			}
		}
	}
	return types.Entity{}, false
}

// LookupAny matches a surface form against all entity types in a fixed
// priority order and returns the first hit.
func (c *Catalog) LookupAny(surface string) (types.Entity, bool) {
	for _, t := range []types.EntityType{
		types.EntityGoverningLaw,
		types.EntityContractType,
		types.EntityContractorParty,
		types.EntityContractingParty,
	} {
		if e, ok := c.Lookup(t, surface); ok {
			return e, true
		}
	}
	return types.Entity{}, false
}

// levenshteinAtMostOne reports whether a and b are within edit distance 1.
// Avoids the full DP table since only distance <= 1 matters.
func levenshteinAtMostOne(a, b string) bool {
	if a == b {
		return true
	}
	la, lb := len(a), len(b)
	if la-lb > 1 || lb-la > 1 {
		return false
	}
	if la == lb {
		diffs := 0
		for i := 0; i < la; i++ {
			if a[i] != b[i] {
				diffs++
				if diffs > 1 {
					return false
				}
			}
		}
		return true
	}
	// One insertion. Make a the shorter string.
	if la > lb {
		a, b = b, a
		la, lb = lb, la
	}
	i, j, skipped := 0, 0, false
	for i < la && j < lb {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		if skipped {
			return false
		}
		skipped = true
		j++
	}
	return true
}

// usStates is the built-in governing-law catalog.
var usStates = []CatalogEntry{
	{Name: "Alabama"}, {Name: "Alaska"}, {Name: "Arizona"}, {Name: "Arkansas"},
	{Name: "California", Aliases: []string{"CA"}}, {Name: "Colorado"},
	{Name: "Connecticut"}, {Name: "Delaware"},
	{Name: "Florida", Aliases: []string{"FL"}}, {Name: "Georgia"},
	{Name: "Hawaii"}, {Name: "Idaho"}, {Name: "Illinois"}, {Name: "Indiana"},
	{Name: "Iowa"}, {Name: "Kansas"}, {Name: "Kentucky"}, {Name: "Louisiana"},
	{Name: "Maine"}, {Name: "Maryland"}, {Name: "Massachusetts"},
	{Name: "Michigan"}, {Name: "Minnesota"}, {Name: "Mississippi"},
	{Name: "Missouri"}, {Name: "Montana"}, {Name: "Nebraska"}, {Name: "Nevada"},
	{Name: "New Hampshire"}, {Name: "New Jersey"}, {Name: "New Mexico"},
	{Name: "New York", Aliases: []string{"NY"}}, {Name: "North Carolina"},
	{Name: "North Dakota"}, {Name: "Ohio"}, {Name: "Oklahoma"}, {Name: "Oregon"},
	{Name: "Pennsylvania"}, {Name: "Rhode Island"}, {Name: "South Carolina"},
	{Name: "South Dakota"}, {Name: "Tennessee"},
	{Name: "Texas", Aliases: []string{"TX"}}, {Name: "Utah"}, {Name: "Vermont"},
	{Name: "Virginia"}, {Name: "Washington"}, {Name: "West Virginia"},
	{Name: "Wisconsin"}, {Name: "Wyoming"},
	{Name: "District of Columbia", Aliases: []string{"DC"}},
}

// defaultContractTypes covers the common agreement kinds.
var defaultContractTypes = []CatalogEntry{
	{Name: "MSA", Aliases: []string{"master service agreement", "master services agreement"}},
	{Name: "NDA", Aliases: []string{"non disclosure agreement", "nondisclosure agreement", "confidentiality agreement"}},
	{Name: "SOW", Aliases: []string{"statement of work"}},
	{Name: "License", Aliases: []string{"license agreement", "licensing agreement"}},
	{Name: "Lease", Aliases: []string{"lease agreement"}},
	{Name: "Employment", Aliases: []string{"employment agreement", "employment contract"}},
}

// DefaultCatalog returns the built-in catalog: US states for governing
// law and common contract types. Party catalogs start empty and are
// populated from the backing store at startup.
func DefaultCatalog() *Catalog {
	return NewCatalog(CatalogFile{
		GoverningLaw:  usStates,
		ContractTypes: defaultContractTypes,
	})
}

// Size reports the number of canonical entries for one entity type.
func (c *Catalog) Size(t types.EntityType) int {
	return len(c.byType[t])
}
