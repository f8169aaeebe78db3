package engine

import (
	"regexp"
	"sort"
	"strings"

	"github.com/covenantql/covenant/pkg/types"
)

// EntityResolver extracts entities and negations from natural-language
// query text by scanning n-grams against the entity catalogs. Resolution
// fails soft: unmatched terms are dropped, never surfaced as errors.
type EntityResolver struct {
	catalog *Catalog
}

// NewEntityResolver builds a resolver over the given catalog.
func NewEntityResolver(catalog *Catalog) *EntityResolver {
	return &EntityResolver{catalog: catalog}
}

// negationCues start a negation span. Each cue negates catalog entities
// found within the following few tokens.
var negationCues = []string{
	"other than",
	"excluding",
	"except",
	"without",
	"not",
}

// negationWindow is how many tokens after a cue remain in its scope.
const negationWindow = 5

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9]+`)

type token struct {
	text  string
	start int
	end   int
}

// maxGram bounds the n-gram width tried against the catalogs. The widest
// catalog entries are three words ("district of columbia").
const maxGram = 3

// Resolve extracts entities and negations from query text. Entities whose
// span falls inside a negation window are moved to the negation set.
func (r *EntityResolver) Resolve(queryText string) types.Resolution {
	tokens := tokenize(queryText)
	negated := negationSpans(tokens)

	var res types.Resolution
	claimed := make([]bool, len(tokens))

	// Widest grams first so "new york" wins over "york".
	for width := maxGram; width >= 1; width-- {
		for i := 0; i+width <= len(tokens); i++ {
			if anyClaimed(claimed, i, i+width) {
				continue
			}
			surface := joinTokens(tokens[i : i+width])
			entity, ok := r.catalog.LookupAny(surface)
			if !ok {
				continue
			}
			for j := i; j < i+width; j++ {
				claimed[j] = true
			}
			if scope, neg := inNegation(negated, i); neg {
				res.Negations = append(res.Negations, types.Negation{
					Entity: entity,
					Scope:  scope,
				})
			} else {
				res.Entities = append(res.Entities, entity)
			}
		}
	}

	sort.SliceStable(res.Entities, func(i, j int) bool {
		return res.Entities[i].Confidence > res.Entities[j].Confidence
	})
	return res
}

func tokenize(text string) []token {
	var out []token
	for _, loc := range tokenPattern.FindAllStringIndex(text, -1) {
		out = append(out, token{
			text:  strings.ToLower(text[loc[0]:loc[1]]),
			start: loc[0],
			end:   loc[1],
		})
	}
	return out
}

func joinTokens(ts []token) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.text
	}
	return strings.Join(parts, " ")
}

func anyClaimed(claimed []bool, from, to int) bool {
	for i := from; i < to; i++ {
		if claimed[i] {
			return true
		}
	}
	return false
}

// negationSpan marks a run of token indexes covered by one negation cue.
type negationSpan struct {
	scope string
	from  int // first token index in scope
	to    int // one past the last token index in scope
}

// negationSpans finds negation cues in the token stream and computes the
// token window each one covers.
func negationSpans(tokens []token) []negationSpan {
	var spans []negationSpan
	for i := 0; i < len(tokens); i++ {
		cueLen := 0
		for _, cue := range negationCues {
			cueTokens := strings.Fields(cue)
			if matchesAt(tokens, i, cueTokens) {
				cueLen = len(cueTokens)
				break
			}
		}
		if cueLen == 0 {
			continue
		}
		from := i + cueLen
		to := from + negationWindow
		if to > len(tokens) {
			to = len(tokens)
		}
		scopeTokens := tokens[i:to]
		spans = append(spans, negationSpan{
			scope: joinTokens(scopeTokens),
			from:  from,
			to:    to,
		})
		i += cueLen - 1
	}
	return spans
}

func matchesAt(tokens []token, i int, cue []string) bool {
	if i+len(cue) > len(tokens) {
		return false
	}
	for j, c := range cue {
		if tokens[i+j].text != c {
			return false
		}
	}
	return true
}

func inNegation(spans []negationSpan, tokenIdx int) (string, bool) {
	for _, s := range spans {
		if tokenIdx >= s.from && tokenIdx < s.to {
			return s.scope, true
		}
	}
	return "", false
}
