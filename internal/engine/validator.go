package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/covenantql/covenant/internal/storage"
	"github.com/covenantql/covenant/pkg/types"
)

// ValidationResult is the outcome of validating one plan.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ParsedSQL is the structured form of a validated SQL plan, consumed by
// the executor instead of the raw statement text.
type ParsedSQL struct {
	Collection string
	Projection []string // empty means *
	IsCount    bool
	Filter     storage.Filter
}

// QueryValidator checks SQL and SPARQL plans against the schema and the
// ontology before execution. LLM output is untrusted: anything outside the
// closed grammar is rejected, never repaired.
type QueryValidator struct{}

// NewQueryValidator returns a validator bound to the current schema and
// ontology versions.
func NewQueryValidator() *QueryValidator {
	return &QueryValidator{}
}

// Validate checks a plan's query against the grammar for its type. Plans
// below the confidence floor are rejected regardless of syntax.
func (v *QueryValidator) Validate(plan *types.StrategyPlan) ValidationResult {
	var errs []string
	if plan.Confidence < 0.5 {
		errs = append(errs, fmt.Sprintf("confidence %.2f below execution floor 0.5", plan.Confidence))
	}
	switch plan.Query.Type {
	case types.QueryTypeSQL:
		if _, err := v.ParseSQLQuery(plan.Query.Text, plan.Query.Params); err != nil {
			errs = append(errs, err.Error())
		}
	case types.QueryTypeSPARQL:
		errs = append(errs, v.validateSPARQL(plan.Query.Text)...)
	case types.QueryTypeEntityLookup:
		errs = append(errs, v.validateLookupSteps(plan.Query.Steps)...)
	default:
		errs = append(errs, fmt.Sprintf("unknown query type %q", plan.Query.Type))
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func (v *QueryValidator) validateLookupSteps(steps []types.QueryStep) []string {
	var errs []string
	if len(steps) == 0 {
		errs = append(errs, "lookup plan has no steps")
	}
	for i, s := range steps {
		if !KnownCollection(s.Collection) {
			errs = append(errs, fmt.Sprintf("step %d references unknown collection %q", i+1, s.Collection))
		}
	}
	return errs
}

// sqlToken kinds.
const (
	tokWord = iota
	tokSymbol
	tokParam
)

type sqlToken struct {
	kind int
	text string
}

var sqlForbidden = regexp.MustCompile(`--|/\*|;`)

// tokenizeSQL splits a statement into words, symbols and ? placeholders.
// Quoted literals are rejected up front: every value must arrive through
// the params list.
func tokenizeSQL(text string) ([]sqlToken, error) {
	if sqlForbidden.MatchString(text) {
		return nil, fmt.Errorf("sql: statement separators and comments are not allowed")
	}
	if strings.ContainsAny(text, `'"`) {
		return nil, fmt.Errorf("sql: quoted literals are not allowed; use parameterized values")
	}
	var toks []sqlToken
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '?':
			toks = append(toks, sqlToken{tokParam, "?"})
			i++
		case c == '$':
			j := i + 1
			for j < len(text) && text[j] >= '0' && text[j] <= '9' {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("sql: bare $ is not a valid placeholder")
			}
			toks = append(toks, sqlToken{tokParam, text[i+1 : j]})
			i = j
		case c == '(' || c == ')' || c == ',' || c == '*':
			toks = append(toks, sqlToken{tokSymbol, string(c)})
			i++
		case c == '=':
			toks = append(toks, sqlToken{tokSymbol, "="})
			i++
		case c == '!' && i+1 < len(text) && text[i+1] == '=':
			toks = append(toks, sqlToken{tokSymbol, "!="})
			i += 2
		case c == '<' && i+1 < len(text) && text[i+1] == '>':
			toks = append(toks, sqlToken{tokSymbol, "!="})
			i += 2
		case isWordByte(c):
			j := i
			for j < len(text) && isWordByte(text[j]) {
				j++
			}
			toks = append(toks, sqlToken{tokWord, text[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("sql: unexpected character %q", string(c))
		}
	}
	return toks, nil
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// sqlParser walks the token stream. The accepted grammar is deliberately
// tiny: a single SELECT over one known collection with AND-combined
// clauses, where OR appears only inside a parenthesized group of
// equalities on one field (folded into IN).
type sqlParser struct {
	toks   []sqlToken
	pos    int
	params []string
	next   int    // next sequential index for ? placeholders
	used   []bool // params consumed so far, by index
}

func (p *sqlParser) peek() (sqlToken, bool) {
	if p.pos >= len(p.toks) {
		return sqlToken{}, false
	}
	return p.toks[p.pos], true
}

func (p *sqlParser) take() (sqlToken, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *sqlParser) expectWord(word string) error {
	t, ok := p.take()
	if !ok || t.kind != tokWord || !strings.EqualFold(t.text, word) {
		return fmt.Errorf("sql: expected %s", strings.ToUpper(word))
	}
	return nil
}

func (p *sqlParser) expectSymbol(sym string) error {
	t, ok := p.take()
	if !ok || t.kind != tokSymbol || t.text != sym {
		return fmt.Errorf("sql: expected %q", sym)
	}
	return nil
}

// takeParam consumes one placeholder token and binds it to its value.
// Both ? (sequential) and $n (1-based positional) styles are accepted;
// every param must be bound exactly once.
func (p *sqlParser) takeParam() (string, error) {
	t, ok := p.take()
	if !ok || t.kind != tokParam {
		return "", fmt.Errorf("sql: expected parameter placeholder")
	}
	idx := p.next
	if t.text != "?" {
		n := 0
		for _, c := range t.text {
			n = n*10 + int(c-'0')
		}
		idx = n - 1
	} else {
		p.next++
	}
	if idx < 0 || idx >= len(p.params) {
		return "", fmt.Errorf("sql: placeholder index %d out of range for %d params", idx+1, len(p.params))
	}
	if p.used[idx] {
		return "", fmt.Errorf("sql: param %d bound more than once", idx+1)
	}
	p.used[idx] = true
	return p.params[idx], nil
}

// ParseSQLQuery validates a SQL plan and extracts the composite filter the
// storage layer executes. Returns an error describing the first violation.
func (v *QueryValidator) ParseSQLQuery(text string, params []string) (*ParsedSQL, error) {
	toks, err := tokenizeSQL(text)
	if err != nil {
		return nil, err
	}
	p := &sqlParser{toks: toks, params: params, used: make([]bool, len(params))}

	if err := p.expectWord("SELECT"); err != nil {
		return nil, fmt.Errorf("sql: statement must be a single SELECT")
	}
	out := &ParsedSQL{}
	if err := p.parseProjection(out); err != nil {
		return nil, err
	}
	if err := p.expectWord("FROM"); err != nil {
		return nil, err
	}
	coll, ok := p.take()
	if !ok || coll.kind != tokWord {
		return nil, fmt.Errorf("sql: expected collection name after FROM")
	}
	if coll.text != CollectionContracts {
		return nil, fmt.Errorf("sql: unknown collection %q", coll.text)
	}
	out.Collection = coll.text

	if t, more := p.peek(); more {
		if t.kind != tokWord || !strings.EqualFold(t.text, "WHERE") {
			return nil, fmt.Errorf("sql: unexpected token %q after collection", t.text)
		}
		p.take()
		if err := p.parseConjunction(out); err != nil {
			return nil, err
		}
	}
	if t, more := p.peek(); more {
		return nil, fmt.Errorf("sql: unexpected trailing token %q", t.text)
	}
	for i, bound := range p.used {
		if !bound {
			return nil, fmt.Errorf("sql: param %d supplied but never used", i+1)
		}
	}
	return out, nil
}

func (p *sqlParser) parseProjection(out *ParsedSQL) error {
	t, ok := p.peek()
	if !ok {
		return fmt.Errorf("sql: missing projection")
	}
	if t.kind == tokSymbol && t.text == "*" {
		p.take()
		return nil
	}
	if t.kind == tokWord && strings.EqualFold(t.text, "COUNT") {
		p.take()
		if err := p.expectSymbol("("); err != nil {
			return err
		}
		if err := p.expectSymbol("*"); err != nil {
			return err
		}
		if err := p.expectSymbol(")"); err != nil {
			return err
		}
		out.IsCount = true
		return nil
	}
	for {
		t, ok := p.take()
		if !ok || t.kind != tokWord {
			return fmt.Errorf("sql: expected field name in projection")
		}
		field := strings.ToLower(t.text)
		if !selectableFields[field] {
			return fmt.Errorf("sql: unknown field %q in projection", t.text)
		}
		out.Projection = append(out.Projection, field)
		if n, more := p.peek(); more && n.kind == tokSymbol && n.text == "," {
			p.take()
			continue
		}
		return nil
	}
}

func (p *sqlParser) parseConjunction(out *ParsedSQL) error {
	for {
		if err := p.parseClause(out); err != nil {
			return err
		}
		t, more := p.peek()
		if !more {
			return nil
		}
		if t.kind == tokWord && strings.EqualFold(t.text, "AND") {
			p.take()
			continue
		}
		if t.kind == tokWord && strings.EqualFold(t.text, "OR") {
			return fmt.Errorf("sql: OR is only allowed inside a parenthesized group of equalities on one field")
		}
		return nil
	}
}

func (p *sqlParser) parseClause(out *ParsedSQL) error {
	t, ok := p.peek()
	if !ok {
		return fmt.Errorf("sql: expected filter clause")
	}
	if t.kind == tokSymbol && t.text == "(" {
		p.take()
		return p.parseORGroup(out)
	}
	return p.parseSimpleClause(out)
}

func (p *sqlParser) parseFilterField() (string, error) {
	t, ok := p.take()
	if !ok || t.kind != tokWord {
		return "", fmt.Errorf("sql: expected field name")
	}
	field := strings.ToLower(t.text)
	if _, ok := contractFields[field]; !ok {
		return "", fmt.Errorf("sql: field %q is not filterable", t.text)
	}
	return field, nil
}

func (p *sqlParser) parseSimpleClause(out *ParsedSQL) error {
	field, err := p.parseFilterField()
	if err != nil {
		return err
	}
	t, ok := p.take()
	if !ok {
		return fmt.Errorf("sql: expected operator after %q", field)
	}
	switch {
	case t.kind == tokSymbol && (t.text == "=" || t.text == "!="):
		val, err := p.takeParam()
		if err != nil {
			return err
		}
		op := storage.OpEq
		if t.text == "!=" {
			op = storage.OpNe
		}
		out.Filter = append(out.Filter, storage.FilterClause{Field: field, Op: op, Value: val})
		return nil
	case t.kind == tokWord && strings.EqualFold(t.text, "IN"):
		return p.parseInList(out, field, storage.OpIn)
	case t.kind == tokWord && strings.EqualFold(t.text, "NOT"):
		if err := p.expectWord("IN"); err != nil {
			return err
		}
		return p.parseInList(out, field, storage.OpNotIn)
	}
	return fmt.Errorf("sql: operator %q is not allowed", t.text)
}

func (p *sqlParser) parseInList(out *ParsedSQL, field string, op storage.FilterOp) error {
	if err := p.expectSymbol("("); err != nil {
		return err
	}
	var values []string
	for {
		val, err := p.takeParam()
		if err != nil {
			return err
		}
		values = append(values, val)
		t, ok := p.take()
		if !ok {
			return fmt.Errorf("sql: unterminated IN list")
		}
		if t.kind == tokSymbol && t.text == "," {
			continue
		}
		if t.kind == tokSymbol && t.text == ")" {
			break
		}
		return fmt.Errorf("sql: unexpected token %q in IN list", t.text)
	}
	out.Filter = append(out.Filter, storage.FilterClause{Field: field, Op: op, Values: values})
	return nil
}

// parseORGroup accepts (field = ? OR field = ? ...) with a single field
// throughout and folds it into one IN clause.
func (p *sqlParser) parseORGroup(out *ParsedSQL) error {
	var field string
	var values []string
	for {
		f, err := p.parseFilterField()
		if err != nil {
			return err
		}
		if field == "" {
			field = f
		} else if f != field {
			return fmt.Errorf("sql: OR group mixes fields %q and %q", field, f)
		}
		if err := p.expectSymbol("="); err != nil {
			return fmt.Errorf("sql: OR group allows only equality comparisons")
		}
		val, err := p.takeParam()
		if err != nil {
			return err
		}
		values = append(values, val)
		t, ok := p.take()
		if !ok {
			return fmt.Errorf("sql: unterminated OR group")
		}
		if t.kind == tokWord && strings.EqualFold(t.text, "OR") {
			continue
		}
		if t.kind == tokSymbol && t.text == ")" {
			break
		}
		return fmt.Errorf("sql: unexpected token %q in OR group", t.text)
	}
	if len(values) < 2 {
		return fmt.Errorf("sql: OR group needs at least two values")
	}
	out.Filter = append(out.Filter, storage.FilterClause{Field: field, Op: storage.OpIn, Values: values})
	return nil
}

var (
	sparqlPrefixPattern = regexp.MustCompile(`(?i)PREFIX\s+cov:\s*<([^>]+)>`)
	sparqlSelectPattern = regexp.MustCompile(`(?i)SELECT\s+((?:\?\w+\s*)+)WHERE`)
	sparqlVarPattern    = regexp.MustCompile(`\?\w+`)
	sparqlTriplePattern = regexp.MustCompile(`(\?\w+|cov:\w+|"[^"]*")\s+(a|rdf:type|cov:\w+|\?\w+)\s+(\?\w+|cov:\w+|"[^"]*")\s*\.`)
)

// validateSPARQL enforces the ontology contract: cov: prefix declared
// against the known namespace, whitelisted predicates only, and every
// SELECT variable bound somewhere in the WHERE block.
func (v *QueryValidator) validateSPARQL(text string) []string {
	var errs []string

	m := sparqlPrefixPattern.FindStringSubmatch(text)
	if m == nil {
		errs = append(errs, "sparql: missing PREFIX cov: declaration")
	} else if m[1] != OntologyPrefix {
		errs = append(errs, fmt.Sprintf("sparql: cov: prefix bound to unknown namespace %q", m[1]))
	}

	sel := sparqlSelectPattern.FindStringSubmatch(text)
	if sel == nil {
		errs = append(errs, "sparql: expected SELECT ?var ... WHERE")
		return errs
	}
	selectVars := sparqlVarPattern.FindAllString(sel[1], -1)
	if len(selectVars) == 0 {
		errs = append(errs, "sparql: SELECT clause names no variables")
	}

	whereStart := strings.Index(text, "{")
	whereEnd := strings.LastIndex(text, "}")
	if whereStart < 0 || whereEnd <= whereStart {
		errs = append(errs, "sparql: missing WHERE block")
		return errs
	}
	where := text[whereStart+1 : whereEnd]

	triples := sparqlTriplePattern.FindAllStringSubmatch(where, -1)
	if len(triples) == 0 {
		errs = append(errs, "sparql: WHERE block contains no triple patterns")
	}
	// The WHERE block must consist of whitelisted triples and nothing
	// else. Residue after stripping them means a construct outside the
	// grammar (SERVICE, FILTER, MINUS, subqueries) and fails the query.
	if residue := strings.TrimSpace(sparqlTriplePattern.ReplaceAllString(where, "")); residue != "" {
		errs = append(errs, fmt.Sprintf("sparql: unrecognized construct in WHERE block: %q", firstLine(residue)))
	}
	bound := make(map[string]bool)
	for _, t := range triples {
		pred := t[2]
		if strings.HasPrefix(pred, "?") {
			errs = append(errs, fmt.Sprintf("sparql: variable predicate %s is not allowed", pred))
		} else if !ontologyPredicates[pred] {
			errs = append(errs, fmt.Sprintf("sparql: predicate %s is not in the ontology", pred))
		}
		for _, term := range []string{t[1], t[3]} {
			if strings.HasPrefix(term, "?") {
				bound[term] = true
			}
		}
	}
	for _, sv := range selectVars {
		if !bound[sv] {
			errs = append(errs, fmt.Sprintf("sparql: SELECT variable %s is unbound in WHERE", sv))
		}
	}
	return errs
}
