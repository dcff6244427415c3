// Package query implements the read path: translation of declarative twin
// queries into cypher, continuation-token pagination, row materialization and
// per-page charge accounting.
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	exception "github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
)

const translatorModule = "QueryTranslator"

// Translation is the outcome of classifying and rewriting one query.
type Translation struct {
	// Cypher is the native query the graph store executes.
	Cypher string
	// Columns aligns result cells with names; RETURN aliases when present,
	// positional names otherwise.
	Columns []string
	// ReadWrite marks queries that cannot run on a read replica.
	ReadWrite bool
	// HasAggregates marks queries carrying aggregate or model-membership
	// functions, which take a charge surcharge.
	HasAggregates bool
}

var (
	selectRe   = regexp.MustCompile(`(?i)\bSELECT\b`)
	returnRe   = regexp.MustCompile(`(?i)\bRETURN\b`)
	mutatingRe = regexp.MustCompile(`(?i)\b(create|delete|detach|set|merge|remove)\b`)
	// A hop-count range inside a relationship pattern, e.g. [*], [r:REL*1..3].
	varLengthRe = regexp.MustCompile(`\[[^\]]*\*[^\]]*\]`)
	aggregateRe = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max|collect|is_of_model)\s*\(`)

	declarativeRe = regexp.MustCompile(
		`(?is)^\s*SELECT\s+(?:TOP\s*\(\s*(\d+)\s*\)\s+)?(\*|COUNT\s*\(\s*\))\s+FROM\s+(digitaltwins|relationships)(?:\s+(\w+))?(?:\s+WHERE\s+(.+?))?\s*$`)

	identifierRe = regexp.MustCompile(`[\$@]?\w[\w.$@]*`)
	quotedRe     = regexp.MustCompile(`'(?:[^'\\]|\\.)*'`)
	plainKeyRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

var whereKeywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IN": true, "IS": true, "NULL": true,
	"TRUE": true, "FALSE": true, "STARTSWITH": true, "ENDSWITH": true, "CONTAINS": true,
	"IS_OF_MODEL": true,
}

// IsDeclarative reports whether the query uses the SQL-like surface form. A
// graph-pattern RETURN clause marks a query as already native.
func IsDeclarative(query string) bool {
	return selectRe.MatchString(query) && !returnRe.MatchString(query)
}

// IsReadWrite reports whether a native query must run on the read-write pool.
// Variable-length relationship patterns cannot execute against a replica.
func IsReadWrite(cypher string) bool {
	return varLengthRe.MatchString(cypher)
}

// Translate classifies a caller query and produces the cypher to execute.
// Mutating keywords are rejected up front; this is a read path.
func Translate(query string) (*Translation, error) {
	if IsDeclarative(query) {
		return translateDeclarative(query)
	}

	if mutatingRe.MatchString(stripQuoted(query)) {
		return nil, exception.NewValidationError(translatorModule,
			fmt.Sprintf("query contains a mutating keyword and is not allowed on the read path: %s", query), nil)
	}
	return &Translation{
		Cypher:        query,
		Columns:       returnColumns(query),
		ReadWrite:     IsReadWrite(query),
		HasAggregates: aggregateRe.MatchString(query),
	}, nil
}

// stripQuoted blanks string literals so keyword scans cannot be fooled by
// property values.
func stripQuoted(query string) string {
	return quotedRe.ReplaceAllStringFunc(query, func(m string) string {
		return "''"
	})
}

func translateDeclarative(query string) (*Translation, error) {
	m := declarativeRe.FindStringSubmatch(query)
	if m == nil {
		return nil, exception.NewValidationError(translatorModule,
			fmt.Sprintf("unsupported declarative query: %s", query), nil)
	}
	top, projection, collection, alias, where := m[1], m[2], m[3], m[4], m[5]

	variable := alias
	if variable == "" {
		variable = "t"
	}

	var match string
	if collection == "relationships" {
		if alias == "" {
			variable = "r"
		}
		match = fmt.Sprintf("MATCH ()-[%s]->()", variable)
	} else {
		match = fmt.Sprintf("MATCH (%s:Twin)", variable)
	}

	var whereClause string
	if where != "" {
		translated, err := translateWhere(where, variable)
		if err != nil {
			return nil, err
		}
		whereClause = " WHERE " + translated
	}

	isCount := strings.HasPrefix(strings.ToUpper(strings.TrimSpace(projection)), "COUNT")
	var returnClause, column string
	if isCount {
		returnClause = fmt.Sprintf("RETURN count(%s)", variable)
		column = "c0"
	} else {
		returnClause = fmt.Sprintf("RETURN %s", variable)
		column = variable
	}

	cypher := match + whereClause + " " + returnClause
	if top != "" {
		n, _ := strconv.Atoi(top)
		cypher = fmt.Sprintf("%s LIMIT %d", cypher, n)
	}

	return &Translation{
		Cypher:        cypher,
		Columns:       []string{column},
		ReadWrite:     false,
		HasAggregates: isCount || aggregateRe.MatchString(query),
	}, nil
}

// translateWhere prefixes bare property references with the match variable.
// IS_OF_MODEL('<id>') becomes a model-metadata comparison on the twin.
func translateWhere(where, variable string) (string, error) {
	if mutatingRe.MatchString(stripQuoted(where)) {
		return "", exception.NewValidationError(translatorModule,
			fmt.Sprintf("WHERE clause contains a mutating keyword: %s", where), nil)
	}

	// Prefix bare identifiers, skipping string literals, keywords and
	// anything already variable-qualified.
	var out strings.Builder
	last := 0
	for _, loc := range quotedRe.FindAllStringIndex(where, -1) {
		out.WriteString(prefixIdentifiers(where[last:loc[0]], variable))
		out.WriteString(where[loc[0]:loc[1]])
		last = loc[1]
	}
	out.WriteString(prefixIdentifiers(where[last:], variable))

	isOfModelRe := regexp.MustCompile(`(?i)IS_OF_MODEL\s*\(\s*('(?:[^'\\]|\\.)*')\s*\)`)
	return isOfModelRe.ReplaceAllString(out.String(),
		fmt.Sprintf("%s.`$$metadata`.`$$model` = $1", variable)), nil
}

func prefixIdentifiers(segment, variable string) string {
	return identifierRe.ReplaceAllStringFunc(segment, func(tok string) string {
		upper := strings.ToUpper(tok)
		if whereKeywords[upper] || tok == variable {
			return tok
		}
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			return tok
		}
		if strings.HasPrefix(tok, variable+".") {
			return tok
		}
		return variable + "." + quotePropertyPath(tok)
	})
}

// quotePropertyPath backtick-escapes path components that are not plain
// identifiers, such as "$metadata".
func quotePropertyPath(path string) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		if !plainKeyRe.MatchString(p) {
			parts[i] = "`" + p + "`"
		}
	}
	return strings.Join(parts, ".")
}

// returnColumns derives result column names from a native query's RETURN
// clause: aliases when given, the bare expression when it is a variable,
// positional names otherwise.
func returnColumns(cypher string) []string {
	loc := returnRe.FindStringIndex(cypher)
	if loc == nil {
		return []string{"c0"}
	}
	clause := cypher[loc[1]:]

	// Trailing modifiers are not projections.
	tailRe := regexp.MustCompile(`(?i)\b(ORDER\s+BY|SKIP|LIMIT)\b`)
	if tail := tailRe.FindStringIndex(clause); tail != nil {
		clause = clause[:tail[0]]
	}

	items := splitTopLevel(clause)
	cols := make([]string, 0, len(items))
	aliasRe := regexp.MustCompile(`(?i)\s+AS\s+(\w+)\s*$`)
	varRe := regexp.MustCompile(`^\s*(\w+)\s*$`)
	for i, item := range items {
		if m := aliasRe.FindStringSubmatch(item); m != nil {
			cols = append(cols, m[1])
			continue
		}
		if m := varRe.FindStringSubmatch(item); m != nil {
			cols = append(cols, m[1])
			continue
		}
		cols = append(cols, fmt.Sprintf("c%d", i))
	}
	if len(cols) == 0 {
		cols = []string{"c0"}
	}
	return cols
}

// splitTopLevel splits a projection list on commas outside brackets, braces
// and string literals.
func splitTopLevel(clause string) []string {
	var items []string
	depth := 0
	inString := false
	start := 0
	for i := 0; i < len(clause); i++ {
		c := clause[i]
		switch {
		case inString:
			if c == '\\' {
				i++
			} else if c == '\'' {
				inString = false
			}
		case c == '\'':
			inString = true
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == ',' && depth == 0:
			items = append(items, clause[start:i])
			start = i + 1
		}
	}
	if s := strings.TrimSpace(clause[start:]); s != "" {
		items = append(items, clause[start:])
	}
	return items
}
