// Package dbtools implements the orders-database verification tools the
// agent loop calls, including the guarded LLM-generated lookup.
package dbtools

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMaxLimit caps the shortlist size any generated query may request.
const DefaultMaxLimit = 200

var allowedTables = map[string]bool{
	"customers":    true,
	"orders":       true,
	"order_items":  true,
	"refund_cases": true,
}

var forbiddenSubstrings = []string{
	";", "--", "/*", "*/",
	"pg_catalog", "information_schema",
}

var forbiddenKeywords = regexp.MustCompile(
	`(?i)\b(insert|update|delete|drop|alter|create|grant|revoke|truncate|copy|call|merge|lock|listen|notify|vacuum|do|execute|union|with)\b`)

// tableRefs pulls identifiers following FROM and JOIN.
var tableRefs = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-z_][a-z0-9_]*)`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeSQL lowercases and collapses whitespace so the structural checks
// cannot be dodged with creative formatting.
func normalizeSQL(query string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.ToLower(query), " "))
}

// ValidateGeneratedSQL enforces the safety policy on an LLM-generated
// lookup before it may execute:
//   - single SELECT statement ending in "limit %s"
//   - no comments, no statement separators, no DML/DDL, no UNION/WITH,
//     no catalog schemas
//   - only allow-listed tables
//   - placeholder count equals parameter count
//   - final parameter is an integer ≤ maxLimit
func ValidateGeneratedSQL(query string, params []interface{}, maxLimit int) error {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	norm := normalizeSQL(query)
	if norm == "" {
		return fmt.Errorf("empty query")
	}
	if !strings.HasPrefix(norm, "select ") {
		return fmt.Errorf("query must start with SELECT")
	}
	if !strings.HasSuffix(norm, " limit %s") {
		return fmt.Errorf("query must end with LIMIT %%s")
	}
	for _, sub := range forbiddenSubstrings {
		if strings.Contains(norm, sub) {
			return fmt.Errorf("query contains forbidden sequence %q", sub)
		}
	}
	if m := forbiddenKeywords.FindString(norm); m != "" {
		return fmt.Errorf("query contains forbidden keyword %q", m)
	}
	for _, match := range tableRefs.FindAllStringSubmatch(norm, -1) {
		if !allowedTables[match[1]] {
			return fmt.Errorf("table %q is not allow-listed", match[1])
		}
	}

	placeholders := strings.Count(norm, "%s")
	if placeholders != len(params) {
		return fmt.Errorf("placeholder count %d does not match %d params", placeholders, len(params))
	}
	if len(params) == 0 {
		return fmt.Errorf("query must carry at least the LIMIT parameter")
	}

	limit, ok := asInt(params[len(params)-1])
	if !ok {
		return fmt.Errorf("final parameter must be an integer LIMIT")
	}
	if limit < 1 || limit > maxLimit {
		return fmt.Errorf("LIMIT %d outside allowed range [1, %d]", limit, maxLimit)
	}
	return nil
}

// RewritePlaceholders converts the provider-neutral %s placeholders the
// generator emits into Postgres $1..$n positional parameters.
func RewritePlaceholders(query string) string {
	var sb strings.Builder
	n := 0
	for {
		i := strings.Index(query, "%s")
		if i < 0 {
			sb.WriteString(query)
			return sb.String()
		}
		n++
		sb.WriteString(query[:i])
		fmt.Fprintf(&sb, "$%d", n)
		query = query[i+2:]
	}
}

// DesiredLimit computes the deterministic shortlist size: exact identifiers
// want a single row; fuzzy searches get a small shortlist.
func DesiredLimit(hasStrongIdentifier bool, maxLimit int) int {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	if hasStrongIdentifier {
		return 1
	}
	if maxLimit < 5 {
		return maxLimit
	}
	return 5
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
