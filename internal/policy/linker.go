package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

// LinkResult is the linker's output: resolved entities, surviving
// relationships, the emitted Cypher, and the warnings collected on the way.
type LinkResult struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Cypher        []string       `json:"cypher_statements"`
	Warnings      []string       `json:"warnings"`
}

const fuzzyThreshold = 0.8

// Link post-processes a raw extraction: dedupe, coerce property types to
// the schema, resolve dangling relationship endpoints, assign citations,
// and emit Cypher.
func Link(ex *Extraction, schema *GraphSchema, sources *SourceIndex) *LinkResult {
	res := &LinkResult{}

	// Dedupe by (label, name), case-insensitive. First occurrence wins;
	// later duplicates merge any properties the first was missing.
	seen := map[string]int{}
	for _, ent := range ex.Entities {
		if ent.Name() == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("entity with label %s has no name, dropped", ent.Label))
			continue
		}
		key := strings.ToLower(ent.Label) + "\x00" + strings.ToLower(ent.Name())
		if i, ok := seen[key]; ok {
			for k, v := range ent.Properties {
				if _, exists := res.Entities[i].Properties[k]; !exists {
					res.Entities[i].Properties[k] = v
				}
			}
			continue
		}
		seen[key] = len(res.Entities)
		res.Entities = append(res.Entities, ent)
	}

	// Coerce property values to the schema-declared types and pin the
	// citation for each entity.
	for i := range res.Entities {
		ent := &res.Entities[i]
		for k, v := range ent.Properties {
			ent.Properties[k] = coerce(v, schema.PropertyType(ent.Label, k))
		}
		ent.Citation = sources.LocateExcerpt(ent.TextExcerpt)
	}

	// Index names per label for endpoint resolution.
	byLabel := map[string][]string{}
	for _, ent := range res.Entities {
		l := strings.ToLower(ent.Label)
		byLabel[l] = append(byLabel[l], ent.Name())
	}

	for _, rel := range ex.Relationships {
		from, okFrom := resolveName(rel.FromName, byLabel[strings.ToLower(rel.FromLabel)])
		to, okTo := resolveName(rel.ToName, byLabel[strings.ToLower(rel.ToLabel)])
		if !okFrom || !okTo {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"orphaned relationship (%s)-[%s]->(%s): endpoint not found", rel.FromName, rel.Type, rel.ToName))
			continue
		}
		if from != rel.FromName || to != rel.ToName {
			logger.Debug("fuzzy-resolved relationship endpoint",
				"from", rel.FromName, "resolved_from", from, "to", rel.ToName, "resolved_to", to)
		}
		rel.FromName, rel.ToName = from, to
		res.Relationships = append(res.Relationships, rel)
	}

	res.Cypher = emitCypher(res.Entities, res.Relationships)
	return res
}

// resolveName matches a relationship endpoint against the known entity
// names for its label: exact (case-insensitive) first, then best fuzzy
// match at ratio >= 0.8.
func resolveName(name string, known []string) (string, bool) {
	for _, k := range known {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	best, bestRatio := "", 0.0
	for _, k := range known {
		if r := similarity(strings.ToLower(name), strings.ToLower(k)); r > bestRatio {
			best, bestRatio = k, r
		}
	}
	if bestRatio >= fuzzyThreshold {
		return best, true
	}
	return "", false
}

// similarity is a Levenshtein ratio in [0, 1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(prev[lb])/float64(maxLen)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

var leadingNumberRe = regexp.MustCompile(`-?\d+(\.\d+)?`)

// coerce converts a property value to its schema-declared type. Values that
// cannot be converted pass through unchanged; the critic flags them later.
func coerce(v interface{}, typ string) interface{} {
	switch typ {
	case "int":
		switch x := v.(type) {
		case float64:
			return int(x)
		case int:
			return x
		case string:
			if m := leadingNumberRe.FindString(x); m != "" {
				if n, err := strconv.Atoi(strings.SplitN(m, ".", 2)[0]); err == nil {
					return n
				}
			}
		}
	case "float":
		switch x := v.(type) {
		case float64:
			return x
		case int:
			return float64(x)
		case string:
			if m := leadingNumberRe.FindString(x); m != "" {
				if f, err := strconv.ParseFloat(m, 64); err == nil {
					return f
				}
			}
		}
	case "bool":
		switch x := v.(type) {
		case bool:
			return x
		case string:
			if b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(x))); err == nil {
				return b
			}
		}
	}
	return v
}

// emitCypher renders one MERGE per entity and one MATCH/MERGE per
// relationship.
func emitCypher(entities []Entity, rels []Relationship) []string {
	var out []string
	for _, ent := range entities {
		out = append(out, mergeNode(ent))
	}
	for _, rel := range rels {
		out = append(out, fmt.Sprintf(
			`MATCH (a:%s {name: %s}), (b:%s {name: %s}) MERGE (a)-[:%s]->(b)`,
			rel.FromLabel, quote(rel.FromName), rel.ToLabel, quote(rel.ToName), rel.Type))
	}
	return out
}

func mergeNode(ent Entity) string {
	keys := make([]string, 0, len(ent.Properties))
	for k := range ent.Properties {
		if k == "source_citation" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var props []string
	for _, k := range keys {
		props = append(props, fmt.Sprintf("%s: %s", k, cypherValue(ent.Properties[k])))
	}
	props = append(props, fmt.Sprintf("source_citation: %s", quote(ent.Citation)))
	return fmt.Sprintf("MERGE (n:%s {%s})", ent.Label, strings.Join(props, ", "))
}

func cypherValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return quote(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return quote(fmt.Sprint(x))
	}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
