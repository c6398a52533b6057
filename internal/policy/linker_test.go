package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *GraphSchema {
	return &GraphSchema{
		Nodes: []NodeType{
			{Label: "ProductCategory", Properties: []PropertyDef{
				{Name: "name", Type: "string", Required: true},
				{Name: "source_citation", Type: "string", Required: true},
			}, Constraints: []string{"UNIQUE(name)"}},
			{Label: "ReturnWindow", Properties: []PropertyDef{
				{Name: "name", Type: "string", Required: true},
				{Name: "days", Type: "int"},
				{Name: "source_citation", Type: "string", Required: true},
			}, Constraints: []string{"UNIQUE(name)"}},
		},
		Relationships: []RelationshipType{
			{Type: "HAS_RETURN_WINDOW", FromLabel: "ProductCategory", ToLabel: "ReturnWindow"},
		},
	}
}

func TestLinkDedupesAndCoerces(t *testing.T) {
	ix := NewSourceIndex(sampleMarkdown(), nil)
	ex := &Extraction{
		Entities: []Entity{
			{Label: "ProductCategory", Properties: map[string]interface{}{"name": "Most products"},
				TextExcerpt: "Most products may be returned within 15 days."},
			{Label: "ProductCategory", Properties: map[string]interface{}{"name": "most products"},
				TextExcerpt: "Most products may be returned"},
			{Label: "ReturnWindow", Properties: map[string]interface{}{"name": "15-day window", "days": "15 days"},
				TextExcerpt: "within 15 days"},
		},
		Relationships: []Relationship{
			{FromLabel: "ProductCategory", FromName: "Most products", Type: "HAS_RETURN_WINDOW",
				ToLabel: "ReturnWindow", ToName: "15-day window"},
		},
	}

	res := Link(ex, testSchema(), ix)

	require.Len(t, res.Entities, 2, "case-insensitive duplicate must collapse")
	assert.Equal(t, 15, res.Entities[1].Properties["days"], `"15 days" must coerce to int 15`)
	assert.Equal(t, "return_policy.pdf:page1:line3", res.Entities[0].Citation)
	require.Len(t, res.Relationships, 1)
}

func TestLinkFuzzyResolvesEndpoints(t *testing.T) {
	ix := NewSourceIndex(sampleMarkdown(), nil)
	ex := &Extraction{
		Entities: []Entity{
			{Label: "ProductCategory", Properties: map[string]interface{}{"name": "Most products"},
				TextExcerpt: "Most products"},
			{Label: "ReturnWindow", Properties: map[string]interface{}{"name": "15-day return window"},
				TextExcerpt: "within 15 days"},
		},
		Relationships: []Relationship{
			// Close but not exact: fuzzy match must rewrite it.
			{FromLabel: "ProductCategory", FromName: "Most products", Type: "HAS_RETURN_WINDOW",
				ToLabel: "ReturnWindow", ToName: "15-day return windows"},
			// Nowhere close: dropped with a warning.
			{FromLabel: "ProductCategory", FromName: "Most products", Type: "HAS_RETURN_WINDOW",
				ToLabel: "ReturnWindow", ToName: "something unrelated"},
		},
	}

	res := Link(ex, testSchema(), ix)

	require.Len(t, res.Relationships, 1)
	assert.Equal(t, "15-day return window", res.Relationships[0].ToName)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "orphaned relationship")
}

func TestSimilarityRatio(t *testing.T) {
	assert.Equal(t, 1.0, similarity("abc", "abc"))
	assert.Greater(t, similarity("restocking fee", "restocking fees"), 0.9)
	assert.Less(t, similarity("restocking fee", "holiday window"), 0.4)
}

func TestEmitCypherQuotingAndShape(t *testing.T) {
	entities := []Entity{{
		Label:      "Fee",
		Properties: map[string]interface{}{"name": `15% "restocking" fee`, "percent": 15.0, "waivable": true},
		Citation:   "return_policy.pdf:page2:line3",
	}}
	rels := []Relationship{{
		FromLabel: "ProductCategory", FromName: "Drones", Type: "SUBJECT_TO_FEE",
		ToLabel: "Fee", ToName: `15% "restocking" fee`,
	}}

	stmts := emitCypher(entities, rels)
	require.Len(t, stmts, 2)

	assert.Equal(t,
		`MERGE (n:Fee {name: "15% \"restocking\" fee", percent: 15, waivable: true, source_citation: "return_policy.pdf:page2:line3"})`,
		stmts[0])
	assert.Equal(t,
		`MATCH (a:ProductCategory {name: "Drones"}), (b:Fee {name: "15% \"restocking\" fee"}) MERGE (a)-[:SUBJECT_TO_FEE]->(b)`,
		stmts[1])
}
