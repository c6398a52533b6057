package adjudicator

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// GraphReader is the slice of the graph store the adjudicator uses.
type GraphReader interface {
	ExecuteRead(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error)
}

// node is one graph node flattened out of a traversal row.
type node struct {
	Labels []string
	Props  map[string]interface{}
}

func (n node) Name() string     { return str(n.Props["name"]) }
func (n node) Citation() string { return str(n.Props["source_citation"]) }

// ReturnWindow is one HAS_RETURN_WINDOW hop, enriched with the membership
// tiers it applies to.
type ReturnWindow struct {
	Name  string                 `json:"name"`
	Props map[string]interface{} `json:"props,omitempty"`
	Tiers []string               `json:"tiers,omitempty"`
}

// Fee is one SUBJECT_TO_FEE hop, enriched with waivers and regional
// exemptions.
type Fee struct {
	Name     string                 `json:"name"`
	Props    map[string]interface{} `json:"props,omitempty"`
	WaivedIf []string               `json:"waived_if,omitempty"`
	ExemptIn []string               `json:"exempt_in,omitempty"`
}

// Restriction is one HAS_RESTRICTION hop with its triggering conditions.
type Restriction struct {
	Name     string                 `json:"name"`
	Props    map[string]interface{} `json:"props,omitempty"`
	Triggers []string               `json:"triggered_by,omitempty"`
}

// Profile is the per-category policy summary handed to the decision model.
type Profile struct {
	Category           string         `json:"category"`
	Windows            []ReturnWindow `json:"windows"`
	Fees               []Fee          `json:"fees"`
	Restrictions       []Restriction  `json:"restrictions"`
	RequiredConditions []string       `json:"required_conditions"`
	ExcludedMethods    []string       `json:"excluded_methods"`
	Citations          []string       `json:"citations"`
}

const traversalCypher = `
MATCH (pc:ProductCategory {name: $category})
OPTIONAL MATCH (pc)-[r1]->(h1)
OPTIONAL MATCH (h1)-[r2]->(h2)
OPTIONAL MATCH (h2)-[r3]->(h3)
RETURN type(r1) AS rel1, labels(h1) AS labels1, properties(h1) AS props1,
       type(r2) AS rel2, labels(h2) AS labels2, properties(h2) AS props2,
       type(r3) AS rel3, labels(h3) AS labels3, properties(h3) AS props3`

const categoriesCypher = `MATCH (pc:ProductCategory) RETURN pc.name AS name ORDER BY name`

// LoadProfile runs the 3-hop traversal for a category and groups the hops
// into the decision profile.
func LoadProfile(ctx context.Context, g GraphReader, category string) (*Profile, error) {
	rows, err := g.ExecuteRead(ctx, traversalCypher, map[string]interface{}{"category": category})
	if err != nil {
		return nil, fmt.Errorf("traverse policy graph for %q: %w", category, err)
	}

	p := &Profile{Category: category}
	windows := map[string]*ReturnWindow{}
	fees := map[string]*Fee{}
	restrictions := map[string]*Restriction{}
	required := map[string]bool{}
	excluded := map[string]bool{}
	citations := map[string]bool{}

	for _, row := range rows {
		rel1 := str(row["rel1"])
		h1, ok1 := nodeFrom(row, 1)
		if !ok1 {
			continue
		}
		if c := h1.Citation(); c != "" {
			citations[c] = true
		}

		switch rel1 {
		case "HAS_RETURN_WINDOW":
			w := windows[h1.Name()]
			if w == nil {
				w = &ReturnWindow{Name: h1.Name(), Props: h1.Props}
				windows[h1.Name()] = w
			}
			if rel2, h2, ok := hop2(row); ok {
				noteCitation(citations, h2)
				if rel2 == "APPLIES_TO_MEMBERSHIP" {
					w.Tiers = appendUnique(w.Tiers, h2.Name())
				}
			}
		case "SUBJECT_TO_FEE":
			f := fees[h1.Name()]
			if f == nil {
				f = &Fee{Name: h1.Name(), Props: h1.Props}
				fees[h1.Name()] = f
			}
			if rel2, h2, ok := hop2(row); ok {
				noteCitation(citations, h2)
				switch rel2 {
				case "WAIVED_IF":
					f.WaivedIf = appendUnique(f.WaivedIf, h2.Name())
				case "EXEMPT_IN_REGION":
					f.ExemptIn = appendUnique(f.ExemptIn, h2.Name())
				}
			}
		case "HAS_RESTRICTION":
			r := restrictions[h1.Name()]
			if r == nil {
				r = &Restriction{Name: h1.Name(), Props: h1.Props}
				restrictions[h1.Name()] = r
			}
			if rel2, h2, ok := hop2(row); ok {
				noteCitation(citations, h2)
				if rel2 == "TRIGGERED_BY_CONDITION" {
					r.Triggers = appendUnique(r.Triggers, h2.Name())
				}
			}
		case "REQUIRES_CONDITION":
			required[h1.Name()] = true
		case "EXCLUDES_METHOD":
			excluded[h1.Name()] = true
		}

		if h3, ok := nodeFrom(row, 3); ok {
			noteCitation(citations, h3)
		}
	}

	for _, w := range windows {
		p.Windows = append(p.Windows, *w)
	}
	for _, f := range fees {
		p.Fees = append(p.Fees, *f)
	}
	for _, r := range restrictions {
		p.Restrictions = append(p.Restrictions, *r)
	}
	p.RequiredConditions = sortedKeys(required)
	p.ExcludedMethods = sortedKeys(excluded)
	p.Citations = sortedKeys(citations)
	sort.Slice(p.Windows, func(i, j int) bool { return p.Windows[i].Name < p.Windows[j].Name })
	sort.Slice(p.Fees, func(i, j int) bool { return p.Fees[i].Name < p.Fees[j].Name })
	sort.Slice(p.Restrictions, func(i, j int) bool { return p.Restrictions[i].Name < p.Restrictions[j].Name })
	return p, nil
}

// Format renders the profile as the plain-text block embedded in the
// decision prompt.
func (p *Profile) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Category: %s\n", p.Category)

	sb.WriteString("Return windows:\n")
	if len(p.Windows) == 0 {
		sb.WriteString("  (none found)\n")
	}
	for _, w := range p.Windows {
		fmt.Fprintf(&sb, "  - %s%s", w.Name, propSummary(w.Props))
		if len(w.Tiers) > 0 {
			fmt.Fprintf(&sb, " [applies to: %s]", strings.Join(w.Tiers, ", "))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Fees:\n")
	if len(p.Fees) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, f := range p.Fees {
		fmt.Fprintf(&sb, "  - %s%s", f.Name, propSummary(f.Props))
		if len(f.WaivedIf) > 0 {
			fmt.Fprintf(&sb, " [waived if: %s]", strings.Join(f.WaivedIf, "; "))
		}
		if len(f.ExemptIn) > 0 {
			fmt.Fprintf(&sb, " [exempt in: %s]", strings.Join(f.ExemptIn, "; "))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Restrictions:\n")
	if len(p.Restrictions) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, r := range p.Restrictions {
		fmt.Fprintf(&sb, "  - %s%s", r.Name, propSummary(r.Props))
		if len(r.Triggers) > 0 {
			fmt.Fprintf(&sb, " [triggered by: %s]", strings.Join(r.Triggers, "; "))
		}
		sb.WriteString("\n")
	}

	if len(p.RequiredConditions) > 0 {
		fmt.Fprintf(&sb, "Required conditions: %s\n", strings.Join(p.RequiredConditions, "; "))
	}
	if len(p.ExcludedMethods) > 0 {
		fmt.Fprintf(&sb, "Excluded return methods: %s\n", strings.Join(p.ExcludedMethods, "; "))
	}
	return sb.String()
}

func nodeFrom(row map[string]interface{}, hop int) (node, bool) {
	props, ok := row[fmt.Sprintf("props%d", hop)].(map[string]interface{})
	if !ok || props == nil {
		return node{}, false
	}
	n := node{Props: props}
	if ls, ok := row[fmt.Sprintf("labels%d", hop)].([]interface{}); ok {
		for _, l := range ls {
			n.Labels = append(n.Labels, str(l))
		}
	}
	return n, true
}

func hop2(row map[string]interface{}) (string, node, bool) {
	n, ok := nodeFrom(row, 2)
	if !ok {
		return "", node{}, false
	}
	return str(row["rel2"]), n, true
}

func noteCitation(set map[string]bool, n node) {
	if c := n.Citation(); c != "" {
		set[c] = true
	}
}

func propSummary(props map[string]interface{}) string {
	var parts []string
	for k, v := range props {
		if k == "name" || k == "source_citation" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	if len(parts) == 0 {
		return ""
	}
	sort.Strings(parts)
	return " (" + strings.Join(parts, ", ") + ")"
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
