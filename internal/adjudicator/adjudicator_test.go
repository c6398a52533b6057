package adjudicator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
	"github.com/gagan0116/mcp-customer-support/internal/gemini"
	"github.com/gagan0116/mcp-customer-support/internal/policy"
)

type fakeGraph struct {
	rows map[string][]map[string]interface{}
}

func (f *fakeGraph) ExecuteRead(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
	if params == nil {
		return f.rows["categories"], nil
	}
	return f.rows["traversal"], nil
}

type fakeLLM struct {
	jsonReplies []func(out interface{})
	textReply   string
	textErr     error
	calls       int
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, req gemini.Request, out interface{}) error {
	fn := f.jsonReplies[f.calls]
	f.calls++
	fn(out)
	return nil
}

func (f *fakeLLM) GenerateText(ctx context.Context, req gemini.Request) (string, error) {
	return f.textReply, f.textErr
}

func hop1Row(rel, name, citation string, extra map[string]interface{}) map[string]interface{} {
	props := map[string]interface{}{"name": name, "source_citation": citation}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]interface{}{
		"rel1": rel, "labels1": []interface{}{"X"}, "props1": props,
	}
}

func withHop2(row map[string]interface{}, rel, name, citation string) map[string]interface{} {
	row["rel2"] = rel
	row["labels2"] = []interface{}{"Y"}
	row["props2"] = map[string]interface{}{"name": name, "source_citation": citation}
	return row
}

func TestLoadProfileGroupsHops(t *testing.T) {
	g := &fakeGraph{rows: map[string][]map[string]interface{}{
		"traversal": {
			withHop2(hop1Row("HAS_RETURN_WINDOW", "15-day window", "policy.pdf:page2:line4",
				map[string]interface{}{"days": int64(15)}),
				"APPLIES_TO_MEMBERSHIP", "Standard", "policy.pdf:page2:line6"),
			withHop2(hop1Row("SUBJECT_TO_FEE", "Restocking fee", "policy.pdf:page3:line1",
				map[string]interface{}{"percent": int64(15)}),
				"WAIVED_IF", "Damaged, defective, or incorrect", "policy.pdf:page3:line2"),
			withHop2(hop1Row("SUBJECT_TO_FEE", "Restocking fee", "policy.pdf:page3:line1", nil),
				"EXEMPT_IN_REGION", "Hawaii", "policy.pdf:page3:line5"),
			withHop2(hop1Row("HAS_RESTRICTION", "Final sale", "policy.pdf:page4:line1", nil),
				"TRIGGERED_BY_CONDITION", "Opened software", "policy.pdf:page4:line2"),
			hop1Row("REQUIRES_CONDITION", "Original packaging", "policy.pdf:page4:line9", nil),
			hop1Row("EXCLUDES_METHOD", "Mail-in", "policy.pdf:page5:line1", nil),
		},
	}}

	p, err := LoadProfile(context.Background(), g, "Laptops")
	require.NoError(t, err)

	require.Len(t, p.Windows, 1)
	assert.Equal(t, []string{"Standard"}, p.Windows[0].Tiers)

	require.Len(t, p.Fees, 1)
	assert.Equal(t, []string{"Damaged, defective, or incorrect"}, p.Fees[0].WaivedIf)
	assert.Equal(t, []string{"Hawaii"}, p.Fees[0].ExemptIn)

	require.Len(t, p.Restrictions, 1)
	assert.Equal(t, []string{"Opened software"}, p.Restrictions[0].Triggers)

	assert.Equal(t, []string{"Original packaging"}, p.RequiredConditions)
	assert.Equal(t, []string{"Mail-in"}, p.ExcludedMethods)

	assert.Contains(t, p.Citations, "policy.pdf:page2:line4")
	assert.Contains(t, p.Citations, "policy.pdf:page3:line5")

	formatted := p.Format()
	assert.Contains(t, formatted, "15-day window")
	assert.Contains(t, formatted, "waived if: Damaged")
}

func TestBuildContextDaysAndSentinel(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	delivered := now.AddDate(0, 0, -5)

	v := &domain.VerifiedOrder{
		Customer: &domain.Customer{MembershipTier: "Plus"},
		Order: &domain.OrderWithItems{
			Order: domain.Order{DeliveredAt: &delivered, SellerType: "FIRST_PARTY", ShippingState: "CA"},
			Items: []domain.OrderItem{{ItemName: "Laptop", Category: "Computers"}},
		},
		ItemCondition: domain.ConditionDamagedDefective,
	}
	cc := BuildContext(v, now)
	assert.Equal(t, 5, cc.DaysSinceDelivery)
	assert.Equal(t, "Plus", cc.MembershipTier)
	assert.Equal(t, "CA", cc.Region)
	assert.Equal(t, "Damaged, defective, or incorrect", cc.CanonicalCondition)
	assert.True(t, cc.ConditionExact)

	// Explicit return request date wins over today.
	v.ReturnRequestDate = now.AddDate(0, 0, -2).Format("2006-01-02")
	cc = BuildContext(v, now)
	assert.Equal(t, 3, cc.DaysSinceDelivery)

	// No delivery timestamp routes through the sentinel.
	v.Order.DeliveredAt = nil
	cc = BuildContext(v, now)
	assert.Equal(t, DaysSentinel, cc.DaysSinceDelivery)
}

func TestNormalizeConditionUnknownIsInexact(t *testing.T) {
	c, exact := NormalizeCondition(domain.ConditionOpenedLikeNew)
	assert.Empty(t, c)
	assert.True(t, exact)

	c, exact = NormalizeCondition("SOMETHING_ELSE")
	assert.Empty(t, c)
	assert.False(t, exact)
}

func TestClassifyCategoryFallsBackWhenOutOfSet(t *testing.T) {
	g := &fakeGraph{rows: map[string][]map[string]interface{}{
		"categories": {{"name": "Laptops"}, {"name": "Most products"}},
	}}
	llm := &fakeLLM{jsonReplies: []func(interface{}){
		func(out interface{}) {
			*(out.(*categoryPick)) = categoryPick{Category: "Gaming Rigs", Confidence: 0.7}
		},
	}}
	a := New(llm, g, nil, "gemini-2.5-flash", "Best Buy")

	cat, conf, err := a.ClassifyCategory(context.Background(), CaseContext{ItemNames: []string{"RTX tower"}})
	require.NoError(t, err)
	assert.Equal(t, "Most products", cat)
	assert.Equal(t, 0.7, conf)
}

func TestSourceBlockResolvesCitations(t *testing.T) {
	md := "<!-- PAGE:policy.pdf:1:1:6 -->\nReturns overview\nMost products: 15 days\nRestocking fee 15%\nWaived when damaged\nEnd of page"
	ix := policy.NewSourceIndex(md, nil)

	a := New(nil, nil, ix, "m", "Best Buy")
	block := a.SourceBlock([]string{"policy.pdf:page1:line3", "nope.pdf:page9:line1"})

	assert.Contains(t, block, "[policy.pdf:page1:line3]")
	assert.Contains(t, block, "Most products: 15 days")
	assert.NotContains(t, block, "nope.pdf")
}
