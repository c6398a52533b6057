// Package adjudicator evaluates a verified return case against the policy
// knowledge graph and produces a cited APPROVED / DENIED / MANUAL_REVIEW
// decision. It never touches the orders database; everything it needs
// arrives in the verified order handed over by the case worker.
package adjudicator

import (
	"time"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
)

// DaysSentinel marks a case where delivery time could not be established.
// The decision prompt instructs the model to route it to manual review.
const DaysSentinel = 9999

// CaseContext is the customer-side input to the policy decision.
type CaseContext struct {
	DaysSinceDelivery  int      `json:"days_since_delivery"`
	MembershipTier     string   `json:"membership_tier"`
	SellerType         string   `json:"seller_type"`
	Region             string   `json:"region"`
	ItemCondition      string   `json:"item_condition"`
	CanonicalCondition string   `json:"canonical_condition,omitempty"`
	ConditionExact     bool     `json:"condition_mapping_exact"`
	ReturnReason       string   `json:"return_reason"`
	ItemNames          []string `json:"item_names,omitempty"`
	ItemCategories     []string `json:"item_categories,omitempty"`
}

// conditionNames maps the extraction enum onto the strings the policy
// graph uses for Condition nodes. An absent entry means the graph has no
// matching condition and the mapping is reported as inexact.
var conditionNames = map[string]string{
	domain.ConditionDamagedDefective: "Damaged, defective, or incorrect",
	domain.ConditionNewUnopened:      "Unopened",
	domain.ConditionOpenedLikeNew:    "",
}

// NormalizeCondition maps an intent condition to the graph's canonical
// string. exact reports whether the table had an entry for it.
func NormalizeCondition(condition string) (canonical string, exact bool) {
	canonical, exact = conditionNames[condition]
	return canonical, exact
}

// BuildContext derives the decision context from a verified order.
func BuildContext(v *domain.VerifiedOrder, now time.Time) CaseContext {
	cc := CaseContext{
		DaysSinceDelivery: DaysSentinel,
		ItemCondition:     v.ItemCondition,
		ReturnReason:      v.ReturnReason,
	}
	cc.CanonicalCondition, cc.ConditionExact = NormalizeCondition(v.ItemCondition)

	if v.Customer != nil {
		cc.MembershipTier = v.Customer.MembershipTier
	}
	if v.Order != nil {
		cc.SellerType = v.Order.SellerType
		cc.Region = region(&v.Order.Order)
		for _, it := range v.Order.Items {
			cc.ItemNames = append(cc.ItemNames, it.ItemName)
			if it.Category != "" {
				cc.ItemCategories = appendUnique(cc.ItemCategories, it.Category)
			}
		}
		if v.Order.DeliveredAt != nil {
			ref := now
			if v.ReturnRequestDate != "" {
				if t, err := time.Parse("2006-01-02", v.ReturnRequestDate); err == nil {
					ref = t
				}
			}
			days := int(ref.Sub(*v.Order.DeliveredAt).Hours() / 24)
			if days < 0 {
				days = 0
			}
			cc.DaysSinceDelivery = days
		}
	}
	return cc
}

func region(o *domain.Order) string {
	if o.ShippingState != "" {
		return o.ShippingState
	}
	return o.ShippingCountry
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
