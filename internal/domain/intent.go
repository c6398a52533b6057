package domain

// Item conditions reported by customers.
const (
	ConditionNewUnopened      = "NEW_UNOPENED"
	ConditionOpenedLikeNew    = "OPENED_LIKE_NEW"
	ConditionDamagedDefective = "DAMAGED_DEFECTIVE"
	ConditionMissingParts     = "MISSING_PARTS"
	ConditionUnknown          = "UNKNOWN"
)

// Return reason categories.
const (
	ReasonChangedMind   = "CHANGED_MIND"
	ReasonDefective     = "DEFECTIVE"
	ReasonWrongItemSent = "WRONG_ITEM_SENT"
	ReasonArrivedLate   = "ARRIVED_LATE"
	ReasonOther         = "OTHER"
)

// IntentItem is one line item the customer wants to return.
type IntentItem struct {
	ItemName  string   `json:"item_name,omitempty"`
	SKU       string   `json:"sku,omitempty"`
	Quantity  *int     `json:"quantity,omitempty"`
	UnitPrice *float64 `json:"unit_price,omitempty"`
}

// OrderIntent is the single structured record fused from the email body,
// parsed invoices, and image findings. Every field is optional; the
// verification loop treats absent identifiers as weaker evidence.
type OrderIntent struct {
	CustomerEmail        string       `json:"customer_email,omitempty"`
	FullName             string       `json:"full_name,omitempty"`
	Phone                string       `json:"phone,omitempty"`
	InvoiceNumber        string       `json:"invoice_number,omitempty"`
	OrderInvoiceID       string       `json:"order_invoice_id,omitempty"`
	OrderDate            string       `json:"order_date,omitempty"`
	ReturnRequestDate    string       `json:"return_request_date,omitempty"`
	ShippingAddress      string       `json:"shipping_address,omitempty"`
	ShippingCity         string       `json:"shipping_city,omitempty"`
	ShippingState        string       `json:"shipping_state,omitempty"`
	ShippingPostalCode   string       `json:"shipping_postal_code,omitempty"`
	ShippingCountry      string       `json:"shipping_country,omitempty"`
	Currency             string       `json:"currency,omitempty"`
	DiscountAmount       *float64     `json:"discount_amount,omitempty"`
	ShippingAmount       *float64     `json:"shipping_amount,omitempty"`
	TotalAmount          *float64     `json:"total_amount,omitempty"`
	OrderItems           []IntentItem `json:"order_items,omitempty"`
	ItemCondition        string       `json:"item_condition,omitempty"`
	ReturnCategory       string       `json:"return_category,omitempty"`
	ReturnReasonCategory string       `json:"return_reason_category,omitempty"`
	ReturnReason         string       `json:"return_reason,omitempty"`
	ConfidenceScore      *float64     `json:"confidence_score,omitempty"`
}

// HasStrongIdentifier reports whether the intent carries an exact order
// identifier; it sets the shortlist size for generated lookups.
func (i OrderIntent) HasStrongIdentifier() bool {
	return i.InvoiceNumber != "" || i.OrderInvoiceID != ""
}
