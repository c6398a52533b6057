package domain

import "time"

// Customer is a row in the external orders store.
type Customer struct {
	CustomerID     string    `json:"customer_id"`
	CustomerEmail  string    `json:"customer_email"`
	FullName       string    `json:"full_name"`
	Phone          string    `json:"phone,omitempty"`
	MembershipTier string    `json:"membership_tier"`
	CreatedAt      time.Time `json:"created_at"`
}

// Order is a row in the external orders store.
type Order struct {
	OrderID          string     `json:"order_id"`
	InvoiceNumber    string     `json:"invoice_number"`
	OrderInvoiceID   string     `json:"order_invoice_id"`
	CustomerID       string     `json:"customer_id"`
	OrderDate        *time.Time `json:"order_date,omitempty"`
	ShippingAddress  string     `json:"shipping_address,omitempty"`
	ShippingCity     string     `json:"shipping_city,omitempty"`
	ShippingState    string     `json:"shipping_state,omitempty"`
	ShippingCountry  string     `json:"shipping_country,omitempty"`
	Currency         string     `json:"currency,omitempty"`
	SubtotalAmount   float64    `json:"subtotal_amount"`
	DiscountAmount   float64    `json:"discount_amount"`
	ShippingAmount   float64    `json:"shipping_amount"`
	TotalAmount      float64    `json:"total_amount"`
	BalanceDue       float64    `json:"balance_due"`
	RefundedAmount   float64    `json:"refunded_amount"`
	OrderState       string     `json:"order_state"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	SellerType       string     `json:"seller_type,omitempty"`
}

// OrderItem is a line item on an order.
type OrderItem struct {
	OrderItemID string  `json:"order_item_id"`
	OrderID     string  `json:"order_id"`
	SKU         string  `json:"sku"`
	ItemName    string  `json:"item_name"`
	Category    string  `json:"category,omitempty"`
	Subcategory string  `json:"subcategory,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
	RefundedQty int     `json:"refunded_qty"`
	ReturnedQty int     `json:"returned_qty"`
}

// OrderWithItems bundles an order with its line items for tool responses.
type OrderWithItems struct {
	Order
	Items []OrderItem `json:"items"`
}

// VerifiedOrder is what the verification loop hands the adjudicator: the
// matched order plus the customer it belongs to.
type VerifiedOrder struct {
	Customer *Customer       `json:"customer,omitempty"`
	Order    *OrderWithItems `json:"order,omitempty"`

	// Intent fields merged in after verification.
	ReturnRequestDate    string   `json:"return_request_date,omitempty"`
	ReturnCategory       string   `json:"return_category,omitempty"`
	ReturnReason         string   `json:"return_reason,omitempty"`
	ReturnReasonCategory string   `json:"return_reason_category,omitempty"`
	ItemCondition        string   `json:"item_condition,omitempty"`
	ConfidenceScore      *float64 `json:"confidence_score,omitempty"`
}
