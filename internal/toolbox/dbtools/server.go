package dbtools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names exposed by the db-tools server. The verification loop's
// ladder prompt references these names verbatim.
const (
	ToolVerifyFromEmail      = "verify_from_email_matches_customer"
	ToolFindByOrderInvoiceID = "find_order_by_order_invoice_id"
	ToolFindByInvoiceNumber  = "find_order_by_invoice_number"
	ToolCustomerOrders       = "get_customer_orders_with_items"
	ToolSelectOrderID        = "select_order_id"
	ToolListOrderItems       = "list_order_items_by_order_invoice_id"
	ToolLLMFindOrders        = "llm_find_orders"
)

// FuzzyTools are the tools whose results are best guesses rather than
// exact matches; any use routes the case to human review. Listing a
// customer's history counts because the order is then chosen by the model,
// not by an exact identifier.
var FuzzyTools = map[string]bool{
	ToolLLMFindOrders:  true,
	ToolSelectOrderID:  true,
	ToolCustomerOrders: true,
}

// VerifyEmailArgs are the arguments for verify_from_email_matches_customer.
type VerifyEmailArgs struct {
	FromEmail string `json:"from_email"`
}

// OrderInvoiceIDArgs are the arguments for find_order_by_order_invoice_id.
type OrderInvoiceIDArgs struct {
	OrderInvoiceID    string `json:"order_invoice_id"`
	VerificationEmail string `json:"verification_email"`
}

// InvoiceNumberArgs are the arguments for find_order_by_invoice_number.
type InvoiceNumberArgs struct {
	InvoiceNumber     string `json:"invoice_number"`
	VerificationEmail string `json:"verification_email"`
}

// CustomerOrdersArgs are the arguments for get_customer_orders_with_items.
type CustomerOrdersArgs struct {
	CustomerEmail    string `json:"customer_email"`
	MaxOrders        int    `json:"max_orders,omitempty"`
	MaxItemsPerOrder int    `json:"max_items_per_order,omitempty"`
}

// SelectOrderArgs are the arguments for select_order_id.
type SelectOrderArgs struct {
	Payload   json.RawMessage `json:"payload"`
	EmailInfo json.RawMessage `json:"email_info"`
}

// ListItemsArgs are the arguments for list_order_items_by_order_invoice_id.
type ListItemsArgs struct {
	OrderInvoiceID string `json:"order_invoice_id"`
	Limit          int    `json:"limit,omitempty"`
}

// FindOrdersArgs are the arguments for llm_find_orders.
type FindOrdersArgs struct {
	EmailInfo           json.RawMessage `json:"email_info"`
	HasStrongIdentifier bool            `json:"has_strong_identifier,omitempty"`
}

func jsonResult(v interface{}) (*mcp.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil, nil
}

// NewServer builds the stdio MCP server exposing the verification tools.
func NewServer(t *Tools, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "db-tools", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolVerifyFromEmail,
		Description: "Check whether the sender email belongs to a known customer (case-insensitive exact match).",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args VerifyEmailArgs) (*mcp.CallToolResult, any, error) {
		res, err := t.VerifyFromEmail(ctx, args.FromEmail)
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(res)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolFindByOrderInvoiceID,
		Description: "Look up one order by its order_invoice_id and verify it belongs to the given sender email.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args OrderInvoiceIDArgs) (*mcp.CallToolResult, any, error) {
		res, err := t.FindOrderByOrderInvoiceID(ctx, args.OrderInvoiceID, args.VerificationEmail)
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(res)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolFindByInvoiceNumber,
		Description: "Look up one order by its invoice_number and verify it belongs to the given sender email.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args InvoiceNumberArgs) (*mcp.CallToolResult, any, error) {
		res, err := t.FindOrderByInvoiceNumber(ctx, args.InvoiceNumber, args.VerificationEmail)
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(res)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolCustomerOrders,
		Description: "List a customer's recent orders with line items (bounded; max_orders ≤ 200, max_items_per_order ≤ 500).",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args CustomerOrdersArgs) (*mcp.CallToolResult, any, error) {
		res, err := t.GetCustomerOrdersWithItems(ctx, args.CustomerEmail, args.MaxOrders, args.MaxItemsPerOrder)
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(res)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolSelectOrderID,
		Description: "Fuzzy: pick the order the customer most likely means from an order-history payload. Any use routes the case to human review.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args SelectOrderArgs) (*mcp.CallToolResult, any, error) {
		res, err := t.SelectOrderID(ctx, args.Payload, args.EmailInfo)
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(res)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolListOrderItems,
		Description: "Diagnostics: list line items for an order by order_invoice_id.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ListItemsArgs) (*mcp.CallToolResult, any, error) {
		res, err := t.ListOrderItems(ctx, args.OrderInvoiceID, args.Limit)
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(res)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolLLMFindOrders,
		Description: "Fuzzy: generate and run one guarded read-only SELECT to shortlist candidate orders. Any use routes the case to human review.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args FindOrdersArgs) (*mcp.CallToolResult, any, error) {
		res, err := t.LLMFindOrders(ctx, args.EmailInfo, args.HasStrongIdentifier)
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(res)
	})

	return server
}
