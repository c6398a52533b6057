package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
)

// ErrOrderNotFound is returned when an identifier lookup matches no order.
var ErrOrderNotFound = errors.New("order not found")

// OrdersRepo implements the verification tool queries against the orders
// database. Every read the agent loop can reach goes through this type.
type OrdersRepo struct{ db *sql.DB }

// NewOrdersRepo creates a Postgres-backed orders repository.
func NewOrdersRepo(db *sql.DB) *OrdersRepo { return &OrdersRepo{db: db} }

const customerCols = `customer_id, customer_email, COALESCE(full_name,''), COALESCE(phone,''),
       COALESCE(membership_tier,'Standard'), created_at`

const orderCols = `order_id, invoice_number, order_invoice_id, customer_id, order_date,
       COALESCE(shipping_address,''), COALESCE(shipping_city,''), COALESCE(shipping_state,''),
       COALESCE(shipping_country,''), COALESCE(currency,'USD'),
       COALESCE(subtotal_amount,0), COALESCE(discount_amount,0), COALESCE(shipping_amount,0),
       COALESCE(total_amount,0), COALESCE(balance_due,0), COALESCE(refunded_amount,0),
       COALESCE(order_state,''), delivered_at, COALESCE(seller_type,'')`

func scanCustomer(row *sql.Row) (*domain.Customer, error) {
	c := &domain.Customer{}
	err := row.Scan(&c.CustomerID, &c.CustomerEmail, &c.FullName, &c.Phone,
		&c.MembershipTier, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type orderScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row orderScanner) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.OrderID, &o.InvoiceNumber, &o.OrderInvoiceID, &o.CustomerID,
		&o.OrderDate, &o.ShippingAddress, &o.ShippingCity, &o.ShippingState,
		&o.ShippingCountry, &o.Currency, &o.SubtotalAmount, &o.DiscountAmount,
		&o.ShippingAmount, &o.TotalAmount, &o.BalanceDue, &o.RefundedAmount,
		&o.OrderState, &o.DeliveredAt, &o.SellerType)
	return o, err
}

// FindCustomerByEmail does a case-insensitive exact match.
func (r *OrdersRepo) FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	c, err := scanCustomer(r.db.QueryRowContext(ctx, `
		SELECT `+customerCols+`
		FROM customers
		WHERE LOWER(customer_email) = LOWER($1)
	`, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find customer by email: %w", err)
	}
	return c, nil
}

// CustomerByID loads one customer.
func (r *OrdersRepo) CustomerByID(ctx context.Context, customerID string) (*domain.Customer, error) {
	c, err := scanCustomer(r.db.QueryRowContext(ctx, `
		SELECT `+customerCols+`
		FROM customers
		WHERE customer_id = $1
	`, customerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("customer by id: %w", err)
	}
	return c, nil
}

// FindOrderByOrderInvoiceID loads one order with its items.
func (r *OrdersRepo) FindOrderByOrderInvoiceID(ctx context.Context, orderInvoiceID string) (*domain.OrderWithItems, error) {
	return r.findOrderBy(ctx, "order_invoice_id", orderInvoiceID)
}

// FindOrderByInvoiceNumber loads one order with its items.
func (r *OrdersRepo) FindOrderByInvoiceNumber(ctx context.Context, invoiceNumber string) (*domain.OrderWithItems, error) {
	return r.findOrderBy(ctx, "invoice_number", invoiceNumber)
}

func (r *OrdersRepo) findOrderBy(ctx context.Context, column, value string) (*domain.OrderWithItems, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderCols+`
		FROM orders
		WHERE `+column+` = $1
	`, value))
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order by %s: %w", column, err)
	}
	items, err := r.itemsForOrder(ctx, o.OrderID, 500)
	if err != nil {
		return nil, err
	}
	return &domain.OrderWithItems{Order: o, Items: items}, nil
}

func (r *OrdersRepo) itemsForOrder(ctx context.Context, orderID string, limit int) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_item_id, order_id, COALESCE(sku,''), COALESCE(item_name,''),
		       COALESCE(category,''), COALESCE(subcategory,''),
		       COALESCE(quantity,0), COALESCE(unit_price,0), COALESCE(line_total,0),
		       COALESCE(refunded_qty,0), COALESCE(returned_qty,0)
		FROM order_items
		WHERE order_id = $1
		ORDER BY order_item_id
		LIMIT $2
	`, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("items for order: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.OrderItemID, &it.OrderID, &it.SKU, &it.ItemName,
			&it.Category, &it.Subcategory, &it.Quantity, &it.UnitPrice,
			&it.LineTotal, &it.RefundedQty, &it.ReturnedQty); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CustomerOrdersResult is the bounded response of GetCustomerOrdersWithItems.
type CustomerOrdersResult struct {
	Customer        *domain.Customer        `json:"customer,omitempty"`
	Orders          []domain.OrderWithItems `json:"orders"`
	OrdersTruncated bool                    `json:"orders_truncated"`
	ItemsTruncated  bool                    `json:"items_truncated"`
}

// GetCustomerOrdersWithItems returns the customer's recent orders with
// items, both truncated to the given bounds.
func (r *OrdersRepo) GetCustomerOrdersWithItems(ctx context.Context, email string, maxOrders, maxItemsPerOrder int) (*CustomerOrdersResult, error) {
	if maxOrders <= 0 || maxOrders > 200 {
		maxOrders = 50
	}
	if maxItemsPerOrder <= 0 || maxItemsPerOrder > 500 {
		maxItemsPerOrder = 50
	}

	cust, err := r.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if cust == nil {
		return &CustomerOrdersResult{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderCols+`
		FROM orders
		WHERE customer_id = $1
		ORDER BY order_date DESC NULLS LAST
		LIMIT $2
	`, cust.CustomerID, maxOrders+1)
	if err != nil {
		return nil, fmt.Errorf("customer orders: %w", err)
	}
	defer rows.Close()

	res := &CustomerOrdersResult{Customer: cust}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res.Orders = append(res.Orders, domain.OrderWithItems{Order: o})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res.Orders) > maxOrders {
		res.Orders = res.Orders[:maxOrders]
		res.OrdersTruncated = true
	}

	for i := range res.Orders {
		items, err := r.itemsForOrder(ctx, res.Orders[i].OrderID, maxItemsPerOrder+1)
		if err != nil {
			return nil, err
		}
		if len(items) > maxItemsPerOrder {
			items = items[:maxItemsPerOrder]
			res.ItemsTruncated = true
		}
		res.Orders[i].Items = items
	}
	return res, nil
}

// ListOrderItemsByOrderInvoiceID is a diagnostics lookup; upstream callers
// only use it after ownership is established.
func (r *OrdersRepo) ListOrderItemsByOrderInvoiceID(ctx context.Context, orderInvoiceID string, limit int) ([]domain.OrderItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var orderID string
	err := r.db.QueryRowContext(ctx,
		`SELECT order_id FROM orders WHERE order_invoice_id = $1`, orderInvoiceID).Scan(&orderID)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve order invoice id: %w", err)
	}
	return r.itemsForOrder(ctx, orderID, limit)
}

// RunReadOnly executes an already-validated SELECT inside a read-only
// transaction with a local statement timeout, returning generic rows. The
// SQL guard is the caller's responsibility; this layer only enforces the
// transaction posture.
func (r *OrdersRepo) RunReadOnly(ctx context.Context, query string, params []interface{}, timeout time.Duration) ([]map[string]interface{}, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SET LOCAL transaction_read_only = on`); err != nil {
		return nil, fmt.Errorf("set read-only: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`SET LOCAL statement_timeout = %d`, timeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}

	rows, err := tx.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("execute generated query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan generated row: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit read-only tx: %w", err)
	}
	return out, nil
}
