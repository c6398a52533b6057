package domain

import "time"

// RefundCase is the durable adjudication record, one row per
// source_message_id in the orders database.
type RefundCase struct {
	CaseID                  string
	CaseSource              string
	SourceMessageID         string
	ReceivedAt              time.Time
	FromEmail               string
	FromName                string
	Subject                 string
	Body                    string
	CustomerID              *string
	OrderID                 *string
	ExtractedInvoiceNumber  *string
	ExtractedOrderInvoiceID *string
	Classification          string
	Confidence              float64
	VerificationStatus      string
	VerificationNotes       *string
	Attachments             []AttachmentMeta
	Metadata                map[string]interface{}
	CreatedAt               time.Time
	UpdatedAt               time.Time
}
