package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
)

// RefundCaseRepo persists adjudication results. One row per
// source_message_id; re-processing a case is an upsert, and VERIFIED is
// never downgraded back to PENDING_REVIEW.
type RefundCaseRepo struct{ db *sql.DB }

// NewRefundCaseRepo creates the refund case repository.
func NewRefundCaseRepo(db *sql.DB) *RefundCaseRepo { return &RefundCaseRepo{db: db} }

// Upsert inserts or updates the case row and returns its case_id. On
// conflict only the verification outcome and metadata move; the original
// message fields are immutable.
func (r *RefundCaseRepo) Upsert(ctx context.Context, c *domain.RefundCase) (string, error) {
	attachments, err := json.Marshal(c.Attachments)
	if err != nil {
		return "", fmt.Errorf("marshal attachments: %w", err)
	}
	if c.Attachments == nil {
		attachments = []byte("[]")
	}
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	if c.Metadata == nil {
		metadata = []byte("{}")
	}

	var caseID string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO refund_cases (
			case_id, case_source, source_message_id, received_at,
			from_email, from_name, subject, body,
			customer_id, order_id,
			extracted_invoice_number, extracted_order_invoice_id,
			classification, confidence,
			verification_status, verification_notes,
			attachments, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW()
		)
		ON CONFLICT (source_message_id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			order_id = EXCLUDED.order_id,
			verification_status = CASE
				WHEN refund_cases.verification_status = 'VERIFIED' THEN 'VERIFIED'
				ELSE EXCLUDED.verification_status
			END,
			verification_notes = EXCLUDED.verification_notes,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING case_id
	`,
		c.CaseID, c.CaseSource, c.SourceMessageID, c.ReceivedAt,
		c.FromEmail, c.FromName, c.Subject, c.Body,
		c.CustomerID, c.OrderID,
		c.ExtractedInvoiceNumber, c.ExtractedOrderInvoiceID,
		c.Classification, c.Confidence,
		c.VerificationStatus, c.VerificationNotes,
		attachments, metadata,
	).Scan(&caseID)
	if err != nil {
		return "", fmt.Errorf("upsert refund case: %w", err)
	}
	return caseID, nil
}

// GetBySourceMessageID loads one case, or nil when absent.
func (r *RefundCaseRepo) GetBySourceMessageID(ctx context.Context, sourceMessageID string) (*domain.RefundCase, error) {
	c := &domain.RefundCase{}
	var attachments, metadata []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT case_id, case_source, source_message_id, received_at,
		       from_email, COALESCE(from_name,''), COALESCE(subject,''), COALESCE(body,''),
		       customer_id, order_id,
		       extracted_invoice_number, extracted_order_invoice_id,
		       classification, confidence,
		       verification_status, verification_notes,
		       attachments, metadata, created_at, updated_at
		FROM refund_cases
		WHERE source_message_id = $1
	`, sourceMessageID).Scan(
		&c.CaseID, &c.CaseSource, &c.SourceMessageID, &c.ReceivedAt,
		&c.FromEmail, &c.FromName, &c.Subject, &c.Body,
		&c.CustomerID, &c.OrderID,
		&c.ExtractedInvoiceNumber, &c.ExtractedOrderInvoiceID,
		&c.Classification, &c.Confidence,
		&c.VerificationStatus, &c.VerificationNotes,
		&attachments, &metadata, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get refund case: %w", err)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &c.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return c, nil
}
