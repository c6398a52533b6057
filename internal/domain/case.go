// Package domain holds the entities shared across the refund pipeline:
// the normalized mail message, the durable case envelope, the extracted
// order intent, and the refund case row.
package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mail classification categories.
const (
	CategoryReturn      = "RETURN"
	CategoryReplacement = "REPLACEMENT"
	CategoryRefund      = "REFUND"
	CategoryNone        = "NONE"
)

// ActionableCategory reports whether a classification should open a case.
func ActionableCategory(cat string) bool {
	switch cat {
	case CategoryReturn, CategoryReplacement, CategoryRefund:
		return true
	}
	return false
}

// Verification statuses for refund cases.
const (
	StatusVerified      = "VERIFIED"
	StatusPendingReview = "PENDING_REVIEW"
)

// Adjudication decisions.
const (
	DecisionApproved     = "APPROVED"
	DecisionDenied       = "DENIED"
	DecisionManualReview = "MANUAL_REVIEW"
)

// ByteBlob is a byte slice that round-trips through the envelope JSON as a
// tagged base64 object instead of the default base64 string, so envelopes
// stay self-describing for non-Go consumers.
type ByteBlob []byte

type byteBlobJSON struct {
	Type     string `json:"__type__"`
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
}

// MarshalJSON encodes the blob as {"__type__":"bytes","encoding":"base64","data":...}.
func (b ByteBlob) MarshalJSON() ([]byte, error) {
	return json.Marshal(byteBlobJSON{
		Type:     "bytes",
		Encoding: "base64",
		Data:     base64.StdEncoding.EncodeToString(b),
	})
}

// UnmarshalJSON accepts both the tagged object and a plain base64 string.
func (b *ByteBlob) UnmarshalJSON(data []byte) error {
	var tagged byteBlobJSON
	if err := json.Unmarshal(data, &tagged); err == nil && tagged.Type == "bytes" {
		raw, err := base64.StdEncoding.DecodeString(tagged.Data)
		if err != nil {
			return fmt.Errorf("decode tagged bytes: %w", err)
		}
		*b = raw
		return nil
	}
	var plain string
	if err := json.Unmarshal(data, &plain); err != nil {
		return fmt.Errorf("attachment data is neither tagged bytes nor base64 string")
	}
	raw, err := base64.StdEncoding.DecodeString(plain)
	if err != nil {
		return fmt.Errorf("decode base64 attachment: %w", err)
	}
	*b = raw
	return nil
}

// Attachment is one mail attachment carried by reference inside the envelope.
// Bytes never leave the envelope except toward the document tools.
type Attachment struct {
	Filename string   `json:"filename"`
	MIMEType string   `json:"mime_type"`
	Data     ByteBlob `json:"data"`
}

// IsPDF reports whether the attachment should go through the document parser.
func (a Attachment) IsPDF() bool {
	return strings.EqualFold(a.MIMEType, "application/pdf") ||
		strings.HasSuffix(strings.ToLower(a.Filename), ".pdf")
}

// IsImage reports whether the attachment should go through defect vision.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.MIMEType), "image/")
}

// AttachmentMeta is the bytes-free projection stored in refund_cases.attachments.
type AttachmentMeta struct {
	Filename  string `json:"filename"`
	MIMEType  string `json:"mime_type"`
	SizeBytes int    `json:"size_bytes"`
}

// NormalizedMessage is the provider-independent view of one inbound email.
type NormalizedMessage struct {
	ProviderID  string       `json:"provider_id"`
	ReceivedAt  time.Time    `json:"received_at"`
	FromEmail   string       `json:"from_email"`
	FromName    string       `json:"from_name,omitempty"`
	Subject     string       `json:"subject"`
	BodyText    string       `json:"body_text"`
	Attachments []Attachment `json:"attachments"`
}

// Classification is the triage verdict for one message.
type Classification struct {
	Category       string  `json:"category"`
	Confidence     float64 `json:"confidence"`
	ExplicitUserID *string `json:"user_id,omitempty"`
}

// CaseEnvelope is the durable JSON record written to the blob store; it is
// the case worker's sole input.
type CaseEnvelope struct {
	CaseID          string `json:"case_id"`
	SourceMessageID string `json:"source_message_id"`
	NormalizedMessage
	Classification Classification `json:"classification"`
}

// SafeFrom converts an email address into a blob-path-safe string:
// "@" → "_at_", "." → "_".
func SafeFrom(email string) string {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(email)), "@", "_at_")
	return strings.ReplaceAll(s, ".", "_")
}

// BlobPath returns the envelope's object path:
// <safe_from>/<safe_from>_<yyyymmddThhmmssZ>.json.
func (e CaseEnvelope) BlobPath() string {
	safe := SafeFrom(e.FromEmail)
	ts := e.ReceivedAt.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("%s/%s_%s.json", safe, safe, ts)
}

// FallbackSourceMessageID builds a stable id when the provider id is
// missing: <from>_<ts>_<caseid[:8]>.
func FallbackSourceMessageID(fromEmail string, receivedAt time.Time, caseID string) string {
	short := caseID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s_%s_%s", fromEmail, receivedAt.UTC().Format("20060102T150405Z"), short)
}
