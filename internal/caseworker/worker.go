package caseworker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gagan0116/mcp-customer-support/internal/adjudicator"
	"github.com/gagan0116/mcp-customer-support/internal/domain"
	"github.com/gagan0116/mcp-customer-support/internal/gemini"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
	"github.com/gagan0116/mcp-customer-support/internal/toolbox/doctools"
	"github.com/gagan0116/mcp-customer-support/internal/toolbox/host"
	"github.com/gagan0116/mcp-customer-support/internal/verify"
)

// EnvelopeStore loads case envelopes from the blob store.
type EnvelopeStore interface {
	GetEnvelope(ctx context.Context, bucket, path string) (domain.CaseEnvelope, error)
}

// CaseStore persists refund cases.
type CaseStore interface {
	Upsert(ctx context.Context, c *domain.RefundCase) (string, error)
}

// Verifier is the database verification loop.
type Verifier interface {
	Run(ctx context.Context, intent domain.OrderIntent, fromEmail string, emit verify.EmitFunc) (*verify.Result, error)
}

// Adjudicator evaluates a verified case against the policy graph.
type Adjudicator interface {
	Adjudicate(ctx context.Context, v *domain.VerifiedOrder, emit func(name, status, log string)) (*adjudicator.Decision, error)
}

// LLM is the slice of the model client the worker itself uses.
type LLM interface {
	GenerateJSON(ctx context.Context, req gemini.Request, out interface{}) error
}

// Worker drives one case at a time from envelope to persisted decision.
type Worker struct {
	envelopes EnvelopeStore
	cases     CaseStore
	docTools  host.Caller
	llm       LLM
	verifier  Verifier
	adj       Adjudicator

	bucket          string
	extractionModel string

	// maxAttachmentWorkers bounds the attachment fan-out per case.
	maxAttachmentWorkers int
}

// New assembles a worker.
func New(envelopes EnvelopeStore, cases CaseStore, docTools host.Caller, llm LLM, verifier Verifier, adj Adjudicator, bucket, extractionModel string) *Worker {
	return &Worker{
		envelopes:            envelopes,
		cases:                cases,
		docTools:             docTools,
		llm:                  llm,
		verifier:             verifier,
		adj:                  adj,
		bucket:               bucket,
		extractionModel:      extractionModel,
		maxAttachmentWorkers: 4,
	}
}

// Process loads the envelope named by a task payload and runs the pipeline.
// A non-nil error means the task must be retried.
func (w *Worker) Process(ctx context.Context, bucket, blobPath string, sink Sink) error {
	if bucket == "" {
		bucket = w.bucket
	}
	sink.step(StepLoad, StatusActive, "Loading the case envelope")
	env, err := w.envelopes.GetEnvelope(ctx, bucket, blobPath)
	if err != nil {
		sink.step(StepLoad, StatusError, "Could not load the case envelope")
		return fmt.Errorf("load envelope %s: %w", blobPath, err)
	}
	sink.step(StepLoad, StatusComplete, fmt.Sprintf("Loaded case %s", env.CaseID))
	return w.ProcessEnvelope(ctx, env, blobPath, sink)
}

// ProcessEnvelope runs the pipeline on an already-loaded envelope. blobPath
// may be empty for demo runs.
func (w *Worker) ProcessEnvelope(ctx context.Context, env domain.CaseEnvelope, blobPath string, sink Sink) error {
	rc := baseCase(env, blobPath)

	sink.step(StepTriage, StatusActive, "Checking the classification")
	if !domain.ActionableCategory(env.Classification.Category) {
		sink.step(StepTriage, StatusComplete, "Not a return request, routing to human review")
		rc.VerificationNotes = note(fmt.Sprintf("classification %s is not actionable", env.Classification.Category))
		return w.persist(ctx, rc, sink)
	}
	sink.step(StepTriage, StatusComplete, fmt.Sprintf("Classified as %s (%.2f)", env.Classification.Category, env.Classification.Confidence))

	combined := w.buildCombinedText(ctx, env, sink)

	sink.step(StepExtract, StatusActive, "Extracting the order details")
	intent := w.extractIntent(ctx, combined)
	rc.ExtractedInvoiceNumber = optional(intent.InvoiceNumber)
	rc.ExtractedOrderInvoiceID = optional(intent.OrderInvoiceID)
	sink.emit(Event{Step: StepExtract, Status: StatusComplete, Log: "Order details extracted", Data: intent})

	sink.step(StepVerify, StatusActive, "Verifying the order against the database")
	vres, err := w.verifier.Run(ctx, intent, env.FromEmail, func(name, status, log string) {
		sink.substep(StepVerify, name, status, log)
	})
	if err != nil {
		sink.step(StepVerify, StatusError, "Verification failed")
		return fmt.Errorf("verification loop: %w", err)
	}

	if vres.VerifiedData == nil {
		sink.step(StepVerify, StatusComplete, "Could not verify the order, routing to human review")
		rc.VerificationNotes = note(vres.Reason)
		rc.Metadata["verification"] = map[string]interface{}{
			"reason": vres.Reason,
			"turns":  vres.Turns,
		}
		return w.persist(ctx, rc, sink)
	}

	verified := vres.VerifiedData
	mergeIntent(verified, intent)
	if verified.Customer != nil {
		rc.CustomerID = optional(verified.Customer.CustomerID)
	}
	if verified.Order != nil {
		rc.OrderID = optional(verified.Order.OrderID)
	}
	rc.Metadata["verified_data"] = verified
	rc.Metadata["fuzzy_tools_used"] = vres.FuzzyToolsUsed
	sink.emit(Event{Step: StepVerify, Status: StatusComplete, Log: "Order verified", Data: verified})

	// Fuzzy matches never auto-decide: the order was picked by a model,
	// not by an exact identifier.
	if len(vres.FuzzyToolsUsed) > 0 {
		sink.step(StepAdjudicate, StatusComplete, "Fuzzy match, routing to human review")
		rc.VerificationNotes = note(fmt.Sprintf("order matched via fuzzy tools: %s", strings.Join(vres.FuzzyToolsUsed, ", ")))
		return w.persist(ctx, rc, sink)
	}

	sink.step(StepAdjudicate, StatusActive, "Evaluating the return policy")
	decision, err := w.adj.Adjudicate(ctx, verified, func(name, status, log string) {
		sink.substep(StepAdjudicate, name, status, log)
	})
	if err != nil {
		sink.step(StepAdjudicate, StatusError, "Adjudication failed")
		return fmt.Errorf("adjudicate case %s: %w", env.CaseID, err)
	}
	sink.emit(Event{Step: StepAdjudicate, Status: StatusComplete, Log: fmt.Sprintf("Decision: %s", decision.Decision), Data: decision})

	rc.VerificationStatus = domain.StatusVerified
	rc.VerificationNotes = note(decision.CustomerExplanation)
	rc.Metadata["adjudication"] = decision
	return w.persist(ctx, rc, sink)
}

// buildCombinedText assembles the extraction context: metadata, body, and
// one block per parsed attachment. Attachment parsing fans out bounded;
// a failed attachment shrinks the context instead of failing the case.
func (w *Worker) buildCombinedText(ctx context.Context, env domain.CaseEnvelope, sink Sink) string {
	var sb strings.Builder
	sb.WriteString("--- EMAIL METADATA ---\n")
	fmt.Fprintf(&sb, "From: %s\nSubject: %s\nReceived: %s\nClassification: %s\n\n",
		env.FromEmail, env.Subject, env.ReceivedAt.UTC().Format("2006-01-02 15:04:05"), env.Classification.Category)
	sb.WriteString(env.BodyText)

	if len(env.Attachments) == 0 {
		return sb.String()
	}

	sink.step(StepAttachments, StatusActive, fmt.Sprintf("Processing %d attachments", len(env.Attachments)))
	blocks := make([]string, len(env.Attachments))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.maxAttachmentWorkers)
	for i, att := range env.Attachments {
		g.Go(func() error {
			block := w.attachmentBlock(gctx, att, sink)
			mu.Lock()
			blocks[i] = block
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, b := range blocks {
		if b != "" {
			sb.WriteString("\n\n")
			sb.WriteString(b)
		}
	}
	sink.step(StepAttachments, StatusComplete, "Attachments processed")
	return sb.String()
}

func (w *Worker) attachmentBlock(ctx context.Context, att domain.Attachment, sink Sink) string {
	switch {
	case att.IsPDF():
		sink.substep(StepAttachments, att.Filename, StatusActive, "Parsing invoice PDF")
		out, err := w.docTools.CallTool(ctx, doctools.ToolParsePDF, doctools.ParsePDFArgs{
			Filename:  att.Filename,
			PDFBase64: base64.StdEncoding.EncodeToString(att.Data),
		})
		if err != nil {
			logger.Warn("pdf parse tool failed", "filename", att.Filename, "error", err.Error())
			sink.substep(StepAttachments, att.Filename, StatusError, "Could not parse the PDF")
			return ""
		}
		var res doctools.ParsePDFResult
		if err := json.Unmarshal([]byte(out), &res); err != nil || res.Error != "" || res.Text == "" {
			logger.Warn("pdf parse produced no text", "filename", att.Filename, "tool_error", res.Error)
			sink.substep(StepAttachments, att.Filename, StatusError, "No text in the PDF")
			return ""
		}
		sink.substep(StepAttachments, att.Filename, StatusComplete, "Invoice parsed")
		return fmt.Sprintf("--- INVOICE %s ---\n%s", att.Filename, res.Text)

	case att.IsImage():
		sink.substep(StepAttachments, att.Filename, StatusActive, "Analyzing defect photo")
		out, err := w.docTools.CallTool(ctx, doctools.ToolAnalyzeDefect, doctools.DefectRequest{
			ImageBase64: base64.StdEncoding.EncodeToString(att.Data),
			MIMEType:    att.MIMEType,
		})
		if err != nil {
			logger.Warn("defect analysis tool failed", "filename", att.Filename, "error", err.Error())
			sink.substep(StepAttachments, att.Filename, StatusError, "Could not analyze the image")
			return ""
		}
		var res doctools.DefectResult
		if err := json.Unmarshal([]byte(out), &res); err != nil || res.Description == "" {
			sink.substep(StepAttachments, att.Filename, StatusError, "No analysis for the image")
			return ""
		}
		sink.substep(StepAttachments, att.Filename, StatusComplete, "Photo analyzed")
		return fmt.Sprintf("--- IMAGE %s ---\n%s", att.Filename, res.Description)
	}
	return ""
}

func (w *Worker) persist(ctx context.Context, rc *domain.RefundCase, sink Sink) error {
	sink.step(StepPersist, StatusActive, "Saving the case")
	caseID, err := w.cases.Upsert(ctx, rc)
	if err != nil {
		sink.step(StepPersist, StatusError, "Could not save the case")
		return fmt.Errorf("persist refund case %s: %w", rc.SourceMessageID, err)
	}
	sink.emit(Event{Step: StepPersist, Status: StatusComplete, Log: "Case saved", Data: map[string]string{
		"case_id": caseID,
		"status":  rc.VerificationStatus,
	}})
	logger.Info("case persisted",
		"case_id", caseID,
		"source_message_id", rc.SourceMessageID,
		"status", rc.VerificationStatus)
	return nil
}

func baseCase(env domain.CaseEnvelope, blobPath string) *domain.RefundCase {
	metas := make([]domain.AttachmentMeta, 0, len(env.Attachments))
	for _, a := range env.Attachments {
		metas = append(metas, domain.AttachmentMeta{
			Filename:  a.Filename,
			MIMEType:  a.MIMEType,
			SizeBytes: len(a.Data),
		})
	}
	md := map[string]interface{}{}
	if blobPath != "" {
		md["envelope_blob_path"] = blobPath
	}
	return &domain.RefundCase{
		CaseID:             env.CaseID,
		CaseSource:         "email",
		SourceMessageID:    env.SourceMessageID,
		ReceivedAt:         env.ReceivedAt,
		FromEmail:          env.FromEmail,
		FromName:           env.FromName,
		Subject:            env.Subject,
		Body:               env.BodyText,
		Classification:     env.Classification.Category,
		Confidence:         env.Classification.Confidence,
		VerificationStatus: domain.StatusPendingReview,
		Attachments:        metas,
		Metadata:           md,
	}
}

// mergeIntent copies the request-side fields the adjudicator needs from
// the extraction onto the verified order.
func mergeIntent(v *domain.VerifiedOrder, intent domain.OrderIntent) {
	v.ReturnRequestDate = intent.ReturnRequestDate
	v.ReturnCategory = intent.ReturnCategory
	v.ReturnReason = intent.ReturnReason
	v.ReturnReasonCategory = intent.ReturnReasonCategory
	v.ItemCondition = intent.ItemCondition
	v.ConfidenceScore = intent.ConfidenceScore
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func note(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
