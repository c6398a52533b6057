package caseworker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gagan0116/mcp-customer-support/internal/adjudicator"
	"github.com/gagan0116/mcp-customer-support/internal/domain"
	"github.com/gagan0116/mcp-customer-support/internal/gemini"
	"github.com/gagan0116/mcp-customer-support/internal/toolbox/host"
	"github.com/gagan0116/mcp-customer-support/internal/verify"
)

type fakeEnvelopes struct{ env domain.CaseEnvelope }

func (f *fakeEnvelopes) GetEnvelope(ctx context.Context, bucket, path string) (domain.CaseEnvelope, error) {
	return f.env, nil
}

type fakeCases struct{ saved *domain.RefundCase }

func (f *fakeCases) Upsert(ctx context.Context, c *domain.RefundCase) (string, error) {
	f.saved = c
	return c.CaseID, nil
}

type fakeDocTools struct {
	pdfText string
	defect  string
	calls   []string
}

func (f *fakeDocTools) ListTools(ctx context.Context) ([]host.ToolInfo, error) { return nil, nil }

func (f *fakeDocTools) CallTool(ctx context.Context, name string, args interface{}) (string, error) {
	f.calls = append(f.calls, name)
	switch name {
	case "parse_pdf":
		b, _ := json.Marshal(map[string]string{"text": f.pdfText})
		return string(b), nil
	case "analyze_defect":
		b, _ := json.Marshal(map[string]string{"description": f.defect, "status": "success"})
		return string(b), nil
	}
	return "", host.ErrUnknownTool{Name: name}
}

type fakeExtractor struct{ intent domain.OrderIntent }

func (f *fakeExtractor) GenerateJSON(ctx context.Context, req gemini.Request, out interface{}) error {
	*(out.(*domain.OrderIntent)) = f.intent
	return nil
}

type fakeVerifier struct{ res *verify.Result }

func (f *fakeVerifier) Run(ctx context.Context, intent domain.OrderIntent, fromEmail string, emit verify.EmitFunc) (*verify.Result, error) {
	return f.res, nil
}

type fakeAdjudicator struct {
	decision *adjudicator.Decision
	called   bool
}

func (f *fakeAdjudicator) Adjudicate(ctx context.Context, v *domain.VerifiedOrder, emit func(string, string, string)) (*adjudicator.Decision, error) {
	f.called = true
	return f.decision, nil
}

func sampleEnvelope() domain.CaseEnvelope {
	return domain.CaseEnvelope{
		CaseID:          "case-1",
		SourceMessageID: "msg-1",
		NormalizedMessage: domain.NormalizedMessage{
			ProviderID: "msg-1",
			ReceivedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
			FromEmail:  "alice@x.com",
			Subject:    "Return request",
			BodyText:   "I want to return my laptop, order INV-42.",
			Attachments: []domain.Attachment{
				{Filename: "invoice.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")},
				{Filename: "crack.jpg", MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}},
			},
		},
		Classification: domain.Classification{Category: domain.CategoryReturn, Confidence: 0.92},
	}
}

func verifiedResult() *verify.Result {
	return &verify.Result{
		VerifiedData: &domain.VerifiedOrder{
			Customer: &domain.Customer{CustomerID: "c-1", CustomerEmail: "alice@x.com"},
			Order:    &domain.OrderWithItems{Order: domain.Order{OrderID: "o-1", OrderInvoiceID: "INV-42"}},
		},
	}
}

func newTestWorker(cases *fakeCases, docs *fakeDocTools, v *fakeVerifier, adj *fakeAdjudicator, intent domain.OrderIntent) *Worker {
	return New(&fakeEnvelopes{env: sampleEnvelope()}, cases, docs,
		&fakeExtractor{intent: intent}, v, adj, "case-bucket", "gemini-2.5-flash")
}

func TestHappyPathAdjudicatesAndPersistsVerified(t *testing.T) {
	cases := &fakeCases{}
	docs := &fakeDocTools{pdfText: "Invoice INV-42", defect: "Cracked screen corner."}
	adj := &fakeAdjudicator{decision: &adjudicator.Decision{
		Decision:            domain.DecisionApproved,
		CustomerExplanation: "Your return is approved.",
	}}
	w := newTestWorker(cases, docs, &fakeVerifier{res: verifiedResult()},
		adj, domain.OrderIntent{OrderInvoiceID: "INV-42", ItemCondition: domain.ConditionDamagedDefective})

	err := w.Process(context.Background(), "", "alice_at_x_com/alice_at_x_com_20260820T100000Z.json", nil)
	require.NoError(t, err)

	require.NotNil(t, cases.saved)
	assert.Equal(t, domain.StatusVerified, cases.saved.VerificationStatus)
	assert.Equal(t, "Your return is approved.", *cases.saved.VerificationNotes)
	assert.Equal(t, "c-1", *cases.saved.CustomerID)
	assert.Equal(t, "o-1", *cases.saved.OrderID)
	assert.True(t, adj.called)
	assert.ElementsMatch(t, []string{"parse_pdf", "analyze_defect"}, docs.calls)

	require.Len(t, cases.saved.Attachments, 2)
	assert.Equal(t, "invoice.pdf", cases.saved.Attachments[0].Filename)
}

func TestNonActionableCategoryShortCircuits(t *testing.T) {
	cases := &fakeCases{}
	docs := &fakeDocTools{}
	adj := &fakeAdjudicator{}
	w := newTestWorker(cases, docs, &fakeVerifier{res: verifiedResult()}, adj, domain.OrderIntent{})
	env := sampleEnvelope()
	env.Classification.Category = domain.CategoryNone

	err := w.ProcessEnvelope(context.Background(), env, "", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPendingReview, cases.saved.VerificationStatus)
	assert.False(t, adj.called)
	assert.Empty(t, docs.calls, "attachments must not be processed for non-actionable mail")
}

func TestUnverifiedCaseGoesToReview(t *testing.T) {
	cases := &fakeCases{}
	adj := &fakeAdjudicator{}
	w := newTestWorker(cases, &fakeDocTools{}, &fakeVerifier{res: &verify.Result{
		Reason: "Email verification mismatch", Turns: 3,
	}}, adj, domain.OrderIntent{})

	err := w.ProcessEnvelope(context.Background(), sampleEnvelope(), "", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPendingReview, cases.saved.VerificationStatus)
	assert.Contains(t, *cases.saved.VerificationNotes, "mismatch")
	assert.False(t, adj.called)
	assert.Nil(t, cases.saved.OrderID)
}

func TestFuzzyMatchSkipsAdjudication(t *testing.T) {
	cases := &fakeCases{}
	adj := &fakeAdjudicator{}
	res := verifiedResult()
	res.FuzzyToolsUsed = []string{"get_customer_orders_with_items", "select_order_id"}
	w := newTestWorker(cases, &fakeDocTools{}, &fakeVerifier{res: res}, adj, domain.OrderIntent{})

	err := w.ProcessEnvelope(context.Background(), sampleEnvelope(), "", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPendingReview, cases.saved.VerificationStatus)
	assert.False(t, adj.called, "fuzzy matches never auto-decide")
	assert.Equal(t, "o-1", *cases.saved.OrderID, "verified order still attached for the reviewer")
	assert.Equal(t, res.FuzzyToolsUsed, cases.saved.Metadata["fuzzy_tools_used"])
}

func TestIntentMergesIntoVerifiedData(t *testing.T) {
	cases := &fakeCases{}
	res := verifiedResult()
	adj := &fakeAdjudicator{decision: &adjudicator.Decision{Decision: domain.DecisionDenied, CustomerExplanation: "Outside the window."}}
	w := newTestWorker(cases, &fakeDocTools{}, &fakeVerifier{res: res}, adj, domain.OrderIntent{
		OrderInvoiceID:    "INV-42",
		ReturnRequestDate: "2026-08-19",
		ItemCondition:     domain.ConditionNewUnopened,
		ReturnReason:      "changed my mind",
	})

	err := w.ProcessEnvelope(context.Background(), sampleEnvelope(), "", nil)
	require.NoError(t, err)

	verified := cases.saved.Metadata["verified_data"].(*domain.VerifiedOrder)
	assert.Equal(t, "2026-08-19", verified.ReturnRequestDate)
	assert.Equal(t, domain.ConditionNewUnopened, verified.ItemCondition)
	assert.Equal(t, "INV-42", *cases.saved.ExtractedOrderInvoiceID)
}

func TestEventStreamOrdering(t *testing.T) {
	var steps []string
	sink := Sink(func(e Event) {
		if e.Substep == "" && e.Status == StatusComplete {
			steps = append(steps, e.Step)
		}
	})

	cases := &fakeCases{}
	adj := &fakeAdjudicator{decision: &adjudicator.Decision{Decision: domain.DecisionApproved}}
	w := newTestWorker(cases, &fakeDocTools{pdfText: "x", defect: "y"}, &fakeVerifier{res: verifiedResult()}, adj, domain.OrderIntent{})

	err := w.ProcessEnvelope(context.Background(), sampleEnvelope(), "", sink)
	require.NoError(t, err)

	assert.Equal(t, []string{StepTriage, StepAttachments, StepExtract, StepVerify, StepAdjudicate, StepPersist}, steps)
}
