package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
	"github.com/gagan0116/mcp-customer-support/internal/gemini"
	"github.com/gagan0116/mcp-customer-support/internal/toolbox/host"
)

// scriptedLLM replays canned decisions, one per turn.
type scriptedLLM struct {
	replies []string
	calls   int
}

func (s *scriptedLLM) GenerateText(ctx context.Context, req gemini.Request) (string, error) {
	if s.calls >= len(s.replies) {
		return `{"action":"terminate","reason":"out of script","verified_data":null}`, nil
	}
	r := s.replies[s.calls]
	s.calls++
	return r, nil
}

// fakeHost records calls and returns canned outputs per tool.
type fakeHost struct {
	outputs map[string]string
	calls   []string
}

func (f *fakeHost) ListTools(ctx context.Context) ([]host.ToolInfo, error) {
	return []host.ToolInfo{
		{Name: "verify_from_email_matches_customer", Description: "d", InputSchema: "{}"},
		{Name: "find_order_by_order_invoice_id", Description: "d", InputSchema: "{}"},
		{Name: "select_order_id", Description: "d", InputSchema: "{}"},
		{Name: "get_customer_orders_with_items", Description: "d", InputSchema: "{}"},
		{Name: "llm_find_orders", Description: "d", InputSchema: "{}"},
	}, nil
}

func (f *fakeHost) CallTool(ctx context.Context, name string, args interface{}) (string, error) {
	f.calls = append(f.calls, name)
	out, ok := f.outputs[name]
	if !ok {
		return "", host.ErrUnknownTool{Name: name}
	}
	return out, nil
}

func newLoopForTest(llm *scriptedLLM, h *fakeHost) *Loop {
	l := NewLoop(llm, h, "gemini-2.5-flash")
	l.turnDelay = 0
	return l
}

func TestExactMatchLadder(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"tool_name":"verify_from_email_matches_customer","arguments":{"from_email":"alice@x.com"}}`,
		`{"tool_name":"find_order_by_order_invoice_id","arguments":{"order_invoice_id":"OID-42","verification_email":"alice@x.com"}}`,
		`{"action":"terminate","reason":"order verified","verified_data":{"customer":{"customer_id":"c-1","customer_email":"alice@x.com"},"order":{"order_id":"o-1","order_invoice_id":"OID-42"}}}`,
	}}
	h := &fakeHost{outputs: map[string]string{
		"verify_from_email_matches_customer": `{"matched":true,"customer":{"customer_id":"c-1"}}`,
		"find_order_by_order_invoice_id":     `{"found":true,"verification_passed":true,"data":{"order_id":"o-1"}}`,
	}}

	res, err := newLoopForTest(llm, h).Run(context.Background(), domain.OrderIntent{OrderInvoiceID: "OID-42"}, "alice@x.com", nil)
	require.NoError(t, err)

	require.NotNil(t, res.VerifiedData)
	assert.Equal(t, "o-1", res.VerifiedData.Order.OrderID)
	assert.Empty(t, res.FuzzyToolsUsed)
	assert.Equal(t, []string{"verify_from_email_matches_customer", "find_order_by_order_invoice_id"}, h.calls)
}

func TestFuzzyPathIsTracked(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"tool_name":"verify_from_email_matches_customer","arguments":{"from_email":"alice@x.com"}}`,
		`{"tool_name":"get_customer_orders_with_items","arguments":{"customer_email":"alice@x.com"}}`,
		`{"tool_name":"select_order_id","arguments":{"payload":{},"email_info":{}}}`,
		`{"action":"terminate","reason":"picked best candidate","verified_data":{"order":{"order_id":"o-7"}}}`,
	}}
	h := &fakeHost{outputs: map[string]string{
		"verify_from_email_matches_customer": `{"matched":true}`,
		"get_customer_orders_with_items":     `{"orders":[{"order_id":"o-7"}]}`,
		"select_order_id":                    `{"selected_order_id":"o-7","confidence":0.8,"reason":"blue chair","candidates":["o-7"]}`,
	}}

	res, err := newLoopForTest(llm, h).Run(context.Background(), domain.OrderIntent{}, "alice@x.com", nil)
	require.NoError(t, err)

	require.NotNil(t, res.VerifiedData)
	assert.Equal(t, []string{"get_customer_orders_with_items", "select_order_id"}, res.FuzzyToolsUsed)
}

func TestIdentityMismatchTerminatesWithNil(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"tool_name":"verify_from_email_matches_customer","arguments":{"from_email":"mallory@x.com"}}`,
		`{"tool_name":"find_order_by_order_invoice_id","arguments":{"order_invoice_id":"OID-42","verification_email":"mallory@x.com"}}`,
		`{"action":"terminate","reason":"Email verification mismatch: order belongs to a different customer","verified_data":null}`,
	}}
	h := &fakeHost{outputs: map[string]string{
		"verify_from_email_matches_customer": `{"matched":true}`,
		"find_order_by_order_invoice_id":     `{"found":true,"verification_passed":false,"error":"fraud_alert"}`,
	}}

	res, err := newLoopForTest(llm, h).Run(context.Background(), domain.OrderIntent{OrderInvoiceID: "OID-42"}, "mallory@x.com", nil)
	require.NoError(t, err)

	assert.Nil(t, res.VerifiedData)
	assert.Contains(t, res.Reason, "mismatch")
}

func TestUnknownToolFeedsBackAsCorrection(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"tool_name":"teleport_order","arguments":{}}`,
		`{"action":"terminate","reason":"giving up","verified_data":null}`,
	}}
	h := &fakeHost{outputs: map[string]string{}}

	res, err := newLoopForTest(llm, h).Run(context.Background(), domain.OrderIntent{}, "a@b.com", nil)
	require.NoError(t, err)

	assert.Nil(t, res.VerifiedData)
	assert.Equal(t, 2, res.Turns)
}

func TestInvalidJSONGetsCorrectionAndContinues(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`I think I should check the customer first!`,
		`{"action":"terminate","reason":"done","verified_data":null}`,
	}}
	h := &fakeHost{outputs: map[string]string{}}

	res, err := newLoopForTest(llm, h).Run(context.Background(), domain.OrderIntent{}, "a@b.com", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Turns)
}

func TestMaxTurnsExhaustion(t *testing.T) {
	reply := `{"tool_name":"verify_from_email_matches_customer","arguments":{"from_email":"a@b.com"}}`
	llm := &scriptedLLM{replies: []string{reply, reply, reply, reply, reply, reply, reply, reply, reply}}
	h := &fakeHost{outputs: map[string]string{
		"verify_from_email_matches_customer": `{"matched":true}`,
	}}

	res, err := newLoopForTest(llm, h).Run(context.Background(), domain.OrderIntent{}, "a@b.com", nil)
	require.NoError(t, err)

	assert.Nil(t, res.VerifiedData)
	assert.Equal(t, 8, res.Turns)
	assert.Contains(t, res.Reason, "did not converge")
}

func TestSubstepEventsEmitted(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"tool_name":"verify_from_email_matches_customer","arguments":{"from_email":"a@b.com"}}`,
		`{"action":"terminate","reason":"done","verified_data":null}`,
	}}
	h := &fakeHost{outputs: map[string]string{
		"verify_from_email_matches_customer": `{"matched":true}`,
	}}

	type ev struct{ name, status, log string }
	var events []ev
	_, err := newLoopForTest(llm, h).Run(context.Background(), domain.OrderIntent{}, "a@b.com",
		func(name, status, log string) { events = append(events, ev{name, status, log}) })
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "tool_1", events[0].name)
	assert.Equal(t, "active", events[0].status)
	assert.Equal(t, "complete", events[1].status)
}
