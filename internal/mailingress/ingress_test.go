package mailingress

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
	"github.com/gagan0116/mcp-customer-support/internal/gemini"
	"github.com/gagan0116/mcp-customer-support/internal/repository/postgres"
)

type fakeProvider struct {
	current  uint64
	ids      []string
	maxID    uint64
	messages map[string]*domain.NormalizedMessage
}

func (f *fakeProvider) CurrentHistoryID(ctx context.Context) (uint64, error) { return f.current, nil }

func (f *fakeProvider) MessagesAdded(ctx context.Context, since uint64) ([]string, uint64, error) {
	return f.ids, f.maxID, nil
}

func (f *fakeProvider) FetchMessage(ctx context.Context, id string) (*domain.NormalizedMessage, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, ErrMessageGone
	}
	return m, nil
}

type fakeCursor struct {
	value    uint64
	hasValue bool
	advances []uint64
}

func (f *fakeCursor) Read(ctx context.Context) (uint64, error) {
	if !f.hasValue {
		return 0, postgres.ErrNoCursor
	}
	return f.value, nil
}

func (f *fakeCursor) Advance(ctx context.Context, id uint64) error {
	f.advances = append(f.advances, id)
	if id > f.value {
		f.value = id
	}
	f.hasValue = true
	return nil
}

type fakeBlob struct {
	paths []string
	err   error
}

func (f *fakeBlob) PutEnvelope(ctx context.Context, bucket string, env domain.CaseEnvelope) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	p := env.BlobPath()
	f.paths = append(f.paths, p)
	return p, nil
}

type fakeQueue struct{ enqueued []string }

func (f *fakeQueue) Enqueue(ctx context.Context, bucket, blobPath string) (string, error) {
	f.enqueued = append(f.enqueued, blobPath)
	return "task-" + blobPath, nil
}

type classifierStub struct{ byCategory map[string]string }

func (c *classifierStub) GenerateJSON(ctx context.Context, req gemini.Request, out interface{}) error {
	cat := domain.CategoryNone
	for needle, category := range c.byCategory {
		if strings.Contains(strings.ToLower(req.Prompt), needle) {
			cat = category
		}
	}
	*(out.(*domain.Classification)) = domain.Classification{Category: cat, Confidence: 0.92}
	return nil
}

func msg(id, from, subject, body string) *domain.NormalizedMessage {
	return &domain.NormalizedMessage{
		ProviderID: id,
		ReceivedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		FromEmail:  from,
		Subject:    subject,
		BodyText:   body,
	}
}

func newTestIngress(p *fakeProvider, c *fakeCursor, b *fakeBlob, q *fakeQueue) *Ingress {
	cls := NewClassifier(&classifierStub{byCategory: map[string]string{"return": domain.CategoryReturn}}, "m")
	return NewIngress(p, cls, c, b, q, "case-bucket", nil)
}

func TestColdStartCheckpointsWithoutBackfill(t *testing.T) {
	p := &fakeProvider{current: 5000, ids: []string{"m1"}}
	c := &fakeCursor{}
	b := &fakeBlob{}
	q := &fakeQueue{}

	err := newTestIngress(p, c, b, q).HandleNotification(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uint64{5000}, c.advances)
	assert.Empty(t, b.paths, "cold start must not process messages")
	assert.Empty(t, q.enqueued)
}

func TestActionableMessagePersistsAndEnqueues(t *testing.T) {
	p := &fakeProvider{
		ids: []string{"m1", "m2"}, maxID: 6100,
		messages: map[string]*domain.NormalizedMessage{
			"m1": msg("m1", "alice@x.com", "Please return this", "I want to return my laptop"),
			"m2": msg("m2", "news@spam.com", "Weekly deals", "Buy more stuff"),
		},
	}
	c := &fakeCursor{value: 6000, hasValue: true}
	b := &fakeBlob{}
	q := &fakeQueue{}

	err := newTestIngress(p, c, b, q).HandleNotification(context.Background())
	require.NoError(t, err)

	require.Len(t, b.paths, 1, "only the actionable message opens a case")
	assert.Equal(t, b.paths, q.enqueued)
	assert.Contains(t, b.paths[0], "alice_at_x_com/")
	assert.Equal(t, []uint64{6100}, c.advances, "cursor advances exactly once, after all writes")
}

func TestDeletedMessageSkippedCursorStillAdvances(t *testing.T) {
	p := &fakeProvider{
		ids: []string{"gone", "m1"}, maxID: 6100,
		messages: map[string]*domain.NormalizedMessage{
			"m1": msg("m1", "alice@x.com", "Return request", "return please"),
		},
	}
	c := &fakeCursor{value: 6000, hasValue: true}
	b := &fakeBlob{}
	q := &fakeQueue{}

	err := newTestIngress(p, c, b, q).HandleNotification(context.Background())
	require.NoError(t, err)
	assert.Len(t, q.enqueued, 1)
	assert.Equal(t, []uint64{6100}, c.advances)
}

func TestEnvelopeWriteFailureHoldsCursor(t *testing.T) {
	p := &fakeProvider{
		ids: []string{"m1"}, maxID: 6100,
		messages: map[string]*domain.NormalizedMessage{
			"m1": msg("m1", "alice@x.com", "Return request", "return please"),
		},
	}
	c := &fakeCursor{value: 6000, hasValue: true}
	b := &fakeBlob{err: fmt.Errorf("bucket unavailable")}
	q := &fakeQueue{}

	err := newTestIngress(p, c, b, q).HandleNotification(context.Background())
	require.Error(t, err)
	assert.Empty(t, c.advances, "a failed write must nack the notification")
	assert.Empty(t, q.enqueued)
}

func TestHTMLToTextKeepsParagraphs(t *testing.T) {
	raw := `<html><head><style>.x{}</style></head><body>
	<p>Hello team,</p><p>I want to <b>return</b> my order.</p>
	<div>Order: INV-42</div></body></html>`

	text := htmlToText(raw)
	assert.Contains(t, text, "Hello team,")
	assert.Contains(t, text, "I want to return my order.")
	assert.Contains(t, text, "Order: INV-42")
	assert.NotContains(t, text, ".x{}")
	assert.Contains(t, text, "\n", "paragraph breaks survive")
}

func TestParseFromLowercases(t *testing.T) {
	email, name := parseFrom(`"Alice Smith" <Alice@X.com>`)
	assert.Equal(t, "alice@x.com", email)
	assert.Equal(t, "Alice Smith", name)

	email, _ = parseFrom("not-an-address")
	assert.Equal(t, "not-an-address", email)
}
