package mailingress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/distlock"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
	"github.com/gagan0116/mcp-customer-support/internal/repository/postgres"
)

// CursorStore persists the history checkpoint.
type CursorStore interface {
	Read(ctx context.Context) (uint64, error)
	Advance(ctx context.Context, historyID uint64) error
}

// EnvelopeWriter persists case envelopes to the blob store.
type EnvelopeWriter interface {
	PutEnvelope(ctx context.Context, bucket string, env domain.CaseEnvelope) (string, error)
}

// Enqueuer hands a persisted envelope to the task queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, bucket, blobPath string) (string, error)
}

// Ingress is the push-notification handler pipeline.
type Ingress struct {
	provider   Provider
	classifier *Classifier
	cursor     CursorStore
	envelopes  EnvelopeWriter
	queue      Enqueuer
	bucket     string

	// lock serializes notification handling across replicas so the
	// cursor's read-expand-advance cycle does not race.
	lock distlock.DistLock
}

// NewIngress assembles the handler. lock may be nil when a single replica
// is guaranteed.
func NewIngress(provider Provider, classifier *Classifier, cursor CursorStore, envelopes EnvelopeWriter, queue Enqueuer, bucket string, lock distlock.DistLock) *Ingress {
	return &Ingress{
		provider:   provider,
		classifier: classifier,
		cursor:     cursor,
		envelopes:  envelopes,
		queue:      queue,
		bucket:     bucket,
		lock:       lock,
	}
}

// HandleNotification processes one push notification. A returned error
// means the push must be nacked so the provider redelivers it; the cursor
// is only advanced after every envelope write and enqueue succeeded.
func (in *Ingress) HandleNotification(ctx context.Context) error {
	if in.lock != nil {
		ok, err := distlock.AcquireWait(ctx, in.lock, 30*time.Second, 500*time.Millisecond)
		if err != nil {
			return fmt.Errorf("acquire ingress lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("ingress lock busy")
		}
		defer func() {
			if err := in.lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release ingress lock", "error", err.Error())
			}
		}()
	}

	last, err := in.cursor.Read(ctx)
	if errors.Is(err, postgres.ErrNoCursor) {
		// Cold start: checkpoint the current position and never backfill.
		current, err := in.provider.CurrentHistoryID(ctx)
		if err != nil {
			return fmt.Errorf("cold start: %w", err)
		}
		if err := in.cursor.Advance(ctx, current); err != nil {
			return fmt.Errorf("cold start: %w", err)
		}
		logger.Info("history cursor initialized", "history_id", current)
		return nil
	}
	if err != nil {
		return err
	}

	ids, maxID, err := in.provider.MessagesAdded(ctx, last)
	if err != nil {
		return err
	}
	logger.Info("history delta expanded", "since", last, "messages", len(ids), "max_history_id", maxID)

	for _, id := range ids {
		if err := in.processMessage(ctx, id); err != nil {
			return err
		}
	}

	// One advance per notification, after all writes and enqueues held.
	if maxID > last {
		if err := in.cursor.Advance(ctx, maxID); err != nil {
			return err
		}
	}
	return nil
}

// processMessage normalizes, classifies, and (when actionable) persists
// and enqueues one message. Deleted messages are skipped; everything else
// that fails, fails the notification.
func (in *Ingress) processMessage(ctx context.Context, id string) error {
	msg, err := in.provider.FetchMessage(ctx, id)
	if errors.Is(err, ErrMessageGone) {
		logger.Warn("message deleted before fetch, skipping", "message_id", id)
		return nil
	}
	if err != nil {
		return err
	}

	cls, err := in.classifier.Classify(ctx, msg.Subject, msg.BodyText)
	if err != nil {
		return fmt.Errorf("classify message %s: %w", id, err)
	}
	if !domain.ActionableCategory(cls.Category) {
		logger.Debug("message not actionable", "message_id", id, "category", cls.Category)
		return nil
	}

	env := domain.CaseEnvelope{
		CaseID:            uuid.NewString(),
		SourceMessageID:   msg.ProviderID,
		NormalizedMessage: *msg,
		Classification:    cls,
	}
	if env.SourceMessageID == "" {
		env.SourceMessageID = domain.FallbackSourceMessageID(msg.FromEmail, msg.ReceivedAt, env.CaseID)
	}

	blobPath, err := in.envelopes.PutEnvelope(ctx, in.bucket, env)
	if err != nil {
		return fmt.Errorf("persist envelope for %s: %w", id, err)
	}
	if _, err := in.queue.Enqueue(ctx, in.bucket, blobPath); err != nil {
		return fmt.Errorf("enqueue case for %s: %w", id, err)
	}
	logger.Info("case opened",
		"case_id", env.CaseID,
		"category", cls.Category,
		"confidence", cls.Confidence,
		"blob_path", blobPath)
	return nil
}
