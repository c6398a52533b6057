// Package graph wraps the Neo4j driver with retry and driver-reset logic.
// Managed graph instances pause when idle; the first query after a pause
// fails with ServiceUnavailable until the instance wakes, so every call
// retries with backoff and rebuilds the driver on connectivity errors.
package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

// Counters summarizes what a write changed.
type Counters struct {
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	ConstraintsAdded     int
}

// Store is the process-wide graph adapter.
type Store struct {
	uri      string
	user     string
	password string

	mu     sync.Mutex
	driver neo4j.DriverWithContext

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewStore creates the adapter. The driver connects lazily; call
// VerifyConnectivity to force a handshake.
func NewStore(uri, user, password string) (*Store, error) {
	s := &Store{
		uri:        uri,
		user:       user,
		password:   password,
		maxRetries: 3,
		baseDelay:  1 * time.Second,
		maxDelay:   10 * time.Second,
	}
	if err := s.resetDriver(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) resetDriver() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver != nil {
		_ = s.driver.Close(context.Background())
	}
	driver, err := neo4j.NewDriverWithContext(s.uri, neo4j.BasicAuth(s.user, s.password, ""))
	if err != nil {
		return fmt.Errorf("create neo4j driver: %w", err)
	}
	s.driver = driver
	return nil
}

func (s *Store) currentDriver() neo4j.DriverWithContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver
}

// Close releases the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

// VerifyConnectivity pings the store through the retry wrapper.
func (s *Store) VerifyConnectivity(ctx context.Context) error {
	return s.withRetry(ctx, "verify connectivity", func() error {
		return s.currentDriver().VerifyConnectivity(ctx)
	})
}

// ExecuteRead runs a read query and returns each record as a map.
func (s *Store) ExecuteRead(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	err := s.withRetry(ctx, "read query", func() error {
		session := s.currentDriver().NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
		defer session.Close(ctx)

		result, err := session.Run(ctx, cypher, params)
		if err != nil {
			return err
		}
		out = out[:0]
		for result.Next(ctx) {
			out = append(out, result.Record().AsMap())
		}
		return result.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExecuteWrite runs a write query and returns its change counters.
func (s *Store) ExecuteWrite(ctx context.Context, cypher string, params map[string]interface{}) (Counters, error) {
	var counters Counters
	err := s.withRetry(ctx, "write query", func() error {
		session := s.currentDriver().NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		defer session.Close(ctx)

		result, err := session.Run(ctx, cypher, params)
		if err != nil {
			return err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return err
		}
		c := summary.Counters()
		counters = Counters{
			NodesCreated:         c.NodesCreated(),
			NodesDeleted:         c.NodesDeleted(),
			RelationshipsCreated: c.RelationshipsCreated(),
			RelationshipsDeleted: c.RelationshipsDeleted(),
			ConstraintsAdded:     c.ConstraintsAdded(),
		}
		return nil
	})
	return counters, err
}

func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	delay := s.baseDelay
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("graph operation retrying", "op", op, "attempt", attempt, "delay", delay.String())
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			delay *= 2
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryableGraphError(lastErr) {
			return lastErr
		}
		// Connectivity-class failures mean the pooled connections are
		// pointing at a paused or recycled instance.
		if err := s.resetDriver(); err != nil {
			return fmt.Errorf("%s: reset driver after %v: %w", op, lastErr, err)
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", op, s.maxRetries, lastErr)
}

func isRetryableGraphError(err error) bool {
	if err == nil {
		return false
	}
	if neo4j.IsRetryable(err) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"ServiceUnavailable", "SessionExpired", "TransientError", "connection refused", "i/o timeout", "EOF"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
