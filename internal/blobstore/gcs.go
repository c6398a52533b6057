// Package blobstore persists case envelopes as JSON objects in GCS.
package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
)

// Store wraps a GCS client for envelope put/get.
type Store struct {
	client *storage.Client
}

// NewStore creates the GCS-backed store using ambient credentials.
func NewStore(ctx context.Context) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Store{client: client}, nil
}

// Put writes bytes to gs://bucket/path.
func (s *Store) Put(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	w := s.client.Bucket(bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write object %s/%s: %w", bucket, path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s/%s: %w", bucket, path, err)
	}
	return nil
}

// Get reads gs://bucket/path in full.
func (s *Store) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s/%s: %w", bucket, path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, path, err)
	}
	return data, nil
}

// PutEnvelope serializes and stores a case envelope, returning its path.
func (s *Store) PutEnvelope(ctx context.Context, bucket string, env domain.CaseEnvelope) (string, error) {
	path := env.BlobPath()
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope %s: %w", env.CaseID, err)
	}
	if err := s.Put(ctx, bucket, path, data, "application/json"); err != nil {
		return "", err
	}
	return path, nil
}

// GetEnvelope loads and decodes a case envelope.
func (s *Store) GetEnvelope(ctx context.Context, bucket, path string) (domain.CaseEnvelope, error) {
	var env domain.CaseEnvelope
	data, err := s.Get(ctx, bucket, path)
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode envelope %s/%s: %w", bucket, path, err)
	}
	return env, nil
}
