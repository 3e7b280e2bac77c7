package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	gstorage "cloud.google.com/go/storage"
)

// GCS backs ObjectStore with Google Cloud Storage buckets. The client is
// process-wide and safe for concurrent callers; construct it once at startup
// and share it.
type GCS struct {
	client *gstorage.Client
}

var _ ObjectStore = (*GCS)(nil)

func NewGCS(client *gstorage.Client) *GCS {
	return &GCS{client: client}
}

func (s *GCS) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("store: write gs://%s/%s: %w", bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("store: flush gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *GCS) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("store: open gs://%s/%s: %w", bucket, key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("store: read gs://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *GCS) DeleteObject(ctx context.Context, bucket, key string) error {
	err := s.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gstorage.ErrObjectNotExist) {
		return fmt.Errorf("store: delete gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}
