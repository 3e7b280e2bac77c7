// Package store abstracts the durable object tier: content-addressed bucket
// storage for raw uploads, processed volumes, and rendered artifacts. It is
// the system of record for bytes; the volatile cache in front of it owns no
// long-term truth.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the requested object does not exist in the
// bucket. Any other error is a transient infrastructure failure.
var ErrNotFound = errors.New("store: object not found")

// ObjectStore is the narrow surface the pipeline consumes. The bucket name
// is explicit per call because the system spans two buckets: a private one
// for raw/processed volumes and a public one for rendered artifacts.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, data []byte) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	DeleteObject(ctx context.Context, bucket, key string) error
}

// Object key layout. These strings are shared with other consumers of the
// buckets and must not drift.

func RawVolumeKey(id uuid.UUID) string {
	return fmt.Sprintf("files/%s.nii", id)
}

func ProcessedVolumeKey(id uuid.UUID) string {
	return fmt.Sprintf("files/%s.nii.processed", id)
}

func PhotoKey(owner, photoID uuid.UUID) string {
	return fmt.Sprintf("%s/%s.png", owner, photoID)
}

func ContourRenderKey(owner uuid.UUID, contourID int64, version int) string {
	return fmt.Sprintf("contour/%s/%d_version_%d.png", owner, contourID, version)
}
