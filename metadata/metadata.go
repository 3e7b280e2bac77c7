// Package metadata abstracts the relational tier: the system of record for
// structured attributes and authorization. Schema and migrations are owned
// elsewhere; this package only consumes the tables.
package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/voxserve/overlay"
)

var (
	// ErrNotFound marks an absent record.
	ErrNotFound = errors.New("metadata: record not found")
	// ErrConflict marks a uniqueness violation, e.g. saving the same photo
	// twice or two contour versions racing to the same number.
	ErrConflict = errors.New("metadata: conflicting record")
)

// VolumeRecord is one uploaded scan. Immutable after creation.
type VolumeRecord struct {
	ID         uuid.UUID
	Filename   string
	SizeBytes  int64
	SliceCount int
	Owner      uuid.UUID // uuid.Nil => anonymous upload
	IsPublic   bool
	CreatedAt  time.Time
}

// Snapshot is the cached projection of the authorization-relevant volume
// fields, held under file_metadata:{id}. JSON field names are part of the
// shared keyspace contract.
type Snapshot struct {
	SliceCount int       `json:"num_slices"`
	Owner      uuid.UUID `json:"author_id"`
	IsPublic   bool      `json:"is_public"`
}

// Snapshot projects the record into its cacheable form.
func (r VolumeRecord) Snapshot() Snapshot {
	return Snapshot{SliceCount: r.SliceCount, Owner: r.Owner, IsPublic: r.IsPublic}
}

// NewVolume carries the attributes of a fresh upload. Ownerless uploads are
// forced public: there is nobody who could ever read them otherwise.
type NewVolume struct {
	Filename   string
	SizeBytes  int64
	SliceCount int
	Owner      uuid.UUID
	IsPublic   bool
}

// PhotoRecord is a durable, user-saved snapshot of a rendered slice.
// (Author, Volume, Slice) identifies at most one photo.
type PhotoRecord struct {
	ID        uuid.UUID
	Name      string
	Author    uuid.UUID
	VolumeID  uuid.UUID
	Slice     int
	ObjectKey string
	CreatedAt time.Time
}

// ContourRecord is one version of an author-editable annotation bound to a
// specific slice. Versions increase monotonically per (author, volume, slice).
type ContourRecord struct {
	ID        int64
	Author    uuid.UUID
	VolumeID  uuid.UUID
	Slice     int
	Points    overlay.ContourSet
	Version   int
	ObjectKey string
	CreatedAt time.Time
}

// Store is the metadata surface the pipeline consumes.
// Implementations must be safe for concurrent use.
type Store interface {
	CreateVolume(ctx context.Context, v NewVolume) (VolumeRecord, error)
	// GetVolume returns ErrNotFound when no such volume exists.
	GetVolume(ctx context.Context, id uuid.UUID) (VolumeRecord, error)

	// CreatePhoto returns ErrConflict when the author already saved this
	// (volume, slice).
	CreatePhoto(ctx context.Context, author, volumeID uuid.UUID, slice int) (PhotoRecord, error)
	GetPhoto(ctx context.Context, id uuid.UUID) (PhotoRecord, error)
	ListPhotosByAuthor(ctx context.Context, author uuid.UUID) ([]PhotoRecord, error)
	DeletePhoto(ctx context.Context, id, author uuid.UUID) error

	// InsertContour stores points under the next version for (author, volume,
	// slice). Insert and version assignment happen atomically, so two
	// concurrent saves can never both commit the same version; the loser gets
	// ErrConflict.
	InsertContour(ctx context.Context, author, volumeID uuid.UUID, slice int, points overlay.ContourSet) (ContourRecord, error)
	// LatestContour returns the highest version, or ErrNotFound.
	LatestContour(ctx context.Context, author, volumeID uuid.UUID, slice int) (ContourRecord, error)
}
