package metadata

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/voxserve/overlay"
)

func TestVolumeLifecycle(t *testing.T) {
	s := NewMem()
	ctx := context.Background()
	owner := uuid.New()

	rec, err := s.CreateVolume(ctx, NewVolume{
		Filename: "scan.nii", SizeBytes: 1024, SliceCount: 12, Owner: owner,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.False(t, rec.IsPublic)

	got, err := s.GetVolume(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = s.GetVolume(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	snap := rec.Snapshot()
	assert.Equal(t, Snapshot{SliceCount: 12, Owner: owner}, snap)
}

func TestOwnerlessVolumeForcedPublic(t *testing.T) {
	s := NewMem()
	rec, err := s.CreateVolume(context.Background(), NewVolume{Filename: "scan.nii", SliceCount: 1})
	require.NoError(t, err)
	assert.True(t, rec.IsPublic)
}

func TestPhotoUniqueness(t *testing.T) {
	s := NewMem()
	ctx := context.Background()
	author, vol := uuid.New(), uuid.New()

	p1, err := s.CreatePhoto(ctx, author, vol, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, p1.ObjectKey)

	_, err = s.CreatePhoto(ctx, author, vol, 3)
	assert.ErrorIs(t, err, ErrConflict)

	// Same slice, different author is fine.
	_, err = s.CreatePhoto(ctx, uuid.New(), vol, 3)
	assert.NoError(t, err)
}

func TestDeletePhotoRequiresAuthor(t *testing.T) {
	s := NewMem()
	ctx := context.Background()
	author := uuid.New()

	p, err := s.CreatePhoto(ctx, author, uuid.New(), 0)
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeletePhoto(ctx, p.ID, uuid.New()), ErrNotFound)
	require.NoError(t, s.DeletePhoto(ctx, p.ID, author))
	assert.ErrorIs(t, s.DeletePhoto(ctx, p.ID, author), ErrNotFound)
}

func TestContourVersionsAreSequential(t *testing.T) {
	s := NewMem()
	ctx := context.Background()
	author, vol := uuid.New(), uuid.New()
	points := overlay.ContourSet{{{1, 2}, {3, 4}}}

	r1, err := s.InsertContour(ctx, author, vol, 0, points)
	require.NoError(t, err)
	r2, err := s.InsertContour(ctx, author, vol, 0, points)
	require.NoError(t, err)
	assert.Equal(t, 1, r1.Version)
	assert.Equal(t, 2, r2.Version)

	// A different slice has its own version counter.
	r3, err := s.InsertContour(ctx, author, vol, 1, points)
	require.NoError(t, err)
	assert.Equal(t, 1, r3.Version)

	latest, err := s.LatestContour(ctx, author, vol, 0)
	require.NoError(t, err)
	assert.Equal(t, r2.ID, latest.ID)

	_, err = s.LatestContour(ctx, author, vol, 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentContourInsertsNeverShareAVersion(t *testing.T) {
	s := NewMem()
	ctx := context.Background()
	author, vol := uuid.New(), uuid.New()

	const writers = 16
	versions := make([]int, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := s.InsertContour(ctx, author, vol, 0, overlay.ContourSet{{{0, 0}}})
			assert.NoError(t, err)
			versions[i] = rec.Version
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, writers)
	for _, v := range versions {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
	}
}
