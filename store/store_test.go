package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Key strings are a shared contract with other bucket consumers; any change
// here orphans existing objects.
func TestKeyLayout(t *testing.T) {
	id := uuid.MustParse("b3b25514-5f92-4d93-9f1a-7d2a1e3c9a01")
	owner := uuid.MustParse("0a1b2c3d-0000-0000-0000-000000000001")

	assert.Equal(t, "files/b3b25514-5f92-4d93-9f1a-7d2a1e3c9a01.nii", RawVolumeKey(id))
	assert.Equal(t, "files/b3b25514-5f92-4d93-9f1a-7d2a1e3c9a01.nii.processed", ProcessedVolumeKey(id))
	assert.Equal(t, "0a1b2c3d-0000-0000-0000-000000000001/b3b25514-5f92-4d93-9f1a-7d2a1e3c9a01.png", PhotoKey(owner, id))
	assert.Equal(t, "contour/0a1b2c3d-0000-0000-0000-000000000001/42_version_3.png", ContourRenderKey(owner, 42, 3))
}

func TestMemRoundTrip(t *testing.T) {
	s := NewMem()
	ctx := context.Background()

	_, err := s.GetObject(ctx, "b", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	data := []byte{1, 2, 3}
	require.NoError(t, s.PutObject(ctx, "b", "k", data))

	got, err := s.GetObject(ctx, "b", "k")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Stored bytes are isolated from caller mutation.
	data[0] = 99
	got2, err := s.GetObject(ctx, "b", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got2)

	// Same key in another bucket is a different object.
	_, err = s.GetObject(ctx, "other", "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteObject(ctx, "b", "k"))
	_, err = s.GetObject(ctx, "b", "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
